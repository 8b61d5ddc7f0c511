package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	invdomain "github.com/jhoicas/stock-ledger/internal/domain/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

// MovementCommand envío lógico de un movimiento tal como llega del transporte.
type MovementCommand struct {
	ProductID      string
	Quantity       decimal.Decimal
	Direction      string
	IdempotencyKey string
	SupplierRef    string
	Note           string
	ActorRef       string
}

// Outcome resultado etiquetado de un envío: Committed, DuplicateIgnored o Rejected.
// Los fallos de infraestructura se devuelven como error con State = Failed.
type Outcome struct {
	Kind              OutcomeKind
	State             entity.SubmissionState
	IdempotencyKey    string
	Movement          *entity.StockMovement
	Reason            invdomain.RejectReason
	Decision          invdomain.Decision
	ResultingQuantity int64
	// InProgress: el duplicado se suprimió porque el envío original sigue en curso.
	InProgress bool
}

// Accepted indica si el movimiento quedó (o ya estaba) aplicado.
func (o Outcome) Accepted() bool {
	return o.Kind == OutcomeCommitted || (o.Kind == OutcomeDuplicateIgnored && o.Movement != nil)
}

// Precheck resultado del pre-chequeo consultivo.
type Precheck struct {
	Decision invdomain.Decision
	// Quantity lectura no serializada; puede estar desactualizada.
	Quantity int64
}

// StockView cantidad actual de un producto con su mínimo.
type StockView struct {
	Product      *entity.Product
	BelowMinimum bool
}

// MovementService orquesta un envío: guardia -> libro (compuerta dentro de la sección atómica)
// -> almacén de cantidades -> monitor de conciliación (asíncrono).
type MovementService struct {
	guard     *SubmissionGuard
	ledger    *StockLedger
	gate      invdomain.Gate
	stock     repository.StockRepository
	movements repository.StockMovementRepository
	products  repository.ProductRepository
	monitor   *ReconciliationMonitor
	recorder  Recorder
	log       zerolog.Logger
}

// MovementServiceDeps dependencias del servicio.
type MovementServiceDeps struct {
	Guard     *SubmissionGuard
	Ledger    *StockLedger
	Gate      invdomain.Gate
	Stock     repository.StockRepository
	Movements repository.StockMovementRepository
	Products  repository.ProductRepository
	Monitor   *ReconciliationMonitor
	Recorder  Recorder
	Logger    zerolog.Logger
}

// NewMovementService construye el servicio.
func NewMovementService(deps MovementServiceDeps) *MovementService {
	rec := deps.Recorder
	if rec == nil {
		rec = NopRecorder()
	}
	return &MovementService{
		guard:     deps.Guard,
		ledger:    deps.Ledger,
		gate:      deps.Gate,
		stock:     deps.Stock,
		movements: deps.Movements,
		products:  deps.Products,
		monitor:   deps.Monitor,
		recorder:  rec,
		log:       deps.Logger.With().Str("component", "movement_service").Logger(),
	}
}

// submission sigue la máquina de estados de un envío y registra cada paso.
type submission struct {
	key   string
	state entity.SubmissionState
	log   zerolog.Logger
}

func (s *submission) to(next entity.SubmissionState) {
	if !s.state.CanTransition(next) {
		s.log.Error().Str("from", string(s.state)).Str("to", string(next)).Msg("transición de envío inválida")
		return
	}
	s.log.Trace().Str("from", string(s.state)).Str("to", string(next)).Msg("transición de envío")
	s.state = next
}

// Submit procesa un envío lógico de movimiento.
//
// Los errores de forma y de metadatos se resuelven aquí y nunca llegan a la sección atómica.
// Un duplicado en curso o ya confirmado no es un error: devuelve OutcomeDuplicateIgnored.
// Los fallos de persistencia devuelven error envolviendo domain.ErrPersistence o
// domain.ErrUnknownOutcome; en ambos casos el reintento debe reutilizar IdempotencyKey.
func (s *MovementService) Submit(ctx context.Context, cmd MovementCommand) (Outcome, error) {
	key := cmd.IdempotencyKey
	if key == "" {
		key = uuid.New().String()
	}
	sub := &submission{
		key:   key,
		state: entity.SubmissionIdle,
		log:   s.log.With().Str("submission_key", key).Str("product_id", cmd.ProductID).Logger(),
	}
	out := Outcome{IdempotencyKey: key}

	if cmd.ProductID == "" {
		return s.fail(sub, out, domain.ErrInvalidInput)
	}

	direction, _ := entity.ParseDirection(cmd.Direction)
	meta := invdomain.Metadata{SupplierRef: cmd.SupplierRef, Note: cmd.Note}
	if dec := s.gate.Admit(cmd.Quantity, direction, meta); !dec.Accepted {
		return s.reject(sub, out, dec), nil
	}

	lease, err := s.guard.Acquire(key)
	switch {
	case errors.Is(err, domain.ErrDuplicateSubmission):
		out.Kind = OutcomeDuplicateIgnored
		out.State = sub.state
		out.InProgress = true
		return out, nil
	case errors.Is(err, domain.ErrSubmissionConsumed):
		mov, lookupErr := s.ledger.Lookup(ctx, key)
		if lookupErr != nil {
			return s.fail(sub, out, lookupErr)
		}
		if mov != nil {
			out.Kind = OutcomeDuplicateIgnored
			out.State = entity.SubmissionCommitted
			out.Movement = mov
			out.ResultingQuantity = mov.ResultingQuantity
			return out, nil
		}
		// La guardia recuerda la clave pero no hay movimiento con ese token: decide el libro.
		sub.log.Warn().Msg("clave confirmada en la guardia sin movimiento persistido")
		lease = nil
	case err != nil:
		return s.fail(sub, out, err)
	}

	// Última oportunidad de abandonar: después de esto el envío corre hasta un estado terminal.
	if err := ctx.Err(); err != nil {
		lease.Release()
		sub.log.Info().Err(err).Msg("envío abandonado antes de la sección atómica")
		return out, err
	}

	sub.to(entity.SubmissionCommitting)
	receipt, err := s.ledger.Submit(ctx, Submission{
		ProductID:      cmd.ProductID,
		Quantity:       cmd.Quantity,
		Direction:      direction,
		IdempotencyKey: key,
		SupplierRef:    cmd.SupplierRef,
		Note:           cmd.Note,
		ActorRef:       cmd.ActorRef,
	})
	if err != nil {
		lease.Release()
		if errors.Is(err, domain.ErrNotFound) {
			sub.to(entity.SubmissionRejected)
			out.State = sub.state
			return out, err
		}
		return s.fail(sub, out, err)
	}

	switch receipt.Kind {
	case OutcomeRejected:
		lease.Release()
		return s.reject(sub, out, receipt.Decision), nil
	case OutcomeDuplicateIgnored:
		lease.Commit()
		sub.to(entity.SubmissionCommitted)
		s.recorder.DuplicateSuppressed()
		out.Kind = OutcomeDuplicateIgnored
		out.State = sub.state
		out.Movement = receipt.Movement
		out.Decision = receipt.Decision
		out.ResultingQuantity = receipt.ResultingQuantity
		return out, nil
	}

	lease.Commit()
	sub.to(entity.SubmissionCommitted)
	s.recorder.MovementCommitted(string(direction))
	if s.monitor != nil {
		s.monitor.Observe(Observation{
			MovementID:   receipt.Movement.ID,
			ProductID:    receipt.Movement.ProductID,
			Direction:    receipt.Movement.Direction,
			Quantity:     receipt.Movement.Quantity,
			PreQuantity:  receipt.PreviousQuantity,
			PostQuantity: receipt.ResultingQuantity,
			ActorRef:     receipt.Movement.ActorRef,
			At:           receipt.Movement.CreatedAt,
		})
	}
	out.Kind = OutcomeCommitted
	out.State = sub.state
	out.Movement = receipt.Movement
	out.Decision = receipt.Decision
	out.ResultingQuantity = receipt.ResultingQuantity
	return out, nil
}

func (s *MovementService) reject(sub *submission, out Outcome, dec invdomain.Decision) Outcome {
	sub.to(entity.SubmissionRejected)
	s.recorder.MovementRejected(string(dec.Reason))
	sub.log.Info().
		Str("reason", string(dec.Reason)).
		Int64("available", dec.Available).
		Str("requested", dec.Requested.String()).
		Msg("movimiento rechazado")
	out.Kind = OutcomeRejected
	out.State = sub.state
	out.Reason = dec.Reason
	out.Decision = dec
	out.ResultingQuantity = dec.Available
	return out
}

func (s *MovementService) fail(sub *submission, out Outcome, err error) (Outcome, error) {
	kind := "persistence"
	if errors.Is(err, domain.ErrUnknownOutcome) {
		kind = "unknown_outcome"
	} else if errors.Is(err, domain.ErrInvalidInput) {
		kind = "invalid_input"
	}
	if sub.state == entity.SubmissionCommitting {
		sub.to(entity.SubmissionFailed)
	}
	s.recorder.SubmissionFailed(kind)
	sub.log.Error().Err(err).Str("kind", kind).Msg("envío fallido")
	out.State = entity.SubmissionFailed
	return out, err
}

// Precheck ejecuta la compuerta contra una lectura no serializada. Es consultivo: su
// resultado no autoriza ningún commit.
func (s *MovementService) Precheck(ctx context.Context, cmd MovementCommand) (Precheck, error) {
	direction, _ := entity.ParseDirection(cmd.Direction)
	meta := invdomain.Metadata{SupplierRef: cmd.SupplierRef, Note: cmd.Note}
	if dec := s.gate.Admit(cmd.Quantity, direction, meta); !dec.Accepted {
		return Precheck{Decision: dec}, nil
	}
	if cmd.ProductID == "" {
		return Precheck{}, domain.ErrInvalidInput
	}
	current, err := s.stock.ReadQuantity(ctx, cmd.ProductID)
	if err != nil {
		return Precheck{}, err
	}
	return Precheck{
		Decision: s.gate.Check(current, cmd.Quantity, direction, meta),
		Quantity: current,
	}, nil
}

// GetMovement obtiene un movimiento por ID (nil si no existe).
func (s *MovementService) GetMovement(ctx context.Context, id string) (*entity.StockMovement, error) {
	return s.movements.GetByID(ctx, id)
}

// ListMovements lista el historial de un producto, más reciente primero.
func (s *MovementService) ListMovements(ctx context.Context, productID string, from, to *time.Time, limit, offset int) ([]*entity.StockMovement, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.movements.ListByProduct(ctx, productID, from, to, limit, offset)
}

// GetStock devuelve el producto con su cantidad actual (nil si no existe).
func (s *MovementService) GetStock(ctx context.Context, productID string) (*StockView, error) {
	p, err := s.products.GetByID(ctx, productID)
	if err != nil || p == nil {
		return nil, err
	}
	return &StockView{Product: p, BelowMinimum: p.BelowMinimum()}, nil
}
