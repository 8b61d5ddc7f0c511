package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	invdomain "github.com/jhoicas/stock-ledger/internal/domain/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

// DefaultCommitTimeout espera máxima por un resultado definitivo de la sección atómica.
const DefaultCommitTimeout = 5 * time.Second

// OutcomeKind resultado etiquetado de un envío al libro.
type OutcomeKind string

const (
	OutcomeCommitted        OutcomeKind = "committed"
	OutcomeDuplicateIgnored OutcomeKind = "duplicate_ignored"
	OutcomeRejected         OutcomeKind = "rejected"
)

// Submission entrada del libro: un movimiento ya normalizado por el servicio.
type Submission struct {
	ProductID      string
	Quantity       decimal.Decimal
	Direction      entity.Direction
	IdempotencyKey string
	SupplierRef    string
	Note           string
	ActorRef       string
}

// Receipt resultado de StockLedger.Submit.
// En OutcomeDuplicateIgnored, Movement es el movimiento original de ese token.
type Receipt struct {
	Kind              OutcomeKind
	Movement          *entity.StockMovement
	Decision          invdomain.Decision
	PreviousQuantity  int64
	ResultingQuantity int64
}

// StockLedger es el componente autoritativo: serializa chequeo-y-aplicación por producto,
// agrega el movimiento inmutable y ajusta la cantidad en la misma transacción.
type StockLedger struct {
	txRunner      TxRunner
	gate          invdomain.Gate
	commitTimeout time.Duration
	now           func() time.Time
	newID         func() string
	log           zerolog.Logger
}

// LedgerOption configura el libro.
type LedgerOption func(*StockLedger)

// WithCommitTimeout fija la espera máxima de la sección atómica.
func WithCommitTimeout(d time.Duration) LedgerOption {
	return func(l *StockLedger) {
		if d > 0 {
			l.commitTimeout = d
		}
	}
}

// WithClock reemplaza el reloj (tests).
func WithClock(now func() time.Time) LedgerOption {
	return func(l *StockLedger) { l.now = now }
}

// WithLogger asigna el logger del libro.
func WithLogger(log zerolog.Logger) LedgerOption {
	return func(l *StockLedger) { l.log = log.With().Str("component", "stock_ledger").Logger() }
}

// NewStockLedger construye el libro sobre un TxRunner y la compuerta compartida.
func NewStockLedger(txRunner TxRunner, gate invdomain.Gate, opts ...LedgerOption) *StockLedger {
	l := &StockLedger{
		txRunner:      txRunner,
		gate:          gate,
		commitTimeout: DefaultCommitTimeout,
		now:           time.Now,
		newID:         func() string { return uuid.New().String() },
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Submit ejecuta la sección atómica para un movimiento.
//
// Si ctx ya está cancelado se abandona sin tocar nada. Una vez iniciada, la transacción
// no depende de la cancelación del llamador: corre hasta un estado terminal o hasta
// commitTimeout, en cuyo caso devuelve domain.ErrUnknownOutcome.
func (l *StockLedger) Submit(ctx context.Context, sub Submission) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if sub.ProductID == "" {
		return Receipt{}, domain.ErrInvalidInput
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.commitTimeout)
	defer cancel()

	var receipt Receipt
	err := l.txRunner.Run(commitCtx, func(
		movRepo repository.StockMovementRepository,
		stockRepo repository.StockRepository,
	) error {
		receipt = Receipt{}

		// Bloquea la fila del producto: desde aquí hasta el Commit nadie más escribe su stock.
		current, err := stockRepo.GetForUpdate(commitCtx, sub.ProductID)
		if err != nil {
			return err
		}

		// El token se consulta bajo el bloqueo: un reintento concurrente del mismo envío
		// espera a que el primero confirme y luego lo encuentra.
		if sub.IdempotencyKey != "" {
			existing, err := movRepo.GetByIdempotencyKey(commitCtx, sub.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				receipt = duplicateReceipt(existing, current)
				return nil
			}
		}

		dec := l.gate.Check(current, sub.Quantity, sub.Direction, invdomain.Metadata{
			SupplierRef: sub.SupplierRef,
			Note:        sub.Note,
		})
		if !dec.Accepted {
			receipt = Receipt{
				Kind:              OutcomeRejected,
				Decision:          dec,
				PreviousQuantity:  current,
				ResultingQuantity: current,
			}
			return nil
		}

		qty := sub.Quantity.IntPart()
		now := l.now()
		mov := &entity.StockMovement{
			ID:                l.newID(),
			ProductID:         sub.ProductID,
			Direction:         sub.Direction,
			Quantity:          qty,
			IdempotencyKey:    sub.IdempotencyKey,
			SupplierRef:       sub.SupplierRef,
			Note:              sub.Note,
			ActorRef:          sub.ActorRef,
			PreviousQuantity:  current,
			ResultingQuantity: current + sub.Direction.Sign()*qty,
			CreatedAt:         now,
		}
		if err := movRepo.Create(commitCtx, mov); err != nil {
			return err
		}
		observed, err := stockRepo.AtomicAdjust(commitCtx, sub.ProductID, mov.SignedDelta())
		if err != nil {
			return err
		}
		receipt = Receipt{
			Kind:              OutcomeCommitted,
			Movement:          mov,
			Decision:          dec,
			PreviousQuantity:  current,
			ResultingQuantity: observed,
		}
		return nil
	})
	if err != nil {
		return l.classify(ctx, sub, err)
	}

	switch receipt.Kind {
	case OutcomeCommitted:
		l.log.Debug().
			Str("movement_id", receipt.Movement.ID).
			Str("product_id", sub.ProductID).
			Str("direction", string(sub.Direction)).
			Int64("quantity", receipt.Movement.Quantity).
			Int64("resulting_quantity", receipt.ResultingQuantity).
			Msg("movimiento confirmado")
	case OutcomeDuplicateIgnored:
		l.log.Info().
			Str("idempotency_key", sub.IdempotencyKey).
			Str("movement_id", receipt.Movement.ID).
			Msg("token de idempotencia ya confirmado, no se reaplica")
	}
	return receipt, nil
}

// classify traduce un fallo de la transacción a la taxonomía del libro.
func (l *StockLedger) classify(ctx context.Context, sub Submission, err error) (Receipt, error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return Receipt{}, err
	case errors.Is(err, domain.ErrDuplicate) && sub.IdempotencyKey != "":
		// Otra transacción confirmó el mismo token entre la consulta y el INSERT.
		// La consulta tampoco depende de la cancelación del llamador.
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.commitTimeout)
		defer cancel()
		mov, lookupErr := l.Lookup(lookupCtx, sub.IdempotencyKey)
		if lookupErr == nil && mov != nil {
			return duplicateReceipt(mov, mov.PreviousQuantity), nil
		}
		return Receipt{}, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	case errors.Is(err, context.DeadlineExceeded):
		l.log.Error().Err(err).
			Str("product_id", sub.ProductID).
			Str("idempotency_key", sub.IdempotencyKey).
			Msg("sección atómica sin resultado definitivo")
		return Receipt{}, fmt.Errorf("%w: %w", domain.ErrUnknownOutcome, err)
	}
	l.log.Error().Err(err).
		Str("product_id", sub.ProductID).
		Str("idempotency_key", sub.IdempotencyKey).
		Msg("fallo de persistencia en la sección atómica")
	return Receipt{}, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
}

// Lookup devuelve el movimiento confirmado con ese token, o nil si no existe.
func (l *StockLedger) Lookup(ctx context.Context, idempotencyKey string) (*entity.StockMovement, error) {
	if idempotencyKey == "" {
		return nil, nil
	}
	var mov *entity.StockMovement
	err := l.txRunner.Run(ctx, func(movRepo repository.StockMovementRepository, _ repository.StockRepository) error {
		m, err := movRepo.GetByIdempotencyKey(ctx, idempotencyKey)
		mov = m
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("buscar token de idempotencia: %w", err)
	}
	return mov, nil
}

func duplicateReceipt(mov *entity.StockMovement, current int64) Receipt {
	return Receipt{
		Kind:              OutcomeDuplicateIgnored,
		Movement:          mov,
		Decision:          invdomain.Decision{Accepted: true, Available: current, Requested: decimal.NewFromInt(mov.Quantity)},
		PreviousQuantity:  mov.PreviousQuantity,
		ResultingQuantity: mov.ResultingQuantity,
	}
}
