package inventory_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/stock-ledger/internal/application/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	invdomain "github.com/jhoicas/stock-ledger/internal/domain/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
	"github.com/jhoicas/stock-ledger/internal/infrastructure/memory"
)

func newStoreWith(qty int64) *memory.Store {
	s := memory.NewStore()
	s.PutProduct(entity.Product{ID: "p-1", Quantity: qty})
	return s
}

func optionalGate() invdomain.Gate {
	return invdomain.NewGate(invdomain.Policy{Supplier: invdomain.SupplierOptional})
}

func out(qty int64, key string) inventory.Submission {
	return inventory.Submission{ProductID: "p-1", Quantity: decimal.NewFromInt(qty), Direction: entity.DirectionOut, IdempotencyKey: key}
}

func in(qty int64, key string) inventory.Submission {
	return inventory.Submission{ProductID: "p-1", Quantity: decimal.NewFromInt(qty), Direction: entity.DirectionIn, IdempotencyKey: key}
}

func quantity(t *testing.T, s *memory.Store) int64 {
	t.Helper()
	q, err := s.Stock().ReadQuantity(context.Background(), "p-1")
	require.NoError(t, err)
	return q
}

// ──────────────────────────────────────────────────────────────────────────────
// Secuencias básicas
// ──────────────────────────────────────────────────────────────────────────────

func TestLedger_SalidaLuegoSalidaInsuficiente(t *testing.T) {
	store := newStoreWith(10)
	ledger := inventory.NewStockLedger(store, optionalGate())
	ctx := context.Background()

	r, err := ledger.Submit(ctx, out(5, "k-1"))
	require.NoError(t, err)
	assert.Equal(t, inventory.OutcomeCommitted, r.Kind)
	assert.Equal(t, int64(10), r.PreviousQuantity)
	assert.Equal(t, int64(5), r.ResultingQuantity)
	assert.Equal(t, int64(5), quantity(t, store))

	r, err = ledger.Submit(ctx, out(10, "k-2"))
	require.NoError(t, err)
	assert.Equal(t, inventory.OutcomeRejected, r.Kind)
	assert.Equal(t, invdomain.ReasonInsufficientStock, r.Decision.Reason)
	assert.Equal(t, int64(5), r.Decision.Available)
	assert.Equal(t, int64(5), quantity(t, store), "un rechazo no modifica el stock")

	m, err := ledger.Lookup(ctx, "k-2")
	require.NoError(t, err)
	assert.Nil(t, m, "un rechazo no deja movimiento en el libro")
}

func TestLedger_SinStockEsZeroStock(t *testing.T) {
	store := newStoreWith(0)
	ledger := inventory.NewStockLedger(store, optionalGate())

	r, err := ledger.Submit(context.Background(), out(1, "k-1"))
	require.NoError(t, err)
	assert.Equal(t, inventory.OutcomeRejected, r.Kind)
	assert.Equal(t, invdomain.ReasonZeroStock, r.Decision.Reason)
	assert.ErrorIs(t, r.Decision.Err(), domain.ErrZeroStock)
}

func TestLedger_EntradaSinTecho(t *testing.T) {
	store := newStoreWith(0)
	ledger := inventory.NewStockLedger(store, optionalGate())

	r, err := ledger.Submit(context.Background(), in(1_000_000, "k-1"))
	require.NoError(t, err)
	assert.Equal(t, inventory.OutcomeCommitted, r.Kind)
	assert.Equal(t, int64(1_000_000), quantity(t, store))
}

func TestLedger_ProductoInexistente(t *testing.T) {
	ledger := inventory.NewStockLedger(memory.NewStore(), optionalGate())

	_, err := ledger.Submit(context.Background(), out(1, "k-1"))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = ledger.Submit(context.Background(), inventory.Submission{Quantity: decimal.NewFromInt(1), Direction: entity.DirectionIn})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestLedger_PoliticaProveedorDentroDeLaSeccionAtomica(t *testing.T) {
	store := newStoreWith(10)
	gate := invdomain.NewGate(invdomain.Policy{Supplier: invdomain.SupplierRequiredOut})
	ledger := inventory.NewStockLedger(store, gate)

	r, err := ledger.Submit(context.Background(), out(1, "k-1"))
	require.NoError(t, err)
	assert.Equal(t, inventory.OutcomeRejected, r.Kind)
	assert.Equal(t, invdomain.ReasonMissingSupplier, r.Decision.Reason)
	assert.Equal(t, int64(10), quantity(t, store))
}

func TestLedger_MovimientoRegistraEstadoObservado(t *testing.T) {
	store := newStoreWith(7)
	at := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)
	ledger := inventory.NewStockLedger(store, optionalGate(), inventory.WithClock(func() time.Time { return at }))

	sub := in(3, "k-1")
	sub.SupplierRef = "prov-1"
	sub.ActorRef = "user-1"
	r, err := ledger.Submit(context.Background(), sub)
	require.NoError(t, err)

	m, err := store.Movements().GetByID(context.Background(), r.Movement.ID)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, int64(7), m.PreviousQuantity)
	assert.Equal(t, int64(10), m.ResultingQuantity)
	assert.Equal(t, "prov-1", m.SupplierRef)
	assert.Equal(t, "user-1", m.ActorRef)
	assert.Equal(t, at, m.CreatedAt)
}

// ──────────────────────────────────────────────────────────────────────────────
// Concurrencia
// ──────────────────────────────────────────────────────────────────────────────

func TestLedger_DosSalidasConcurrentesSoloUnaConfirma(t *testing.T) {
	store := newStoreWith(10)
	ledger := inventory.NewStockLedger(store, optionalGate())

	receipts := make([]inventory.Receipt, 2)
	var g errgroup.Group
	for i := range receipts {
		g.Go(func() error {
			r, err := ledger.Submit(context.Background(), out(6, string(rune('a'+i))))
			receipts[i] = r
			return err
		})
	}
	require.NoError(t, g.Wait())

	committed, rejected := 0, 0
	for _, r := range receipts {
		switch r.Kind {
		case inventory.OutcomeCommitted:
			committed++
		case inventory.OutcomeRejected:
			rejected++
			assert.Equal(t, invdomain.ReasonInsufficientStock, r.Decision.Reason)
			assert.Equal(t, int64(4), r.Decision.Available)
		}
	}
	assert.Equal(t, 1, committed)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, int64(4), quantity(t, store))
}

func TestLedger_InvarianteBajoCargaConcurrente(t *testing.T) {
	const initial = 50
	store := newStoreWith(initial)
	ledger := inventory.NewStockLedger(store, optionalGate())

	const n = 200
	receipts := make([]inventory.Receipt, n)
	var g errgroup.Group
	g.SetLimit(16)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			qty := int64(i%7 + 1)
			sub := out(qty, "")
			if i%3 == 0 {
				sub = in(qty, "")
			}
			r, err := ledger.Submit(context.Background(), sub)
			receipts[i] = r
			return err
		})
	}
	require.NoError(t, g.Wait())

	var sum int64
	committed := 0
	for _, r := range receipts {
		if r.Kind != inventory.OutcomeCommitted {
			continue
		}
		committed++
		sum += r.Movement.SignedDelta()
		assert.GreaterOrEqual(t, r.ResultingQuantity, int64(0))
		assert.Equal(t, r.PreviousQuantity+r.Movement.SignedDelta(), r.ResultingQuantity)
	}
	assert.Equal(t, int64(initial)+sum, quantity(t, store), "stock = inicial + suma de movimientos confirmados")

	list, err := store.Movements().ListByProduct(context.Background(), "p-1", nil, nil, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, committed)
}

// ──────────────────────────────────────────────────────────────────────────────
// Idempotencia y fallos
// ──────────────────────────────────────────────────────────────────────────────

func TestLedger_ReintentoTrasAckPerdidoNoDuplica(t *testing.T) {
	store := newStoreWith(10)
	ledger := inventory.NewStockLedger(&lostAckRunner{inner: store}, optionalGate())
	ctx := context.Background()

	_, err := ledger.Submit(ctx, out(3, "k-1"))
	require.ErrorIs(t, err, domain.ErrPersistence)
	assert.ErrorIs(t, err, errLostAck)
	assert.Equal(t, int64(7), quantity(t, store), "el commit sí llegó al almacén")

	r, err := ledger.Submit(ctx, out(3, "k-1"))
	require.NoError(t, err)
	assert.Equal(t, inventory.OutcomeDuplicateIgnored, r.Kind)
	require.NotNil(t, r.Movement)
	assert.Equal(t, int64(7), r.ResultingQuantity)
	assert.Equal(t, int64(7), quantity(t, store), "el reintento no aplica dos veces")
}

// blindMovements no ve el token en la primera consulta, como una transacción
// concurrente que confirmó justo después.
type blindMovements struct {
	repository.StockMovementRepository
	blind *atomic.Bool
}

func (b blindMovements) GetByIdempotencyKey(ctx context.Context, key string) (*entity.StockMovement, error) {
	if b.blind.CompareAndSwap(true, false) {
		return nil, nil
	}
	return b.StockMovementRepository.GetByIdempotencyKey(ctx, key)
}

type blindRunner struct {
	inner *memory.Store
	blind *atomic.Bool
}

func (r blindRunner) Run(ctx context.Context, fn func(repository.StockMovementRepository, repository.StockRepository) error) error {
	return r.inner.Run(ctx, func(mov repository.StockMovementRepository, stock repository.StockRepository) error {
		return fn(blindMovements{StockMovementRepository: mov, blind: r.blind}, stock)
	})
}

func TestLedger_ViolacionDeUnicidadEsDuplicado(t *testing.T) {
	store := newStoreWith(10)
	ctx := context.Background()
	require.NoError(t, store.Movements().Create(ctx, &entity.StockMovement{
		ID: "m-0", ProductID: "p-1", Direction: entity.DirectionIn, Quantity: 2, IdempotencyKey: "k-race",
		PreviousQuantity: 8, ResultingQuantity: 10,
	}))

	blind := &atomic.Bool{}
	blind.Store(true)
	ledger := inventory.NewStockLedger(blindRunner{inner: store, blind: blind}, optionalGate())

	r, err := ledger.Submit(ctx, in(2, "k-race"))
	require.NoError(t, err)
	assert.Equal(t, inventory.OutcomeDuplicateIgnored, r.Kind)
	assert.Equal(t, "m-0", r.Movement.ID)
	assert.Equal(t, int64(10), quantity(t, store))
}

// cancelOnConflictRunner cancela el contexto del llamador cuando la transacción
// pierde la carrera por el token, antes de que el libro busque al ganador.
type cancelOnConflictRunner struct {
	inner  blindRunner
	cancel context.CancelFunc
}

func (r cancelOnConflictRunner) Run(ctx context.Context, fn func(repository.StockMovementRepository, repository.StockRepository) error) error {
	err := r.inner.Run(ctx, fn)
	if errors.Is(err, domain.ErrDuplicate) {
		r.cancel()
	}
	return err
}

func TestLedger_DuplicadoTrasCancelacionSigueSiendoDuplicado(t *testing.T) {
	store := newStoreWith(10)
	require.NoError(t, store.Movements().Create(context.Background(), &entity.StockMovement{
		ID: "m-0", ProductID: "p-1", Direction: entity.DirectionIn, Quantity: 2, IdempotencyKey: "k-race",
		PreviousQuantity: 8, ResultingQuantity: 10,
	}))

	blind := &atomic.Bool{}
	blind.Store(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ledger := inventory.NewStockLedger(cancelOnConflictRunner{
		inner:  blindRunner{inner: store, blind: blind},
		cancel: cancel,
	}, optionalGate())

	r, err := ledger.Submit(ctx, in(2, "k-race"))
	require.NoError(t, err)
	assert.Equal(t, inventory.OutcomeDuplicateIgnored, r.Kind)
	assert.Equal(t, "m-0", r.Movement.ID)
	assert.Error(t, ctx.Err())
	assert.Equal(t, int64(10), quantity(t, store))
}

func TestLedger_FalloDeAlmacenEsPersistencia(t *testing.T) {
	ledger := inventory.NewStockLedger(failingRunner{err: errors.New("conexión rechazada")}, optionalGate())

	_, err := ledger.Submit(context.Background(), out(1, "k-1"))
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.NotErrorIs(t, err, domain.ErrUnknownOutcome)
}

func TestLedger_SinResultadoEnPlazoEsUnknownOutcome(t *testing.T) {
	store := newStoreWith(10)
	ledger := inventory.NewStockLedger(store, optionalGate(), inventory.WithCommitTimeout(50*time.Millisecond))

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.Run(context.Background(), func(_ repository.StockMovementRepository, stock repository.StockRepository) error {
			if _, err := stock.GetForUpdate(context.Background(), "p-1"); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	_, err := ledger.Submit(context.Background(), out(1, "k-1"))
	assert.ErrorIs(t, err, domain.ErrUnknownOutcome)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int64(10), quantity(t, store))
}

// ──────────────────────────────────────────────────────────────────────────────
// Cancelación
// ──────────────────────────────────────────────────────────────────────────────

func TestLedger_LlamadorCanceladoAntesNoTocaNada(t *testing.T) {
	store := newStoreWith(10)
	runner := &countingRunner{inner: store}
	ledger := inventory.NewStockLedger(runner, optionalGate())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ledger.Submit(ctx, out(1, "k-1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), runner.calls.Load())
	assert.Equal(t, int64(10), quantity(t, store))
}

func TestLedger_CancelacionDuranteCommitNoAbortaElMovimiento(t *testing.T) {
	store := newStoreWith(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ledger := inventory.NewStockLedger(cancelOnRunRunner{inner: store, cancel: cancel}, optionalGate())

	r, err := ledger.Submit(ctx, out(4, "k-1"))
	require.NoError(t, err)
	assert.Equal(t, inventory.OutcomeCommitted, r.Kind)
	assert.Equal(t, int64(6), quantity(t, store))
	assert.Error(t, ctx.Err())
}
