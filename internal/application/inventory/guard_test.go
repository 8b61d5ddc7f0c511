package inventory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/stock-ledger/internal/application/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newGuard(ttl time.Duration) (*inventory.SubmissionGuard, *testClock, *fakeRecorder) {
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rec := newFakeRecorder()
	g := inventory.NewSubmissionGuard(ttl, rec, zerolog.Nop(), inventory.WithGuardClock(clock.Now))
	return g, clock, rec
}

func TestGuard_SegundoAcquireEnCursoEsDuplicado(t *testing.T) {
	g, _, rec := newGuard(time.Hour)

	lease, err := g.Acquire("k-1")
	require.NoError(t, err)
	assert.Equal(t, "k-1", lease.Key())
	assert.Equal(t, inventory.GuardPending, g.State("k-1"))

	_, err = g.Acquire("k-1")
	assert.ErrorIs(t, err, domain.ErrDuplicateSubmission)
	assert.Equal(t, 1, rec.snapshot().duplicates)
}

func TestGuard_CommitConsumeLaClave(t *testing.T) {
	g, _, _ := newGuard(time.Hour)

	lease, err := g.Acquire("k-1")
	require.NoError(t, err)
	lease.Commit()
	assert.Equal(t, inventory.GuardCommitted, g.State("k-1"))

	_, err = g.Acquire("k-1")
	assert.ErrorIs(t, err, domain.ErrSubmissionConsumed)
}

func TestGuard_ReleasePermiteReintentar(t *testing.T) {
	g, _, _ := newGuard(time.Hour)

	lease, err := g.Acquire("k-1")
	require.NoError(t, err)
	lease.Release()
	assert.Equal(t, inventory.GuardReleased, g.State("k-1"))

	again, err := g.Acquire("k-1")
	require.NoError(t, err)
	assert.Equal(t, inventory.GuardPending, g.State("k-1"))

	// Commit o Release solo cuentan una vez.
	again.Commit()
	again.Release()
	assert.Equal(t, inventory.GuardCommitted, g.State("k-1"))
}

func TestGuard_ClavesIndependientes(t *testing.T) {
	g, _, _ := newGuard(time.Hour)

	_, err := g.Acquire("k-1")
	require.NoError(t, err)
	_, err = g.Acquire("k-2")
	assert.NoError(t, err)

	_, err = g.Acquire("")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, inventory.GuardIdle, g.State("k-3"))
}

func TestGuard_ExpiraClavesConfirmadas(t *testing.T) {
	g, clock, _ := newGuard(time.Hour)

	lease, err := g.Acquire("k-1")
	require.NoError(t, err)
	lease.Commit()
	pending, err := g.Acquire("k-2")
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	assert.Equal(t, 0, g.Sweep())

	clock.Advance(31 * time.Minute)
	assert.Equal(t, 1, g.Sweep(), "solo expira la clave confirmada; la pendiente se conserva")
	assert.Equal(t, inventory.GuardIdle, g.State("k-1"))
	assert.Equal(t, inventory.GuardPending, g.State("k-2"))

	_, err = g.Acquire("k-1")
	assert.NoError(t, err, "tras expirar, la protección queda en el token persistido")
	pending.Release()
}

func TestGuard_ConfirmadaVencidaSinSweepSePuedeAdquirir(t *testing.T) {
	g, clock, _ := newGuard(time.Minute)

	lease, err := g.Acquire("k-1")
	require.NoError(t, err)
	lease.Commit()

	clock.Advance(2 * time.Minute)
	_, err = g.Acquire("k-1")
	assert.NoError(t, err)
}

func TestGuard_AcquireConcurrenteSoloUnoGana(t *testing.T) {
	g, _, _ := newGuard(time.Hour)

	const n = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Acquire("k-1"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestGuard_RunTerminaConElContexto(t *testing.T) {
	g, _, _ := newGuard(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- g.Run(ctx, time.Millisecond) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run no terminó tras cancelar el contexto")
	}
}

func TestLease_NilNoHaceNada(t *testing.T) {
	var lease *inventory.Lease
	assert.NotPanics(t, func() {
		lease.Commit()
		lease.Release()
	})
}
