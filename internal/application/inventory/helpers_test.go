package inventory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/jhoicas/stock-ledger/internal/application/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

// countingRunner cuenta las transacciones que llegan al almacén.
type countingRunner struct {
	inner inventory.TxRunner
	calls atomic.Int32
}

func (r *countingRunner) Run(ctx context.Context, fn func(repository.StockMovementRepository, repository.StockRepository) error) error {
	r.calls.Add(1)
	return r.inner.Run(ctx, fn)
}

// lostAckRunner confirma la primera transacción pero informa un error, como una
// respuesta de commit perdida en la red.
type lostAckRunner struct {
	inner inventory.TxRunner
	once  sync.Once
}

var errLostAck = errors.New("conexión cerrada durante el commit")

func (r *lostAckRunner) Run(ctx context.Context, fn func(repository.StockMovementRepository, repository.StockRepository) error) error {
	err := r.inner.Run(ctx, fn)
	lost := false
	r.once.Do(func() { lost = err == nil })
	if lost {
		return errLostAck
	}
	return err
}

// failingRunner falla siempre sin tocar el almacén.
type failingRunner struct{ err error }

func (r failingRunner) Run(context.Context, func(repository.StockMovementRepository, repository.StockRepository) error) error {
	return r.err
}

// cancelOnRunRunner cancela el contexto del llamador justo al empezar la transacción.
type cancelOnRunRunner struct {
	inner  inventory.TxRunner
	cancel context.CancelFunc
}

func (r cancelOnRunRunner) Run(ctx context.Context, fn func(repository.StockMovementRepository, repository.StockRepository) error) error {
	r.cancel()
	return r.inner.Run(ctx, fn)
}

// fakeRecorder cuenta las llamadas al Recorder.
type fakeRecorder struct {
	mu         sync.Mutex
	committed  map[string]int
	rejected   map[string]int
	failed     map[string]int
	duplicates int
	corruption int
	dropped    int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{committed: map[string]int{}, rejected: map[string]int{}, failed: map[string]int{}}
}

func (r *fakeRecorder) MovementCommitted(d string) { r.mu.Lock(); r.committed[d]++; r.mu.Unlock() }
func (r *fakeRecorder) MovementRejected(s string)  { r.mu.Lock(); r.rejected[s]++; r.mu.Unlock() }
func (r *fakeRecorder) SubmissionFailed(k string)  { r.mu.Lock(); r.failed[k]++; r.mu.Unlock() }
func (r *fakeRecorder) DuplicateSuppressed()       { r.mu.Lock(); r.duplicates++; r.mu.Unlock() }
func (r *fakeRecorder) CorruptionDetected()        { r.mu.Lock(); r.corruption++; r.mu.Unlock() }
func (r *fakeRecorder) MonitorDropped()            { r.mu.Lock(); r.dropped++; r.mu.Unlock() }

type recorderCounts struct {
	committed, rejected, failed     map[string]int
	duplicates, corruption, dropped int
}

func (r *fakeRecorder) snapshot() recorderCounts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorderCounts{
		committed:  copyCounts(r.committed),
		rejected:   copyCounts(r.rejected),
		failed:     copyCounts(r.failed),
		duplicates: r.duplicates,
		corruption: r.corruption,
		dropped:    r.dropped,
	}
}

func copyCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// fakePublisher guarda los eventos publicados.
type fakePublisher struct {
	mu         sync.Mutex
	committed  []inventory.MovementCommitted
	corruption []inventory.CorruptionDetected
	notify     chan struct{}
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{notify: make(chan struct{}, 100)}
}

func (p *fakePublisher) PublishMovementCommitted(_ context.Context, e inventory.MovementCommitted) error {
	p.mu.Lock()
	p.committed = append(p.committed, e)
	p.mu.Unlock()
	p.notify <- struct{}{}
	return nil
}

func (p *fakePublisher) PublishCorruptionDetected(_ context.Context, e inventory.CorruptionDetected) error {
	p.mu.Lock()
	p.corruption = append(p.corruption, e)
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) committedEvents() []inventory.MovementCommitted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]inventory.MovementCommitted(nil), p.committed...)
}
