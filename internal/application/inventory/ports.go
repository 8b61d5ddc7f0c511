package inventory

import (
	"context"

	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

// TxRunner ejecuta una función dentro de una transacción, pasando repositorios atados a esa tx.
// Si fn devuelve error se hace Rollback; si no, Commit. Garantiza que el movimiento y el ajuste
// de cantidad sean visibles juntos o ninguno.
type TxRunner interface {
	Run(ctx context.Context, fn func(
		movRepo repository.StockMovementRepository,
		stockRepo repository.StockRepository,
	) error) error
}

// EventPublisher publica eventos del libro hacia sistemas externos (best effort).
type EventPublisher interface {
	PublishMovementCommitted(ctx context.Context, event MovementCommitted) error
	PublishCorruptionDetected(ctx context.Context, event CorruptionDetected) error
}

// Recorder recibe contadores de observabilidad. Las implementaciones no deben bloquear.
type Recorder interface {
	MovementCommitted(direction string)
	MovementRejected(reason string)
	DuplicateSuppressed()
	SubmissionFailed(kind string)
	CorruptionDetected()
	MonitorDropped()
}

type nopRecorder struct{}

func (nopRecorder) MovementCommitted(string) {}
func (nopRecorder) MovementRejected(string)  {}
func (nopRecorder) DuplicateSuppressed()     {}
func (nopRecorder) SubmissionFailed(string)  {}
func (nopRecorder) CorruptionDetected()      {}
func (nopRecorder) MonitorDropped()          {}

// NopRecorder devuelve un Recorder que descarta todo.
func NopRecorder() Recorder { return nopRecorder{} }
