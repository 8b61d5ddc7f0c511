package repository

import (
	"context"
	"time"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

// StockMovementRepository define el puerto de persistencia del libro de movimientos (solo inserción).
type StockMovementRepository interface {
	// Create agrega un movimiento. Devuelve domain.ErrDuplicate si el token de idempotencia ya existe.
	Create(ctx context.Context, movement *entity.StockMovement) error
	GetByID(ctx context.Context, id string) (*entity.StockMovement, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*entity.StockMovement, error)
	ListByProduct(ctx context.Context, productID string, from, to *time.Time, limit, offset int) ([]*entity.StockMovement, error)
}
