package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

var _ repository.StockRepository = (*StockRepo)(nil)

// StockRepo almacén de cantidades sobre products.quantity (usable con pool o tx).
type StockRepo struct {
	q Querier
}

// NewStockRepository construye el adaptador de stock. Pasar pool o tx (Querier).
func NewStockRepository(q Querier) *StockRepo {
	return &StockRepo{q: q}
}

// ReadQuantity lectura sin bloqueo.
func (r *StockRepo) ReadQuantity(ctx context.Context, productID string) (int64, error) {
	var qty int64
	err := r.q.QueryRow(ctx, `SELECT quantity FROM products WHERE id = $1`, productID).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("read quantity: %w", err)
	}
	return qty, nil
}

// GetForUpdate obtiene la cantidad y bloquea la fila hasta el fin de la tx (SELECT FOR UPDATE).
func (r *StockRepo) GetForUpdate(ctx context.Context, productID string) (int64, error) {
	var qty int64
	err := r.q.QueryRow(ctx, `SELECT quantity FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("get stock for update: %w", err)
	}
	return qty, nil
}

// AtomicAdjust suma signedDelta en una sola sentencia y devuelve la cantidad resultante.
// Si el resultado fuera negativo no actualiza nada y devuelve domain.ErrNegativeStock.
func (r *StockRepo) AtomicAdjust(ctx context.Context, productID string, signedDelta int64) (int64, error) {
	query := `
		UPDATE products SET quantity = quantity + $2, updated_at = now()
		WHERE id = $1 AND quantity + $2 >= 0
		RETURNING quantity`
	var qty int64
	err := r.q.QueryRow(ctx, query, productID, signedDelta).Scan(&qty)
	if err == nil {
		return qty, nil
	}
	if isCheckViolation(err) {
		return 0, domain.ErrNegativeStock
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("adjust stock: %w", err)
	}
	// Sin fila: o el producto no existe o el ajuste dejaría stock negativo.
	if _, err := r.ReadQuantity(ctx, productID); err != nil {
		return 0, err
	}
	return 0, domain.ErrNegativeStock
}
