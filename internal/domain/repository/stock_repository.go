package repository

import "context"

// StockRepository es el puerto hacia el almacén de cantidades (colaborador externo).
// Dentro de una transacción, GetForUpdate es el punto de serialización por producto.
type StockRepository interface {
	// ReadQuantity lee la cantidad actual sin bloquear (lectura consultiva).
	ReadQuantity(ctx context.Context, productID string) (int64, error)
	// GetForUpdate lee la cantidad y bloquea la fila del producto hasta el fin de la transacción.
	GetForUpdate(ctx context.Context, productID string) (int64, error)
	// AtomicAdjust aplica signedDelta en una sola operación atómica y devuelve la cantidad nueva.
	// Devuelve domain.ErrNegativeStock si el resultado quedaría por debajo de cero.
	AtomicAdjust(ctx context.Context, productID string, signedDelta int64) (int64, error)
}
