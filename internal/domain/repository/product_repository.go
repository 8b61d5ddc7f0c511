package repository

import (
	"context"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

// ProductRepository lectura de datos maestros de producto (gestionados fuera de este servicio).
type ProductRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Product, error)
}
