package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product es el dato maestro de un producto tal como lo ve el libro de movimientos.
// Quantity solo cambia a través de un movimiento confirmado; nunca es negativa.
type Product struct {
	ID           string
	SKU          string
	Name         string
	Quantity     int64
	MinimumStock *int64 // nil = sin mínimo configurado
	Price        decimal.Decimal
	UpdatedAt    time.Time
}

// BelowMinimum indica si el stock actual está por debajo del mínimo configurado.
func (p *Product) BelowMinimum() bool {
	if p.MinimumStock == nil {
		return false
	}
	return p.Quantity < *p.MinimumStock
}
