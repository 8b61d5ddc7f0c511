package entity

import (
	"strings"
	"time"
)

// Direction sentido de un movimiento de inventario.
type Direction string

const (
	DirectionIn  Direction = "in"  // entrada
	DirectionOut Direction = "out" // salida
)

// ParseDirection normaliza "in"/"out" (sin distinguir mayúsculas).
func ParseDirection(s string) (Direction, bool) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	return d, d.Valid()
}

// Valid indica si la dirección es una de las soportadas.
func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// Sign devuelve +1 para entradas y -1 para salidas.
func (d Direction) Sign() int64 {
	if d == DirectionOut {
		return -1
	}
	return 1
}

// StockMovement es un registro inmutable del libro de movimientos.
// Quantity siempre es positiva; el signo lo aporta Direction.
// PreviousQuantity y ResultingQuantity guardan el estado observado bajo el bloqueo.
type StockMovement struct {
	ID                string
	ProductID         string
	Direction         Direction
	Quantity          int64
	IdempotencyKey    string
	SupplierRef       string
	Note              string
	ActorRef          string
	PreviousQuantity  int64
	ResultingQuantity int64
	CreatedAt         time.Time
}

// SignedDelta variación con signo que el movimiento aplica al stock.
func (m *StockMovement) SignedDelta() int64 {
	return m.Direction.Sign() * m.Quantity
}
