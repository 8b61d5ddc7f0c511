package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubmitMovementRequest body para POST /api/inventory/movements y /validate.
// quantity se recibe como decimal para poder rechazar valores no enteros.
type SubmitMovementRequest struct {
	ProductID      string          `json:"product_id"`
	Direction      string          `json:"direction"` // "in" | "out"
	Quantity       decimal.Decimal `json:"quantity"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"` // el header Idempotency-Key tiene prioridad
	SupplierRef    string          `json:"supplier_ref,omitempty"`
	Note           string          `json:"note,omitempty"`
}

// SubmitMovementResponse resultado de un envío. Accepted=false con Code indica rechazo.
type SubmitMovementResponse struct {
	Accepted          bool              `json:"accepted"`
	Outcome           string            `json:"outcome"` // committed | duplicate_ignored | rejected
	State             string            `json:"state"`
	IdempotencyKey    string            `json:"idempotency_key"`
	Duplicate         bool              `json:"duplicate"`
	InProgress        bool              `json:"in_progress,omitempty"`
	Code              string            `json:"code,omitempty"`
	Reason            string            `json:"reason,omitempty"`
	Available         *int64            `json:"available,omitempty"`
	ResultingQuantity *int64            `json:"resulting_quantity,omitempty"`
	Movement          *MovementResponse `json:"movement,omitempty"`
}

// PrecheckResponse resultado consultivo de /validate: la cantidad puede estar desactualizada.
type PrecheckResponse struct {
	Accepted  bool   `json:"accepted"`
	Code      string `json:"code,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Available int64  `json:"available"`
	Requested string `json:"requested"`
}

// MovementResponse movimiento confirmado del libro.
type MovementResponse struct {
	ID                string    `json:"id"`
	ProductID         string    `json:"product_id"`
	Direction         string    `json:"direction"`
	Quantity          int64     `json:"quantity"`
	IdempotencyKey    string    `json:"idempotency_key,omitempty"`
	SupplierRef       string    `json:"supplier_ref,omitempty"`
	Note              string    `json:"note,omitempty"`
	ActorRef          string    `json:"actor_ref,omitempty"`
	PreviousQuantity  int64     `json:"previous_quantity"`
	ResultingQuantity int64     `json:"resulting_quantity"`
	CreatedAt         time.Time `json:"created_at"`
}

// MovementListResponse página del historial de un producto.
type MovementListResponse struct {
	Items []MovementResponse `json:"items"`
	Page  PageResponse       `json:"page"`
}

// StockResponse cantidad actual de un producto.
type StockResponse struct {
	ProductID    string          `json:"product_id"`
	SKU          string          `json:"sku,omitempty"`
	Name         string          `json:"name,omitempty"`
	Quantity     int64           `json:"quantity"`
	MinimumStock *int64          `json:"minimum_stock,omitempty"`
	BelowMinimum bool            `json:"below_minimum"`
	Price        decimal.Decimal `json:"price"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
