package inventory

import "time"

// Tipos de evento publicados.
const (
	EventMovementCommitted  = "inventory.movement_committed"
	EventCorruptionDetected = "inventory.corruption_detected"
)

// MovementCommitted se emite tras cada movimiento confirmado.
type MovementCommitted struct {
	Type              string    `json:"type"`
	MovementID        string    `json:"movement_id"`
	ProductID         string    `json:"product_id"`
	Direction         string    `json:"direction"`
	Quantity          int64     `json:"quantity"`
	PreviousQuantity  int64     `json:"previous_quantity"`
	ResultingQuantity int64     `json:"resulting_quantity"`
	ActorRef          string    `json:"actor_ref,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// CorruptionDetected diagnóstico del monitor de conciliación: la variación observada
// no coincide con la esperada para el movimiento.
type CorruptionDetected struct {
	Type          string    `json:"type"`
	MovementID    string    `json:"movement_id"`
	ProductID     string    `json:"product_id"`
	Direction     string    `json:"direction"`
	Quantity      int64     `json:"quantity"`
	PreQuantity   int64     `json:"pre_quantity"`
	PostQuantity  int64     `json:"post_quantity"`
	ExpectedDelta int64     `json:"expected_delta"`
	ActualDelta   int64     `json:"actual_delta"`
	Timestamp     time.Time `json:"timestamp"`
}
