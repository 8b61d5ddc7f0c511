// Package inventory contiene la compuerta de validación de movimientos de stock.
// Es una función pura: la usan tanto el pre-chequeo consultivo (lectura posiblemente
// desactualizada) como el chequeo autoritativo dentro de la sección atómica del libro.
package inventory

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

// RejectReason motivo de rechazo devuelto por la compuerta.
type RejectReason string

const (
	ReasonInvalidQuantity   RejectReason = "INVALID_QUANTITY"
	ReasonInvalidDirection  RejectReason = "INVALID_DIRECTION"
	ReasonMissingSupplier   RejectReason = "MISSING_SUPPLIER"
	ReasonZeroStock         RejectReason = "ZERO_STOCK"
	ReasonInsufficientStock RejectReason = "INSUFFICIENT_STOCK"
)

// Message texto legible para el operador. ZeroStock y InsufficientStock se redactan
// distinto: "no hay nada" no es lo mismo que "no alcanza".
func (r RejectReason) Message() string {
	switch r {
	case ReasonInvalidQuantity:
		return "la cantidad debe ser un entero mayor que cero"
	case ReasonInvalidDirection:
		return "la dirección debe ser 'in' o 'out'"
	case ReasonMissingSupplier:
		return "el proveedor es obligatorio para este tipo de movimiento"
	case ReasonZeroStock:
		return "no hay stock disponible de este producto"
	case ReasonInsufficientStock:
		return "stock insuficiente para la cantidad solicitada"
	}
	return string(r)
}

// Err devuelve el error centinela de dominio asociado al motivo.
func (r RejectReason) Err() error {
	switch r {
	case ReasonInvalidQuantity:
		return domain.ErrInvalidQuantity
	case ReasonInvalidDirection:
		return domain.ErrInvalidDirection
	case ReasonMissingSupplier:
		return domain.ErrMissingSupplier
	case ReasonZeroStock:
		return domain.ErrZeroStock
	case ReasonInsufficientStock:
		return domain.ErrInsufficientStock
	}
	return domain.ErrInvalidInput
}

// LocalOnly indica si el motivo se resuelve sin leer stock (forma de la entrada o metadatos).
// Estos rechazos nunca llegan a la sección atómica.
func (r RejectReason) LocalOnly() bool {
	return r == ReasonInvalidQuantity || r == ReasonInvalidDirection || r == ReasonMissingSupplier
}

// RejectionError error estructurado con el detalle del rechazo.
type RejectionError struct {
	Reason    RejectReason
	Available int64
	Requested decimal.Decimal
}

func (e *RejectionError) Error() string {
	switch e.Reason {
	case ReasonZeroStock, ReasonInsufficientStock:
		return fmt.Sprintf("%s (disponible: %d, solicitado: %s)", e.Reason.Message(), e.Available, e.Requested)
	}
	return e.Reason.Message()
}

// Unwrap permite errors.Is contra los centinelas de dominio.
func (e *RejectionError) Unwrap() error {
	return e.Reason.Err()
}

// Decision resultado de la compuerta.
type Decision struct {
	Accepted  bool
	Reason    RejectReason
	Available int64
	Requested decimal.Decimal
}

// Err es nil si la decisión fue aceptada; si no, un *RejectionError.
func (d Decision) Err() error {
	if d.Accepted {
		return nil
	}
	return &RejectionError{Reason: d.Reason, Available: d.Available, Requested: d.Requested}
}

func accept(current int64, requested decimal.Decimal) Decision {
	return Decision{Accepted: true, Available: current, Requested: requested}
}

func reject(reason RejectReason, current int64, requested decimal.Decimal) Decision {
	return Decision{Reason: reason, Available: current, Requested: requested}
}

var maxQuantity = decimal.NewFromInt(math.MaxInt64)

// validQuantity: entero, > 0 y representable en int64.
func validQuantity(requested decimal.Decimal) bool {
	return requested.IsInteger() && requested.IsPositive() && requested.LessThanOrEqual(maxQuantity)
}

// Evaluate decide si requested unidades pueden moverse en dirección d dado el stock current.
// Las entradas no tienen techo; las salidas no pueden superar el stock actual.
func Evaluate(current int64, requested decimal.Decimal, d entity.Direction) Decision {
	if !validQuantity(requested) {
		return reject(ReasonInvalidQuantity, current, requested)
	}
	if !d.Valid() {
		return reject(ReasonInvalidDirection, current, requested)
	}
	qty := requested.IntPart()
	switch d {
	case entity.DirectionOut:
		if current <= 0 {
			return reject(ReasonZeroStock, current, requested)
		}
		if qty > current {
			return reject(ReasonInsufficientStock, current, requested)
		}
	case entity.DirectionIn:
		if qty > math.MaxInt64-current {
			return reject(ReasonInvalidQuantity, current, requested)
		}
	}
	return accept(current, requested)
}

// SupplierPolicy define para qué direcciones es obligatorio el proveedor.
type SupplierPolicy string

const (
	SupplierOptional    SupplierPolicy = "optional"
	SupplierRequiredIn  SupplierPolicy = "in"
	SupplierRequiredOut SupplierPolicy = "out"
	SupplierRequiredAll SupplierPolicy = "all"
)

// ParseSupplierPolicy interpreta el valor de configuración LEDGER_SUPPLIER_POLICY.
func ParseSupplierPolicy(s string) (SupplierPolicy, error) {
	p := SupplierPolicy(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case "":
		return SupplierOptional, nil
	case SupplierOptional, SupplierRequiredIn, SupplierRequiredOut, SupplierRequiredAll:
		return p, nil
	}
	return "", fmt.Errorf("política de proveedor desconocida %q (optional, in, out, all)", s)
}

// Requires indica si la política exige proveedor para la dirección d.
func (p SupplierPolicy) Requires(d entity.Direction) bool {
	switch p {
	case SupplierRequiredAll:
		return true
	case SupplierRequiredIn:
		return d == entity.DirectionIn
	case SupplierRequiredOut:
		return d == entity.DirectionOut
	}
	return false
}

// Policy reglas de negocio configurables de la compuerta.
type Policy struct {
	Supplier SupplierPolicy
}

// Metadata datos del movimiento que la política puede exigir.
type Metadata struct {
	SupplierRef string
	Note        string
}

// Gate compuerta compartida por el pre-chequeo y el libro.
type Gate struct {
	policy Policy
}

// NewGate construye la compuerta con la política dada.
func NewGate(policy Policy) Gate {
	if policy.Supplier == "" {
		policy.Supplier = SupplierOptional
	}
	return Gate{policy: policy}
}

// Policy devuelve la política activa.
func (g Gate) Policy() Policy { return g.policy }

// Admit valida la forma de la entrada y los metadatos exigidos, sin mirar el stock.
func (g Gate) Admit(requested decimal.Decimal, d entity.Direction, meta Metadata) Decision {
	if !validQuantity(requested) {
		return reject(ReasonInvalidQuantity, 0, requested)
	}
	if !d.Valid() {
		return reject(ReasonInvalidDirection, 0, requested)
	}
	if g.policy.Supplier.Requires(d) && strings.TrimSpace(meta.SupplierRef) == "" {
		return reject(ReasonMissingSupplier, 0, requested)
	}
	return accept(0, requested)
}

// Check es la decisión completa: Admit y luego Evaluate contra current.
func (g Gate) Check(current int64, requested decimal.Decimal, d entity.Direction, meta Metadata) Decision {
	if dec := g.Admit(requested, d, meta); !dec.Accepted {
		dec.Available = current
		return dec
	}
	return Evaluate(current, requested, d)
}
