package domain

import "errors"

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrDuplicate    = errors.New("recurso duplicado")
	ErrUnauthorized = errors.New("no autorizado")

	// Rechazos de negocio del motor de movimientos.
	ErrInvalidQuantity   = errors.New("cantidad inválida")
	ErrInvalidDirection  = errors.New("dirección de movimiento inválida")
	ErrInsufficientStock = errors.New("stock insuficiente")
	ErrZeroStock         = errors.New("sin stock disponible")
	ErrMissingSupplier   = errors.New("proveedor requerido")

	// Guardia de envíos.
	ErrDuplicateSubmission = errors.New("envío duplicado en curso")
	ErrSubmissionConsumed  = errors.New("envío ya confirmado")

	// Infraestructura.
	ErrPersistence    = errors.New("fallo de persistencia")
	ErrUnknownOutcome = errors.New("resultado desconocido: el movimiento pudo haberse aplicado")
	ErrNegativeStock  = errors.New("la cantidad resultante sería negativa")
)
