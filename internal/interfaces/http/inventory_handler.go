package http

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/jhoicas/stock-ledger/internal/application/dto"
	"github.com/jhoicas/stock-ledger/internal/application/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	invdomain "github.com/jhoicas/stock-ledger/internal/domain/inventory"
)

// HeaderIdempotencyKey header con el token de idempotencia del envío.
const HeaderIdempotencyKey = "Idempotency-Key"

// InventoryHandler maneja las peticiones HTTP de movimientos y stock (protegido).
type InventoryHandler struct {
	svc *inventory.MovementService
}

// NewInventoryHandler construye el handler.
func NewInventoryHandler(svc *inventory.MovementService) *InventoryHandler {
	return &InventoryHandler{svc: svc}
}

// SubmitMovement godoc
// @Summary      Registrar movimiento de stock
// @Description  Entrada (in) o salida (out) de un producto. Reenviar con el mismo Idempotency-Key
//
//	nunca aplica el movimiento dos veces.
//
// @Tags         inventory
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header  string                     false  "Token de idempotencia"
// @Param        body             body    dto.SubmitMovementRequest  true   "product_id, direction, quantity, supplier_ref, note"
// @Success      201   {object}  dto.SubmitMovementResponse  "confirmado"
// @Success      200   {object}  dto.SubmitMovementResponse  "duplicado ignorado"
// @Failure      400   {object}  dto.SubmitMovementResponse
// @Failure      404   {object}  dto.ErrorResponse
// @Failure      409   {object}  dto.SubmitMovementResponse
// @Failure      503   {object}  dto.ErrorResponse
// @Failure      504   {object}  dto.ErrorResponse
// @Router       /api/inventory/movements [post]
func (h *InventoryHandler) SubmitMovement(c *fiber.Ctx) error {
	cmd, err := movementCommand(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	out, err := h.svc.Submit(c.Context(), cmd)
	// El token vuelve siempre al cliente para que reintente con él.
	if out.IdempotencyKey != "" {
		c.Set(HeaderIdempotencyKey, out.IdempotencyKey)
	}
	if err != nil {
		return errorResponse(c, err)
	}

	resp := toSubmitResponse(out)
	switch out.Kind {
	case inventory.OutcomeCommitted:
		return c.Status(fiber.StatusCreated).JSON(resp)
	case inventory.OutcomeDuplicateIgnored:
		if out.InProgress {
			resp.Code = "DUPLICATE_SUBMISSION"
			resp.Reason = domain.ErrDuplicateSubmission.Error()
			return c.Status(fiber.StatusConflict).JSON(resp)
		}
		return c.Status(fiber.StatusOK).JSON(resp)
	}
	if out.Reason.LocalOnly() {
		return c.Status(fiber.StatusBadRequest).JSON(resp)
	}
	return c.Status(fiber.StatusConflict).JSON(resp)
}

// ValidateMovement godoc
// @Summary      Pre-chequeo consultivo de un movimiento
// @Description  Evalúa el movimiento contra una lectura no serializada del stock. No reserva ni aplica nada.
// @Tags         inventory
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.SubmitMovementRequest  true  "product_id, direction, quantity"
// @Success      200   {object}  dto.PrecheckResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      404   {object}  dto.ErrorResponse
// @Router       /api/inventory/movements/validate [post]
func (h *InventoryHandler) ValidateMovement(c *fiber.Ctx) error {
	cmd, err := movementCommand(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	pre, err := h.svc.Precheck(c.Context(), cmd)
	if err != nil {
		return errorResponse(c, err)
	}
	resp := dto.PrecheckResponse{
		Accepted:  pre.Decision.Accepted,
		Available: pre.Quantity,
		Requested: cmd.Quantity.String(),
	}
	if !pre.Decision.Accepted {
		resp.Code = string(pre.Decision.Reason)
		resp.Reason = pre.Decision.Err().Error()
	}
	return c.JSON(resp)
}

// GetMovement godoc
// @Summary      Obtener movimiento por ID
// @Tags         inventory
// @Security     Bearer
// @Produce      json
// @Param        id   path      string  true  "ID del movimiento"
// @Success      200  {object}  dto.MovementResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/inventory/movements/{id} [get]
func (h *InventoryHandler) GetMovement(c *fiber.Ctx) error {
	m, err := h.svc.GetMovement(c.Context(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	if m == nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "movimiento no encontrado"})
	}
	return c.JSON(toMovementResponse(m))
}

// GetStock godoc
// @Summary      Stock actual de un producto
// @Tags         products
// @Security     Bearer
// @Produce      json
// @Param        id   path      string  true  "ID del producto"
// @Success      200  {object}  dto.StockResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/products/{id}/stock [get]
func (h *InventoryHandler) GetStock(c *fiber.Ctx) error {
	v, err := h.svc.GetStock(c.Context(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	if v == nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "producto no encontrado"})
	}
	p := v.Product
	return c.JSON(dto.StockResponse{
		ProductID:    p.ID,
		SKU:          p.SKU,
		Name:         p.Name,
		Quantity:     p.Quantity,
		MinimumStock: p.MinimumStock,
		BelowMinimum: v.BelowMinimum,
		Price:        p.Price,
		UpdatedAt:    p.UpdatedAt,
	})
}

// ListMovements godoc
// @Summary      Historial de movimientos de un producto
// @Tags         products
// @Security     Bearer
// @Produce      json
// @Param        id      path   string  true   "ID del producto"
// @Param        from    query  string  false  "RFC3339"
// @Param        to      query  string  false  "RFC3339"
// @Param        limit   query  int     false  "1..100 (default 20)"
// @Param        offset  query  int     false  "desde 0"
// @Success      200  {object}  dto.MovementListResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Router       /api/products/{id}/movements [get]
func (h *InventoryHandler) ListMovements(c *fiber.Ctx) error {
	var page dto.PageRequest
	if err := c.QueryParser(&page); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "paginación inválida"})
	}
	page.DefaultPage()
	from, err := parseTimeQuery(c, "from")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "from debe ser RFC3339"})
	}
	to, err := parseTimeQuery(c, "to")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "to debe ser RFC3339"})
	}

	list, err := h.svc.ListMovements(c.Context(), c.Params("id"), from, to, page.Limit, page.Offset)
	if err != nil {
		return errorResponse(c, err)
	}
	items := make([]dto.MovementResponse, 0, len(list))
	for _, m := range list {
		items = append(items, toMovementResponse(m))
	}
	return c.JSON(dto.MovementListResponse{
		Items: items,
		Page:  dto.PageResponse{Limit: page.Limit, Offset: page.Offset},
	})
}

func movementCommand(c *fiber.Ctx) (inventory.MovementCommand, error) {
	var in dto.SubmitMovementRequest
	if err := c.BodyParser(&in); err != nil {
		return inventory.MovementCommand{}, err
	}
	// c.Get apunta al buffer de la petición, que fasthttp reutiliza: la clave se guarda
	// en la guardia y en el almacén, así que se copia.
	key := strings.TrimSpace(utils.CopyString(c.Get(HeaderIdempotencyKey)))
	if key == "" {
		key = strings.TrimSpace(in.IdempotencyKey)
	}
	return inventory.MovementCommand{
		ProductID:      strings.TrimSpace(in.ProductID),
		Quantity:       in.Quantity,
		Direction:      strings.ToLower(strings.TrimSpace(in.Direction)),
		IdempotencyKey: key,
		SupplierRef:    strings.TrimSpace(in.SupplierRef),
		Note:           in.Note,
		ActorRef:       GetUserID(c),
	}, nil
}

func toSubmitResponse(out inventory.Outcome) dto.SubmitMovementResponse {
	resp := dto.SubmitMovementResponse{
		Accepted:       out.Accepted(),
		Outcome:        string(out.Kind),
		State:          string(out.State),
		IdempotencyKey: out.IdempotencyKey,
		Duplicate:      out.Kind == inventory.OutcomeDuplicateIgnored,
		InProgress:     out.InProgress,
	}
	if out.Kind == inventory.OutcomeRejected {
		resp.Code = string(out.Reason)
		resp.Reason = out.Decision.Err().Error()
		if !out.Reason.LocalOnly() {
			available := out.Decision.Available
			resp.Available = &available
		}
		return resp
	}
	if out.Movement != nil {
		m := toMovementResponse(out.Movement)
		resp.Movement = &m
		qty := out.ResultingQuantity
		resp.ResultingQuantity = &qty
	}
	return resp
}

func toMovementResponse(m *entity.StockMovement) dto.MovementResponse {
	return dto.MovementResponse{
		ID:                m.ID,
		ProductID:         m.ProductID,
		Direction:         string(m.Direction),
		Quantity:          m.Quantity,
		IdempotencyKey:    m.IdempotencyKey,
		SupplierRef:       m.SupplierRef,
		Note:              m.Note,
		ActorRef:          m.ActorRef,
		PreviousQuantity:  m.PreviousQuantity,
		ResultingQuantity: m.ResultingQuantity,
		CreatedAt:         m.CreatedAt,
	}
}

func errorResponse(c *fiber.Ctx, err error) error {
	var rej *invdomain.RejectionError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "producto no encontrado"})
	case errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "datos inválidos"})
	case errors.As(err, &rej):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: string(rej.Reason), Message: rej.Error()})
	case errors.Is(err, domain.ErrUnknownOutcome):
		return c.Status(fiber.StatusGatewayTimeout).JSON(dto.ErrorResponse{
			Code:    "UNKNOWN_OUTCOME",
			Message: "no se pudo confirmar el resultado; reintente con el mismo Idempotency-Key",
		})
	case errors.Is(err, domain.ErrPersistence):
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
			Code:    "PERSISTENCE",
			Message: "no se pudo registrar el movimiento; reintente con el mismo Idempotency-Key",
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Code: "CANCELLED", Message: "petición cancelada"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
}

func parseTimeQuery(c *fiber.Ctx, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
