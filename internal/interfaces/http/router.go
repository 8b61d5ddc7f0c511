package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/stock-ledger/internal/application/inventory"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Movements *inventory.MovementService
	JWTSecret string
}

// Router registra las rutas de la API. Todas requieren Bearer Token cuando hay JWT_SECRET.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api", AuthMiddleware(deps.JWTSecret))
	h := NewInventoryHandler(deps.Movements)

	inv := api.Group("/inventory")
	inv.Post("/movements", h.SubmitMovement)
	inv.Post("/movements/validate", h.ValidateMovement)
	inv.Get("/movements/:id", h.GetMovement)

	products := api.Group("/products")
	products.Get("/:id/stock", h.GetStock)
	products.Get("/:id/movements", h.ListMovements)
}
