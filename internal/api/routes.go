// Package api exposes the trade engine over HTTP.
package api

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

// RegisterRoutes mounts the API on app. metrics may be nil.
func RegisterRoutes(app *fiber.App, h *Handler, metrics http.Handler) {
	if metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics))
	}
	app.Get("/healthz", h.Health)

	v1 := app.Group("/api/v1")
	v1.Post("/trades", h.CreateTrade)
	v1.Get("/trades/:id", h.GetTrade)
	v1.Get("/trades/:id/reconciliation", h.GetReconciliation)
	v1.Post("/trades/:id/reconciliation", h.Reconcile)
	v1.Get("/prices/:mint", h.GetPrice)
}
