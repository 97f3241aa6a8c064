package wire

import (
	"cinema-ticketing/internal/adaptor"
	"cinema-ticketing/pkg/middleware"
	"cinema-ticketing/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func wireAdmin(r chi.Router, orderHandler *adaptor.OrderHandler, config *utils.Config, log *zap.Logger) {
	// ==================== ADMIN ROUTES ====================
	r.Route("/api/admin/orders", func(r chi.Router) {
		r.Use(middleware.AdminKey(config.Admin.KeyHash, log))

		// GET /api/admin/orders/{orderId} - order plus latest payment events
		r.Get("/{orderId}", orderHandler.GetOrder)

		// GET /api/admin/orders/{orderId}/events - paginated event log
		r.Get("/{orderId}/events", orderHandler.ListEvents)

		// POST /api/admin/orders/{orderId}/retry-confirm - re-run booking confirm for a PAID order
		r.Post("/{orderId}/retry-confirm", orderHandler.RetryConfirm)
	})
}
