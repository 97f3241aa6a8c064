package wire

import (
	"cinema-ticketing/internal/adaptor"

	"github.com/go-chi/chi/v5"
)

func wirePayment(r chi.Router, paymentHandler *adaptor.PaymentHandler, checkoutHandler *adaptor.CheckoutHandler) {
	r.Route("/api/payment", func(r chi.Router) {
		// ==================== GATEWAY CHANNELS (signed, no auth) ====================
		// Notify - server-to-server, gateway retries until it gets the ack token
		r.Get("/notify", paymentHandler.Notify)
		r.Post("/notify", paymentHandler.Notify)

		// Callback - generic channel, same ack as notify
		r.Get("/callback", paymentHandler.Callback)
		r.Post("/callback", paymentHandler.Callback)

		// Return - buyer browser, always ends in a redirect
		r.Get("/return", paymentHandler.Return)
		r.Post("/return", paymentHandler.Return)

		// ==================== CHECKOUT ====================
		r.Post("/checkout", checkoutHandler.CreateCheckout)
	})
}
