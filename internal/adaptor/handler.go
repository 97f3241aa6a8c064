package adaptor

import (
	"cinema-ticketing/internal/usecase"
	"cinema-ticketing/pkg/utils"

	"go.uber.org/zap"
)

type Handler struct {
	Payment  *PaymentHandler
	Checkout *CheckoutHandler
	Order    *OrderHandler
}

func NewHandler(service *usecase.Service, config *utils.Config, log *zap.Logger) *Handler {
	return &Handler{
		Payment:  NewPaymentHandler(service.Reconcile, config, log),
		Checkout: NewCheckoutHandler(service.Checkout, log),
		Order:    NewOrderHandler(service.Order, log),
	}
}
