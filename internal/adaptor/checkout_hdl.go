package adaptor

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"cinema-ticketing/internal/dto/request"
	"cinema-ticketing/internal/usecase"
	"cinema-ticketing/pkg/utils"

	"go.uber.org/zap"
)

type CheckoutHandler struct {
	service usecase.CheckoutService
	log     *zap.Logger
}

func NewCheckoutHandler(service usecase.CheckoutService, log *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service: service,
		log:     log.With(zap.String("handler", "checkout")),
	}
}

// CreateCheckout handles POST /api/payment/checkout
func (h *CheckoutHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req request.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	checkout, err := h.service.CreateCheckout(r.Context(), &req)
	if err != nil {
		h.handleServiceError(w, err, "create checkout")
		return
	}

	utils.ResponseCreated(w, "success", checkout)
}

// handleServiceError handles errors untuk checkout operations
func (h *CheckoutHandler) handleServiceError(w http.ResponseWriter, err error, operation string) {
	switch {
	case strings.Contains(err.Error(), "validation failed"):
		h.log.Warn(operation+" validation failed",
			zap.Error(err),
			zap.String("operation", operation))
		utils.ResponseBadRequest(w, err.Error(), nil)

	case errors.Is(err, usecase.ErrCheckoutConflict):
		h.log.Warn(operation+" failed - conflicting pending order",
			zap.Error(err),
			zap.String("operation", operation))
		utils.ResponseConflict(w, err.Error())

	default:
		h.log.Error(operation+" failed - internal error",
			zap.Error(err),
			zap.String("operation", operation))
		utils.ResponseInternalError(w, "Internal server error")
	}
}
