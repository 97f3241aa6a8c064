package adaptor

import (
	"errors"
	"net/http"

	"cinema-ticketing/internal/dto/request"
	"cinema-ticketing/internal/usecase"
	"cinema-ticketing/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type OrderHandler struct {
	service usecase.OrderService
	log     *zap.Logger
}

func NewOrderHandler(service usecase.OrderService, log *zap.Logger) *OrderHandler {
	return &OrderHandler{
		service: service,
		log:     log.With(zap.String("handler", "order")),
	}
}

// GetOrder handles GET /api/admin/orders/{orderId} (admin only)
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		utils.ResponseBadRequest(w, "Order ID is required", nil)
		return
	}

	order, err := h.service.GetOrder(r.Context(), orderID)
	if err != nil {
		h.handleServiceError(w, err, "get order")
		return
	}

	utils.ResponseSuccess(w, "success", order)
}

// ListEvents handles GET /api/admin/orders/{orderId}/events (admin only)
func (h *OrderHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		utils.ResponseBadRequest(w, "Order ID is required", nil)
		return
	}

	query := r.URL.Query()
	req := &request.PaginatedRequest{
		Page:    utils.ParseInt(query.Get("page"), 1),
		PerPage: utils.ParseInt(query.Get("per_page"), 10),
	}

	if validationErrors := utils.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ResponseBadRequest(w, "Validation failed", validationErrors)
		return
	}

	events, err := h.service.ListEvents(r.Context(), orderID, req)
	if err != nil {
		h.handleServiceError(w, err, "list order events")
		return
	}

	utils.ResponseSuccess(w, "success", events)
}

// RetryConfirm handles POST /api/admin/orders/{orderId}/retry-confirm (admin only)
func (h *OrderHandler) RetryConfirm(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	if orderID == "" {
		utils.ResponseBadRequest(w, "Order ID is required", nil)
		return
	}

	result, err := h.service.RetryConfirm(r.Context(), orderID)
	if err != nil {
		h.handleServiceError(w, err, "retry confirmation")
		return
	}

	utils.ResponseSuccess(w, "success", result)
}

// handleServiceError handles errors untuk admin order operations
func (h *OrderHandler) handleServiceError(w http.ResponseWriter, err error, operation string) {
	switch {
	case errors.Is(err, usecase.ErrOrderNotFound):
		h.log.Warn(operation+" failed - not found",
			zap.Error(err),
			zap.String("operation", operation))
		utils.ResponseNotFound(w, err.Error())

	case errors.Is(err, usecase.ErrNotRetryable):
		h.log.Warn(operation+" failed - invalid state",
			zap.Error(err),
			zap.String("operation", operation))
		utils.ResponseConflict(w, err.Error())

	case errors.Is(err, usecase.ErrReservationFailed):
		h.log.Error(operation+" failed - booking API",
			zap.Error(err),
			zap.String("operation", operation))
		utils.ResponseJSON(w, http.StatusBadGateway, false, err.Error(), nil, nil)

	default:
		h.log.Error(operation+" failed - internal error",
			zap.Error(err),
			zap.String("operation", operation))
		utils.ResponseInternalError(w, "Internal server error")
	}
}
