package adaptor

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"cinema-ticketing/internal/data/entity"
	"cinema-ticketing/internal/gateway"
	"cinema-ticketing/internal/usecase"
	"cinema-ticketing/pkg/utils"

	"go.uber.org/zap"
)

const invalidSignatureBody = "INVALID_SIGNATURE"

// Return redirect error codes
const (
	ReturnErrorPaymentFailed = "payment_failed"
	ReturnErrorOrderNotFound = "order_not_found"
	ReturnErrorServer        = "server_error"
)

// Acknowledger writes the terminal reply of one delivery channel. Every
// request ends in exactly one of these calls.
type Acknowledger interface {
	// Processed is called once the event went through reconciliation. The
	// result is nil for a connectivity probe.
	Processed(w http.ResponseWriter, r *http.Request, result *usecase.ReconcileResult)
	// Rejected is called for malformed or wrongly signed events.
	Rejected(w http.ResponseWriter, r *http.Request, orderID string)
	// Failed is called when the event could not be persisted.
	Failed(w http.ResponseWriter, r *http.Request, orderID string)
}

type PaymentHandler struct {
	service  usecase.ReconcileService
	notify   Acknowledger
	callback Acknowledger
	ret      Acknowledger
	log      *zap.Logger
}

func NewPaymentHandler(service usecase.ReconcileService, config *utils.Config, log *zap.Logger) *PaymentHandler {
	token := &tokenAck{token: config.Gateway.AckToken}
	return &PaymentHandler{
		service:  service,
		notify:   token,
		callback: token,
		ret:      &redirectAck{frontendBaseURL: strings.TrimRight(config.App.FrontendBaseURL, "/")},
		log:      log.With(zap.String("handler", "payment")),
	}
}

// Notify handles GET|POST /api/payment/notify (server-to-server)
func (h *PaymentHandler) Notify(w http.ResponseWriter, r *http.Request) {
	h.ingest(w, r, entity.TransportNotify, h.notify)
}

// Callback handles POST /api/payment/callback
func (h *PaymentHandler) Callback(w http.ResponseWriter, r *http.Request) {
	h.ingest(w, r, entity.TransportCallback, h.callback)
}

// Return handles GET|POST /api/payment/return (browser redirect)
func (h *PaymentHandler) Return(w http.ResponseWriter, r *http.Request) {
	h.ingest(w, r, entity.TransportReturn, h.ret)
}

// ingest is shared by all channels, only the acknowledgment differs.
func (h *PaymentHandler) ingest(w http.ResponseWriter, r *http.Request, transport entity.Transport, ack Acknowledger) {
	var orderID string

	// Panic tetap harus dijawab sesuai channel
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("Panic while handling payment event",
				zap.Any("panic", rec),
				zap.String("transport", string(transport)),
				zap.String("order_id", orderID),
				zap.Stack("stack"),
			)
			ack.Failed(w, r, orderID)
		}
	}()

	ev, err := gateway.ParseEvent(r)
	if r.Method == http.MethodGet && (errors.Is(err, gateway.ErrEmptyEvent) || (err == nil && ev.OrderID == "")) {
		h.log.Debug("Payment endpoint probe", zap.String("transport", string(transport)))
		ack.Processed(w, r, nil)
		return
	}
	if err != nil {
		h.log.Warn("Unreadable payment event",
			zap.Error(err),
			zap.String("transport", string(transport)),
		)
		ack.Rejected(w, r, "")
		return
	}
	orderID = ev.OrderID

	result, err := h.service.Reconcile(r.Context(), transport, ev)
	if err != nil {
		h.log.Error("Failed to reconcile payment event",
			zap.Error(err),
			zap.String("transport", string(transport)),
			zap.String("order_id", orderID),
			zap.String("transaction_id", ev.TransactionID),
		)
		ack.Failed(w, r, orderID)
		return
	}

	if !result.Valid {
		ack.Rejected(w, r, orderID)
		return
	}

	ack.Processed(w, r, result)
}

// ==================== ACKNOWLEDGERS ====================

// tokenAck answers server-to-server deliveries. Anything but the token makes
// the gateway redeliver.
type tokenAck struct {
	token string
}

func (a *tokenAck) Processed(w http.ResponseWriter, r *http.Request, result *usecase.ReconcileResult) {
	utils.ResponseText(w, http.StatusOK, a.token)
}

func (a *tokenAck) Rejected(w http.ResponseWriter, r *http.Request, orderID string) {
	utils.ResponseText(w, http.StatusOK, invalidSignatureBody)
}

func (a *tokenAck) Failed(w http.ResponseWriter, r *http.Request, orderID string) {
	utils.ResponseInternalError(w, "Failed to process payment event")
}

// redirectAck sends the buyer's browser to the frontend result page.
type redirectAck struct {
	frontendBaseURL string
}

func (a *redirectAck) Processed(w http.ResponseWriter, r *http.Request, result *usecase.ReconcileResult) {
	switch {
	case result == nil:
		a.failed(w, r, "", ReturnErrorOrderNotFound)
	case result.Action == usecase.ActionOrderNotFound:
		a.failed(w, r, result.OrderID, ReturnErrorOrderNotFound)
	case result.PaymentSuccess, result.Order != nil && result.Order.IsPaid():
		a.redirect(w, r, "/payment/success", url.Values{"orderid": {result.OrderID}})
	default:
		a.failed(w, r, result.OrderID, ReturnErrorPaymentFailed)
	}
}

func (a *redirectAck) Rejected(w http.ResponseWriter, r *http.Request, orderID string) {
	a.failed(w, r, orderID, ReturnErrorPaymentFailed)
}

func (a *redirectAck) Failed(w http.ResponseWriter, r *http.Request, orderID string) {
	a.failed(w, r, orderID, ReturnErrorServer)
}

func (a *redirectAck) failed(w http.ResponseWriter, r *http.Request, orderID, code string) {
	a.redirect(w, r, "/payment/failed", url.Values{"orderid": {orderID}, "error": {code}})
}

func (a *redirectAck) redirect(w http.ResponseWriter, r *http.Request, path string, q url.Values) {
	http.Redirect(w, r, a.frontendBaseURL+path+"?"+q.Encode(), http.StatusSeeOther)
}
