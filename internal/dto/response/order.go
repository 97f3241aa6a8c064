package response

import (
	"encoding/json"
	"time"

	"cinema-ticketing/internal/data/entity"
)

type OrderResponse struct {
	ID                   string               `json:"id"`
	OrderID              string               `json:"order_id"`
	ReferenceNo          string               `json:"reference_no"`
	Amount               float64              `json:"amount"`
	Currency             string               `json:"currency"`
	PaymentStatus        entity.PaymentStatus `json:"payment_status"`
	Status               entity.OrderStatus   `json:"status"`
	TransactionID        *string              `json:"transaction_id,omitempty"`
	Channel              *string              `json:"channel,omitempty"`
	ReservationConfirmed bool                 `json:"reservation_confirmed"`
	ReservationReleased  bool                 `json:"reservation_released"`
	Version              int64                `json:"version"`
	CreatedAt            time.Time            `json:"created_at"`
	UpdatedAt            time.Time            `json:"updated_at"`
}

type OrderDetailResponse struct {
	OrderResponse
	Events []PaymentEventResponse `json:"events"`
}

type PaymentEventResponse struct {
	ID            string           `json:"id"`
	TransactionID string           `json:"transaction_id"`
	StatusCode    string           `json:"status_code"`
	Transport     entity.Transport `json:"transport"`
	IsSuccess     bool             `json:"is_success"`
	Remark        string           `json:"remark"`
	Payload       json.RawMessage  `json:"payload,omitempty"`
	IPAddress     *string          `json:"ip_address,omitempty"`
	UserAgent     *string          `json:"user_agent,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

type RetryConfirmResponse struct {
	Action string        `json:"action"`
	Order  OrderResponse `json:"order"`
}

// Helper converters
func OrderToResponse(order *entity.Order) OrderResponse {
	return OrderResponse{
		ID:                   order.ID.String(),
		OrderID:              order.OrderID,
		ReferenceNo:          order.ReferenceNo,
		Amount:               order.Amount,
		Currency:             order.Currency,
		PaymentStatus:        order.PaymentStatus,
		Status:               order.Status,
		TransactionID:        order.TransactionID,
		Channel:              order.Channel,
		ReservationConfirmed: order.ReservationConfirmed,
		ReservationReleased:  order.ReservationReleased,
		Version:              order.Version,
		CreatedAt:            order.CreatedAt,
		UpdatedAt:            order.UpdatedAt,
	}
}

func PaymentEventToResponse(entry *entity.PaymentEventLog) PaymentEventResponse {
	return PaymentEventResponse{
		ID:            entry.ID.String(),
		TransactionID: entry.TransactionID,
		StatusCode:    entry.StatusCode,
		Transport:     entry.Transport,
		IsSuccess:     entry.IsSuccess,
		Remark:        entry.Remark,
		Payload:       entry.Payload,
		IPAddress:     entry.IPAddress,
		UserAgent:     entry.UserAgent,
		CreatedAt:     entry.CreatedAt,
	}
}
