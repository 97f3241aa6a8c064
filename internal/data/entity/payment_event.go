package entity

import (
	"encoding/json"
	"time"
)

type Transport string

const (
	TransportNotify   Transport = "notify"
	TransportReturn   Transport = "return"
	TransportCallback Transport = "callback"
)

// PaymentEvent is the transport independent form of a gateway event.
type PaymentEvent struct {
	OrderID       string            `json:"orderid"`
	TransactionID string            `json:"tranID"`
	Status        string            `json:"status"`
	Channel       string            `json:"channel"`
	AuthCode      string            `json:"appcode"`
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
	PayDate       string            `json:"paydate"`
	Domain        string            `json:"domain"`
	Signature     string            `json:"skey"`
	ErrorDesc     string            `json:"error_desc,omitempty"`
	Raw           map[string]string `json:"raw"`
}

// HasField reports whether the transport carried the field at all, empty or not.
func (e *PaymentEvent) HasField(name string) bool {
	_, ok := e.Raw[name]
	return ok
}

// PaymentEventLog is an append-only audit row for one received event.
type PaymentEventLog struct {
	BaseSimple
	OrderID       string          `db:"order_id"`
	TransactionID string          `db:"transaction_id"`
	StatusCode    string          `db:"status_code"`
	Transport     Transport       `db:"transport"`
	IsSuccess     bool            `db:"is_success"`
	Remark        string          `db:"remark"`
	Payload       json.RawMessage `db:"payload"`
	IPAddress     *string         `db:"ip_address"`
	UserAgent     *string         `db:"user_agent"`
}

// HeldBooking keeps the booking API coordinates for an order between checkout
// and reconciliation, since gateway callbacks do not carry them.
type HeldBooking struct {
	OrderID      string    `json:"orderId"`
	CinemaID     string    `json:"cinemaId"`
	ShowID       string    `json:"showId"`
	ReferenceNo  string    `json:"referenceNo"`
	MembershipID string    `json:"membershipId"`
	Token        string    `json:"token,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (h *HeldBooking) HasCoordinates() bool {
	return h != nil && h.CinemaID != "" && h.ShowID != "" && h.ReferenceNo != ""
}
