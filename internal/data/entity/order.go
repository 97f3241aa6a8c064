package entity

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Order is one checkout attempt. OrderID is the identifier echoed back by the
// payment gateway, ReferenceNo the seat hold issued by the booking API.
type Order struct {
	BaseNoDelete
	OrderID              string        `db:"order_id"`
	ReferenceNo          string        `db:"reference_no"`
	Amount               float64       `db:"amount"`
	Currency             string        `db:"currency"`
	PaymentStatus        PaymentStatus `db:"payment_status"`
	Status               OrderStatus   `db:"status"`
	TransactionID        *string       `db:"transaction_id"`
	Channel              *string       `db:"channel"`
	ReservationConfirmed bool          `db:"reservation_confirmed"`
	ReservationReleased  bool          `db:"reservation_released"`
	Version              int64         `db:"version"`
}

func (o *Order) IsPaid() bool {
	return o.PaymentStatus == PaymentStatusPaid
}

// MarkPaid records a gateway success. The reservation flags are only touched
// when the booking API confirmed the hold.
func (o *Order) MarkPaid(transactionID, channel string, reservationConfirmed bool) {
	o.PaymentStatus = PaymentStatusPaid
	o.Status = OrderStatusConfirmed
	o.setTransaction(transactionID, channel)
	if reservationConfirmed {
		o.ReservationConfirmed = true
		o.ReservationReleased = false
	}
}

// MarkReleased records a gateway failure whose hold was released. PAID wins.
func (o *Order) MarkReleased(transactionID, channel string) bool {
	if o.IsPaid() {
		return false
	}
	o.PaymentStatus = PaymentStatusFailed
	o.Status = OrderStatusCancelled
	o.ReservationReleased = true
	o.ReservationConfirmed = false
	o.setTransaction(transactionID, channel)
	return true
}

// MarkPaymentFailed records a gateway failure whose release call did not go through.
func (o *Order) MarkPaymentFailed(transactionID, channel string) bool {
	if o.IsPaid() {
		return false
	}
	o.PaymentStatus = PaymentStatusFailed
	o.setTransaction(transactionID, channel)
	return true
}

func (o *Order) setTransaction(transactionID, channel string) {
	if transactionID != "" {
		o.TransactionID = &transactionID
	}
	if channel != "" {
		o.Channel = &channel
	}
}
