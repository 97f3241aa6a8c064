package response

type CheckoutResponse struct {
	OrderID    string `json:"orderId"`
	PaymentURL string `json:"paymentUrl"`
	Reused     bool   `json:"reused"`
}
