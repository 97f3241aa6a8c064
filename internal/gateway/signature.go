// Package gateway holds the payment gateway wire rules: callback signature
// verification, payment link signing, and parsing callbacks into events.
package gateway

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"cinema-ticketing/internal/data/entity"
)

// Status codes the gateway reports for a captured payment.
const (
	StatusSuccess        = "00"
	StatusSuccessPending = "22"
)

func IsSuccessStatus(status string) bool {
	return status == StatusSuccess || status == StatusSuccessPending
}

// Verifier checks callback signatures with the merchant secret key.
type Verifier struct {
	secretKey string
}

func NewVerifier(secretKey string) *Verifier {
	return &Verifier{secretKey: secretKey}
}

// Verify recomputes the two-stage digest of the event and compares it with the
// supplied skey. It never panics; missing required fields make the event invalid.
func (v *Verifier) Verify(ev *entity.PaymentEvent) bool {
	if ev == nil || v.secretKey == "" || !hasRequiredFields(ev) {
		return false
	}

	expected := Signature(ev, v.secretKey)
	supplied := strings.ToLower(strings.TrimSpace(ev.Signature))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(supplied)) == 1
}

// Signature computes skey for the event:
//
//	key0 = md5(tranID + orderid + status + domain + amount + currency)
//	skey = md5(paydate + domain + key0 + appcode + secretKey)
//
// Inputs are the values exactly as received; the trimmed fields are only
// used when the event carries no raw copy of them.
func Signature(ev *entity.PaymentEvent, secretKey string) string {
	domain := signedValue(ev, FieldDomain, ev.Domain)
	key0 := md5Hex(
		signedValue(ev, FieldTransactionID, ev.TransactionID) +
			signedValue(ev, FieldOrderID, ev.OrderID) +
			signedValue(ev, FieldStatus, ev.Status) +
			domain +
			signedValue(ev, FieldAmount, ev.Amount) +
			signedValue(ev, FieldCurrency, ev.Currency),
	)
	return md5Hex(signedValue(ev, FieldPayDate, ev.PayDate) + domain + key0 + signedValue(ev, FieldAuthCode, ev.AuthCode) + secretKey)
}

func signedValue(ev *entity.PaymentEvent, field, fallback string) string {
	if v, ok := ev.Raw[field]; ok {
		return v
	}
	return fallback
}

// PaymentVCode signs the outbound payment link so the gateway can reject
// tampered amounts.
func PaymentVCode(amount, merchantID, orderID, verifyKey string) string {
	return md5Hex(amount + merchantID + orderID + verifyKey)
}

// appcode is empty on declined payments, so only its presence is required.
func hasRequiredFields(ev *entity.PaymentEvent) bool {
	for _, f := range []string{
		ev.TransactionID, ev.OrderID, ev.Status, ev.Domain,
		ev.Amount, ev.Currency, ev.PayDate, ev.Signature,
	} {
		if strings.TrimSpace(f) == "" {
			return false
		}
	}
	return ev.AuthCode != "" || ev.HasField(FieldAuthCode)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
