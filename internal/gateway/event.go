package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"cinema-ticketing/internal/data/entity"
)

// Callback field names as sent by the gateway.
const (
	FieldTransactionID = "tranID"
	FieldOrderID       = "orderid"
	FieldStatus        = "status"
	FieldDomain        = "domain"
	FieldAmount        = "amount"
	FieldCurrency      = "currency"
	FieldPayDate       = "paydate"
	FieldAuthCode      = "appcode"
	FieldSignature     = "skey"
	FieldChannel       = "channel"
	FieldErrorDesc     = "error_desc"
)

const maxBodyBytes = 64 << 10

var ErrEmptyEvent = errors.New("payment event has no fields")

// ParseEvent reads query parameters, form fields or a JSON body into a
// canonical event. Form values take precedence over the query string.
func ParseEvent(r *http.Request) (*entity.PaymentEvent, error) {
	raw := make(map[string]string)

	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			raw[k] = v[0]
		}
	}

	if r.Body != nil && r.Method != http.MethodGet {
		mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

		switch mediaType {
		case "application/json":
			if err := decodeJSON(r.Body, raw); err != nil {
				return nil, err
			}
		default:
			r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
			if err := r.ParseForm(); err != nil {
				return nil, fmt.Errorf("parse callback form: %w", err)
			}
			for k, v := range r.PostForm {
				if len(v) > 0 {
					raw[k] = v[0]
				}
			}
		}
	}

	if len(raw) == 0 {
		return nil, ErrEmptyEvent
	}

	return EventFromFields(raw), nil
}

// EventFromFields maps raw transport fields onto the canonical event.
func EventFromFields(raw map[string]string) *entity.PaymentEvent {
	get := func(name string) string {
		return strings.TrimSpace(raw[name])
	}

	return &entity.PaymentEvent{
		OrderID:       get(FieldOrderID),
		TransactionID: get(FieldTransactionID),
		Status:        get(FieldStatus),
		Channel:       get(FieldChannel),
		AuthCode:      get(FieldAuthCode),
		Amount:        get(FieldAmount),
		Currency:      get(FieldCurrency),
		PayDate:       get(FieldPayDate),
		Domain:        get(FieldDomain),
		Signature:     get(FieldSignature),
		ErrorDesc:     get(FieldErrorDesc),
		Raw:           raw,
	}
}

func decodeJSON(body io.Reader, raw map[string]string) error {
	var fields map[string]any
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return fmt.Errorf("decode callback json: %w", err)
	}

	for k, v := range fields {
		switch val := v.(type) {
		case nil:
			raw[k] = ""
		case string:
			raw[k] = val
		case json.Number:
			raw[k] = val.String()
		case bool:
			raw[k] = strconv.FormatBool(val)
		default:
			b, _ := json.Marshal(val)
			raw[k] = string(b)
		}
	}
	return nil
}
