package reservation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Structured codes the booking API may return for an idempotent repeat.
const (
	CodeAlreadyReleased  = "ALREADY_RELEASED"
	CodeAlreadyCancelled = "ALREADY_CANCELLED"
)

// APIError is a non-2xx answer from the booking API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("booking api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("booking api returned status %d: %s", e.StatusCode, e.Message)
}

// IsAlreadyReleased prefers the structured code and falls back to matching
// the message, since older API versions only return free text.
func IsAlreadyReleased(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	switch strings.ToUpper(apiErr.Code) {
	case CodeAlreadyReleased, CodeAlreadyCancelled:
		return true
	}

	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "already released") ||
		strings.Contains(msg, "already cancelled") ||
		strings.Contains(msg, "already canceled")
}

type apiResponse struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (r apiResponse) message() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Error
}
