// Package reservation talks to the external booking API that confirms or
// releases seat holds.
package reservation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cinema-ticketing/internal/data/entity"
	"cinema-ticketing/pkg/utils"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrMissingCoordinates = errors.New("missing booking coordinates")

// Client confirms and releases held bookings. Neither call retries; redelivery
// of gateway events is the retry mechanism.
type Client interface {
	Confirm(ctx context.Context, req ConfirmRequest) (*Result, error)
	Release(ctx context.Context, req ReleaseRequest) (*Result, error)
}

type ConfirmRequest struct {
	OrderID       string
	TransactionID string
	Channel       string
	AuthCode      string
	Booking       *entity.HeldBooking
}

type ReleaseRequest struct {
	OrderID       string
	TransactionID string
	Channel       string
	Reason        string
	Booking       *entity.HeldBooking
}

// Result is a successful call. AlreadyDone is set when the booking API
// reported the operation had already been applied.
type Result struct {
	StatusCode  int             `json:"statusCode"`
	Data        json.RawMessage `json:"data,omitempty"`
	AlreadyDone bool            `json:"alreadyDone"`
}

type httpClient struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewClient(config utils.BookingAPIConfig, log *zap.Logger) Client {
	return NewClientWithHTTP(config, &http.Client{}, log)
}

func NewClientWithHTTP(config utils.BookingAPIConfig, hc *http.Client, log *zap.Logger) Client {
	limit := rate.Inf
	if config.RPS > 0 {
		limit = rate.Limit(config.RPS)
	}
	burst := config.Burst
	if burst < 1 {
		burst = 1
	}

	return &httpClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		http:    hc,
		timeout: config.Timeout,
		limiter: rate.NewLimiter(limit, burst),
		log:     log.With(zap.String("client", "reservation")),
	}
}

func (c *httpClient) Confirm(ctx context.Context, req ConfirmRequest) (*Result, error) {
	if !req.Booking.HasCoordinates() {
		return nil, fmt.Errorf("confirm booking for order %s: %w", req.OrderID, ErrMissingCoordinates)
	}
	b := req.Booking

	membershipID := b.MembershipID
	if membershipID == "" {
		membershipID = "0"
	}

	endpoint := c.baseURL + "/Booking/ReserveBooking/" + joinPath(b.CinemaID, b.ShowID, b.ReferenceNo, membershipID) +
		"/TransactionNo/CardType/AuthorizeId/Remarks"
	query := url.Values{
		"TransactionNo": {req.TransactionID},
		"CardType":      {req.Channel},
		"AuthorizeId":   {req.AuthCode},
		"Remarks":       {"Order " + req.OrderID},
	}

	result, err := c.post(ctx, endpoint, query, b.Token)
	if err != nil {
		c.log.Error("Confirm booking failed",
			zap.Error(err),
			zap.String("order_id", req.OrderID),
			zap.String("reference_no", b.ReferenceNo),
		)
		return nil, fmt.Errorf("confirm booking %s: %w", b.ReferenceNo, err)
	}

	c.log.Info("Booking confirmed",
		zap.String("order_id", req.OrderID),
		zap.String("reference_no", b.ReferenceNo),
		zap.String("transaction_id", req.TransactionID),
	)
	return result, nil
}

func (c *httpClient) Release(ctx context.Context, req ReleaseRequest) (*Result, error) {
	if !req.Booking.HasCoordinates() {
		return nil, fmt.Errorf("release booking for order %s: %w", req.OrderID, ErrMissingCoordinates)
	}
	b := req.Booking

	reason := req.Reason
	if reason == "" {
		reason = "Payment failed for order " + req.OrderID
	}

	endpoint := c.baseURL + "/Booking/CancelBooking/" + joinPath(b.CinemaID, b.ShowID, b.ReferenceNo) +
		"/TransactionNo/CardType/Remarks"
	query := url.Values{
		"TransactionNo": {req.TransactionID},
		"CardType":      {req.Channel},
		"Remarks":       {reason},
	}

	result, err := c.post(ctx, endpoint, query, b.Token)
	if err != nil {
		if IsAlreadyReleased(err) {
			c.log.Info("Booking already released",
				zap.String("order_id", req.OrderID),
				zap.String("reference_no", b.ReferenceNo),
			)
			var apiErr *APIError
			errors.As(err, &apiErr)
			return &Result{StatusCode: apiErr.StatusCode, AlreadyDone: true}, nil
		}

		c.log.Error("Release booking failed",
			zap.Error(err),
			zap.String("order_id", req.OrderID),
			zap.String("reference_no", b.ReferenceNo),
		)
		return nil, fmt.Errorf("release booking %s: %w", b.ReferenceNo, err)
	}

	c.log.Info("Booking released",
		zap.String("order_id", req.OrderID),
		zap.String("reference_no", b.ReferenceNo),
	)
	return result, nil
}

func (c *httpClient) post(ctx context.Context, endpoint string, query url.Values, token string) (*Result, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call booking api: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read booking api response: %w", err)
	}

	var payload apiResponse
	if len(body) > 0 {
		// body non-JSON tetap diterima, pesan diambil dari raw text
		if err := json.Unmarshal(body, &payload); err != nil {
			payload.Message = strings.TrimSpace(string(body))
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Code:       payload.Code,
			Message:    payload.message(),
		}
	}

	data := payload.Data
	if len(data) == 0 && json.Valid(body) {
		data = body
	}
	return &Result{StatusCode: resp.StatusCode, Data: data}, nil
}

func joinPath(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return strings.Join(escaped, "/")
}
