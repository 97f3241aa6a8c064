package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"cinema-ticketing/internal/data/entity"
	"cinema-ticketing/internal/data/repository"
	"cinema-ticketing/internal/gateway"
	"cinema-ticketing/internal/reservation"
	"cinema-ticketing/pkg/lock"
	"cinema-ticketing/pkg/messaging"
	"cinema-ticketing/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrNotRetryable      = errors.New("order cannot retry confirmation")
	ErrReservationFailed = errors.New("reservation call failed")
)

const (
	maxSaveAttempts = 3
	defaultLockWait = 15 * time.Second
	publishTimeout  = 5 * time.Second
)

// Column widths of payment_event_logs
const (
	eventLogIDWidth     = 64
	eventLogStatusWidth = 8
	eventLogIPWidth     = 64
)

type ReconcileAction string

const (
	ActionRejected         ReconcileAction = "rejected"
	ActionOrderNotFound    ReconcileAction = "order_not_found"
	ActionConfirmed        ReconcileAction = "confirmed"
	ActionConfirmPending   ReconcileAction = "confirm_pending"
	ActionAlreadyConfirmed ReconcileAction = "already_confirmed"
	ActionReleased         ReconcileAction = "released"
	ActionReleasePending   ReconcileAction = "release_pending"
	ActionIgnored          ReconcileAction = "ignored"
)

// ReconcileResult tells the caller what happened to one event so each
// channel can pick its own acknowledgment.
type ReconcileResult struct {
	OrderID        string
	Transport      entity.Transport
	Valid          bool
	PaymentSuccess bool
	Action         ReconcileAction
	Order          *entity.Order

	// routing key to publish once the order lock is released
	outcome string
}

type SignatureVerifier interface {
	Verify(ev *entity.PaymentEvent) bool
}

type ReconcileService interface {
	Reconcile(ctx context.Context, transport entity.Transport, ev *entity.PaymentEvent) (*ReconcileResult, error)
	RetryConfirmation(ctx context.Context, orderID string) (*ReconcileResult, error)
}

type reconcileService struct {
	repo        *repository.Repository
	verifier    SignatureVerifier
	reservation reservation.Client
	locker      lock.Locker
	publisher   messaging.Publisher
	lockWait    time.Duration
	log         *zap.Logger
}

func NewReconcileService(
	repo *repository.Repository,
	verifier SignatureVerifier,
	reservationClient reservation.Client,
	locker lock.Locker,
	publisher messaging.Publisher,
	log *zap.Logger,
) ReconcileService {
	return &reconcileService{
		repo:        repo,
		verifier:    verifier,
		reservation: reservationClient,
		locker:      locker,
		publisher:   publisher,
		lockWait:    defaultLockWait,
		log:         log.With(zap.String("service", "reconcile")),
	}
}

// Reconcile verifies, logs and applies one gateway event. The only errors
// returned are persistence or locking failures; every other outcome is
// reported through ReconcileResult.Action.
func (s *reconcileService) Reconcile(ctx context.Context, transport entity.Transport, ev *entity.PaymentEvent) (*ReconcileResult, error) {
	// Gateway disconnects must not abort a confirm half way
	ctx = context.WithoutCancel(ctx)

	result := &ReconcileResult{
		OrderID:   ev.OrderID,
		Transport: transport,
		Valid:     s.verifier.Verify(ev),
	}
	result.PaymentSuccess = result.Valid && gateway.IsSuccessStatus(ev.Status)

	// 1. Audit dulu, sebelum order disentuh
	if err := s.appendEventLog(ctx, transport, ev, result); err != nil {
		return result, err
	}

	if !result.Valid {
		s.log.Warn("Payment event rejected - invalid signature",
			zap.String("order_id", ev.OrderID),
			zap.String("transaction_id", ev.TransactionID),
			zap.String("transport", string(transport)),
		)
		result.Action = ActionRejected
		return result, nil
	}

	if err := s.applyLocked(ctx, transport, ev, result); err != nil {
		return result, err
	}

	// Broker lambat tidak boleh menahan lock order
	s.publishOutcome(ctx, result)
	return result, nil
}

// applyLocked runs lookup and state transition while holding the order lock.
func (s *reconcileService) applyLocked(ctx context.Context, transport entity.Transport, ev *entity.PaymentEvent, result *ReconcileResult) error {
	// 2. Serialize per order
	unlock, err := s.lock(ctx, ev.OrderID)
	if err != nil {
		return err
	}
	defer unlock()

	// 3. Lookup order
	order, held, err := s.findOrder(ctx, ev.OrderID)
	if err != nil {
		return err
	}
	if order == nil {
		s.log.Warn("Payment event for unknown order",
			zap.String("order_id", ev.OrderID),
			zap.String("transaction_id", ev.TransactionID),
			zap.String("transport", string(transport)),
		)
		result.Action = ActionOrderNotFound
		return nil
	}

	// 4. Decide
	if result.PaymentSuccess {
		err = s.applySuccess(ctx, ev, order, held, result)
	} else {
		err = s.applyFailure(ctx, ev, order, held, result)
	}
	if err != nil {
		return err
	}

	s.log.Info("Payment event reconciled",
		zap.String("order_id", ev.OrderID),
		zap.String("transaction_id", ev.TransactionID),
		zap.String("transport", string(transport)),
		zap.String("status_code", ev.Status),
		zap.String("action", string(result.Action)),
	)

	return nil
}

func (s *reconcileService) applySuccess(ctx context.Context, ev *entity.PaymentEvent, order *entity.Order, held *entity.HeldBooking, result *ReconcileResult) error {
	result.Order = order

	if order.ReservationConfirmed {
		result.Action = ActionAlreadyConfirmed
		return nil
	}

	confirmed := true
	_, err := s.reservation.Confirm(ctx, reservation.ConfirmRequest{
		OrderID:       ev.OrderID,
		TransactionID: ev.TransactionID,
		Channel:       ev.Channel,
		AuthCode:      ev.AuthCode,
		Booking:       held,
	})
	if err != nil {
		// Payment is still recorded; the flag stays false for a later retry
		confirmed = false
		s.log.Error("Reservation confirm failed, order kept retryable",
			zap.Error(err),
			zap.String("order_id", ev.OrderID),
			zap.String("reference_no", order.ReferenceNo),
		)
	}

	order, err = s.saveOrder(ctx, order, func(o *entity.Order) bool {
		if o.ReservationConfirmed {
			return false
		}
		o.MarkPaid(ev.TransactionID, ev.Channel, confirmed)
		return true
	})
	result.Order = order
	if err != nil {
		return err
	}

	if !confirmed {
		result.Action = ActionConfirmPending
		return nil
	}

	result.Action = ActionConfirmed
	result.outcome = messaging.RoutingBookingConfirmed
	return nil
}

func (s *reconcileService) applyFailure(ctx context.Context, ev *entity.PaymentEvent, order *entity.Order, held *entity.HeldBooking, result *ReconcileResult) error {
	result.Order = order

	// PAID menang, failure yang datang belakangan tidak boleh cancel booking
	if order.ReservationReleased || order.IsPaid() {
		result.Action = ActionIgnored
		return nil
	}

	reason := ev.ErrorDesc
	if reason == "" {
		reason = fmt.Sprintf("Payment failed with status %s", ev.Status)
	}

	released := true
	res, err := s.reservation.Release(ctx, reservation.ReleaseRequest{
		OrderID:       ev.OrderID,
		TransactionID: ev.TransactionID,
		Channel:       ev.Channel,
		Reason:        reason,
		Booking:       held,
	})
	if err != nil {
		released = false
		s.log.Error("Reservation release failed, order kept retryable",
			zap.Error(err),
			zap.String("order_id", ev.OrderID),
			zap.String("reference_no", order.ReferenceNo),
		)
	} else if res != nil && res.AlreadyDone {
		s.log.Info("Reservation was already released", zap.String("order_id", ev.OrderID))
	}

	changed := false
	order, err = s.saveOrder(ctx, order, func(o *entity.Order) bool {
		if released {
			changed = o.MarkReleased(ev.TransactionID, ev.Channel)
		} else {
			changed = o.MarkPaymentFailed(ev.TransactionID, ev.Channel)
		}
		return changed
	})
	result.Order = order
	if err != nil {
		return err
	}

	switch {
	case !changed:
		if released {
			s.log.Error("Order became PAID while its booking was being released",
				zap.String("order_id", ev.OrderID),
				zap.String("reference_no", order.ReferenceNo),
			)
		}
		result.Action = ActionIgnored
	case released:
		result.Action = ActionReleased
		result.outcome = messaging.RoutingBookingReleased
	default:
		result.Action = ActionReleasePending
	}

	return nil
}

// RetryConfirmation re-runs the confirm call for a PAID order whose
// reservation was never confirmed.
func (s *reconcileService) RetryConfirmation(ctx context.Context, orderID string) (*ReconcileResult, error) {
	ctx = context.WithoutCancel(ctx)
	result := &ReconcileResult{OrderID: orderID, Valid: true, PaymentSuccess: true}

	if err := s.retryLocked(ctx, orderID, result); err != nil {
		return result, err
	}

	s.publishOutcome(ctx, result)
	return result, nil
}

func (s *reconcileService) retryLocked(ctx context.Context, orderID string, result *ReconcileResult) error {
	unlock, err := s.lock(ctx, orderID)
	if err != nil {
		return err
	}
	defer unlock()

	order, err := s.repo.Order.FindByOrderID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("retry confirmation: %w", err)
	}
	if order == nil {
		return fmt.Errorf("order %s: %w", orderID, ErrOrderNotFound)
	}
	result.Order = order

	if order.ReservationConfirmed {
		result.Action = ActionAlreadyConfirmed
		return nil
	}
	if !order.IsPaid() {
		return fmt.Errorf("order %s is %s: %w", orderID, order.PaymentStatus, ErrNotRetryable)
	}

	held, err := s.repo.HeldBooking.FindByOrderID(ctx, orderID)
	if err != nil {
		s.log.Warn("Held booking lookup failed", zap.Error(err), zap.String("order_id", orderID))
	}

	var transactionID, channel string
	if order.TransactionID != nil {
		transactionID = *order.TransactionID
	}
	if order.Channel != nil {
		channel = *order.Channel
	}

	if _, err := s.reservation.Confirm(ctx, reservation.ConfirmRequest{
		OrderID:       orderID,
		TransactionID: transactionID,
		Channel:       channel,
		Booking:       held,
	}); err != nil {
		result.Action = ActionConfirmPending
		return fmt.Errorf("retry confirmation for order %s: %w: %w", orderID, ErrReservationFailed, err)
	}

	order, err = s.saveOrder(ctx, order, func(o *entity.Order) bool {
		if o.ReservationConfirmed {
			return false
		}
		o.MarkPaid(transactionID, channel, true)
		return true
	})
	result.Order = order
	if err != nil {
		return err
	}

	s.log.Info("Reservation confirmation retried",
		zap.String("order_id", orderID),
		zap.Bool("admin", utils.IsAdminContext(ctx)),
	)

	result.Action = ActionConfirmed
	result.outcome = messaging.RoutingBookingConfirmed
	return nil
}

// ==================== HELPER METHODS ====================

func (s *reconcileService) lock(ctx context.Context, orderID string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	unlock, err := s.locker.Lock(lockCtx, orderID)
	if err != nil {
		s.log.Error("Failed to lock order", zap.Error(err), zap.String("order_id", orderID))
		return nil, fmt.Errorf("lock order %s: %w", orderID, err)
	}
	return unlock, nil
}

// findOrder looks the order up by gateway order id, then by the booking
// reference held for that id. A reference match gets the new id backfilled.
func (s *reconcileService) findOrder(ctx context.Context, orderID string) (*entity.Order, *entity.HeldBooking, error) {
	held, err := s.repo.HeldBooking.FindByOrderID(ctx, orderID)
	if err != nil {
		s.log.Warn("Held booking lookup failed", zap.Error(err), zap.String("order_id", orderID))
		held = nil
	}

	order, err := s.repo.Order.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, held, fmt.Errorf("find order %s: %w", orderID, err)
	}
	if order != nil {
		return order, held, nil
	}

	if held == nil || held.ReferenceNo == "" {
		return nil, held, nil
	}

	order, err = s.repo.Order.FindLatestByReference(ctx, held.ReferenceNo)
	if err != nil {
		return nil, held, fmt.Errorf("find order by reference %s: %w", held.ReferenceNo, err)
	}
	if order == nil {
		return nil, held, nil
	}

	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		err = s.repo.Order.UpdateOrderID(ctx, order, orderID)
		if !errors.Is(err, repository.ErrVersionConflict) {
			break
		}
		fresh, findErr := s.repo.Order.FindByID(ctx, order.ID)
		if findErr != nil {
			return nil, held, findErr
		}
		if fresh == nil {
			return nil, held, nil
		}
		order = fresh
	}
	if err != nil {
		return nil, held, err
	}

	return order, held, nil
}

// saveOrder applies mutate and writes it conditionally on the version read.
// On a conflict the order is re-read and mutate applied again; the remote
// call that led here is not repeated.
func (s *reconcileService) saveOrder(ctx context.Context, order *entity.Order, mutate func(*entity.Order) bool) (*entity.Order, error) {
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		if !mutate(order) {
			return order, nil
		}

		err := s.repo.Order.UpdateReconciliation(ctx, order)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return order, err
		}

		fresh, err := s.repo.Order.FindByID(ctx, order.ID)
		if err != nil {
			return order, err
		}
		if fresh == nil {
			return order, fmt.Errorf("order %s: %w", order.OrderID, ErrOrderNotFound)
		}
		order = fresh
	}

	return order, fmt.Errorf("save order %s after %d attempts: %w", order.OrderID, maxSaveAttempts, repository.ErrVersionConflict)
}

func (s *reconcileService) appendEventLog(ctx context.Context, transport entity.Transport, ev *entity.PaymentEvent, result *ReconcileResult) error {
	// Payload tetap utuh kecuali NUL, jsonb menolak \u0000
	payload, err := json.Marshal(storableEvent(ev))
	if err != nil {
		return fmt.Errorf("marshal payment event %s: %w", ev.OrderID, err)
	}

	entry := &entity.PaymentEventLog{
		BaseSimple: entity.BaseSimple{
			ID:        uuid.New(),
			CreatedAt: time.Now(),
		},
		OrderID:       logColumn(ev.OrderID, eventLogIDWidth),
		TransactionID: logColumn(ev.TransactionID, eventLogIDWidth),
		StatusCode:    logColumn(ev.Status, eventLogStatusWidth),
		Transport:     transport,
		IsSuccess:     result.PaymentSuccess,
		Remark:        logColumn(eventRemark(ev, result), 0),
		Payload:       payload,
	}

	if meta, ok := utils.GetRequestMeta(ctx); ok {
		if ip := logColumn(meta.IPAddress, eventLogIPWidth); ip != "" {
			entry.IPAddress = &ip
		}
		if ua := logColumn(meta.UserAgent, 0); ua != "" {
			entry.UserAgent = &ua
		}
	}

	if err := s.repo.EventLog.Append(ctx, entry); err != nil {
		s.log.Error("Failed to append payment event log",
			zap.Error(err),
			zap.String("order_id", ev.OrderID),
			zap.String("transport", string(transport)),
		)
		return fmt.Errorf("append event log: %w", err)
	}

	return nil
}

// logColumn makes caller supplied text storable. NUL and invalid UTF-8 are
// replaced, then the value is cut to width characters (0 means unbounded).
func logColumn(s string, width int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	s = strings.ReplaceAll(s, "\x00", "\uFFFD")
	if width > 0 && utf8.RuneCountInString(s) > width {
		s = string([]rune(s)[:width])
	}
	return s
}

// storableEvent copies ev with every string made storable, lengths untouched.
func storableEvent(ev *entity.PaymentEvent) *entity.PaymentEvent {
	c := *ev
	for _, f := range []*string{
		&c.OrderID, &c.TransactionID, &c.Status, &c.Channel, &c.AuthCode,
		&c.Amount, &c.Currency, &c.PayDate, &c.Domain, &c.Signature, &c.ErrorDesc,
	} {
		*f = logColumn(*f, 0)
	}
	if ev.Raw != nil {
		c.Raw = make(map[string]string, len(ev.Raw))
		for k, v := range ev.Raw {
			c.Raw[logColumn(k, 0)] = logColumn(v, 0)
		}
	}
	return &c
}

func eventRemark(ev *entity.PaymentEvent, result *ReconcileResult) string {
	switch {
	case !result.Valid:
		return "Invalid signature"
	case result.PaymentSuccess:
		return fmt.Sprintf("Payment success (status %s)", ev.Status)
	case ev.ErrorDesc != "":
		return fmt.Sprintf("Payment failed (status %s): %s", ev.Status, ev.ErrorDesc)
	default:
		return fmt.Sprintf("Payment failed (status %s)", ev.Status)
	}
}

type orderOutcomeMessage struct {
	OrderID       string               `json:"orderId"`
	ReferenceNo   string               `json:"referenceNo"`
	TransactionID string               `json:"transactionId,omitempty"`
	PaymentStatus entity.PaymentStatus `json:"paymentStatus"`
	Status        entity.OrderStatus   `json:"status"`
	Transport     entity.Transport     `json:"transport,omitempty"`
	OccurredAt    time.Time            `json:"occurredAt"`
}

// publishOutcome is best effort; the order record is already the source of
// truth. Must run after the order lock is released.
func (s *reconcileService) publishOutcome(ctx context.Context, result *ReconcileResult) {
	if result.outcome == "" || result.Order == nil {
		return
	}
	routingKey, order, transport := result.outcome, result.Order, result.Transport

	msg := orderOutcomeMessage{
		OrderID:       order.OrderID,
		ReferenceNo:   order.ReferenceNo,
		PaymentStatus: order.PaymentStatus,
		Status:        order.Status,
		Transport:     transport,
		OccurredAt:    time.Now().UTC(),
	}
	if order.TransactionID != nil {
		msg.TransactionID = *order.TransactionID
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(ctx, routingKey, msg); err != nil {
		s.log.Warn("Failed to publish order outcome",
			zap.Error(err),
			zap.String("order_id", order.OrderID),
			zap.String("routing_key", routingKey),
		)
	}
}
