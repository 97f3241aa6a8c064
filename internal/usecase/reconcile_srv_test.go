package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"cinema-ticketing/internal/data/entity"
	"cinema-ticketing/internal/gateway"
	"cinema-ticketing/internal/reservation"
	"cinema-ticketing/pkg/lock"
	"cinema-ticketing/pkg/messaging"
	"cinema-ticketing/pkg/utils"

	"go.uber.org/zap"
)

func newTestReconcileService(h *testHarness) ReconcileService {
	return NewReconcileService(
		h.repo,
		gateway.NewVerifier(testSecret),
		h.reservation,
		lock.NewLocalLocker(),
		h.publisher,
		zap.NewNop(),
	)
}

func mustReconcile(t *testing.T, svc ReconcileService, transport entity.Transport, ev *entity.PaymentEvent) *ReconcileResult {
	t.Helper()
	result, err := svc.Reconcile(context.Background(), transport, ev)
	if err != nil {
		t.Fatalf("Reconcile(%s) returned error: %v", transport, err)
	}
	return result
}

func TestReconcileScenarioConfirmsHeldBooking(t *testing.T) {
	h := newHarness([]*entity.Order{pendingOrder("MS123", "REF1")}, heldBooking("MS123", "REF1"))
	svc := newTestReconcileService(h)

	result := mustReconcile(t, svc, entity.TransportNotify, signedEvent("MS123", "T1", gateway.StatusSuccess))

	if result.Action != ActionConfirmed {
		t.Fatalf("action = %q, want %q", result.Action, ActionConfirmed)
	}

	confirm, release := h.reservation.calls()
	if confirm != 1 || release != 0 {
		t.Fatalf("calls = confirm %d release %d, want 1/0", confirm, release)
	}
	req := h.reservation.lastConfirm
	if req.Booking == nil || req.Booking.ReferenceNo != "REF1" || req.TransactionID != "T1" {
		t.Errorf("confirm request = %+v", req)
	}

	order := h.orders.get("MS123")
	if order.PaymentStatus != entity.PaymentStatusPaid || order.Status != entity.OrderStatusConfirmed {
		t.Errorf("order state = %s/%s, want PAID/CONFIRMED", order.PaymentStatus, order.Status)
	}
	if !order.ReservationConfirmed || order.ReservationReleased {
		t.Errorf("flags = confirmed %v released %v", order.ReservationConfirmed, order.ReservationReleased)
	}
	if order.TransactionID == nil || *order.TransactionID != "T1" {
		t.Errorf("transaction id = %v, want T1", order.TransactionID)
	}

	if got := h.events.count(); got != 1 {
		t.Errorf("event log entries = %d, want 1", got)
	}
	if keys := h.publisher.published(); len(keys) != 1 || keys[0] != messaging.RoutingBookingConfirmed {
		t.Errorf("published = %v", keys)
	}
}

func TestReconcileTamperedSignatureIsLoggedOnly(t *testing.T) {
	h := newHarness([]*entity.Order{pendingOrder("MS123", "REF1")}, heldBooking("MS123", "REF1"))
	svc := newTestReconcileService(h)

	ev := signedEvent("MS123", "T1", gateway.StatusSuccess)
	flipped := byte('0')
	if ev.Signature[0] == '0' {
		flipped = '1'
	}
	ev.Signature = string(flipped) + ev.Signature[1:]

	result := mustReconcile(t, svc, entity.TransportNotify, ev)

	if result.Valid || result.Action != ActionRejected {
		t.Fatalf("result = %+v, want rejected", result)
	}
	if confirm, release := h.reservation.calls(); confirm+release != 0 {
		t.Errorf("unexpected remote calls: confirm %d release %d", confirm, release)
	}
	if order := h.orders.get("MS123"); order.PaymentStatus != entity.PaymentStatusPending || order.Version != 1 {
		t.Errorf("order changed: %+v", order)
	}
	if len(h.events.entries) != 1 || h.events.entries[0].IsSuccess {
		t.Errorf("event log = %+v, want one non-success entry", h.events.entries)
	}
}

func TestReconcileDuplicateSuccessConfirmsOnce(t *testing.T) {
	h := newHarness([]*entity.Order{pendingOrder("MS123", "REF1")}, heldBooking("MS123", "REF1"))
	svc := newTestReconcileService(h)

	ev := signedEvent("MS123", "T1", gateway.StatusSuccess)
	first := mustReconcile(t, svc, entity.TransportNotify, ev)
	second := mustReconcile(t, svc, entity.TransportNotify, ev)

	if first.Action != ActionConfirmed || second.Action != ActionAlreadyConfirmed {
		t.Errorf("actions = %q, %q", first.Action, second.Action)
	}
	if confirm, _ := h.reservation.calls(); confirm != 1 {
		t.Errorf("confirm calls = %d, want 1", confirm)
	}
	if got := h.events.count(); got != 2 {
		t.Errorf("event log entries = %d, want 2", got)
	}
}

func TestReconcilePaidIsSticky(t *testing.T) {
	h := newHarness([]*entity.Order{pendingOrder("MS123", "REF1")}, heldBooking("MS123", "REF1"))
	svc := newTestReconcileService(h)

	mustReconcile(t, svc, entity.TransportNotify, signedEvent("MS123", "T1", gateway.StatusSuccess))
	before := h.orders.get("MS123")

	result := mustReconcile(t, svc, entity.TransportCallback, signedEvent("MS123", "T2", "11"))

	if result.Action != ActionIgnored {
		t.Errorf("action = %q, want %q", result.Action, ActionIgnored)
	}
	if _, release := h.reservation.calls(); release != 0 {
		t.Errorf("release calls = %d, want 0", release)
	}
	after := h.orders.get("MS123")
	if after.PaymentStatus != entity.PaymentStatusPaid || after.Version != before.Version {
		t.Errorf("order changed after failure: %+v", after)
	}
}

func TestReconcileCrossChannelConvergence(t *testing.T) {
	cases := map[string][]entity.Transport{
		"return then notify": {entity.TransportReturn, entity.TransportNotify},
		"notify then return": {entity.TransportNotify, entity.TransportReturn},
	}

	for name, transports := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness([]*entity.Order{pendingOrder("MS123", "REF1")}, heldBooking("MS123", "REF1"))
			svc := newTestReconcileService(h)
			ev := signedEvent("MS123", "T1", gateway.StatusSuccess)

			for _, tr := range transports {
				mustReconcile(t, svc, tr, ev)
			}

			order := h.orders.get("MS123")
			if order.PaymentStatus != entity.PaymentStatusPaid || !order.ReservationConfirmed {
				t.Errorf("order = %s confirmed=%v", order.PaymentStatus, order.ReservationConfirmed)
			}
			if confirm, _ := h.reservation.calls(); confirm != 1 {
				t.Errorf("confirm calls = %d, want 1", confirm)
			}
		})
	}
}

func TestReconcileConcurrentDeliveriesConfirmOnce(t *testing.T) {
	h := newHarness([]*entity.Order{pendingOrder("MS123", "REF1")}, heldBooking("MS123", "REF1"))
	svc := newTestReconcileService(h)
	ev := signedEvent("MS123", "T1", gateway.StatusSuccess)

	transports := []entity.Transport{entity.TransportNotify, entity.TransportReturn, entity.TransportCallback}
	var wg sync.WaitGroup
	for i := 0; i < 9; i++ {
		wg.Add(1)
		go func(tr entity.Transport) {
			defer wg.Done()
			if _, err := svc.Reconcile(context.Background(), tr, ev); err != nil {
				t.Errorf("Reconcile: %v", err)
			}
		}(transports[i%len(transports)])
	}
	wg.Wait()

	if confirm, _ := h.reservation.calls(); confirm != 1 {
		t.Errorf("confirm calls = %d, want 1", confirm)
	}
	if got := h.events.count(); got != 9 {
		t.Errorf("event log entries = %d, want 9", got)
	}
}

func TestReconcileUnknownOrder(t *testing.T) {
	h := newHarness(nil)
	svc := newTestReconcileService(h)

	result := mustReconcile(t, svc, entity.TransportNotify, signedEvent("MS999", "T1", gateway.StatusSuccess))

	if result.Action != ActionOrderNotFound {
		t.Errorf("action = %q, want %q", result.Action, ActionOrderNotFound)
	}
	if len(h.orders.orders) != 0 {
		t.Errorf("orders created: %d", len(h.orders.orders))
	}
	if got := h.events.count(); got != 1 {
		t.Errorf("event log entries = %d, want 1", got)
	}
	if confirm, release := h.reservation.calls(); confirm+release != 0 {
		t.Errorf("unexpected remote calls")
	}
}

func TestReconcileBackfillsOrderIDByReference(t *testing.T) {
	h := newHarness([]*entity.Order{pendingOrder("MSOLD", "REF1")}, heldBooking("MSNEW", "REF1"))
	svc := newTestReconcileService(h)

	result := mustReconcile(t, svc, entity.TransportNotify, signedEvent("MSNEW", "T1", gateway.StatusSuccess))

	if result.Action != ActionConfirmed {
		t.Fatalf("action = %q, want %q", result.Action, ActionConfirmed)
	}
	if h.orders.get("MSOLD") != nil {
		t.Error("old order id still present")
	}
	order := h.orders.get("MSNEW")
	if order == nil || order.ReferenceNo != "REF1" || !order.ReservationConfirmed {
		t.Errorf("backfilled order = %+v", order)
	}
}

func TestReconcileConfirmFailureStaysRetryable(t *testing.T) {
	h := newHarness([]*entity.Order{pendingOrder("MS123", "REF1")}, heldBooking("MS123", "REF1"))
	h.reservation.confirmErr = errBookingDown
	svc := newTestReconcileService(h)
	ev := signedEvent("MS123", "T1", gateway.StatusSuccess)

	result := mustReconcile(t, svc, entity.TransportNotify, ev)
	if result.Action != ActionConfirmPending {
		t.Fatalf("action = %q, want %q", result.Action, ActionConfirmPending)
	}
	order := h.orders.get("MS123")
	if order.PaymentStatus != entity.PaymentStatusPaid || order.Status != entity.OrderStatusConfirmed || order.ReservationConfirmed {
		t.Fatalf("order after failed confirm = %+v", order)
	}
	if len(h.publisher.published()) != 0 {
		t.Error("published an outcome for a failed confirm")
	}

	// redelivery retries
	h.reservation.mu.Lock()
	h.reservation.confirmErr = nil
	h.reservation.mu.Unlock()

	result = mustReconcile(t, svc, entity.TransportNotify, ev)
	if result.Action != ActionConfirmed {
		t.Errorf("action on redelivery = %q, want %q", result.Action, ActionConfirmed)
	}
	if confirm, _ := h.reservation.calls(); confirm != 2 {
		t.Errorf("confirm calls = %d, want 2", confirm)
	}
	if order := h.orders.get("MS123"); !order.ReservationConfirmed {
		t.Error("reservation not confirmed after retry")
	}
}

func TestReconcileFailureReleasesOnce(t *testing.T) {
	h := newHarness([]*entity.Order{pendingOrder("MS123", "REF1")}, heldBooking("MS123", "REF1"))
	svc := newTestReconcileService(h)
	ev := signedEvent("MS123", "T1", "11")

	first := mustReconcile(t, svc, entity.TransportNotify, ev)
	second := mustReconcile(t, svc, entity.TransportReturn, ev)

	if first.Action != ActionReleased || second.Action != ActionIgnored {
		t.Errorf("actions = %q, %q", first.Action, second.Action)
	}
	if _, release := h.reservation.calls(); release != 1 {
		t.Errorf("release calls = %d, want 1", release)
	}
	if h.reservation.lastRelease.Reason != "Declined by bank" {
		t.Errorf("release reason = %q", h.reservation.lastRelease.Reason)
	}

	order := h.orders.get("MS123")
	if order.PaymentStatus != entity.PaymentStatusFailed || order.Status != entity.OrderStatusCancelled {
		t.Errorf("order state = %s/%s, want FAILED/CANCELLED", order.PaymentStatus, order.Status)
	}
	if !order.ReservationReleased || order.ReservationConfirmed {
		t.Errorf("flags = confirmed %v released %v", order.ReservationConfirmed, order.ReservationReleased)
	}
	if keys := h.publisher.published(); len(keys) != 1 || keys[0] != messaging.RoutingBookingReleased {
		t.Errorf("published = %v", keys)
	}
}

func TestReconcileAlreadyReleasedCountsAsReleased(t *testing.T) {
	h := newHarness([]*entity.Order{pendingOrder("MS123", "REF1")}, heldBooking("MS123", "REF1"))
	h.reservation.releaseResult = &reservation.Result{StatusCode: 409, AlreadyDone: true}
	svc := newTestReconcileService(h)

	result := mustReconcile(t, svc, entity.TransportNotify, signedEvent("MS123", "T1", "11"))

	if result.Action != ActionReleased {
		t.Errorf("action = %q, want %q", result.Action, ActionReleased)
	}
	if order := h.orders.get("MS123"); !order.ReservationReleased {
		t.Error("reservation not marked released")
	}
}

func TestReconcileReleaseFailureStaysRetryable(t *testing.T) {
	h := newHarness([]*entity.Order{pendingOrder("MS123", "REF1")}, heldBooking("MS123", "REF1"))
	h.reservation.releaseErr = errBookingDown
	svc := newTestReconcileService(h)
	ev := signedEvent("MS123", "T1", "11")

	result := mustReconcile(t, svc, entity.TransportNotify, ev)
	if result.Action != ActionReleasePending {
		t.Fatalf("action = %q, want %q", result.Action, ActionReleasePending)
	}

	order := h.orders.get("MS123")
	if order.PaymentStatus != entity.PaymentStatusFailed {
		t.Errorf("payment status = %s, want FAILED", order.PaymentStatus)
	}
	if order.Status != entity.OrderStatusPending || order.ReservationReleased {
		t.Errorf("booking state changed: status %s released %v", order.Status, order.ReservationReleased)
	}

	mustReconcile(t, svc, entity.TransportNotify, ev)
	if _, release := h.reservation.calls(); release != 2 {
		t.Errorf("release calls = %d, want 2", release)
	}
}

func TestReconcileSuccessAfterFailedPayment(t *testing.T) {
	h := newHarness([]*entity.Order{pendingOrder("MS123", "REF1")}, heldBooking("MS123", "REF1"))
	h.reservation.releaseErr = errBookingDown
	svc := newTestReconcileService(h)

	mustReconcile(t, svc, entity.TransportNotify, signedEvent("MS123", "T1", "11"))
	result := mustReconcile(t, svc, entity.TransportNotify, signedEvent("MS123", "T2", gateway.StatusSuccessPending))

	if result.Action != ActionConfirmed {
		t.Fatalf("action = %q, want %q", result.Action, ActionConfirmed)
	}
	order := h.orders.get("MS123")
	if order.PaymentStatus != entity.PaymentStatusPaid || *order.TransactionID != "T2" {
		t.Errorf("order = %s tx %v", order.PaymentStatus, order.TransactionID)
	}
}

func TestReconcileVersionConflictReappliesWithoutRemoteRetry(t *testing.T) {
	h := newHarness([]*entity.Order{pendingOrder("MS123", "REF1")}, heldBooking("MS123", "REF1"))
	h.orders.conflicts = 1
	svc := newTestReconcileService(h)

	result := mustReconcile(t, svc, entity.TransportNotify, signedEvent("MS123", "T1", gateway.StatusSuccess))

	if result.Action != ActionConfirmed {
		t.Fatalf("action = %q, want %q", result.Action, ActionConfirmed)
	}
	if confirm, _ := h.reservation.calls(); confirm != 1 {
		t.Errorf("confirm calls = %d, want 1", confirm)
	}
	order := h.orders.get("MS123")
	if !order.ReservationConfirmed || order.Version != 3 {
		t.Errorf("order = confirmed %v version %d, want true/3", order.ReservationConfirmed, order.Version)
	}
}

func TestReconcileVersionConflictExhausted(t *testing.T) {
	h := newHarness([]*entity.Order{pendingOrder("MS123", "REF1")}, heldBooking("MS123", "REF1"))
	h.orders.conflicts = maxSaveAttempts
	svc := newTestReconcileService(h)

	_, err := svc.Reconcile(context.Background(), entity.TransportNotify, signedEvent("MS123", "T1", gateway.StatusSuccess))
	if err == nil {
		t.Fatal("expected error after repeated conflicts")
	}
}

func TestReconcileEventLogFailureStopsProcessing(t *testing.T) {
	h := newHarness([]*entity.Order{pendingOrder("MS123", "REF1")}, heldBooking("MS123", "REF1"))
	h.events.appendErr = errors.New("db down")
	svc := newTestReconcileService(h)

	_, err := svc.Reconcile(context.Background(), entity.TransportNotify, signedEvent("MS123", "T1", gateway.StatusSuccess))
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if confirm, _ := h.reservation.calls(); confirm != 0 {
		t.Errorf("confirm calls = %d, want 0", confirm)
	}
	if order := h.orders.get("MS123"); order.PaymentStatus != entity.PaymentStatusPending {
		t.Errorf("order mutated: %s", order.PaymentStatus)
	}
}

func TestReconcileOversizedInvalidEventIsStillLogged(t *testing.T) {
	h := newHarness(nil)
	svc := newTestReconcileService(h)

	longID := strings.Repeat("9", 200)
	ev := signedEvent(longID, "T\x00"+strings.Repeat("x", 100), "00\x0000000000")
	ev.Signature = "not-a-signature"
	ev.Raw["orderid"] = longID
	ev.Raw["note"] = "bad\x00byte \xff"

	ctx := context.WithValue(context.Background(), utils.RequestMetaKey, utils.RequestMeta{
		IPAddress: strings.Repeat("1.", 60),
		UserAgent: "agent\x00",
	})
	result, err := svc.Reconcile(ctx, entity.TransportNotify, ev)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Valid || result.Action != ActionRejected {
		t.Errorf("result = %+v, want rejected", result)
	}

	if got := h.events.count(); got != 1 {
		t.Fatalf("event log entries = %d, want 1", got)
	}
	entry := h.events.entries[0]
	if entry.OrderID != longID[:64] {
		t.Errorf("order id = %q", entry.OrderID)
	}
	if len([]rune(entry.StatusCode)) > 8 || strings.Contains(entry.StatusCode, "\x00") {
		t.Errorf("status = %q", entry.StatusCode)
	}
	if entry.IPAddress == nil || len(*entry.IPAddress) != 64 {
		t.Errorf("ip = %v", entry.IPAddress)
	}
	if !strings.Contains(string(entry.Payload), longID) {
		t.Error("payload lost the full order id")
	}
}

func TestReconcilePublishFailureIsIgnored(t *testing.T) {
	h := newHarness([]*entity.Order{pendingOrder("MS123", "REF1")}, heldBooking("MS123", "REF1"))
	h.publisher.err = errors.New("broker down")
	svc := newTestReconcileService(h)

	result := mustReconcile(t, svc, entity.TransportNotify, signedEvent("MS123", "T1", gateway.StatusSuccess))
	if result.Action != ActionConfirmed {
		t.Errorf("action = %q, want %q", result.Action, ActionConfirmed)
	}
}

func TestReconcilePublishesAfterOrderUnlocked(t *testing.T) {
	h := newHarness([]*entity.Order{pendingOrder("MS123", "REF1")}, heldBooking("MS123", "REF1"))
	locker := lock.NewLocalLocker()
	svc := NewReconcileService(h.repo, gateway.NewVerifier(testSecret), h.reservation, locker, h.publisher, zap.NewNop())

	var lockedDuringPublish bool
	h.publisher.onPublish = func(string) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		unlock, err := locker.Lock(ctx, "MS123")
		if err != nil {
			lockedDuringPublish = true
			return
		}
		unlock()
	}

	result := mustReconcile(t, svc, entity.TransportNotify, signedEvent("MS123", "T1", gateway.StatusSuccess))
	if result.Action != ActionConfirmed {
		t.Fatalf("action = %q, want %q", result.Action, ActionConfirmed)
	}
	if lockedDuringPublish {
		t.Error("order lock still held while publishing")
	}
	if keys := h.publisher.published(); len(keys) != 1 {
		t.Errorf("published = %v", keys)
	}
}

func TestReconcileLogsRequestMeta(t *testing.T) {
	h := newHarness([]*entity.Order{pendingOrder("MS123", "REF1")}, heldBooking("MS123", "REF1"))
	svc := newTestReconcileService(h)

	ctx := context.WithValue(context.Background(), utils.RequestMetaKey, utils.RequestMeta{
		IPAddress: "203.0.113.9",
		UserAgent: "gateway/1.0",
	})
	if _, err := svc.Reconcile(ctx, entity.TransportCallback, signedEvent("MS123", "T1", gateway.StatusSuccess)); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	entry := h.events.entries[0]
	if entry.IPAddress == nil || *entry.IPAddress != "203.0.113.9" {
		t.Errorf("ip = %v", entry.IPAddress)
	}
	if entry.UserAgent == nil || *entry.UserAgent != "gateway/1.0" {
		t.Errorf("user agent = %v", entry.UserAgent)
	}
	if entry.Transport != entity.TransportCallback || !entry.IsSuccess || len(entry.Payload) == 0 {
		t.Errorf("entry = %+v", entry)
	}
}

func TestRetryConfirmation(t *testing.T) {
	paid := pendingOrder("MS123", "REF1")
	paid.MarkPaid("T1", "fpx", false)
	unpaid := pendingOrder("MS200", "REF2")

	h := newHarness([]*entity.Order{paid, unpaid}, heldBooking("MS123", "REF1"))
	svc := newTestReconcileService(h)

	result, err := svc.RetryConfirmation(context.Background(), "MS123")
	if err != nil {
		t.Fatalf("RetryConfirmation: %v", err)
	}
	if result.Action != ActionConfirmed || !result.Order.ReservationConfirmed {
		t.Errorf("result = %+v", result)
	}
	if h.reservation.lastConfirm.TransactionID != "T1" {
		t.Errorf("confirm tx = %q, want T1", h.reservation.lastConfirm.TransactionID)
	}

	result, err = svc.RetryConfirmation(context.Background(), "MS123")
	if err != nil || result.Action != ActionAlreadyConfirmed {
		t.Errorf("second retry = %v, %v", result, err)
	}

	if _, err := svc.RetryConfirmation(context.Background(), "MS200"); !errors.Is(err, ErrNotRetryable) {
		t.Errorf("unpaid order err = %v, want ErrNotRetryable", err)
	}
	if _, err := svc.RetryConfirmation(context.Background(), "MS404"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("unknown order err = %v, want ErrOrderNotFound", err)
	}
}

func TestRetryConfirmationRemoteFailure(t *testing.T) {
	paid := pendingOrder("MS123", "REF1")
	paid.MarkPaid("T1", "fpx", false)

	h := newHarness([]*entity.Order{paid}, heldBooking("MS123", "REF1"))
	h.reservation.confirmErr = errBookingDown
	svc := newTestReconcileService(h)

	_, err := svc.RetryConfirmation(context.Background(), "MS123")
	if !errors.Is(err, ErrReservationFailed) || !errors.Is(err, errBookingDown) {
		t.Fatalf("err = %v, want ErrReservationFailed wrapping the cause", err)
	}
	if order := h.orders.get("MS123"); order.ReservationConfirmed {
		t.Error("order marked confirmed after failed retry")
	}
}
