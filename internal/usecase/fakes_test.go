package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"cinema-ticketing/internal/data/entity"
	"cinema-ticketing/internal/data/repository"
	"cinema-ticketing/internal/gateway"
	"cinema-ticketing/internal/reservation"

	"github.com/google/uuid"
)

const testSecret = "s3cr3t"

// ==================== ORDER STORE ====================

type fakeOrderRepo struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]*entity.Order
	conflicts int
	updates   int
	updateErr error
}

func newFakeOrderRepo(orders ...*entity.Order) *fakeOrderRepo {
	r := &fakeOrderRepo{orders: make(map[uuid.UUID]*entity.Order)}
	for _, o := range orders {
		r.orders[o.ID] = cloneOrder(o)
	}
	return r
}

func cloneOrder(o *entity.Order) *entity.Order {
	c := *o
	return &c
}

func (r *fakeOrderRepo) Create(ctx context.Context, order *entity.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *fakeOrderRepo) FindByID(ctx context.Context, id uuid.UUID) (*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[id]; ok {
		return cloneOrder(o), nil
	}
	return nil, nil
}

func (r *fakeOrderRepo) FindByOrderID(ctx context.Context, orderID string) (*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.OrderID == orderID {
			return cloneOrder(o), nil
		}
	}
	return nil, nil
}

func (r *fakeOrderRepo) latest(referenceNo string, pendingOnly bool) *entity.Order {
	var found *entity.Order
	for _, o := range r.orders {
		if o.ReferenceNo != referenceNo {
			continue
		}
		if pendingOnly && (o.PaymentStatus != entity.PaymentStatusPending || o.Status != entity.OrderStatusPending) {
			continue
		}
		if found == nil || o.CreatedAt.After(found.CreatedAt) {
			found = o
		}
	}
	if found == nil {
		return nil
	}
	return cloneOrder(found)
}

func (r *fakeOrderRepo) FindLatestByReference(ctx context.Context, referenceNo string) (*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest(referenceNo, false), nil
}

func (r *fakeOrderRepo) FindPendingByReference(ctx context.Context, referenceNo string) (*entity.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest(referenceNo, true), nil
}

// UpdateReconciliation mimics the conditional UPDATE. A pending conflict
// simulates another writer bumping the row first.
func (r *fakeOrderRepo) UpdateReconciliation(ctx context.Context, order *entity.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.updateErr != nil {
		return r.updateErr
	}

	stored, ok := r.orders[order.ID]
	if !ok {
		return repository.ErrVersionConflict
	}
	if r.conflicts > 0 {
		r.conflicts--
		stored.Version++
	}
	if stored.Version != order.Version {
		return repository.ErrVersionConflict
	}

	order.Version++
	order.UpdatedAt = time.Now()
	r.orders[order.ID] = cloneOrder(order)
	r.updates++
	return nil
}

func (r *fakeOrderRepo) UpdateOrderID(ctx context.Context, order *entity.Order, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	if !ok || stored.Version != order.Version {
		return repository.ErrVersionConflict
	}
	order.Version++
	order.OrderID = orderID
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *fakeOrderRepo) get(orderID string) *entity.Order {
	o, _ := r.FindByOrderID(context.Background(), orderID)
	return o
}

// ==================== EVENT LOG ====================

type fakeEventLog struct {
	mu        sync.Mutex
	entries   []*entity.PaymentEventLog
	appendErr error
}

func (l *fakeEventLog) Append(ctx context.Context, entry *entity.PaymentEventLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.appendErr != nil {
		return l.appendErr
	}
	if err := checkEventLogColumns(entry); err != nil {
		return err
	}
	l.entries = append(l.entries, entry)
	return nil
}

// checkEventLogColumns rejects what postgres would: values wider than the
// VARCHAR columns, NUL bytes and invalid UTF-8.
type eventLogColumn struct {
	name  string
	value string
	width int
}

func checkEventLogColumns(entry *entity.PaymentEventLog) error {
	columns := []eventLogColumn{
		{"order_id", entry.OrderID, 64},
		{"transaction_id", entry.TransactionID, 64},
		{"status_code", entry.StatusCode, 8},
		{"remark", entry.Remark, 0},
		{"payload", string(entry.Payload), 0},
	}
	if entry.IPAddress != nil {
		columns = append(columns, eventLogColumn{"ip_address", *entry.IPAddress, 64})
	}
	if entry.UserAgent != nil {
		columns = append(columns, eventLogColumn{"user_agent", *entry.UserAgent, 0})
	}

	for _, c := range columns {
		if c.width > 0 && utf8.RuneCountInString(c.value) > c.width {
			return fmt.Errorf("value too long for type character varying(%d) in %s", c.width, c.name)
		}
		if strings.Contains(c.value, "\x00") || strings.Contains(c.value, `\u0000`) || !utf8.ValidString(c.value) {
			return fmt.Errorf("invalid byte sequence in %s", c.name)
		}
	}
	return nil
}

func (l *fakeEventLog) FindByOrderID(ctx context.Context, orderID string, limit, offset int) ([]*entity.PaymentEventLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var matched []*entity.PaymentEventLog
	for _, e := range l.entries {
		if e.OrderID == orderID {
			matched = append(matched, e)
		}
	}
	if offset >= len(matched) {
		return nil, nil
	}
	end := min(offset+limit, len(matched))
	return matched[offset:end], nil
}

func (l *fakeEventLog) CountByOrderID(ctx context.Context, orderID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for _, e := range l.entries {
		if e.OrderID == orderID {
			n++
		}
	}
	return n, nil
}

func (l *fakeEventLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// ==================== HELD BOOKINGS ====================

type fakeHeldRepo struct {
	mu   sync.Mutex
	held map[string]*entity.HeldBooking
}

func newFakeHeldRepo(held ...*entity.HeldBooking) *fakeHeldRepo {
	r := &fakeHeldRepo{held: make(map[string]*entity.HeldBooking)}
	for _, h := range held {
		r.held[h.OrderID] = h
	}
	return r
}

func (r *fakeHeldRepo) Save(ctx context.Context, held *entity.HeldBooking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held[held.OrderID] = held
	return nil
}

func (r *fakeHeldRepo) FindByOrderID(ctx context.Context, orderID string) (*entity.HeldBooking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.held[orderID], nil
}

func (r *fakeHeldRepo) PurgeExpired(ctx context.Context, retention time.Duration) (int, error) {
	return 0, nil
}

// ==================== RESERVATION API ====================

type fakeReservation struct {
	mu            sync.Mutex
	confirmCalls  int
	releaseCalls  int
	confirmErr    error
	releaseErr    error
	releaseResult *reservation.Result
	lastConfirm   reservation.ConfirmRequest
	lastRelease   reservation.ReleaseRequest
}

func (f *fakeReservation) Confirm(ctx context.Context, req reservation.ConfirmRequest) (*reservation.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmCalls++
	f.lastConfirm = req
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return &reservation.Result{StatusCode: 200}, nil
}

func (f *fakeReservation) Release(ctx context.Context, req reservation.ReleaseRequest) (*reservation.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseCalls++
	f.lastRelease = req
	if f.releaseErr != nil {
		return nil, f.releaseErr
	}
	if f.releaseResult != nil {
		return f.releaseResult, nil
	}
	return &reservation.Result{StatusCode: 200}, nil
}

func (f *fakeReservation) calls() (confirm, release int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confirmCalls, f.releaseCalls
}

// ==================== PUBLISHER ====================

type fakePublisher struct {
	mu        sync.Mutex
	keys      []string
	err       error
	onPublish func(routingKey string)
}

func (p *fakePublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	if p.onPublish != nil {
		p.onPublish(routingKey)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// ==================== FIXTURES ====================

func pendingOrder(orderID, referenceNo string) *entity.Order {
	now := time.Now()
	return &entity.Order{
		BaseNoDelete: entity.BaseNoDelete{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		OrderID:       orderID,
		ReferenceNo:   referenceNo,
		Amount:        25.50,
		Currency:      "MYR",
		PaymentStatus: entity.PaymentStatusPending,
		Status:        entity.OrderStatusPending,
		Version:       1,
	}
}

func heldBooking(orderID, referenceNo string) *entity.HeldBooking {
	return &entity.HeldBooking{
		OrderID:     orderID,
		CinemaID:    "C01",
		ShowID:      "S100",
		ReferenceNo: referenceNo,
		CreatedAt:   time.Now().UTC(),
	}
}

// signedEvent builds an event with a valid skey for the test secret.
func signedEvent(orderID, transactionID, status string) *entity.PaymentEvent {
	ev := &entity.PaymentEvent{
		OrderID:       orderID,
		TransactionID: transactionID,
		Status:        status,
		Channel:       "fpx",
		AuthCode:      "A1",
		Amount:        "25.50",
		Currency:      "MYR",
		PayDate:       "2024-01-01 10:00:00",
		Domain:        "merchant",
		Raw: map[string]string{
			gateway.FieldAuthCode: "A1",
		},
	}
	if !gateway.IsSuccessStatus(status) {
		ev.AuthCode = ""
		ev.Raw[gateway.FieldAuthCode] = ""
		ev.ErrorDesc = "Declined by bank"
	}
	ev.Signature = gateway.Signature(ev, testSecret)
	return ev
}

type testHarness struct {
	orders      *fakeOrderRepo
	events      *fakeEventLog
	held        *fakeHeldRepo
	reservation *fakeReservation
	publisher   *fakePublisher
	repo        *repository.Repository
}

func newHarness(orders []*entity.Order, held ...*entity.HeldBooking) *testHarness {
	h := &testHarness{
		orders:      newFakeOrderRepo(orders...),
		events:      &fakeEventLog{},
		held:        newFakeHeldRepo(held...),
		reservation: &fakeReservation{},
		publisher:   &fakePublisher{},
	}
	h.repo = &repository.Repository{
		Order:       h.orders,
		EventLog:    h.events,
		HeldBooking: h.held,
	}
	return h
}

var errBookingDown = errors.New("booking api unavailable")
