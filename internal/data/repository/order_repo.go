package repository

import (
	"context"
	"errors"
	"fmt"

	"cinema-ticketing/internal/data/entity"
	"cinema-ticketing/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrVersionConflict means the order changed between read and write.
var ErrVersionConflict = errors.New("order version conflict")

type OrderRepository interface {
	Create(ctx context.Context, order *entity.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Order, error)
	FindByOrderID(ctx context.Context, orderID string) (*entity.Order, error)
	FindLatestByReference(ctx context.Context, referenceNo string) (*entity.Order, error)
	FindPendingByReference(ctx context.Context, referenceNo string) (*entity.Order, error)

	// Conditional writes, both bump version and fail with ErrVersionConflict
	UpdateReconciliation(ctx context.Context, order *entity.Order) error
	UpdateOrderID(ctx context.Context, order *entity.Order, orderID string) error
}

type orderRepository struct {
	db  database.PgxIface
	log *zap.Logger
}

func NewOrderRepository(db database.PgxIface, log *zap.Logger) OrderRepository {
	return &orderRepository{
		db:  db,
		log: log.With(zap.String("repository", "order")),
	}
}

const orderColumns = `id, order_id, reference_no, amount, currency, payment_status, status,
	transaction_id, channel, reservation_confirmed, reservation_released, version, created_at, updated_at`

func scanOrder(row pgx.Row) (*entity.Order, error) {
	var order entity.Order
	err := row.Scan(
		&order.ID,
		&order.OrderID,
		&order.ReferenceNo,
		&order.Amount,
		&order.Currency,
		&order.PaymentStatus,
		&order.Status,
		&order.TransactionID,
		&order.Channel,
		&order.ReservationConfirmed,
		&order.ReservationReleased,
		&order.Version,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) Create(ctx context.Context, order *entity.Order) error {
	query := `
		INSERT INTO orders (id, order_id, reference_no, amount, currency, payment_status, status,
		                    transaction_id, channel, reservation_confirmed, reservation_released,
		                    version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.db.Exec(ctx, query,
		order.ID,
		order.OrderID,
		order.ReferenceNo,
		order.Amount,
		order.Currency,
		order.PaymentStatus,
		order.Status,
		order.TransactionID,
		order.Channel,
		order.ReservationConfirmed,
		order.ReservationReleased,
		order.Version,
		order.CreatedAt,
		order.UpdatedAt,
	)

	if err != nil {
		r.log.Error("Failed to create order",
			zap.Error(err),
			zap.String("order_id", order.OrderID),
			zap.String("reference_no", order.ReferenceNo),
		)
		return fmt.Errorf("create order %s: %w", order.OrderID, err)
	}

	return nil
}

func (r *orderRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find order by ID",
			zap.Error(err),
			zap.String("id", id.String()),
		)
		return nil, fmt.Errorf("find order by ID %s: %w", id.String(), err)
	}

	return order, nil
}

func (r *orderRepository) FindByOrderID(ctx context.Context, orderID string) (*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1`

	order, err := scanOrder(r.db.QueryRow(ctx, query, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find order by order ID",
			zap.Error(err),
			zap.String("order_id", orderID),
		)
		return nil, fmt.Errorf("find order by order ID %s: %w", orderID, err)
	}

	return order, nil
}

func (r *orderRepository) FindLatestByReference(ctx context.Context, referenceNo string) (*entity.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE reference_no = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	order, err := scanOrder(r.db.QueryRow(ctx, query, referenceNo))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find order by reference",
			zap.Error(err),
			zap.String("reference_no", referenceNo),
		)
		return nil, fmt.Errorf("find order by reference %s: %w", referenceNo, err)
	}

	return order, nil
}

func (r *orderRepository) FindPendingByReference(ctx context.Context, referenceNo string) (*entity.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE reference_no = $1 AND payment_status = $2 AND status = $3
		ORDER BY created_at DESC
		LIMIT 1
	`

	order, err := scanOrder(r.db.QueryRow(ctx, query, referenceNo, entity.PaymentStatusPending, entity.OrderStatusPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.log.Error("Failed to find pending order by reference",
			zap.Error(err),
			zap.String("reference_no", referenceNo),
		)
		return nil, fmt.Errorf("find pending order by reference %s: %w", referenceNo, err)
	}

	return order, nil
}

// UpdateReconciliation writes the payment fields and flags only if the row is
// still at the version that was read. On success order.Version is advanced.
func (r *orderRepository) UpdateReconciliation(ctx context.Context, order *entity.Order) error {
	query := `
		UPDATE orders
		SET payment_status = $3, status = $4, transaction_id = $5, channel = $6,
		    reservation_confirmed = $7, reservation_released = $8,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		order.ID,
		order.Version,
		order.PaymentStatus,
		order.Status,
		order.TransactionID,
		order.Channel,
		order.ReservationConfirmed,
		order.ReservationReleased,
	).Scan(&order.Version, &order.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		r.log.Warn("Order version conflict",
			zap.String("order_id", order.OrderID),
			zap.Int64("version", order.Version),
		)
		return fmt.Errorf("update order %s: %w", order.OrderID, ErrVersionConflict)
	}
	if err != nil {
		r.log.Error("Failed to update order",
			zap.Error(err),
			zap.String("order_id", order.OrderID),
		)
		return fmt.Errorf("update order %s: %w", order.OrderID, err)
	}

	return nil
}

// UpdateOrderID backfills the gateway order id on an order found by reference.
func (r *orderRepository) UpdateOrderID(ctx context.Context, order *entity.Order, orderID string) error {
	query := `
		UPDATE orders
		SET order_id = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at
	`

	err := r.db.QueryRow(ctx, query, order.ID, order.Version, orderID).Scan(&order.Version, &order.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("backfill order id %s: %w", orderID, ErrVersionConflict)
	}
	if err != nil {
		r.log.Error("Failed to backfill order ID",
			zap.Error(err),
			zap.String("id", order.ID.String()),
			zap.String("order_id", orderID),
		)
		return fmt.Errorf("backfill order id %s: %w", orderID, err)
	}

	r.log.Info("Order ID backfilled",
		zap.String("id", order.ID.String()),
		zap.String("old_order_id", order.OrderID),
		zap.String("order_id", orderID),
	)
	order.OrderID = orderID
	return nil
}
