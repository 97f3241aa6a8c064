package repository

import (
	"context"
	"fmt"

	"cinema-ticketing/internal/data/entity"
	"cinema-ticketing/pkg/database"

	"go.uber.org/zap"
)

// EventLogRepository is append-only, there is no update or delete.
type EventLogRepository interface {
	Append(ctx context.Context, entry *entity.PaymentEventLog) error
	FindByOrderID(ctx context.Context, orderID string, limit, offset int) ([]*entity.PaymentEventLog, error)
	CountByOrderID(ctx context.Context, orderID string) (int64, error)
}

type eventLogRepository struct {
	db  database.PgxIface
	log *zap.Logger
}

func NewEventLogRepository(db database.PgxIface, log *zap.Logger) EventLogRepository {
	return &eventLogRepository{
		db:  db,
		log: log.With(zap.String("repository", "payment_event_log")),
	}
}

func (r *eventLogRepository) Append(ctx context.Context, entry *entity.PaymentEventLog) error {
	query := `
		INSERT INTO payment_event_logs (id, order_id, transaction_id, status_code, transport,
		                                is_success, remark, payload, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.Exec(ctx, query,
		entry.ID,
		entry.OrderID,
		entry.TransactionID,
		entry.StatusCode,
		entry.Transport,
		entry.IsSuccess,
		entry.Remark,
		entry.Payload,
		entry.IPAddress,
		entry.UserAgent,
		entry.CreatedAt,
	)

	if err != nil {
		r.log.Error("Failed to append payment event",
			zap.Error(err),
			zap.String("order_id", entry.OrderID),
			zap.String("transport", string(entry.Transport)),
		)
		return fmt.Errorf("append payment event for order %s: %w", entry.OrderID, err)
	}

	return nil
}

func (r *eventLogRepository) FindByOrderID(ctx context.Context, orderID string, limit, offset int) ([]*entity.PaymentEventLog, error) {
	query := `
		SELECT id, order_id, transaction_id, status_code, transport, is_success, remark,
		       payload, ip_address, user_agent, created_at
		FROM payment_event_logs
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, orderID, limit, offset)
	if err != nil {
		r.log.Error("Failed to find payment events",
			zap.Error(err),
			zap.String("order_id", orderID),
		)
		return nil, fmt.Errorf("find payment events for order %s: %w", orderID, err)
	}
	defer rows.Close()

	var entries []*entity.PaymentEventLog
	for rows.Next() {
		var entry entity.PaymentEventLog
		err := rows.Scan(
			&entry.ID,
			&entry.OrderID,
			&entry.TransactionID,
			&entry.StatusCode,
			&entry.Transport,
			&entry.IsSuccess,
			&entry.Remark,
			&entry.Payload,
			&entry.IPAddress,
			&entry.UserAgent,
			&entry.CreatedAt,
		)
		if err != nil {
			r.log.Error("Failed to scan payment event row", zap.Error(err))
			return nil, fmt.Errorf("scan payment event row: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment events: %w", err)
	}

	return entries, nil
}

func (r *eventLogRepository) CountByOrderID(ctx context.Context, orderID string) (int64, error) {
	query := `SELECT COUNT(*) FROM payment_event_logs WHERE order_id = $1`

	var count int64
	if err := r.db.QueryRow(ctx, query, orderID).Scan(&count); err != nil {
		r.log.Error("Failed to count payment events",
			zap.Error(err),
			zap.String("order_id", orderID),
		)
		return 0, fmt.Errorf("count payment events for order %s: %w", orderID, err)
	}

	return count, nil
}
