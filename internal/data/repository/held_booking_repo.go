package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cinema-ticketing/internal/data/entity"

	"github.com/boltdb/bolt"
	"go.uber.org/zap"
)

const HeldBookingBucket = "held_bookings"

// HeldBookingRepository stores booking API coordinates per gateway order id.
type HeldBookingRepository interface {
	Save(ctx context.Context, held *entity.HeldBooking) error
	FindByOrderID(ctx context.Context, orderID string) (*entity.HeldBooking, error)
	PurgeExpired(ctx context.Context, retention time.Duration) (int, error)
}

type heldBookingRepository struct {
	db  *bolt.DB
	log *zap.Logger
	now func() time.Time
}

func NewHeldBookingRepository(db *bolt.DB, log *zap.Logger) HeldBookingRepository {
	return &heldBookingRepository{
		db:  db,
		log: log.With(zap.String("repository", "held_booking")),
		now: time.Now,
	}
}

// Save overwrites any earlier record for the same order, a retried checkout
// may carry a fresh token.
func (r *heldBookingRepository) Save(ctx context.Context, held *entity.HeldBooking) error {
	if held.CreatedAt.IsZero() {
		held.CreatedAt = r.now().UTC()
	}

	data, err := json.Marshal(held)
	if err != nil {
		return fmt.Errorf("marshal held booking %s: %w", held.OrderID, err)
	}

	err = r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(HeldBookingBucket)).Put([]byte(held.OrderID), data)
	})
	if err != nil {
		r.log.Error("Failed to save held booking",
			zap.Error(err),
			zap.String("order_id", held.OrderID),
		)
		return fmt.Errorf("save held booking %s: %w", held.OrderID, err)
	}

	return nil
}

func (r *heldBookingRepository) FindByOrderID(ctx context.Context, orderID string) (*entity.HeldBooking, error) {
	var held *entity.HeldBooking

	err := r.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(HeldBookingBucket)).Get([]byte(orderID))
		if v == nil {
			return nil
		}
		held = &entity.HeldBooking{}
		return json.Unmarshal(v, held)
	})
	if err != nil {
		r.log.Error("Failed to find held booking",
			zap.Error(err),
			zap.String("order_id", orderID),
		)
		return nil, fmt.Errorf("find held booking %s: %w", orderID, err)
	}

	return held, nil
}

// PurgeExpired deletes records older than retention and returns how many went.
func (r *heldBookingRepository) PurgeExpired(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := r.now().UTC().Add(-retention)
	purged := 0

	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(HeldBookingBucket))

		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var held entity.HeldBooking
			// record rusak ikut dibuang
			if err := json.Unmarshal(v, &held); err != nil || held.CreatedAt.Before(cutoff) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		purged = len(expired)
		return nil
	})
	if err != nil {
		r.log.Error("Failed to purge held bookings", zap.Error(err))
		return 0, fmt.Errorf("purge held bookings: %w", err)
	}

	if purged > 0 {
		r.log.Info("Held bookings purged", zap.Int("count", purged), zap.Time("cutoff", cutoff))
	}
	return purged, nil
}
