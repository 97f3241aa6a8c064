package repository

import (
	"cinema-ticketing/pkg/database"

	"github.com/boltdb/bolt"
	"go.uber.org/zap"
)

type Repository struct {
	Order       OrderRepository
	EventLog    EventLogRepository
	HeldBooking HeldBookingRepository
}

func NewRepository(db database.PgxIface, held *bolt.DB, log *zap.Logger) *Repository {
	return &Repository{
		Order:       NewOrderRepository(db, log),
		EventLog:    NewEventLogRepository(db, log),
		HeldBooking: NewHeldBookingRepository(held, log),
	}
}
