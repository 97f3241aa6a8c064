package usecase

import (
	"cinema-ticketing/internal/data/repository"
	"cinema-ticketing/internal/gateway"
	"cinema-ticketing/internal/reservation"
	"cinema-ticketing/pkg/lock"
	"cinema-ticketing/pkg/messaging"
	"cinema-ticketing/pkg/utils"

	"go.uber.org/zap"
)

type Service struct {
	Reconcile ReconcileService
	Checkout  CheckoutService
	Order     OrderService
}

func NewService(
	repo *repository.Repository,
	config *utils.Config,
	reservationClient reservation.Client,
	locker lock.Locker,
	publisher messaging.Publisher,
	log *zap.Logger,
) *Service {
	reconcile := NewReconcileService(repo, gateway.NewVerifier(config.Gateway.SecretKey), reservationClient, locker, publisher, log)

	return &Service{
		Reconcile: reconcile,
		Checkout:  NewCheckoutService(repo, config.Gateway, log),
		Order:     NewOrderService(repo, reconcile, log),
	}
}
