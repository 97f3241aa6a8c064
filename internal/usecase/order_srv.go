package usecase

import (
	"context"
	"fmt"

	"cinema-ticketing/internal/data/repository"
	"cinema-ticketing/internal/dto/request"
	"cinema-ticketing/internal/dto/response"

	"go.uber.org/zap"
)

// OrderService is the admin view over orders and their payment events.
type OrderService interface {
	GetOrder(ctx context.Context, orderID string) (*response.OrderDetailResponse, error)
	ListEvents(ctx context.Context, orderID string, req *request.PaginatedRequest) (*response.PaginatedResponse[response.PaymentEventResponse], error)
	RetryConfirm(ctx context.Context, orderID string) (*response.RetryConfirmResponse, error)
}

const orderDetailEventLimit = 20

type orderService struct {
	repo      *repository.Repository
	reconcile ReconcileService
	log       *zap.Logger
}

func NewOrderService(repo *repository.Repository, reconcile ReconcileService, log *zap.Logger) OrderService {
	return &orderService{
		repo:      repo,
		reconcile: reconcile,
		log:       log.With(zap.String("service", "order")),
	}
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (*response.OrderDetailResponse, error) {
	order, err := s.repo.Order.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrOrderNotFound)
	}

	entries, err := s.repo.EventLog.FindByOrderID(ctx, orderID, orderDetailEventLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("get order events: %w", err)
	}

	events := make([]response.PaymentEventResponse, len(entries))
	for i, entry := range entries {
		events[i] = response.PaymentEventToResponse(entry)
	}

	return &response.OrderDetailResponse{
		OrderResponse: response.OrderToResponse(order),
		Events:        events,
	}, nil
}

// ListEvents pages through every event received for an order id, including
// events that never matched an order.
func (s *orderService) ListEvents(ctx context.Context, orderID string, req *request.PaginatedRequest) (*response.PaginatedResponse[response.PaymentEventResponse], error) {
	total, err := s.repo.EventLog.CountByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("count order events: %w", err)
	}

	entries, err := s.repo.EventLog.FindByOrderID(ctx, orderID, req.Limit(), req.Offset())
	if err != nil {
		return nil, fmt.Errorf("list order events: %w", err)
	}

	events := make([]response.PaymentEventResponse, len(entries))
	for i, entry := range entries {
		events[i] = response.PaymentEventToResponse(entry)
	}

	return response.NewPaginatedResponse(events, req.Page, req.Limit(), total), nil
}

func (s *orderService) RetryConfirm(ctx context.Context, orderID string) (*response.RetryConfirmResponse, error) {
	result, err := s.reconcile.RetryConfirmation(ctx, orderID)
	if err != nil {
		s.log.Warn("Retry confirmation failed", zap.Error(err), zap.String("order_id", orderID))
		return nil, err
	}

	return &response.RetryConfirmResponse{
		Action: string(result.Action),
		Order:  response.OrderToResponse(result.Order),
	}, nil
}
