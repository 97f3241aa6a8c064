package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cinema-ticketing/internal/data/entity"
	"cinema-ticketing/internal/data/repository"
	"cinema-ticketing/internal/dto/request"
	"cinema-ticketing/internal/dto/response"
	"cinema-ticketing/internal/gateway"
	"cinema-ticketing/pkg/utils"

	"go.uber.org/zap"
)

// ErrCheckoutConflict means a pending order exists for the reference with other terms.
var ErrCheckoutConflict = errors.New("pending order conflicts with checkout")

type CheckoutService interface {
	CreateCheckout(ctx context.Context, req *request.CheckoutRequest) (*response.CheckoutResponse, error)
}

type checkoutService struct {
	repo    *repository.Repository
	gateway utils.GatewayConfig
	log     *zap.Logger
}

func NewCheckoutService(repo *repository.Repository, gatewayConfig utils.GatewayConfig, log *zap.Logger) CheckoutService {
	return &checkoutService{
		repo:    repo,
		gateway: gatewayConfig,
		log:     log.With(zap.String("service", "checkout")),
	}
}

func (s *checkoutService) CreateCheckout(ctx context.Context, req *request.CheckoutRequest) (*response.CheckoutResponse, error) {
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))

	// Validate request
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		s.log.Warn("Checkout validation failed", zap.Any("errors", errs))
		return nil, fmt.Errorf("validation failed: %s", utils.FormatValidationErrors(errs))
	}

	// Reuse order yang masih PENDING untuk reference yang sama
	order, err := s.repo.Order.FindPendingByReference(ctx, req.ReferenceNo)
	if err != nil {
		return nil, fmt.Errorf("find pending order: %w", err)
	}

	reused := order != nil
	if reused {
		if order.Amount != req.Amount || order.Currency != req.Currency {
			return nil, fmt.Errorf("reference %s: %w", req.ReferenceNo, ErrCheckoutConflict)
		}
	} else {
		now := time.Now()
		order = &entity.Order{
			BaseNoDelete: entity.BaseNoDelete{
				ID:        utils.GenerateUUID(),
				CreatedAt: now,
				UpdatedAt: now,
			},
			OrderID:       utils.GenerateOrderID(),
			ReferenceNo:   req.ReferenceNo,
			Amount:        req.Amount,
			Currency:      req.Currency,
			PaymentStatus: entity.PaymentStatusPending,
			Status:        entity.OrderStatusPending,
			Version:       1,
		}

		if err := s.repo.Order.Create(ctx, order); err != nil {
			return nil, fmt.Errorf("create order: %w", err)
		}
	}

	held := &entity.HeldBooking{
		OrderID:      order.OrderID,
		CinemaID:     req.CinemaID,
		ShowID:       req.ShowID,
		ReferenceNo:  req.ReferenceNo,
		MembershipID: req.MembershipID,
		Token:        req.Token,
	}
	if err := s.repo.HeldBooking.Save(ctx, held); err != nil {
		return nil, fmt.Errorf("save held booking: %w", err)
	}

	s.log.Info("Checkout created",
		zap.String("order_id", order.OrderID),
		zap.String("reference_no", order.ReferenceNo),
		zap.Bool("reused", reused),
	)

	return &response.CheckoutResponse{
		OrderID:    order.OrderID,
		PaymentURL: s.paymentURL(order, req),
		Reused:     reused,
	}, nil
}

// paymentURL builds the hosted payment page link, signed with vcode.
func (s *checkoutService) paymentURL(order *entity.Order, req *request.CheckoutRequest) string {
	amount := strconv.FormatFloat(order.Amount, 'f', 2, 64)

	q := url.Values{}
	q.Set("amount", amount)
	q.Set("orderid", order.OrderID)
	q.Set("currency", order.Currency)
	q.Set("bill_name", req.BillName)
	q.Set("bill_email", req.BillEmail)
	q.Set("bill_mobile", req.BillMobile)
	q.Set("bill_desc", req.BillDesc)
	q.Set("vcode", gateway.PaymentVCode(amount, s.gateway.MerchantID, order.OrderID, s.gateway.VerifyKey))

	base := strings.TrimRight(s.gateway.PaymentURL, "/")
	return fmt.Sprintf("%s/%s/?%s", base, url.PathEscape(s.gateway.MerchantID), q.Encode())
}
