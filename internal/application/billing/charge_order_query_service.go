package billing

import (
	"context"
	"fmt"

	"github.com/clinicops/backend/internal/domain/billing"
	"github.com/clinicops/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// ChargeOrderView is a charge order together with its reconciled balance
type ChargeOrderView struct {
	Order   *billing.ChargeOrder `json:"order"`
	Balance *billing.Balance     `json:"balance"`
}

// ChargeOrderQueryService serves read-only views of charge orders and their
// payments. Balances are always computed live from confirmed payment
// records, never cached.
type ChargeOrderQueryService struct {
	orderRepo   billing.ChargeOrderRepository
	paymentRepo billing.PaymentRecordRepository
}

// NewChargeOrderQueryService creates a new ChargeOrderQueryService
func NewChargeOrderQueryService(
	orderRepo billing.ChargeOrderRepository,
	paymentRepo billing.PaymentRecordRepository,
) *ChargeOrderQueryService {
	return &ChargeOrderQueryService{
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
	}
}

// GetChargeOrder returns a charge order with its reconciled balance
func (s *ChargeOrderQueryService) GetChargeOrder(ctx context.Context, institutionID, id uuid.UUID) (*ChargeOrderView, error) {
	order, err := s.orderRepo.FindByID(ctx, institutionID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load charge order: %w", err)
	}
	if order == nil {
		return nil, shared.ErrNotFound
	}

	paid, err := s.paymentRepo.SumConfirmedByChargeOrder(ctx, institutionID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to sum confirmed payments: %w", err)
	}
	return &ChargeOrderView{Order: order, Balance: order.BalanceFor(paid)}, nil
}

// ListChargeOrders lists charge orders for an institution with filtering
func (s *ChargeOrderQueryService) ListChargeOrders(ctx context.Context, institutionID uuid.UUID, filter billing.ChargeOrderFilter) (*shared.Paginated[billing.ChargeOrder], error) {
	orders, total, err := s.orderRepo.FindAll(ctx, institutionID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list charge orders: %w", err)
	}
	page := shared.NewPaginated(orders, total, filter.Page, filter.Limit())
	return &page, nil
}

// ListPayments lists all payment records for a charge order, pending and
// final alike
func (s *ChargeOrderQueryService) ListPayments(ctx context.Context, institutionID, chargeOrderID uuid.UUID) ([]billing.PaymentRecord, error) {
	order, err := s.orderRepo.FindByID(ctx, institutionID, chargeOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load charge order: %w", err)
	}
	if order == nil {
		return nil, shared.ErrNotFound
	}
	return s.paymentRepo.FindByChargeOrder(ctx, institutionID, chargeOrderID)
}
