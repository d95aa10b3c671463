package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/clinicops/backend/internal/domain/billing"
	"github.com/clinicops/backend/internal/domain/shared"
	"github.com/clinicops/backend/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	// ErrCallbackVerificationFailed is returned when callback signature verification fails
	ErrCallbackVerificationFailed = errors.New("gateway callback: signature verification failed")
	// ErrCallbackUnknownTransaction is returned when no pending payment matches the callback
	ErrCallbackUnknownTransaction = errors.New("gateway callback: no pending payment for transaction")
)

// GatewayPaymentService drives gateway-backed P2C payments: it initiates
// pending charges, and settles them from pushed callbacks or polling. When
// the gateway cannot be reached it surfaces DEPENDENCY_UNAVAILABLE, which is
// the trigger for offering the manual verification fallback.
type GatewayPaymentService struct {
	gateway          billing.PaymentGateway
	orderRepo        billing.ChargeOrderRepository
	paymentRepo      billing.PaymentRecordRepository
	auditRepo        billing.AuditEventRepository
	txManager        billing.TransactionManager
	idempotencyStore shared.IdempotencyStore
	idempotencyCfg   shared.IdempotencyConfig
	logger           *zap.Logger
}

// GatewayPaymentServiceConfig holds dependencies for the gateway service
type GatewayPaymentServiceConfig struct {
	Gateway          billing.PaymentGateway
	OrderRepo        billing.ChargeOrderRepository
	PaymentRepo      billing.PaymentRecordRepository
	AuditRepo        billing.AuditEventRepository
	TxManager        billing.TransactionManager
	IdempotencyStore shared.IdempotencyStore
	IdempotencyCfg   shared.IdempotencyConfig
	Logger           *zap.Logger
}

// NewGatewayPaymentService creates a new GatewayPaymentService
func NewGatewayPaymentService(cfg GatewayPaymentServiceConfig) *GatewayPaymentService {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GatewayPaymentService{
		gateway:          cfg.Gateway,
		orderRepo:        cfg.OrderRepo,
		paymentRepo:      cfg.PaymentRepo,
		auditRepo:        cfg.AuditRepo,
		txManager:        cfg.TxManager,
		idempotencyStore: cfg.IdempotencyStore,
		idempotencyCfg:   cfg.IdempotencyCfg,
		logger:           logger,
	}
}

// InitiateGatewayChargeRequest starts a gateway-backed payment
type InitiateGatewayChargeRequest struct {
	InstitutionID uuid.UUID
	ChargeOrderID uuid.UUID
	Amount        decimal.Decimal
	PhoneNumber   string
	Actor         *uuid.UUID
}

// CallbackResult is the outcome of processing a gateway notification
type CallbackResult struct {
	Payment          *billing.PaymentRecord `json:"payment,omitempty"`
	Balance          *billing.Balance       `json:"balance,omitempty"`
	AlreadyProcessed bool                   `json:"already_processed,omitempty"`
}

// InitiateGatewayCharge creates a pending payment record backed by a gateway
// transaction. The record does not count toward the paid amount until the
// gateway confirms it.
func (s *GatewayPaymentService) InitiateGatewayCharge(ctx context.Context, req InitiateGatewayChargeRequest) (*billing.PaymentRecord, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing", "initiate_gateway_charge")
	defer span.End()

	telemetry.SetAttributes(span,
		"charge_order_id", req.ChargeOrderID.String(),
		"amount", req.Amount.String(),
	)

	order, err := s.orderRepo.FindByID(ctx, req.InstitutionID, req.ChargeOrderID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load charge order: %w", err)
	}
	if order == nil {
		return nil, shared.ErrNotFound
	}
	if !order.CanAcceptPayment() {
		return nil, shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot initiate payment on charge order in %s status", order.Status))
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Payment amount must be positive")
	}

	charge, err := s.gateway.InitiateCharge(ctx, order.ID, req.Amount, req.PhoneNumber)
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.Warn("Gateway unreachable while initiating charge",
			zap.String("charge_order_id", order.ID.String()),
			zap.Error(err))
		return nil, err
	}

	payment, err := billing.NewPendingPayment(order, req.Amount, billing.PaymentMethodMobile, charge.TransactionID, billing.PaymentDetails{
		ReceivedBy: req.Actor,
	})
	if err != nil {
		return nil, err
	}
	if err := s.paymentRepo.Save(ctx, payment); err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to save pending payment: %w", err)
	}

	s.logger.Info("Gateway charge initiated",
		zap.String("charge_order_id", order.ID.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.String("gateway_transaction_id", charge.TransactionID))

	return payment, nil
}

// ProcessCallback verifies a pushed gateway notification and settles the
// matching pending payment. Redelivered notifications are deduplicated by
// notification ID.
func (s *GatewayPaymentService) ProcessCallback(ctx context.Context, payload []byte, signature string) (*CallbackResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing", "process_gateway_callback")
	defer span.End()

	callback, err := s.gateway.VerifyCallback(payload, signature)
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.Warn("Gateway callback verification failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrCallbackVerificationFailed, err)
	}

	telemetry.SetAttributes(span,
		"gateway_transaction_id", callback.TransactionID,
		"notification_id", callback.NotificationID,
		"status", string(callback.Status),
	)

	if s.idempotencyCfg.Enabled && s.idempotencyStore != nil && callback.NotificationID != "" {
		fresh, err := s.idempotencyStore.MarkProcessed(ctx, callback.NotificationID, s.idempotencyCfg.TTL)
		if err != nil {
			s.logger.Warn("Idempotency store unavailable, processing callback anyway",
				zap.String("notification_id", callback.NotificationID),
				zap.Error(err))
		} else if !fresh {
			s.logger.Info("Gateway callback already processed",
				zap.String("notification_id", callback.NotificationID))
			return &CallbackResult{AlreadyProcessed: true}, nil
		}
	}

	result, err := s.settle(ctx, callback)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

// PollPendingPayment asks the gateway for the current status of a pending
// payment and settles it if the gateway reports a final state. A gateway
// that cannot be reached surfaces DEPENDENCY_UNAVAILABLE so the caller can
// offer manual verification instead.
func (s *GatewayPaymentService) PollPendingPayment(ctx context.Context, institutionID, paymentID uuid.UUID) (*CallbackResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing", "poll_pending_payment")
	defer span.End()

	payment, err := s.paymentRepo.FindByID(ctx, institutionID, paymentID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	if payment == nil {
		return nil, shared.ErrNotFound
	}
	if !payment.IsPending() {
		return &CallbackResult{Payment: payment, AlreadyProcessed: true}, nil
	}
	if payment.GatewayTransactionID == "" {
		return nil, shared.NewDomainError("INVALID_STATE", "Payment has no gateway transaction")
	}

	charge, err := s.gateway.PollStatus(ctx, payment.GatewayTransactionID)
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.Warn("Gateway unreachable while polling",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err))
		return nil, err
	}

	if charge.Status == billing.GatewayChargePending {
		return &CallbackResult{Payment: payment}, nil
	}

	return s.settle(ctx, &billing.GatewayCallback{
		TransactionID: charge.TransactionID,
		Status:        charge.Status,
		Reference:     charge.Reference,
		Amount:        payment.Amount,
	})
}

// settle applies a final gateway status to the matching pending payment and,
// on confirmation, reconciles the charge order and appends the audit event.
func (s *GatewayPaymentService) settle(ctx context.Context, callback *billing.GatewayCallback) (*CallbackResult, error) {
	var result *CallbackResult
	var lastErr error

	for attempt := 1; attempt <= maxConflictAttempts; attempt++ {
		lastErr = s.txManager.WithinTransaction(ctx, func(txCtx context.Context) error {
			settled, err := s.settleOnce(txCtx, callback)
			if err != nil {
				return err
			}
			result = settled
			return nil
		})
		if !isConcurrencyConflict(lastErr) {
			break
		}
		s.logger.Debug("Gateway settlement conflicted, retrying",
			zap.String("gateway_transaction_id", callback.TransactionID),
			zap.Int("attempt", attempt))
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return result, nil
}

func (s *GatewayPaymentService) settleOnce(ctx context.Context, callback *billing.GatewayCallback) (*CallbackResult, error) {
	payment, err := s.paymentRepo.FindPendingByGatewayTransaction(ctx, callback.TransactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find pending payment: %w", err)
	}
	if payment == nil {
		return nil, ErrCallbackUnknownTransaction
	}

	switch callback.Status {
	case billing.GatewayChargeConfirmed:
		return s.confirmPayment(ctx, payment, callback.Reference)
	case billing.GatewayChargeFailed:
		if err := payment.Reject("gateway reported failure"); err != nil {
			return nil, err
		}
		if err := s.paymentRepo.Save(ctx, payment); err != nil {
			return nil, fmt.Errorf("failed to save rejected payment: %w", err)
		}
		s.logger.Info("Gateway payment rejected",
			zap.String("payment_id", payment.ID.String()),
			zap.String("gateway_transaction_id", callback.TransactionID))
		return &CallbackResult{Payment: payment}, nil
	default:
		return &CallbackResult{Payment: payment}, nil
	}
}

func (s *GatewayPaymentService) confirmPayment(ctx context.Context, payment *billing.PaymentRecord, reference string) (*CallbackResult, error) {
	order, err := s.orderRepo.FindByID(ctx, payment.InstitutionID, payment.ChargeOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load charge order: %w", err)
	}
	if order == nil {
		return nil, shared.ErrNotFound
	}

	if err := payment.Confirm(reference); err != nil {
		return nil, err
	}
	if err := s.paymentRepo.Save(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to save confirmed payment: %w", err)
	}

	paid, err := s.paymentRepo.SumConfirmedByChargeOrder(ctx, payment.InstitutionID, payment.ChargeOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum confirmed payments: %w", err)
	}

	balance, err := order.Reconcile(paid)
	if err != nil {
		return nil, err
	}
	if err := s.orderRepo.SaveWithLock(ctx, order); err != nil {
		return nil, err
	}

	event, err := billing.NewAuditEvent(order.InstitutionID, order.ID, billing.AuditActionPaymentRegistered, nil, billing.AuditNotes{
		"payment_id":             payment.ID.String(),
		"amount":                 payment.Amount.String(),
		"method":                 string(payment.Method),
		"status":                 string(order.Status),
		"gateway_transaction_id": payment.GatewayTransactionID,
	})
	if err != nil {
		return nil, err
	}
	if err := s.auditRepo.Append(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to append audit event: %w", err)
	}

	s.logger.Info("Gateway payment confirmed",
		zap.String("charge_order_id", order.ID.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.String("order_status", string(order.Status)))

	order.ClearDomainEvents()
	return &CallbackResult{Payment: payment, Balance: balance}, nil
}
