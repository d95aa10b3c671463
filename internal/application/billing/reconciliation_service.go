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

// maxConflictAttempts bounds the local retry loop on optimistic-lock
// conflicts. After exhausting attempts the conflict is surfaced to the
// caller as CONCURRENCY_CONFLICT.
const maxConflictAttempts = 3

// ReconciliationService is the single authority for turning a payment intent
// into a committed charge order state change. All mutations on one charge
// order are serialized through the order's optimistic version check inside a
// single transaction, so the read-derive-write cycle is atomic relative to
// concurrent writers on the same order.
type ReconciliationService struct {
	orderRepo   billing.ChargeOrderRepository
	paymentRepo billing.PaymentRecordRepository
	auditRepo   billing.AuditEventRepository
	txManager   billing.TransactionManager
	logger      *zap.Logger
}

// NewReconciliationService creates a new ReconciliationService
func NewReconciliationService(
	orderRepo billing.ChargeOrderRepository,
	paymentRepo billing.PaymentRecordRepository,
	auditRepo billing.AuditEventRepository,
	txManager billing.TransactionManager,
	logger *zap.Logger,
) *ReconciliationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationService{
		orderRepo:   orderRepo,
		paymentRepo: paymentRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		logger:      logger,
	}
}

// CreateChargeOrderRequest represents a request to issue a charge order
type CreateChargeOrderRequest struct {
	InstitutionID uuid.UUID
	PatientID     uuid.UUID
	AppointmentID uuid.UUID
	OrderNumber   string // Generated when empty
	Items         []billing.ChargeItem
	Actor         *uuid.UUID
}

// RegisterPaymentRequest represents a payment intent against a charge order
type RegisterPaymentRequest struct {
	InstitutionID   uuid.UUID
	ChargeOrderID   uuid.UUID
	Amount          decimal.Decimal
	Method          billing.PaymentMethod
	ReferenceNumber string
	BankName        string
	IdempotencyKey  string
	Actor           *uuid.UUID
}

// RegisterManualPaymentRequest represents a human-asserted payment
// confirmation recorded while the automated gateway channel is unavailable
type RegisterManualPaymentRequest struct {
	InstitutionID   uuid.UUID
	ChargeOrderID   uuid.UUID
	Amount          decimal.Decimal
	ReferenceNumber string
	BankName        string
	Reason          string
	IdempotencyKey  string
	Actor           *uuid.UUID
}

// VoidChargeOrderRequest represents a request to void a charge order
type VoidChargeOrderRequest struct {
	InstitutionID uuid.UUID
	ChargeOrderID uuid.UUID
	Actor         uuid.UUID
	Reason        string
}

// PaymentResult is the committed outcome of a payment registration
type PaymentResult struct {
	Payment          *billing.PaymentRecord `json:"payment"`
	Balance          *billing.Balance       `json:"balance"`
	AlreadyProcessed bool                   `json:"already_processed,omitempty"`
}

// CreateChargeOrder issues a new charge order for a clinical encounter and
// records the creation in the audit trail.
func (s *ReconciliationService) CreateChargeOrder(ctx context.Context, req CreateChargeOrderRequest) (*billing.ChargeOrder, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing", "create_charge_order")
	defer span.End()

	orderNumber := req.OrderNumber
	if orderNumber == "" {
		generated, err := s.orderRepo.GenerateOrderNumber(ctx, req.InstitutionID)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("failed to generate order number: %w", err)
		}
		orderNumber = generated
	} else {
		exists, err := s.orderRepo.ExistsByOrderNumber(ctx, req.InstitutionID, orderNumber)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("failed to check order number: %w", err)
		}
		if exists {
			return nil, shared.NewDomainError("ALREADY_EXISTS", fmt.Sprintf("Charge order %s already exists", orderNumber))
		}
	}

	order, err := billing.NewChargeOrder(req.InstitutionID, orderNumber, req.PatientID, req.AppointmentID, req.Items)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if req.Actor != nil {
		order.SetCreatedBy(*req.Actor)
	}

	telemetry.SetAttributes(span,
		"charge_order_id", order.ID.String(),
		"order_number", order.OrderNumber,
		"total_amount", order.TotalAmount.String(),
	)

	err = s.txManager.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := s.orderRepo.Save(txCtx, order); err != nil {
			return fmt.Errorf("failed to save charge order: %w", err)
		}
		return s.appendAudit(txCtx, order, billing.AuditActionCreated, req.Actor, billing.AuditNotes{
			"order_number": order.OrderNumber,
			"total_amount": order.TotalAmount.String(),
			"item_count":   order.ItemCount(),
		})
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Charge order created",
		zap.String("charge_order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.String("total_amount", order.TotalAmount.String()))

	order.ClearDomainEvents()
	return order, nil
}

// RegisterPayment validates a payment intent, commits a confirmed payment
// record, recomputes the charge order status and appends an audit event.
// Retried requests carrying the same idempotency key return the original
// result instead of double-charging. Optimistic-lock conflicts are retried
// locally a bounded number of times.
func (s *ReconciliationService) RegisterPayment(ctx context.Context, req RegisterPaymentRequest) (*PaymentResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing", "register_payment")
	defer span.End()

	telemetry.SetAttributes(span,
		"charge_order_id", req.ChargeOrderID.String(),
		"amount", req.Amount.String(),
		"method", string(req.Method),
	)

	details := billing.PaymentDetails{
		ReferenceNumber: req.ReferenceNumber,
		BankName:        req.BankName,
		ReceivedBy:      req.Actor,
		IdempotencyKey:  req.IdempotencyKey,
	}

	result, err := s.commitWithRetry(ctx, func(txCtx context.Context, order *billing.ChargeOrder) (*billing.PaymentRecord, error) {
		return billing.NewConfirmedPayment(order, req.Amount, req.Method, details)
	}, req.InstitutionID, req.ChargeOrderID, req.IdempotencyKey, req.Actor, nil)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return result, nil
}

// RegisterManualPayment records a human-asserted payment confirmation. It
// follows the same validation and commit path as RegisterPayment, with the
// manual-verification flag and reason carried into the audit trail.
func (s *ReconciliationService) RegisterManualPayment(ctx context.Context, req RegisterManualPaymentRequest) (*PaymentResult, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing", "register_manual_payment")
	defer span.End()

	telemetry.SetAttributes(span,
		"charge_order_id", req.ChargeOrderID.String(),
		"amount", req.Amount.String(),
		"manual_verification", true,
	)

	details := billing.PaymentDetails{
		ReferenceNumber: req.ReferenceNumber,
		BankName:        req.BankName,
		ReceivedBy:      req.Actor,
		IdempotencyKey:  req.IdempotencyKey,
	}
	extraNotes := billing.AuditNotes{
		"manual_verification": true,
		"reason":              req.Reason,
	}

	result, err := s.commitWithRetry(ctx, func(txCtx context.Context, order *billing.ChargeOrder) (*billing.PaymentRecord, error) {
		return billing.NewManualPayment(order, req.Amount, req.Reason, details)
	}, req.InstitutionID, req.ChargeOrderID, req.IdempotencyKey, req.Actor, extraNotes)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	if !result.AlreadyProcessed {
		s.logger.Warn("Payment recorded via manual verification",
			zap.String("charge_order_id", req.ChargeOrderID.String()),
			zap.String("payment_id", result.Payment.ID.String()),
			zap.String("reason", req.Reason))
	}
	return result, nil
}

// VoidChargeOrder marks a charge order as void. Void is terminal; the
// reconciliation engine rejects all later payments against the order.
func (s *ReconciliationService) VoidChargeOrder(ctx context.Context, req VoidChargeOrderRequest) (*billing.ChargeOrder, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "billing", "void_charge_order")
	defer span.End()

	telemetry.SetAttributes(span, "charge_order_id", req.ChargeOrderID.String())

	var order *billing.ChargeOrder
	var lastErr error
	for attempt := 1; attempt <= maxConflictAttempts; attempt++ {
		lastErr = s.txManager.WithinTransaction(ctx, func(txCtx context.Context) error {
			found, err := s.orderRepo.FindByID(txCtx, req.InstitutionID, req.ChargeOrderID)
			if err != nil {
				return fmt.Errorf("failed to load charge order: %w", err)
			}
			if found == nil {
				return shared.ErrNotFound
			}
			if err := found.Void(req.Actor, req.Reason); err != nil {
				return err
			}
			if err := s.orderRepo.SaveWithLock(txCtx, found); err != nil {
				return err
			}
			actor := req.Actor
			if err := s.appendAudit(txCtx, found, billing.AuditActionVoided, &actor, billing.AuditNotes{
				"reason": req.Reason,
			}); err != nil {
				return err
			}
			order = found
			return nil
		})
		if !isConcurrencyConflict(lastErr) {
			break
		}
		s.logger.Debug("Void conflicted, retrying",
			zap.String("charge_order_id", req.ChargeOrderID.String()),
			zap.Int("attempt", attempt))
	}
	if lastErr != nil {
		telemetry.RecordError(span, lastErr)
		return nil, lastErr
	}

	s.logger.Info("Charge order voided",
		zap.String("charge_order_id", order.ID.String()),
		zap.String("reason", req.Reason))

	order.ClearDomainEvents()
	return order, nil
}

// GetBalance returns the reconciled balance of a charge order, computed live
// from confirmed payment records.
func (s *ReconciliationService) GetBalance(ctx context.Context, institutionID, chargeOrderID uuid.UUID) (*billing.Balance, error) {
	order, err := s.orderRepo.FindByID(ctx, institutionID, chargeOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load charge order: %w", err)
	}
	if order == nil {
		return nil, shared.ErrNotFound
	}

	paid, err := s.paymentRepo.SumConfirmedByChargeOrder(ctx, institutionID, chargeOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum confirmed payments: %w", err)
	}
	return order.BalanceFor(paid), nil
}

// ListAuditEvents returns the append-only history of a charge order ordered
// by commit sequence ascending.
func (s *ReconciliationService) ListAuditEvents(ctx context.Context, institutionID, chargeOrderID uuid.UUID) ([]billing.AuditEvent, error) {
	order, err := s.orderRepo.FindByID(ctx, institutionID, chargeOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load charge order: %w", err)
	}
	if order == nil {
		return nil, shared.ErrNotFound
	}
	return s.auditRepo.ListByChargeOrder(ctx, institutionID, chargeOrderID)
}

// buildPayment constructs the payment record for a given loaded order. It
// returns a domain validation error before anything is written.
type buildPayment func(txCtx context.Context, order *billing.ChargeOrder) (*billing.PaymentRecord, error)

// commitWithRetry runs the register-payment pipeline inside a transaction,
// retrying on optimistic-lock conflicts up to maxConflictAttempts.
func (s *ReconciliationService) commitWithRetry(
	ctx context.Context,
	build buildPayment,
	institutionID, chargeOrderID uuid.UUID,
	idempotencyKey string,
	actor *uuid.UUID,
	extraNotes billing.AuditNotes,
) (*PaymentResult, error) {
	var result *PaymentResult
	var lastErr error

	for attempt := 1; attempt <= maxConflictAttempts; attempt++ {
		lastErr = s.txManager.WithinTransaction(ctx, func(txCtx context.Context) error {
			committed, err := s.commitPayment(txCtx, build, institutionID, chargeOrderID, idempotencyKey, actor, extraNotes)
			if err != nil {
				return err
			}
			result = committed
			return nil
		})
		if !isConcurrencyConflict(lastErr) {
			break
		}
		s.logger.Debug("Payment registration conflicted, retrying",
			zap.String("charge_order_id", chargeOrderID.String()),
			zap.Int("attempt", attempt))
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return result, nil
}

// commitPayment is one attempt of the register-payment pipeline; it must run
// inside a transaction.
func (s *ReconciliationService) commitPayment(
	ctx context.Context,
	build buildPayment,
	institutionID, chargeOrderID uuid.UUID,
	idempotencyKey string,
	actor *uuid.UUID,
	extraNotes billing.AuditNotes,
) (*PaymentResult, error) {
	order, err := s.orderRepo.FindByID(ctx, institutionID, chargeOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load charge order: %w", err)
	}
	if order == nil {
		return nil, shared.ErrNotFound
	}
	if !order.CanAcceptPayment() {
		return nil, shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot register payment on charge order in %s status", order.Status))
	}

	// At-most-once: a retried request with a known key returns the original
	// committed result unchanged.
	if idempotencyKey != "" {
		existing, err := s.paymentRepo.FindByIdempotencyKey(ctx, institutionID, chargeOrderID, idempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if existing != nil {
			paid, err := s.paymentRepo.SumConfirmedByChargeOrder(ctx, institutionID, chargeOrderID)
			if err != nil {
				return nil, fmt.Errorf("failed to sum confirmed payments: %w", err)
			}
			s.logger.Info("Duplicate payment submission deduplicated",
				zap.String("charge_order_id", chargeOrderID.String()),
				zap.String("idempotency_key", idempotencyKey),
				zap.String("payment_id", existing.ID.String()))
			return &PaymentResult{
				Payment:          existing,
				Balance:          order.BalanceFor(paid),
				AlreadyProcessed: true,
			}, nil
		}
	}

	payment, err := build(ctx, order)
	if err != nil {
		return nil, err
	}
	if err := s.paymentRepo.Save(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to save payment record: %w", err)
	}

	paid, err := s.paymentRepo.SumConfirmedByChargeOrder(ctx, institutionID, chargeOrderID)
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

	notes := billing.AuditNotes{
		"payment_id": payment.ID.String(),
		"amount":     payment.Amount.String(),
		"method":     string(payment.Method),
		"status":     string(order.Status),
	}
	for k, v := range extraNotes {
		notes[k] = v
	}
	if err := s.appendAudit(ctx, order, billing.AuditActionPaymentRegistered, actor, notes); err != nil {
		return nil, err
	}

	s.logger.Info("Payment registered",
		zap.String("charge_order_id", order.ID.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.String("amount", payment.Amount.String()),
		zap.String("method", string(payment.Method)),
		zap.String("order_status", string(order.Status)))

	order.ClearDomainEvents()
	return &PaymentResult{Payment: payment, Balance: balance}, nil
}

func (s *ReconciliationService) appendAudit(ctx context.Context, order *billing.ChargeOrder, action billing.AuditAction, actor *uuid.UUID, notes billing.AuditNotes) error {
	event, err := billing.NewAuditEvent(order.InstitutionID, order.ID, action, actor, notes)
	if err != nil {
		return err
	}
	if err := s.auditRepo.Append(ctx, event); err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

func isConcurrencyConflict(err error) bool {
	if err == nil {
		return false
	}
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == "CONCURRENCY_CONFLICT" || domainErr.Code == "OPTIMISTIC_LOCK"
	}
	return false
}
