package billing

import (
	"context"
	"time"

	"github.com/clinicops/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionManager runs a function within a single persistence transaction.
// All repository calls made with the context passed to fn participate in the
// same transaction; the reconciliation engine uses this so that the payment
// insert, charge order update, and audit append commit or roll back together.
type TransactionManager interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ChargeOrderFilter defines filtering options for charge order queries
type ChargeOrderFilter struct {
	shared.Filter
	PatientID     *uuid.UUID         // Filter by patient
	AppointmentID *uuid.UUID         // Filter by appointment
	Status        *ChargeOrderStatus // Filter by status
	IssuedFrom    *time.Time         // Filter by issue date range start
	IssuedTo      *time.Time         // Filter by issue date range end
}

// ChargeOrderRepository defines the interface for charge order persistence.
// Single-row finders return (nil, nil) on a miss; translating a miss into
// NOT_FOUND is the caller's decision, not the repository's.
type ChargeOrderRepository interface {
	// FindByID finds a charge order by ID for an institution.
	// Returns nil without error when none exists.
	FindByID(ctx context.Context, institutionID, id uuid.UUID) (*ChargeOrder, error)

	// FindByOrderNumber finds a charge order by order number for an
	// institution. Returns nil without error when none exists.
	FindByOrderNumber(ctx context.Context, institutionID uuid.UUID, orderNumber string) (*ChargeOrder, error)

	// FindByAppointment finds charge orders for an appointment
	FindByAppointment(ctx context.Context, institutionID, appointmentID uuid.UUID) ([]ChargeOrder, error)

	// FindAll finds charge orders for an institution with filtering
	FindAll(ctx context.Context, institutionID uuid.UUID, filter ChargeOrderFilter) ([]ChargeOrder, int64, error)

	// Save creates or updates a charge order
	Save(ctx context.Context, order *ChargeOrder) error

	// SaveWithLock saves with optimistic locking (version check).
	// Returns shared.ErrConcurrencyConflict when another writer committed first.
	SaveWithLock(ctx context.Context, order *ChargeOrder) error

	// ExistsByOrderNumber checks if an order number exists for an institution
	ExistsByOrderNumber(ctx context.Context, institutionID uuid.UUID, orderNumber string) (bool, error)

	// GenerateOrderNumber generates a unique order number for an institution
	GenerateOrderNumber(ctx context.Context, institutionID uuid.UUID) (string, error)
}

// PaymentRecordFilter defines filtering options for payment record queries
type PaymentRecordFilter struct {
	shared.Filter
	ChargeOrderID *uuid.UUID     // Filter by charge order
	Method        *PaymentMethod // Filter by method
	Status        *PaymentStatus // Filter by status
	ManualOnly    bool           // Only manually verified payments
	FromDate      *time.Time     // Filter by received date range start
	ToDate        *time.Time     // Filter by received date range end
}

// PaymentRecordRepository defines the interface for payment record
// persistence. Single-row finders return (nil, nil) on a miss, matching
// ChargeOrderRepository.
type PaymentRecordRepository interface {
	// FindByID finds a payment record by ID for an institution.
	// Returns nil without error when none exists.
	FindByID(ctx context.Context, institutionID, id uuid.UUID) (*PaymentRecord, error)

	// FindByChargeOrder finds all payment records for a charge order
	FindByChargeOrder(ctx context.Context, institutionID, chargeOrderID uuid.UUID) ([]PaymentRecord, error)

	// FindConfirmedByChargeOrder finds confirmed payment records for a charge order
	FindConfirmedByChargeOrder(ctx context.Context, institutionID, chargeOrderID uuid.UUID) ([]PaymentRecord, error)

	// FindByIdempotencyKey finds a confirmed payment with the given
	// idempotency key under a charge order. Returns nil when none exists.
	FindByIdempotencyKey(ctx context.Context, institutionID, chargeOrderID uuid.UUID, key string) (*PaymentRecord, error)

	// FindPendingByGatewayTransaction finds a pending payment by its gateway
	// transaction ID. Returns nil without error when none exists.
	FindPendingByGatewayTransaction(ctx context.Context, transactionID string) (*PaymentRecord, error)

	// FindAll finds payment records for an institution with filtering
	FindAll(ctx context.Context, institutionID uuid.UUID, filter PaymentRecordFilter) ([]PaymentRecord, int64, error)

	// SumConfirmedByChargeOrder sums the amounts of confirmed payments for a charge order
	SumConfirmedByChargeOrder(ctx context.Context, institutionID, chargeOrderID uuid.UUID) (decimal.Decimal, error)

	// Save creates or updates a payment record. A concurrent insert that
	// already committed the same idempotency key surfaces as
	// shared.ErrConcurrencyConflict so the caller's retry can deduplicate.
	Save(ctx context.Context, record *PaymentRecord) error
}

// AuditEventRepository defines the interface for the append-only audit trail
type AuditEventRepository interface {
	// Append appends an event to a charge order's history. Never fails due
	// to business rules; it records, it does not gate.
	Append(ctx context.Context, event *AuditEvent) error

	// ListByChargeOrder lists events for a charge order ordered by commit
	// sequence ascending. Safe to re-query.
	ListByChargeOrder(ctx context.Context, institutionID, chargeOrderID uuid.UUID) ([]AuditEvent, error)

	// CountByChargeOrder counts events for a charge order
	CountByChargeOrder(ctx context.Context, institutionID, chargeOrderID uuid.UUID) (int64, error)
}
