package billing

import (
	"fmt"
	"time"

	"github.com/clinicops/backend/internal/domain/shared"
	"github.com/clinicops/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentMethod represents how a payment was made
type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "CASH"
	PaymentMethodCard     PaymentMethod = "CARD"
	PaymentMethodTransfer PaymentMethod = "TRANSFER"
	PaymentMethodMobile   PaymentMethod = "MOBILE" // P2C mobile payment via gateway
	PaymentMethodOther    PaymentMethod = "OTHER"
)

// IsValid checks if the method is a valid PaymentMethod
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodTransfer, PaymentMethodMobile, PaymentMethodOther:
		return true
	}
	return false
}

// String returns the string representation of PaymentMethod
func (m PaymentMethod) String() string {
	return string(m)
}

// RequiresReference returns true if the method requires a reference number
func (m PaymentMethod) RequiresReference() bool {
	return m == PaymentMethodCard || m == PaymentMethodTransfer
}

// RequiresBankName returns true if the method requires a bank name
func (m PaymentMethod) RequiresBankName() bool {
	return m == PaymentMethodTransfer
}

// PaymentStatus represents the status of a payment record
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"   // Awaiting gateway confirmation
	PaymentStatusConfirmed PaymentStatus = "CONFIRMED" // Money movement confirmed, counts toward paid amount
	PaymentStatusRejected  PaymentStatus = "REJECTED"  // Gateway rejected or verification failed
	PaymentStatusVoid      PaymentStatus = "VOID"      // Offset by a correction, excluded from reconciliation
)

// IsValid checks if the status is a valid PaymentStatus
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusConfirmed, PaymentStatusRejected, PaymentStatusVoid:
		return true
	}
	return false
}

// String returns the string representation of PaymentStatus
func (s PaymentStatus) String() string {
	return string(s)
}

// IsFinal returns true if the payment can no longer change status
func (s PaymentStatus) IsFinal() bool {
	return s == PaymentStatusConfirmed || s == PaymentStatusRejected || s == PaymentStatusVoid
}

// PaymentRecord represents a single money movement against a charge order.
// Once confirmed, amount and method are immutable; corrections are made by
// appending an offsetting record, never by editing.
type PaymentRecord struct {
	shared.BaseEntity
	InstitutionID        uuid.UUID            `json:"institution_id"`
	ChargeOrderID        uuid.UUID            `json:"charge_order_id"`
	AppointmentID        uuid.UUID            `json:"appointment_id"`
	Amount               decimal.Decimal      `json:"amount"`
	Currency             valueobject.Currency `json:"currency"`
	Method               PaymentMethod        `json:"method"`
	Status               PaymentStatus        `json:"status"`
	ReferenceNumber      string               `json:"reference_number,omitempty"`
	BankName             string               `json:"bank_name,omitempty"`
	ReceivedBy           *uuid.UUID           `json:"received_by,omitempty"`
	ReceivedAt           time.Time            `json:"received_at"`
	ConfirmedAt          *time.Time           `json:"confirmed_at,omitempty"`
	RejectedAt           *time.Time           `json:"rejected_at,omitempty"`
	RejectionReason      string               `json:"rejection_reason,omitempty"`
	IdempotencyKey       *string              `json:"idempotency_key,omitempty"`
	ManualVerification   bool                 `json:"manual_verification"`
	VerificationReason   string               `json:"verification_reason,omitempty"`
	GatewayTransactionID string               `json:"gateway_transaction_id,omitempty"`
}

// PaymentDetails carries the method-specific and idempotency metadata of a
// payment intent submitted to the reconciliation engine.
type PaymentDetails struct {
	ReferenceNumber string
	BankName        string
	ReceivedBy      *uuid.UUID
	IdempotencyKey  string
}

func validatePayment(chargeOrderID uuid.UUID, amount decimal.Decimal, method PaymentMethod, details PaymentDetails) *shared.DomainError {
	if chargeOrderID == uuid.Nil {
		return shared.NewDomainError("INVALID_CHARGE_ORDER", "Charge order ID cannot be empty")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return shared.NewDomainError("INVALID_AMOUNT", "Payment amount must be positive")
	}
	if !method.IsValid() {
		return shared.NewDomainError("INVALID_METHOD", fmt.Sprintf("Payment method %s is not valid", method))
	}
	if method.RequiresReference() && details.ReferenceNumber == "" {
		return shared.NewDomainError("MISSING_REFERENCE", fmt.Sprintf("Reference number is required for %s payments", method))
	}
	if method.RequiresBankName() && details.BankName == "" {
		return shared.NewDomainError("MISSING_BANK_NAME", fmt.Sprintf("Bank name is required for %s payments", method))
	}
	return nil
}

func newPaymentRecord(order *ChargeOrder, amount decimal.Decimal, method PaymentMethod, status PaymentStatus, details PaymentDetails) *PaymentRecord {
	p := &PaymentRecord{
		BaseEntity:      shared.NewBaseEntity(),
		InstitutionID:   order.InstitutionID,
		ChargeOrderID:   order.ID,
		AppointmentID:   order.AppointmentID,
		Amount:          amount,
		Currency:        order.Currency,
		Method:          method,
		Status:          status,
		ReferenceNumber: details.ReferenceNumber,
		BankName:        details.BankName,
		ReceivedBy:      details.ReceivedBy,
		ReceivedAt:      time.Now(),
	}
	if details.IdempotencyKey != "" {
		key := details.IdempotencyKey
		p.IdempotencyKey = &key
	}
	if status == PaymentStatusConfirmed {
		now := p.ReceivedAt
		p.ConfirmedAt = &now
	}
	return p
}

// NewConfirmedPayment creates a payment record that is confirmed synchronously.
// Used for cash and other at-the-desk methods where the money movement is
// witnessed directly.
func NewConfirmedPayment(order *ChargeOrder, amount decimal.Decimal, method PaymentMethod, details PaymentDetails) (*PaymentRecord, error) {
	if err := validatePayment(order.ID, amount, method, details); err != nil {
		return nil, err
	}
	return newPaymentRecord(order, amount, method, PaymentStatusConfirmed, details), nil
}

// NewPendingPayment creates a payment record awaiting gateway confirmation.
// The record does not count toward the paid amount until confirmed.
func NewPendingPayment(order *ChargeOrder, amount decimal.Decimal, method PaymentMethod, gatewayTxID string, details PaymentDetails) (*PaymentRecord, error) {
	if err := validatePayment(order.ID, amount, method, details); err != nil {
		return nil, err
	}
	p := newPaymentRecord(order, amount, method, PaymentStatusPending, details)
	p.GatewayTransactionID = gatewayTxID
	return p, nil
}

// NewManualPayment creates a human-asserted payment confirmation, used when
// the automated gateway channel is unavailable. Reference number and bank
// name are always required on this path, and the record carries a
// manual-verification flag with the operator's stated reason.
func NewManualPayment(order *ChargeOrder, amount decimal.Decimal, reason string, details PaymentDetails) (*PaymentRecord, error) {
	if details.ReferenceNumber == "" {
		return nil, shared.NewDomainError("MISSING_REFERENCE", "Reference number is required for manual verification")
	}
	if details.BankName == "" {
		return nil, shared.NewDomainError("MISSING_BANK_NAME", "Bank name is required for manual verification")
	}
	if reason == "" {
		return nil, shared.NewDomainError("INVALID_REASON", "Manual verification reason is required")
	}
	if err := validatePayment(order.ID, amount, PaymentMethodTransfer, details); err != nil {
		return nil, err
	}
	p := newPaymentRecord(order, amount, PaymentMethodTransfer, PaymentStatusConfirmed, details)
	p.ManualVerification = true
	p.VerificationReason = reason
	return p, nil
}

// Confirm transitions a pending payment to confirmed, optionally recording
// the gateway-provided reference.
func (p *PaymentRecord) Confirm(gatewayReference string) error {
	if p.Status != PaymentStatusPending {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot confirm payment in %s status", p.Status))
	}
	now := time.Now()
	p.Status = PaymentStatusConfirmed
	p.ConfirmedAt = &now
	if gatewayReference != "" {
		p.ReferenceNumber = gatewayReference
	}
	p.UpdatedAt = now
	return nil
}

// Reject transitions a pending payment to rejected
func (p *PaymentRecord) Reject(reason string) error {
	if p.Status != PaymentStatusPending {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot reject payment in %s status", p.Status))
	}
	now := time.Now()
	p.Status = PaymentStatusRejected
	p.RejectedAt = &now
	p.RejectionReason = reason
	p.UpdatedAt = now
	return nil
}

// IsConfirmed returns true if the payment counts toward the paid amount
func (p *PaymentRecord) IsConfirmed() bool {
	return p.Status == PaymentStatusConfirmed
}

// IsPending returns true if the payment awaits gateway confirmation
func (p *PaymentRecord) IsPending() bool {
	return p.Status == PaymentStatusPending
}

// GetAmountMoney returns the amount as Money
func (p *PaymentRecord) GetAmountMoney() valueobject.Money {
	m, _ := valueobject.NewMoney(p.Amount, p.Currency)
	return m
}

// HasIdempotencyKey returns true if the record carries an idempotency key
func (p *PaymentRecord) HasIdempotencyKey() bool {
	return p.IdempotencyKey != nil && *p.IdempotencyKey != ""
}
