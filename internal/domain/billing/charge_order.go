package billing

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clinicops/backend/internal/domain/shared"
	"github.com/clinicops/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChargeOrderStatus represents the status of a charge order
type ChargeOrderStatus string

const (
	ChargeOrderStatusOpen          ChargeOrderStatus = "OPEN"           // No confirmed payments yet
	ChargeOrderStatusPartiallyPaid ChargeOrderStatus = "PARTIALLY_PAID" // 0 < paid < total
	ChargeOrderStatusPaid          ChargeOrderStatus = "PAID"           // paid >= total (overpayment allowed)
	ChargeOrderStatusVoid          ChargeOrderStatus = "VOID"           // Explicitly voided, terminal
)

// IsValid checks if the status is a valid ChargeOrderStatus
func (s ChargeOrderStatus) IsValid() bool {
	switch s {
	case ChargeOrderStatusOpen, ChargeOrderStatusPartiallyPaid, ChargeOrderStatusPaid, ChargeOrderStatusVoid:
		return true
	}
	return false
}

// String returns the string representation of ChargeOrderStatus
func (s ChargeOrderStatus) String() string {
	return string(s)
}

// IsTerminal returns true if no further payments are accepted
func (s ChargeOrderStatus) IsTerminal() bool {
	return s == ChargeOrderStatusVoid
}

// StatusFor derives the charge order status from the confirmed paid amount
// versus the issued total. Overpayment is not an error condition; paid >= total
// simply yields PAID.
func StatusFor(paidAmount, totalAmount decimal.Decimal) ChargeOrderStatus {
	switch {
	case paidAmount.LessThanOrEqual(decimal.Zero):
		return ChargeOrderStatusOpen
	case paidAmount.LessThan(totalAmount):
		return ChargeOrderStatusPartiallyPaid
	default:
		return ChargeOrderStatusPaid
	}
}

// ChargeItem represents one billable line on a charge order
type ChargeItem struct {
	Code        string          `json:"code"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// Validate checks the internal consistency of a charge item
func (i ChargeItem) Validate() *shared.DomainError {
	if i.Code == "" {
		return shared.NewDomainError("INVALID_ITEM", "Item code cannot be empty")
	}
	if i.Quantity <= 0 {
		return shared.NewDomainError("INVALID_ITEM", fmt.Sprintf("Item %s quantity must be positive", i.Code))
	}
	if i.UnitPrice.IsNegative() {
		return shared.NewDomainError("INVALID_ITEM", fmt.Sprintf("Item %s unit price cannot be negative", i.Code))
	}
	expected := i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
	if !i.Subtotal.Equal(expected) {
		return shared.NewDomainError("INVALID_ITEM", fmt.Sprintf("Item %s subtotal %s does not match quantity x unit price %s", i.Code, i.Subtotal, expected))
	}
	return nil
}

// ChargeItems is a slice of ChargeItem that implements GORM Scanner/Valuer for JSONB storage
type ChargeItems []ChargeItem

// Value implements driver.Valuer interface for GORM to store as JSONB
func (c ChargeItems) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner interface for GORM to read from JSONB
func (c *ChargeItems) Scan(value interface{}) error {
	if value == nil {
		*c = ChargeItems{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan ChargeItems: unsupported type")
	}

	if len(bytes) == 0 {
		*c = ChargeItems{}
		return nil
	}

	return json.Unmarshal(bytes, c)
}

// TotalAmount returns the sum of all item subtotals
func (c ChargeItems) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c {
		total = total.Add(item.Subtotal)
	}
	return total
}

// Balance is the reconciled view of a charge order's payment state.
// PaidAmount is always the sum of confirmed payment records; PendingAmount
// may be negative when the order is overpaid.
type Balance struct {
	TotalAmount   decimal.Decimal   `json:"total_amount"`
	PaidAmount    decimal.Decimal   `json:"paid_amount"`
	PendingAmount decimal.Decimal   `json:"pending_amount"`
	Status        ChargeOrderStatus `json:"status"`
}

// ChargeOrder is the billing aggregate for one clinical encounter.
// It holds the authoritative total fixed at issuance; paid and pending
// amounts are derived from confirmed payment records, never stored.
type ChargeOrder struct {
	shared.InstitutionAggregateRoot
	OrderNumber   string               `json:"order_number"`
	PatientID     uuid.UUID            `json:"patient_id"`
	AppointmentID uuid.UUID            `json:"appointment_id"`
	Items         ChargeItems          `json:"items"`
	TotalAmount   decimal.Decimal      `json:"total_amount"`
	Currency      valueobject.Currency `json:"currency"`
	Status        ChargeOrderStatus    `json:"status"`
	IssuedAt      time.Time            `json:"issued_at"`
	VoidedAt      *time.Time           `json:"voided_at"`
	VoidedBy      *uuid.UUID           `json:"voided_by"`
	VoidReason    string               `json:"void_reason"`
	Remark        string               `json:"remark"`
}

// NewChargeOrder creates a new charge order for a clinical encounter.
// The total is fixed at issuance as the sum of item subtotals.
func NewChargeOrder(
	institutionID uuid.UUID,
	orderNumber string,
	patientID uuid.UUID,
	appointmentID uuid.UUID,
	items []ChargeItem,
) (*ChargeOrder, error) {
	if orderNumber == "" {
		return nil, shared.NewDomainError("INVALID_ORDER_NUMBER", "Order number cannot be empty")
	}
	if len(orderNumber) > 50 {
		return nil, shared.NewDomainError("INVALID_ORDER_NUMBER", "Order number cannot exceed 50 characters")
	}
	if patientID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_PATIENT", "Patient ID cannot be empty")
	}
	if appointmentID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_APPOINTMENT", "Appointment ID cannot be empty")
	}
	if len(items) == 0 {
		return nil, shared.NewDomainError("INVALID_ITEMS", "Charge order must have at least one item")
	}
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return nil, err
		}
	}

	orderItems := ChargeItems(items)
	total := orderItems.TotalAmount()
	if total.LessThanOrEqual(decimal.Zero) {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Charge order total must be positive")
	}

	co := &ChargeOrder{
		InstitutionAggregateRoot: shared.NewInstitutionAggregateRoot(institutionID),
		OrderNumber:              orderNumber,
		PatientID:                patientID,
		AppointmentID:            appointmentID,
		Items:                    orderItems,
		TotalAmount:              total,
		Currency:                 valueobject.DefaultCurrency,
		Status:                   ChargeOrderStatusOpen,
		IssuedAt:                 time.Now(),
	}

	co.AddDomainEvent(NewChargeOrderCreatedEvent(co))

	return co, nil
}

// CanAcceptPayment returns true if payments may be registered against the order
func (co *ChargeOrder) CanAcceptPayment() bool {
	return !co.Status.IsTerminal()
}

// Reconcile recomputes the order status from the confirmed paid amount.
// paidAmount must be the sum of confirmed payment records, computed inside
// the same transaction that serializes writers on this order.
func (co *ChargeOrder) Reconcile(paidAmount decimal.Decimal) (*Balance, error) {
	if co.Status.IsTerminal() {
		return nil, shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot reconcile charge order in %s status", co.Status))
	}

	previous := co.Status
	co.Status = StatusFor(paidAmount, co.TotalAmount)
	co.UpdatedAt = time.Now()
	co.IncrementVersion()

	if co.Status != previous && co.Status == ChargeOrderStatusPaid {
		co.AddDomainEvent(NewChargeOrderPaidEvent(co, paidAmount))
	}

	return co.BalanceFor(paidAmount), nil
}

// BalanceFor builds the reconciled balance view for a given paid amount
func (co *ChargeOrder) BalanceFor(paidAmount decimal.Decimal) *Balance {
	return &Balance{
		TotalAmount:   co.TotalAmount,
		PaidAmount:    paidAmount,
		PendingAmount: co.TotalAmount.Sub(paidAmount),
		Status:        co.Status,
	}
}

// Void marks the order as void. Void is terminal; no further payments are
// accepted afterwards. Whether voiding a fully paid order requires an
// override permission is a policy decision of the caller, not enforced here.
func (co *ChargeOrder) Void(actor uuid.UUID, reason string) error {
	if co.Status == ChargeOrderStatusVoid {
		return shared.NewDomainError("INVALID_STATE", "Charge order is already void")
	}
	if reason == "" {
		return shared.NewDomainError("INVALID_REASON", "Void reason is required")
	}

	now := time.Now()
	previous := co.Status
	co.Status = ChargeOrderStatusVoid
	co.VoidedAt = &now
	co.VoidReason = reason
	if actor != uuid.Nil {
		co.VoidedBy = &actor
	}
	co.UpdatedAt = now
	co.IncrementVersion()

	co.AddDomainEvent(NewChargeOrderVoidedEvent(co, previous))

	return nil
}

// SetRemark sets the remark
func (co *ChargeOrder) SetRemark(remark string) {
	co.Remark = remark
	co.UpdatedAt = time.Now()
	co.IncrementVersion()
}

// GetTotalAmountMoney returns the total as Money
func (co *ChargeOrder) GetTotalAmountMoney() valueobject.Money {
	m, _ := valueobject.NewMoney(co.TotalAmount, co.Currency)
	return m
}

// IsOpen returns true if no confirmed payments have been applied
func (co *ChargeOrder) IsOpen() bool {
	return co.Status == ChargeOrderStatusOpen
}

// IsPaid returns true if the order is fully paid
func (co *ChargeOrder) IsPaid() bool {
	return co.Status == ChargeOrderStatusPaid
}

// IsVoid returns true if the order has been voided
func (co *ChargeOrder) IsVoid() bool {
	return co.Status == ChargeOrderStatusVoid
}

// ItemCount returns the number of billable lines
func (co *ChargeOrder) ItemCount() int {
	return len(co.Items)
}
