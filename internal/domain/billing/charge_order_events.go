package billing

import (
	"time"

	"github.com/clinicops/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChargeOrderCreatedEvent is raised when a charge order is issued
type ChargeOrderCreatedEvent struct {
	shared.BaseDomainEvent
	ChargeOrderID uuid.UUID       `json:"charge_order_id"`
	OrderNumber   string          `json:"order_number"`
	PatientID     uuid.UUID       `json:"patient_id"`
	AppointmentID uuid.UUID       `json:"appointment_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	ItemCount     int             `json:"item_count"`
}

// EventType returns the event type name
func (e *ChargeOrderCreatedEvent) EventType() string {
	return "ChargeOrderCreated"
}

// NewChargeOrderCreatedEvent creates a new ChargeOrderCreatedEvent
func NewChargeOrderCreatedEvent(co *ChargeOrder) *ChargeOrderCreatedEvent {
	return &ChargeOrderCreatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("ChargeOrderCreated", "ChargeOrder", co.ID, co.InstitutionID),
		ChargeOrderID:   co.ID,
		OrderNumber:     co.OrderNumber,
		PatientID:       co.PatientID,
		AppointmentID:   co.AppointmentID,
		TotalAmount:     co.TotalAmount,
		ItemCount:       co.ItemCount(),
	}
}

// ChargeOrderPaidEvent is raised when a charge order becomes fully paid
type ChargeOrderPaidEvent struct {
	shared.BaseDomainEvent
	ChargeOrderID uuid.UUID       `json:"charge_order_id"`
	OrderNumber   string          `json:"order_number"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
}

// EventType returns the event type name
func (e *ChargeOrderPaidEvent) EventType() string {
	return "ChargeOrderPaid"
}

// NewChargeOrderPaidEvent creates a new ChargeOrderPaidEvent
func NewChargeOrderPaidEvent(co *ChargeOrder, paidAmount decimal.Decimal) *ChargeOrderPaidEvent {
	return &ChargeOrderPaidEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("ChargeOrderPaid", "ChargeOrder", co.ID, co.InstitutionID),
		ChargeOrderID:   co.ID,
		OrderNumber:     co.OrderNumber,
		TotalAmount:     co.TotalAmount,
		PaidAmount:      paidAmount,
	}
}

// ChargeOrderVoidedEvent is raised when a charge order is voided
type ChargeOrderVoidedEvent struct {
	shared.BaseDomainEvent
	ChargeOrderID  uuid.UUID         `json:"charge_order_id"`
	OrderNumber    string            `json:"order_number"`
	PreviousStatus ChargeOrderStatus `json:"previous_status"`
	VoidReason     string            `json:"void_reason"`
	VoidedAt       time.Time         `json:"voided_at"`
}

// EventType returns the event type name
func (e *ChargeOrderVoidedEvent) EventType() string {
	return "ChargeOrderVoided"
}

// NewChargeOrderVoidedEvent creates a new ChargeOrderVoidedEvent
func NewChargeOrderVoidedEvent(co *ChargeOrder, previous ChargeOrderStatus) *ChargeOrderVoidedEvent {
	voidedAt := time.Now()
	if co.VoidedAt != nil {
		voidedAt = *co.VoidedAt
	}
	return &ChargeOrderVoidedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent("ChargeOrderVoided", "ChargeOrder", co.ID, co.InstitutionID),
		ChargeOrderID:   co.ID,
		OrderNumber:     co.OrderNumber,
		PreviousStatus:  previous,
		VoidReason:      co.VoidReason,
		VoidedAt:        voidedAt,
	}
}
