package models

import (
	"time"

	"github.com/clinicops/backend/internal/domain/billing"
	"github.com/clinicops/backend/internal/domain/shared"
	"github.com/clinicops/backend/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChargeOrderModel is the persistence model for the ChargeOrder aggregate root.
type ChargeOrderModel struct {
	InstitutionAggregateModel
	OrderNumber   string                    `gorm:"type:varchar(50);not null;uniqueIndex:idx_charge_order_institution_number,priority:2"`
	PatientID     uuid.UUID                 `gorm:"type:uuid;not null;index"`
	AppointmentID uuid.UUID                 `gorm:"type:uuid;not null;index"`
	Items         billing.ChargeItems       `gorm:"type:jsonb;not null;default:'[]'"`
	TotalAmount   decimal.Decimal           `gorm:"type:decimal(18,4);not null"`
	Currency      valueobject.Currency      `gorm:"type:varchar(3);not null;default:'VES'"`
	Status        billing.ChargeOrderStatus `gorm:"type:varchar(20);not null;default:'OPEN';index"`
	IssuedAt      time.Time                 `gorm:"not null;index"`
	VoidedAt      *time.Time
	VoidedBy      *uuid.UUID `gorm:"type:uuid"`
	VoidReason    string     `gorm:"type:varchar(500)"`
	Remark        string     `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (ChargeOrderModel) TableName() string {
	return "charge_orders"
}

// ToDomain converts the persistence model to a domain ChargeOrder entity.
func (m *ChargeOrderModel) ToDomain() *billing.ChargeOrder {
	order := &billing.ChargeOrder{
		OrderNumber:   m.OrderNumber,
		PatientID:     m.PatientID,
		AppointmentID: m.AppointmentID,
		Items:         m.Items,
		TotalAmount:   m.TotalAmount,
		Currency:      m.Currency,
		Status:        m.Status,
		IssuedAt:      m.IssuedAt,
		VoidedAt:      m.VoidedAt,
		VoidedBy:      m.VoidedBy,
		VoidReason:    m.VoidReason,
		Remark:        m.Remark,
	}
	m.PopulateInstitutionAggregateRoot(&order.InstitutionAggregateRoot)
	return order
}

// FromDomain populates the persistence model from a domain ChargeOrder entity.
func (m *ChargeOrderModel) FromDomain(order *billing.ChargeOrder) {
	m.FromDomainInstitutionAggregateRoot(order.InstitutionAggregateRoot)
	m.OrderNumber = order.OrderNumber
	m.PatientID = order.PatientID
	m.AppointmentID = order.AppointmentID
	m.Items = order.Items
	m.TotalAmount = order.TotalAmount
	m.Currency = order.Currency
	m.Status = order.Status
	m.IssuedAt = order.IssuedAt
	m.VoidedAt = order.VoidedAt
	m.VoidedBy = order.VoidedBy
	m.VoidReason = order.VoidReason
	m.Remark = order.Remark
}

// ChargeOrderModelFromDomain creates a new persistence model from a domain ChargeOrder.
func ChargeOrderModelFromDomain(order *billing.ChargeOrder) *ChargeOrderModel {
	m := &ChargeOrderModel{}
	m.FromDomain(order)
	return m
}

// PaymentRecordModel is the persistence model for payment records.
// The unique index on (charge_order_id, idempotency_key) enforces at-most-once
// registration per key at the database level, backing the service-level dedup.
type PaymentRecordModel struct {
	BaseModel
	InstitutionID        uuid.UUID             `gorm:"type:uuid;not null;index"`
	ChargeOrderID        uuid.UUID             `gorm:"type:uuid;not null;index;uniqueIndex:idx_payment_order_idem_key,priority:1"`
	AppointmentID        uuid.UUID             `gorm:"type:uuid;not null;index"`
	Amount               decimal.Decimal       `gorm:"type:decimal(18,4);not null"`
	Currency             valueobject.Currency  `gorm:"type:varchar(3);not null;default:'VES'"`
	Method               billing.PaymentMethod `gorm:"type:varchar(20);not null;index"`
	Status               billing.PaymentStatus `gorm:"type:varchar(20);not null;default:'PENDING';index"`
	ReferenceNumber      string                `gorm:"type:varchar(100)"`
	BankName             string                `gorm:"type:varchar(100)"`
	ReceivedBy           *uuid.UUID            `gorm:"type:uuid"`
	ReceivedAt           time.Time             `gorm:"not null;index"`
	ConfirmedAt          *time.Time
	RejectedAt           *time.Time
	RejectionReason      string  `gorm:"type:varchar(500)"`
	IdempotencyKey       *string `gorm:"type:varchar(100);uniqueIndex:idx_payment_order_idem_key,priority:2"`
	ManualVerification   bool    `gorm:"not null;default:false;index"`
	VerificationReason   string  `gorm:"type:varchar(500)"`
	GatewayTransactionID string  `gorm:"type:varchar(100);index"`
}

// TableName returns the table name for GORM
func (PaymentRecordModel) TableName() string {
	return "payment_records"
}

// ToDomain converts the persistence model to a domain PaymentRecord entity.
func (m *PaymentRecordModel) ToDomain() *billing.PaymentRecord {
	return &billing.PaymentRecord{
		BaseEntity: shared.BaseEntity{
			ID:        m.ID,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		InstitutionID:        m.InstitutionID,
		ChargeOrderID:        m.ChargeOrderID,
		AppointmentID:        m.AppointmentID,
		Amount:               m.Amount,
		Currency:             m.Currency,
		Method:               m.Method,
		Status:               m.Status,
		ReferenceNumber:      m.ReferenceNumber,
		BankName:             m.BankName,
		ReceivedBy:           m.ReceivedBy,
		ReceivedAt:           m.ReceivedAt,
		ConfirmedAt:          m.ConfirmedAt,
		RejectedAt:           m.RejectedAt,
		RejectionReason:      m.RejectionReason,
		IdempotencyKey:       m.IdempotencyKey,
		ManualVerification:   m.ManualVerification,
		VerificationReason:   m.VerificationReason,
		GatewayTransactionID: m.GatewayTransactionID,
	}
}

// FromDomain populates the persistence model from a domain PaymentRecord entity.
func (m *PaymentRecordModel) FromDomain(record *billing.PaymentRecord) {
	m.FromDomainBaseEntity(record.BaseEntity)
	m.InstitutionID = record.InstitutionID
	m.ChargeOrderID = record.ChargeOrderID
	m.AppointmentID = record.AppointmentID
	m.Amount = record.Amount
	m.Currency = record.Currency
	m.Method = record.Method
	m.Status = record.Status
	m.ReferenceNumber = record.ReferenceNumber
	m.BankName = record.BankName
	m.ReceivedBy = record.ReceivedBy
	m.ReceivedAt = record.ReceivedAt
	m.ConfirmedAt = record.ConfirmedAt
	m.RejectedAt = record.RejectedAt
	m.RejectionReason = record.RejectionReason
	m.IdempotencyKey = record.IdempotencyKey
	m.ManualVerification = record.ManualVerification
	m.VerificationReason = record.VerificationReason
	m.GatewayTransactionID = record.GatewayTransactionID
}

// PaymentRecordModelFromDomain creates a new persistence model from a domain PaymentRecord.
func PaymentRecordModelFromDomain(record *billing.PaymentRecord) *PaymentRecordModel {
	m := &PaymentRecordModel{}
	m.FromDomain(record)
	return m
}

// AuditEventModel is the persistence model for the append-only audit trail.
// Sequence is a database-assigned autoincrement, so the listing order reflects
// commit order even under concurrent writers.
type AuditEventModel struct {
	ID            uuid.UUID           `gorm:"type:uuid;primary_key"`
	Sequence      int64               `gorm:"autoIncrement;uniqueIndex"`
	InstitutionID uuid.UUID           `gorm:"type:uuid;not null;index"`
	ChargeOrderID uuid.UUID           `gorm:"type:uuid;not null;index"`
	Action        billing.AuditAction `gorm:"type:varchar(30);not null"`
	Actor         *uuid.UUID          `gorm:"type:uuid"`
	Notes         billing.AuditNotes  `gorm:"type:jsonb;not null;default:'{}'"`
	OccurredAt    time.Time           `gorm:"not null"`
}

// TableName returns the table name for GORM
func (AuditEventModel) TableName() string {
	return "charge_order_audit_events"
}

// ToDomain converts the persistence model to a domain AuditEvent.
func (m *AuditEventModel) ToDomain() *billing.AuditEvent {
	return &billing.AuditEvent{
		ID:            m.ID,
		InstitutionID: m.InstitutionID,
		ChargeOrderID: m.ChargeOrderID,
		Action:        m.Action,
		Actor:         m.Actor,
		Notes:         m.Notes,
		Sequence:      m.Sequence,
		OccurredAt:    m.OccurredAt,
	}
}

// FromDomain populates the persistence model from a domain AuditEvent.
// Sequence is left to the database.
func (m *AuditEventModel) FromDomain(event *billing.AuditEvent) {
	m.ID = event.ID
	m.InstitutionID = event.InstitutionID
	m.ChargeOrderID = event.ChargeOrderID
	m.Action = event.Action
	m.Actor = event.Actor
	m.Notes = event.Notes
	m.OccurredAt = event.OccurredAt
}

// AuditEventModelFromDomain creates a new persistence model from a domain AuditEvent.
func AuditEventModelFromDomain(event *billing.AuditEvent) *AuditEventModel {
	m := &AuditEventModel{}
	m.FromDomain(event)
	return m
}
