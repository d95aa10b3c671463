package billing

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/clinicops/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// AuditAction represents a state-changing operation on a charge order
type AuditAction string

const (
	AuditActionCreated           AuditAction = "CREATED"
	AuditActionPaymentRegistered AuditAction = "PAYMENT_REGISTERED"
	AuditActionVoided            AuditAction = "VOIDED"
)

// IsValid checks if the action is a valid AuditAction
func (a AuditAction) IsValid() bool {
	switch a {
	case AuditActionCreated, AuditActionPaymentRegistered, AuditActionVoided:
		return true
	}
	return false
}

// String returns the string representation of AuditAction
func (a AuditAction) String() string {
	return string(a)
}

// AuditNotes holds structured detail for an audit event, stored as JSONB
type AuditNotes map[string]any

// Value implements driver.Valuer interface for GORM to store as JSONB
func (n AuditNotes) Value() (driver.Value, error) {
	if n == nil {
		return "{}", nil
	}
	return json.Marshal(n)
}

// Scan implements sql.Scanner interface for GORM to read from JSONB
func (n *AuditNotes) Scan(value interface{}) error {
	if value == nil {
		*n = AuditNotes{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan AuditNotes: unsupported type")
	}

	if len(bytes) == 0 {
		*n = AuditNotes{}
		return nil
	}

	return json.Unmarshal(bytes, n)
}

// AuditEvent is one entry in a charge order's append-only history.
// Events are never mutated or deleted; their order per charge order is the
// commit order of the serialized mutations that produced them, recorded as
// Sequence by the persistence layer.
type AuditEvent struct {
	ID            uuid.UUID   `json:"id"`
	InstitutionID uuid.UUID   `json:"institution_id"`
	ChargeOrderID uuid.UUID   `json:"charge_order_id"`
	Action        AuditAction `json:"action"`
	Actor         *uuid.UUID  `json:"actor,omitempty"`
	Notes         AuditNotes  `json:"notes"`
	Sequence      int64       `json:"sequence"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

// NewAuditEvent creates a new audit event for a charge order
func NewAuditEvent(institutionID, chargeOrderID uuid.UUID, action AuditAction, actor *uuid.UUID, notes AuditNotes) (*AuditEvent, error) {
	if chargeOrderID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_CHARGE_ORDER", "Charge order ID cannot be empty")
	}
	if !action.IsValid() {
		return nil, shared.NewDomainError("INVALID_ACTION", "Audit action is not valid")
	}
	if notes == nil {
		notes = AuditNotes{}
	}
	return &AuditEvent{
		ID:            uuid.New(),
		InstitutionID: institutionID,
		ChargeOrderID: chargeOrderID,
		Action:        action,
		Actor:         actor,
		Notes:         notes,
		OccurredAt:    time.Now(),
	}, nil
}
