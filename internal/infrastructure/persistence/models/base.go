package models

import (
	"time"

	"github.com/clinicops/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// BaseModel provides common persistence fields for all models.
// It maps to the domain's BaseEntity.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// ToDomain converts BaseModel to domain BaseEntity
func (m *BaseModel) ToDomain() shared.BaseEntity {
	return shared.BaseEntity{
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// FromDomainBaseEntity populates BaseModel from domain BaseEntity
func (m *BaseModel) FromDomainBaseEntity(e shared.BaseEntity) {
	m.ID = e.ID
	m.CreatedAt = e.CreatedAt
	m.UpdatedAt = e.UpdatedAt
}

// AggregateModel provides common persistence fields for aggregate roots.
// It extends BaseModel with version for optimistic locking.
type AggregateModel struct {
	BaseModel
	Version int `gorm:"not null;default:1"`
}

// FromDomainAggregateRoot populates AggregateModel from domain BaseAggregateRoot
func (m *AggregateModel) FromDomainAggregateRoot(a shared.BaseAggregateRoot) {
	m.FromDomainBaseEntity(a.BaseEntity)
	m.Version = a.Version
}

// InstitutionAggregateModel provides common persistence fields for
// institution-scoped aggregate roots. It extends AggregateModel with the
// owning institution and creator info.
type InstitutionAggregateModel struct {
	AggregateModel
	InstitutionID uuid.UUID  `gorm:"type:uuid;not null;index"`
	CreatedBy     *uuid.UUID `gorm:"type:uuid;index"`
}

// FromDomainInstitutionAggregateRoot populates the model from a domain InstitutionAggregateRoot
func (m *InstitutionAggregateModel) FromDomainInstitutionAggregateRoot(a shared.InstitutionAggregateRoot) {
	m.FromDomainAggregateRoot(a.BaseAggregateRoot)
	m.InstitutionID = a.InstitutionID
	m.CreatedBy = a.CreatedBy
}

// PopulateInstitutionAggregateRoot populates a domain InstitutionAggregateRoot from the model
func (m *InstitutionAggregateModel) PopulateInstitutionAggregateRoot(a *shared.InstitutionAggregateRoot) {
	a.BaseAggregateRoot.BaseEntity.ID = m.ID
	a.BaseAggregateRoot.BaseEntity.CreatedAt = m.CreatedAt
	a.BaseAggregateRoot.BaseEntity.UpdatedAt = m.UpdatedAt
	a.BaseAggregateRoot.Version = m.Version
	a.InstitutionID = m.InstitutionID
	a.CreatedBy = m.CreatedBy
}
