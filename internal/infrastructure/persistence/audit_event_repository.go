package persistence

import (
	"context"

	"github.com/clinicops/backend/internal/domain/billing"
	"github.com/clinicops/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormAuditEventRepository implements AuditEventRepository using GORM.
// The table is append-only: no update or delete path exists here.
type GormAuditEventRepository struct {
	db *gorm.DB
}

// NewGormAuditEventRepository creates a new GormAuditEventRepository
func NewGormAuditEventRepository(db *gorm.DB) *GormAuditEventRepository {
	return &GormAuditEventRepository{db: db}
}

// Append appends an event to a charge order's history. The database assigns
// the sequence number, so ordering reflects commit order.
func (r *GormAuditEventRepository) Append(ctx context.Context, event *billing.AuditEvent) error {
	model := models.AuditEventModelFromDomain(event)
	if err := dbFor(ctx, r.db).WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	event.Sequence = model.Sequence
	return nil
}

// ListByChargeOrder lists events for a charge order ordered by sequence ascending
func (r *GormAuditEventRepository) ListByChargeOrder(ctx context.Context, institutionID, chargeOrderID uuid.UUID) ([]billing.AuditEvent, error) {
	var eventModels []models.AuditEventModel
	if err := dbFor(ctx, r.db).WithContext(ctx).
		Where("institution_id = ? AND charge_order_id = ?", institutionID, chargeOrderID).
		Order("sequence ASC").
		Find(&eventModels).Error; err != nil {
		return nil, err
	}
	events := make([]billing.AuditEvent, len(eventModels))
	for i, model := range eventModels {
		events[i] = *model.ToDomain()
	}
	return events, nil
}

// CountByChargeOrder counts events for a charge order
func (r *GormAuditEventRepository) CountByChargeOrder(ctx context.Context, institutionID, chargeOrderID uuid.UUID) (int64, error) {
	var count int64
	if err := dbFor(ctx, r.db).WithContext(ctx).
		Model(&models.AuditEventModel{}).
		Where("institution_id = ? AND charge_order_id = ?", institutionID, chargeOrderID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Ensure GormAuditEventRepository implements AuditEventRepository
var _ billing.AuditEventRepository = (*GormAuditEventRepository)(nil)
