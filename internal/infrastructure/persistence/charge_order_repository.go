package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clinicops/backend/internal/domain/billing"
	"github.com/clinicops/backend/internal/domain/shared"
	"github.com/clinicops/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormChargeOrderRepository implements ChargeOrderRepository using GORM
type GormChargeOrderRepository struct {
	db *gorm.DB
}

// NewGormChargeOrderRepository creates a new GormChargeOrderRepository
func NewGormChargeOrderRepository(db *gorm.DB) *GormChargeOrderRepository {
	return &GormChargeOrderRepository{db: db}
}

// FindByID finds a charge order by ID for an institution.
// Returns nil without error when none exists; callers decide whether a miss
// is an error.
func (r *GormChargeOrderRepository) FindByID(ctx context.Context, institutionID, id uuid.UUID) (*billing.ChargeOrder, error) {
	var model models.ChargeOrderModel
	if err := dbFor(ctx, r.db).WithContext(ctx).
		Where("institution_id = ? AND id = ?", institutionID, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByOrderNumber finds a charge order by order number for an institution.
// Returns nil without error when none exists.
func (r *GormChargeOrderRepository) FindByOrderNumber(ctx context.Context, institutionID uuid.UUID, orderNumber string) (*billing.ChargeOrder, error) {
	var model models.ChargeOrderModel
	if err := dbFor(ctx, r.db).WithContext(ctx).
		Where("institution_id = ? AND order_number = ?", institutionID, orderNumber).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByAppointment finds charge orders for an appointment
func (r *GormChargeOrderRepository) FindByAppointment(ctx context.Context, institutionID, appointmentID uuid.UUID) ([]billing.ChargeOrder, error) {
	var orderModels []models.ChargeOrderModel
	if err := dbFor(ctx, r.db).WithContext(ctx).
		Where("institution_id = ? AND appointment_id = ?", institutionID, appointmentID).
		Order("issued_at ASC").
		Find(&orderModels).Error; err != nil {
		return nil, err
	}
	orders := make([]billing.ChargeOrder, len(orderModels))
	for i, model := range orderModels {
		orders[i] = *model.ToDomain()
	}
	return orders, nil
}

// FindAll finds charge orders for an institution with filtering
func (r *GormChargeOrderRepository) FindAll(ctx context.Context, institutionID uuid.UUID, filter billing.ChargeOrderFilter) ([]billing.ChargeOrder, int64, error) {
	countQuery := dbFor(ctx, r.db).WithContext(ctx).Model(&models.ChargeOrderModel{}).
		Where("institution_id = ?", institutionID)
	countQuery = r.applyFilter(countQuery, filter)

	var total int64
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	orderBy := ValidateSortField(filter.OrderBy, ChargeOrderSortFields, "created_at")
	orderDir := ValidateSortOrder(filter.OrderDir)

	query := dbFor(ctx, r.db).WithContext(ctx).Model(&models.ChargeOrderModel{}).
		Where("institution_id = ?", institutionID)
	query = r.applyFilter(query, filter)

	var orderModels []models.ChargeOrderModel
	if err := query.
		Order(orderBy + " " + orderDir).
		Offset(filter.Offset()).
		Limit(filter.Limit()).
		Find(&orderModels).Error; err != nil {
		return nil, 0, err
	}

	orders := make([]billing.ChargeOrder, len(orderModels))
	for i, model := range orderModels {
		orders[i] = *model.ToDomain()
	}
	return orders, total, nil
}

// Save creates or updates a charge order
func (r *GormChargeOrderRepository) Save(ctx context.Context, order *billing.ChargeOrder) error {
	model := models.ChargeOrderModelFromDomain(order)
	return dbFor(ctx, r.db).WithContext(ctx).Save(model).Error
}

// SaveWithLock saves with optimistic locking. The update only matches when the
// stored version is the one the aggregate was loaded at; zero rows affected
// means another writer committed first.
func (r *GormChargeOrderRepository) SaveWithLock(ctx context.Context, order *billing.ChargeOrder) error {
	model := models.ChargeOrderModelFromDomain(order)
	result := dbFor(ctx, r.db).WithContext(ctx).
		Model(model).
		Where("id = ? AND version = ?", order.ID, order.Version-1).
		Updates(model)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrConcurrencyConflict
	}
	return nil
}

// ExistsByOrderNumber checks if an order number exists for an institution
func (r *GormChargeOrderRepository) ExistsByOrderNumber(ctx context.Context, institutionID uuid.UUID, orderNumber string) (bool, error) {
	var count int64
	if err := dbFor(ctx, r.db).WithContext(ctx).
		Model(&models.ChargeOrderModel{}).
		Where("institution_id = ? AND order_number = ?", institutionID, orderNumber).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GenerateOrderNumber generates a unique order number for an institution.
// Format: CO-YYYYMMDD-XXXXX
func (r *GormChargeOrderRepository) GenerateOrderNumber(ctx context.Context, institutionID uuid.UUID) (string, error) {
	date := time.Now().Format("20060102")
	prefix := fmt.Sprintf("CO-%s-", date)

	var maxNumber string
	if err := dbFor(ctx, r.db).WithContext(ctx).
		Model(&models.ChargeOrderModel{}).
		Select("order_number").
		Where("institution_id = ? AND order_number LIKE ?", institutionID, prefix+"%").
		Order("order_number DESC").
		Limit(1).
		Pluck("order_number", &maxNumber).Error; err != nil {
		return "", err
	}

	var nextNum int
	if maxNumber != "" {
		parts := strings.Split(maxNumber, "-")
		if len(parts) == 3 {
			fmt.Sscanf(parts[2], "%d", &nextNum)
		}
	}
	nextNum++

	return fmt.Sprintf("%s%05d", prefix, nextNum), nil
}

// applyFilter applies filter options to the query, without pagination or ordering
func (r *GormChargeOrderRepository) applyFilter(query *gorm.DB, filter billing.ChargeOrderFilter) *gorm.DB {
	if filter.Search != "" {
		query = query.Where("order_number ILIKE ?", "%"+filter.Search+"%")
	}
	if filter.PatientID != nil {
		query = query.Where("patient_id = ?", *filter.PatientID)
	}
	if filter.AppointmentID != nil {
		query = query.Where("appointment_id = ?", *filter.AppointmentID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.IssuedFrom != nil {
		query = query.Where("issued_at >= ?", *filter.IssuedFrom)
	}
	if filter.IssuedTo != nil {
		query = query.Where("issued_at <= ?", *filter.IssuedTo)
	}
	return query
}

// Ensure GormChargeOrderRepository implements ChargeOrderRepository
var _ billing.ChargeOrderRepository = (*GormChargeOrderRepository)(nil)
