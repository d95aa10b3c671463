package persistence

import (
	"context"
	"errors"

	"github.com/clinicops/backend/internal/domain/billing"
	"github.com/clinicops/backend/internal/domain/shared"
	"github.com/clinicops/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormPaymentRecordRepository implements PaymentRecordRepository using GORM
type GormPaymentRecordRepository struct {
	db *gorm.DB
}

// NewGormPaymentRecordRepository creates a new GormPaymentRecordRepository
func NewGormPaymentRecordRepository(db *gorm.DB) *GormPaymentRecordRepository {
	return &GormPaymentRecordRepository{db: db}
}

// FindByID finds a payment record by ID for an institution.
// Returns nil without error when none exists.
func (r *GormPaymentRecordRepository) FindByID(ctx context.Context, institutionID, id uuid.UUID) (*billing.PaymentRecord, error) {
	var model models.PaymentRecordModel
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

// FindByChargeOrder finds all payment records for a charge order
func (r *GormPaymentRecordRepository) FindByChargeOrder(ctx context.Context, institutionID, chargeOrderID uuid.UUID) ([]billing.PaymentRecord, error) {
	var recordModels []models.PaymentRecordModel
	if err := dbFor(ctx, r.db).WithContext(ctx).
		Where("institution_id = ? AND charge_order_id = ?", institutionID, chargeOrderID).
		Order("received_at ASC").
		Find(&recordModels).Error; err != nil {
		return nil, err
	}
	return toDomainRecords(recordModels), nil
}

// FindConfirmedByChargeOrder finds confirmed payment records for a charge order
func (r *GormPaymentRecordRepository) FindConfirmedByChargeOrder(ctx context.Context, institutionID, chargeOrderID uuid.UUID) ([]billing.PaymentRecord, error) {
	var recordModels []models.PaymentRecordModel
	if err := dbFor(ctx, r.db).WithContext(ctx).
		Where("institution_id = ? AND charge_order_id = ? AND status = ?",
			institutionID, chargeOrderID, billing.PaymentStatusConfirmed).
		Order("received_at ASC").
		Find(&recordModels).Error; err != nil {
		return nil, err
	}
	return toDomainRecords(recordModels), nil
}

// FindByIdempotencyKey finds a confirmed payment with the given idempotency key
// under a charge order. Returns nil when none exists.
func (r *GormPaymentRecordRepository) FindByIdempotencyKey(ctx context.Context, institutionID, chargeOrderID uuid.UUID, key string) (*billing.PaymentRecord, error) {
	var model models.PaymentRecordModel
	if err := dbFor(ctx, r.db).WithContext(ctx).
		Where("institution_id = ? AND charge_order_id = ? AND idempotency_key = ? AND status = ?",
			institutionID, chargeOrderID, key, billing.PaymentStatusConfirmed).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindPendingByGatewayTransaction finds a pending payment by its gateway
// transaction ID. Returns nil without error when none exists, which the
// callback path reports as an unknown transaction.
func (r *GormPaymentRecordRepository) FindPendingByGatewayTransaction(ctx context.Context, transactionID string) (*billing.PaymentRecord, error) {
	var model models.PaymentRecordModel
	if err := dbFor(ctx, r.db).WithContext(ctx).
		Where("gateway_transaction_id = ? AND status = ?", transactionID, billing.PaymentStatusPending).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll finds payment records for an institution with filtering
func (r *GormPaymentRecordRepository) FindAll(ctx context.Context, institutionID uuid.UUID, filter billing.PaymentRecordFilter) ([]billing.PaymentRecord, int64, error) {
	countQuery := dbFor(ctx, r.db).WithContext(ctx).Model(&models.PaymentRecordModel{}).
		Where("institution_id = ?", institutionID)
	countQuery = r.applyFilter(countQuery, filter)

	var total int64
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	orderBy := ValidateSortField(filter.OrderBy, PaymentRecordSortFields, "received_at")
	orderDir := ValidateSortOrder(filter.OrderDir)

	query := dbFor(ctx, r.db).WithContext(ctx).Model(&models.PaymentRecordModel{}).
		Where("institution_id = ?", institutionID)
	query = r.applyFilter(query, filter)

	var recordModels []models.PaymentRecordModel
	if err := query.
		Order(orderBy + " " + orderDir).
		Offset(filter.Offset()).
		Limit(filter.Limit()).
		Find(&recordModels).Error; err != nil {
		return nil, 0, err
	}

	return toDomainRecords(recordModels), total, nil
}

// SumConfirmedByChargeOrder sums the amounts of confirmed payments for a charge order
func (r *GormPaymentRecordRepository) SumConfirmedByChargeOrder(ctx context.Context, institutionID, chargeOrderID uuid.UUID) (decimal.Decimal, error) {
	var result struct {
		Total decimal.Decimal
	}
	if err := dbFor(ctx, r.db).WithContext(ctx).
		Model(&models.PaymentRecordModel{}).
		Select("COALESCE(SUM(amount), 0) as total").
		Where("institution_id = ? AND charge_order_id = ? AND status = ?",
			institutionID, chargeOrderID, billing.PaymentStatusConfirmed).
		Scan(&result).Error; err != nil {
		return decimal.Zero, err
	}
	return result.Total, nil
}

// Save creates or updates a payment record. A unique violation on the
// idempotency-key index means a concurrent registration committed the same
// key first; it is reported as a concurrency conflict so the caller's retry
// re-runs the dedup lookup and returns the winner's committed result.
func (r *GormPaymentRecordRepository) Save(ctx context.Context, record *billing.PaymentRecord) error {
	model := models.PaymentRecordModelFromDomain(record)
	if err := dbFor(ctx, r.db).WithContext(ctx).Save(model).Error; err != nil {
		if isUniqueViolation(err) {
			return shared.ErrConcurrencyConflict
		}
		return err
	}
	return nil
}

// isUniqueViolation reports whether err is a unique constraint violation,
// either as translated by GORM or as a raw SQLSTATE 23505 from the driver.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var stateErr interface{ SQLState() string }
	if errors.As(err, &stateErr) {
		return stateErr.SQLState() == "23505"
	}
	return false
}

// applyFilter applies filter options to the query, without pagination or ordering
func (r *GormPaymentRecordRepository) applyFilter(query *gorm.DB, filter billing.PaymentRecordFilter) *gorm.DB {
	if filter.ChargeOrderID != nil {
		query = query.Where("charge_order_id = ?", *filter.ChargeOrderID)
	}
	if filter.Method != nil {
		query = query.Where("method = ?", *filter.Method)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.ManualOnly {
		query = query.Where("manual_verification = ?", true)
	}
	if filter.FromDate != nil {
		query = query.Where("received_at >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		query = query.Where("received_at <= ?", *filter.ToDate)
	}
	if filter.Search != "" {
		query = query.Where("reference_number ILIKE ?", "%"+filter.Search+"%")
	}
	return query
}

func toDomainRecords(recordModels []models.PaymentRecordModel) []billing.PaymentRecord {
	records := make([]billing.PaymentRecord, len(recordModels))
	for i, model := range recordModels {
		records[i] = *model.ToDomain()
	}
	return records
}

// Ensure GormPaymentRecordRepository implements PaymentRecordRepository
var _ billing.PaymentRecordRepository = (*GormPaymentRecordRepository)(nil)
