package persistence

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/clinicops/backend/internal/domain/billing"
	"github.com/clinicops/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestGormPaymentRecordRepository_FindByIdempotencyKey(t *testing.T) {
	t.Run("returns record for known key", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()
		repo := NewGormPaymentRecordRepository(gormDB)

		institutionID := uuid.New()
		chargeOrderID := uuid.New()
		paymentID := uuid.New()
		key := "IDEMP-001"

		rows := sqlmock.NewRows([]string{"id", "institution_id", "charge_order_id", "amount", "method", "status", "idempotency_key"}).
			AddRow(paymentID, institutionID, chargeOrderID, decimal.NewFromFloat(50.00), "CASH", "CONFIRMED", key)

		mock.ExpectQuery(`SELECT \* FROM "payment_records" WHERE institution_id = \$1 AND charge_order_id = \$2 AND idempotency_key = \$3 AND status = \$4`).
			WithArgs(institutionID, chargeOrderID, key, string(billing.PaymentStatusConfirmed), 1).
			WillReturnRows(rows)

		record, err := repo.FindByIdempotencyKey(context.Background(), institutionID, chargeOrderID, key)
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, paymentID, record.ID)
		require.NotNil(t, record.IdempotencyKey)
		assert.Equal(t, key, *record.IdempotencyKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns nil without error for unknown key", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()
		repo := NewGormPaymentRecordRepository(gormDB)

		mock.ExpectQuery(`SELECT \* FROM "payment_records"`).
			WillReturnError(gorm.ErrRecordNotFound)

		record, err := repo.FindByIdempotencyKey(context.Background(), uuid.New(), uuid.New(), "missing")
		require.NoError(t, err)
		assert.Nil(t, record)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("only matches confirmed records", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()
		repo := NewGormPaymentRecordRepository(gormDB)

		institutionID := uuid.New()
		chargeOrderID := uuid.New()
		key := "IDEMP-002"

		// A pending or rejected record under the same key must not satisfy
		// the dedup lookup; the query itself carries the confirmed filter.
		mock.ExpectQuery(`SELECT \* FROM "payment_records" WHERE institution_id = \$1 AND charge_order_id = \$2 AND idempotency_key = \$3 AND status = \$4`).
			WithArgs(institutionID, chargeOrderID, key, string(billing.PaymentStatusConfirmed), 1).
			WillReturnError(gorm.ErrRecordNotFound)

		record, err := repo.FindByIdempotencyKey(context.Background(), institutionID, chargeOrderID, key)
		require.NoError(t, err)
		assert.Nil(t, record)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

// uniqueViolationError mimics the driver error raised when an insert hits a
// unique index.
type uniqueViolationError struct{}

func (uniqueViolationError) Error() string {
	return `duplicate key value violates unique constraint "idx_payment_order_idem_key"`
}

func (uniqueViolationError) SQLState() string { return "23505" }

func TestGormPaymentRecordRepository_Save_UniqueViolation(t *testing.T) {
	newConfirmedRecord := func(t *testing.T) *billing.PaymentRecord {
		t.Helper()
		order, err := billing.NewChargeOrder(uuid.New(), "CO-20250101-00009", uuid.New(), uuid.New(), []billing.ChargeItem{
			{Code: "CONS", Description: "Consultation", Quantity: 1, UnitPrice: decimal.NewFromInt(100), Subtotal: decimal.NewFromInt(100)},
		})
		require.NoError(t, err)
		record, err := billing.NewConfirmedPayment(order, decimal.NewFromInt(100), billing.PaymentMethodCash, billing.PaymentDetails{
			IdempotencyKey: "IDEMP-RACE",
		})
		require.NoError(t, err)
		return record
	}

	t.Run("translates driver unique violation to concurrency conflict", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()
		repo := NewGormPaymentRecordRepository(gormDB)

		mock.ExpectExec(`UPDATE "payment_records"`).
			WillReturnError(uniqueViolationError{})

		err := repo.Save(context.Background(), newConfirmedRecord(t))
		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("translates gorm duplicated key to concurrency conflict", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()
		repo := NewGormPaymentRecordRepository(gormDB)

		mock.ExpectExec(`UPDATE "payment_records"`).
			WillReturnError(gorm.ErrDuplicatedKey)

		err := repo.Save(context.Background(), newConfirmedRecord(t))
		assert.ErrorIs(t, err, shared.ErrConcurrencyConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("passes through unrelated errors", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()
		repo := NewGormPaymentRecordRepository(gormDB)

		mock.ExpectExec(`UPDATE "payment_records"`).
			WillReturnError(sql.ErrConnDone)

		err := repo.Save(context.Background(), newConfirmedRecord(t))
		assert.ErrorIs(t, err, sql.ErrConnDone)
		assert.NotErrorIs(t, err, shared.ErrConcurrencyConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormPaymentRecordRepository_FindPendingByGatewayTransaction(t *testing.T) {
	t.Run("finds pending payment", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()
		repo := NewGormPaymentRecordRepository(gormDB)

		paymentID := uuid.New()
		rows := sqlmock.NewRows([]string{"id", "status", "gateway_transaction_id"}).
			AddRow(paymentID, "PENDING", "TX-42")

		mock.ExpectQuery(`SELECT \* FROM "payment_records" WHERE gateway_transaction_id = \$1 AND status = \$2`).
			WithArgs("TX-42", string(billing.PaymentStatusPending), 1).
			WillReturnRows(rows)

		record, err := repo.FindPendingByGatewayTransaction(context.Background(), "TX-42")
		require.NoError(t, err)
		assert.Equal(t, paymentID, record.ID)
		assert.Equal(t, billing.PaymentStatusPending, record.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns nil without error when no pending payment matches", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()
		repo := NewGormPaymentRecordRepository(gormDB)

		mock.ExpectQuery(`SELECT \* FROM "payment_records"`).
			WillReturnError(gorm.ErrRecordNotFound)

		record, err := repo.FindPendingByGatewayTransaction(context.Background(), "TX-NONE")
		require.NoError(t, err)
		assert.Nil(t, record)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormPaymentRecordRepository_SumConfirmedByChargeOrder(t *testing.T) {
	t.Run("sums confirmed payments only", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()
		repo := NewGormPaymentRecordRepository(gormDB)

		institutionID := uuid.New()
		chargeOrderID := uuid.New()

		mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\) as total FROM "payment_records" WHERE institution_id = \$1 AND charge_order_id = \$2 AND status = \$3`).
			WithArgs(institutionID, chargeOrderID, string(billing.PaymentStatusConfirmed)).
			WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow("150.00"))

		total, err := repo.SumConfirmedByChargeOrder(context.Background(), institutionID, chargeOrderID)
		require.NoError(t, err)
		assert.True(t, total.Equal(decimal.NewFromFloat(150.00)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns zero when no confirmed payments", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()
		repo := NewGormPaymentRecordRepository(gormDB)

		mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\) as total FROM "payment_records"`).
			WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow("0"))

		total, err := repo.SumConfirmedByChargeOrder(context.Background(), uuid.New(), uuid.New())
		require.NoError(t, err)
		assert.True(t, total.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormTransactionManager_WithinTransaction(t *testing.T) {
	t.Run("commits when fn succeeds", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()

		tm := NewGormTransactionManager(gormDB)
		repo := NewGormChargeOrderRepository(gormDB)

		institutionID := uuid.New()
		orderID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT \* FROM "charge_orders"`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "institution_id", "order_number", "version"}).
				AddRow(orderID, institutionID, "CO-20250101-00001", 1))
		mock.ExpectCommit()

		err := tm.WithinTransaction(context.Background(), func(ctx context.Context) error {
			// the repository joins the ambient transaction via the context
			_, err := repo.FindByID(ctx, institutionID, orderID)
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when fn fails", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()

		tm := NewGormTransactionManager(gormDB)

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := tm.WithinTransaction(context.Background(), func(ctx context.Context) error {
			return shared.ErrInvalidState
		})
		assert.ErrorIs(t, err, shared.ErrInvalidState)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nested call reuses the ongoing transaction", func(t *testing.T) {
		gormDB, mock, mockDB := newMockGormDB(t)
		defer mockDB.Close()

		tm := NewGormTransactionManager(gormDB)

		mock.ExpectBegin()
		mock.ExpectCommit()

		err := tm.WithinTransaction(context.Background(), func(ctx context.Context) error {
			return tm.WithinTransaction(ctx, func(ctx context.Context) error {
				return nil
			})
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
