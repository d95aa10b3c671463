package persistence

import (
	"context"

	"github.com/clinicops/backend/internal/domain/billing"
	"gorm.io/gorm"
)

type txKey struct{}

// GormTransactionManager implements billing.TransactionManager using GORM
// transactions. The transactional *gorm.DB travels in the context so that
// every repository call inside fn joins the same transaction.
type GormTransactionManager struct {
	db *gorm.DB
}

// NewGormTransactionManager creates a new GormTransactionManager
func NewGormTransactionManager(db *gorm.DB) *GormTransactionManager {
	return &GormTransactionManager{db: db}
}

// WithinTransaction runs fn inside a database transaction. A nested call
// reuses the ongoing transaction instead of opening a second one.
func (m *GormTransactionManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// txFromContext returns the transactional DB from the context, or nil
func txFromContext(ctx context.Context) *gorm.DB {
	tx, _ := ctx.Value(txKey{}).(*gorm.DB)
	return tx
}

// dbFor returns the transactional DB from the context when present,
// otherwise the repository's own connection. Repositories route every
// query through this so they transparently join ambient transactions.
func dbFor(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx := txFromContext(ctx); tx != nil {
		return tx
	}
	return db
}

// Ensure GormTransactionManager implements TransactionManager
var _ billing.TransactionManager = (*GormTransactionManager)(nil)
