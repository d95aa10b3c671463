// Package telemetry provides OpenTelemetry integration for distributed tracing.
package telemetry

import (
	"context"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds configuration for database tracing.
type DBTracingConfig struct {
	Enabled         bool          // Enable database tracing
	LogFullSQL      bool          // Include bind variables in span SQL (dev only; payment references leak otherwise)
	SlowQueryThresh time.Duration // Queries slower than this get flagged on the span
	DBSystem        string        // Database system name reported on spans
}

// DefaultDBTracingConfig returns the baseline tracing configuration. The
// slow query threshold matches the gorm logger's: payment commits hold the
// charge order row under an optimistic-lock update, so slowness here shows
// up as conflict retries elsewhere.
func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		Enabled:         false,
		LogFullSQL:      false,
		SlowQueryThresh: 100 * time.Millisecond,
		DBSystem:        "postgresql",
	}
}

// DBTracingPlugin wraps the otelgorm plugin and layers billing-specific
// span enrichment on top: row counts, table names, error status, and slow
// query flags.
type DBTracingPlugin struct {
	config DBTracingConfig
	logger *zap.Logger
}

// NewDBTracingPlugin creates a database tracing plugin with the given configuration.
func NewDBTracingPlugin(cfg DBTracingConfig, logger *zap.Logger) *DBTracingPlugin {
	return &DBTracingPlugin{
		config: cfg,
		logger: logger,
	}
}

// RegisterOtelGorm registers the otelgorm plugin on db along with the
// billing span enrichment callbacks. No-op when tracing is disabled.
func (p *DBTracingPlugin) RegisterOtelGorm(db *gorm.DB) error {
	if !p.config.Enabled {
		p.logger.Debug("database tracing disabled, skipping otelgorm registration")
		return nil
	}

	opts := []otelgorm.Option{
		otelgorm.WithDBName(p.config.DBSystem),
	}
	if !p.config.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	if err := p.registerSpanEnrichment(db); err != nil {
		return err
	}

	p.logger.Info("database tracing enabled",
		zap.Bool("log_full_sql", p.config.LogFullSQL),
		zap.Duration("slow_query_threshold", p.config.SlowQueryThresh),
		zap.String("db_system", p.config.DBSystem),
	)
	return nil
}

// registerSpanEnrichment hooks a timing callback before and an enrichment
// callback after every statement kind GORM executes.
func (p *DBTracingPlugin) registerSpanEnrichment(db *gorm.DB) error {
	registrations := []func() error{
		func() error {
			return db.Callback().Create().Before("gorm:create").Register("billing_trace:start_create", markQueryStart)
		},
		func() error {
			return db.Callback().Create().After("gorm:create").Register("billing_trace:finish_create", p.enrichSpan)
		},
		func() error {
			return db.Callback().Query().Before("gorm:query").Register("billing_trace:start_query", markQueryStart)
		},
		func() error {
			return db.Callback().Query().After("gorm:query").Register("billing_trace:finish_query", p.enrichSpan)
		},
		func() error {
			return db.Callback().Update().Before("gorm:update").Register("billing_trace:start_update", markQueryStart)
		},
		func() error {
			return db.Callback().Update().After("gorm:update").Register("billing_trace:finish_update", p.enrichSpan)
		},
		func() error {
			return db.Callback().Delete().Before("gorm:delete").Register("billing_trace:start_delete", markQueryStart)
		},
		func() error {
			return db.Callback().Delete().After("gorm:delete").Register("billing_trace:finish_delete", p.enrichSpan)
		},
		func() error {
			return db.Callback().Row().Before("gorm:row").Register("billing_trace:start_row", markQueryStart)
		},
		func() error {
			return db.Callback().Row().After("gorm:row").Register("billing_trace:finish_row", p.enrichSpan)
		},
		func() error {
			return db.Callback().Raw().Before("gorm:raw").Register("billing_trace:start_raw", markQueryStart)
		},
		func() error {
			return db.Callback().Raw().After("gorm:raw").Register("billing_trace:finish_raw", p.enrichSpan)
		},
	}

	for _, register := range registrations {
		if err := register(); err != nil {
			return err
		}
	}
	return nil
}

type contextKey string

const queryStartKey contextKey = "billing_trace_query_start"

func markQueryStart(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, queryStartKey, time.Now())
	}
}

// enrichSpan runs after each statement: it attaches row counts and the
// table, records errors, and flags queries past the slow threshold.
func (p *DBTracingPlugin) enrichSpan(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}

	if db.Statement.RowsAffected >= 0 {
		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	}
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}

	// repository misses are a normal outcome, not an error on the span
	if db.Error != nil && db.Error != gorm.ErrRecordNotFound {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}

	start, ok := ctx.Value(queryStartKey).(time.Time)
	if !ok {
		return
	}
	elapsed := time.Since(start)
	if elapsed > p.config.SlowQueryThresh {
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		)
		span.AddEvent("slow_query_warning", trace.WithAttributes(
			attribute.Int64("duration_ms", elapsed.Milliseconds()),
			attribute.Int64("threshold_ms", p.config.SlowQueryThresh.Milliseconds()),
		))
	}
}
