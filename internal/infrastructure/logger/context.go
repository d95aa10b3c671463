package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Request-scoped identity travels through the context so any layer can log
// with the correlation fields the HTTP middleware established. Institution
// scoping matters most here: a billing log line should always say which
// institution's ledger it touched.

type contextKey string

const (
	// LoggerKey carries the request-scoped logger.
	LoggerKey contextKey = "logger"
	// RequestIDKey carries the request ID assigned by the HTTP layer.
	RequestIDKey contextKey = "request_id"
	// InstitutionIDKey carries the institution the request is scoped to.
	InstitutionIDKey contextKey = "institution_id"
	// UserIDKey carries the authenticated user, when known.
	UserIDKey contextKey = "user_id"
)

// WithContext attaches log to ctx.
func WithContext(ctx context.Context, log *zap.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, log)
}

// FromContext returns the request-scoped logger, or a nop logger when the
// context never passed through the HTTP middleware.
func FromContext(ctx context.Context) *zap.Logger {
	if log, ok := ctx.Value(LoggerKey).(*zap.Logger); ok {
		return log
	}
	return zap.NewNop()
}

// bind stores value under key, enriches log with the matching field, and
// re-attaches the enriched logger so downstream FromContext calls see it.
func bind(ctx context.Context, log *zap.Logger, key contextKey, field, value string) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, key, value)
	log = log.With(zap.String(field, value))
	return WithContext(ctx, log), log
}

// WithRequestID binds the request ID to the context and logger.
func WithRequestID(ctx context.Context, log *zap.Logger, requestID string) (context.Context, *zap.Logger) {
	return bind(ctx, log, RequestIDKey, "request_id", requestID)
}

// WithInstitutionID binds the institution scope to the context and logger.
func WithInstitutionID(ctx context.Context, log *zap.Logger, institutionID string) (context.Context, *zap.Logger) {
	return bind(ctx, log, InstitutionIDKey, "institution_id", institutionID)
}

// WithUserID binds the acting user to the context and logger.
func WithUserID(ctx context.Context, log *zap.Logger, userID string) (context.Context, *zap.Logger) {
	return bind(ctx, log, UserIDKey, "user_id", userID)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetRequestID returns the request ID bound to ctx, or "".
func GetRequestID(ctx context.Context) string { return stringValue(ctx, RequestIDKey) }

// GetInstitutionID returns the institution scope bound to ctx, or "".
func GetInstitutionID(ctx context.Context) string { return stringValue(ctx, InstitutionIDKey) }

// GetUserID returns the user bound to ctx, or "".
func GetUserID(ctx context.Context) string { return stringValue(ctx, UserIDKey) }

// WithTraceContext enriches log with trace_id and span_id from the active
// span so log lines can be joined with traces. No-op without a valid span.
func WithTraceContext(ctx context.Context, log *zap.Logger) *zap.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return log
	}
	return log.With(
		zap.String("trace_id", spanCtx.TraceID().String()),
		zap.String("span_id", spanCtx.SpanID().String()),
	)
}
