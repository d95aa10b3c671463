package shared

import (
	"context"
	"time"
)

// IdempotencyStore stores processed notification IDs to prevent duplicate
// processing of redelivered gateway callbacks.
type IdempotencyStore interface {
	// MarkProcessed marks a notification as processed with a TTL.
	// Returns true if it was newly marked, false if it was already processed.
	MarkProcessed(ctx context.Context, notificationID string, ttl time.Duration) (bool, error)

	// IsProcessed checks if a notification has already been processed
	IsProcessed(ctx context.Context, notificationID string) (bool, error)

	// Close closes the store and releases resources
	Close() error
}

// IdempotencyConfig holds configuration for callback deduplication
type IdempotencyConfig struct {
	// TTL is how long processed notification IDs are retained
	TTL time.Duration

	// Enabled determines whether deduplication is enabled
	Enabled bool
}

// DefaultIdempotencyConfig returns the default deduplication configuration
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		TTL:     24 * time.Hour,
		Enabled: true,
	}
}
