package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GatewayChargeStatus is the gateway's view of a charge
type GatewayChargeStatus string

const (
	GatewayChargePending   GatewayChargeStatus = "PENDING"
	GatewayChargeConfirmed GatewayChargeStatus = "CONFIRMED"
	GatewayChargeFailed    GatewayChargeStatus = "FAILED"
)

// GatewayCharge is the gateway's handle for an initiated charge
type GatewayCharge struct {
	TransactionID string
	Status        GatewayChargeStatus
	Reference     string
	CreatedAt     time.Time
}

// GatewayCallback is a payment notification delivered by the gateway,
// either pushed via webhook or obtained by polling.
type GatewayCallback struct {
	NotificationID string
	TransactionID  string
	Status         GatewayChargeStatus
	Reference      string
	Amount         decimal.Decimal
	ReceivedAt     time.Time
}

// PaymentGateway is the port to the external P2C mobile payment provider.
// Implementations must return shared.ErrDependencyUnavailable when the
// provider cannot be reached, which routes the caller to the manual
// verification fallback instead of failing the operation outright.
type PaymentGateway interface {
	// InitiateCharge starts a charge for the given order and returns a
	// pending transaction handle.
	InitiateCharge(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, phoneNumber string) (*GatewayCharge, error)

	// PollStatus returns the current status of a previously initiated charge
	PollStatus(ctx context.Context, transactionID string) (*GatewayCharge, error)

	// VerifyCallback validates the authenticity of a pushed notification
	// and returns its decoded content.
	VerifyCallback(payload []byte, signature string) (*GatewayCallback, error)
}
