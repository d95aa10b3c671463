package billing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================
// PaymentMethod Tests
// ============================================

func TestPaymentMethod_RequiredFields(t *testing.T) {
	tests := []struct {
		method       PaymentMethod
		requiresRef  bool
		requiresBank bool
	}{
		{PaymentMethodCash, false, false},
		{PaymentMethodCard, true, false},
		{PaymentMethodTransfer, true, true},
		{PaymentMethodMobile, false, false},
		{PaymentMethodOther, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			assert.Equal(t, tt.requiresRef, tt.method.RequiresReference())
			assert.Equal(t, tt.requiresBank, tt.method.RequiresBankName())
		})
	}
}

// ============================================
// Confirmed Payment Tests
// ============================================

func TestNewConfirmedPayment(t *testing.T) {
	order := createTestChargeOrder(t)

	t.Run("cash payment", func(t *testing.T) {
		p, err := NewConfirmedPayment(order, decimal.NewFromFloat(100.00), PaymentMethodCash, PaymentDetails{})
		require.NoError(t, err)
		assert.Equal(t, PaymentStatusConfirmed, p.Status)
		assert.Equal(t, order.ID, p.ChargeOrderID)
		assert.Equal(t, order.InstitutionID, p.InstitutionID)
		assert.NotNil(t, p.ConfirmedAt)
		assert.False(t, p.ManualVerification)
	})

	t.Run("transfer with full details", func(t *testing.T) {
		p, err := NewConfirmedPayment(order, decimal.NewFromFloat(50.00), PaymentMethodTransfer, PaymentDetails{
			ReferenceNumber: "REF-001",
			BankName:        "Mercantil",
		})
		require.NoError(t, err)
		assert.Equal(t, "REF-001", p.ReferenceNumber)
		assert.Equal(t, "Mercantil", p.BankName)
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		_, err := NewConfirmedPayment(order, decimal.Zero, PaymentMethodCash, PaymentDetails{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "positive")

		_, err = NewConfirmedPayment(order, decimal.NewFromInt(-10), PaymentMethodCash, PaymentDetails{})
		assert.Error(t, err)
	})

	t.Run("rejects card without reference", func(t *testing.T) {
		_, err := NewConfirmedPayment(order, decimal.NewFromFloat(50.00), PaymentMethodCard, PaymentDetails{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Reference number")
	})

	t.Run("rejects transfer without bank name", func(t *testing.T) {
		_, err := NewConfirmedPayment(order, decimal.NewFromFloat(50.00), PaymentMethodTransfer, PaymentDetails{
			ReferenceNumber: "REF-001",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Bank name")
	})

	t.Run("rejects invalid method", func(t *testing.T) {
		_, err := NewConfirmedPayment(order, decimal.NewFromFloat(50.00), PaymentMethod("BARTER"), PaymentDetails{})
		assert.Error(t, err)
	})

	t.Run("stores idempotency key", func(t *testing.T) {
		p, err := NewConfirmedPayment(order, decimal.NewFromFloat(50.00), PaymentMethodCash, PaymentDetails{
			IdempotencyKey: "client-retry-token-1",
		})
		require.NoError(t, err)
		assert.True(t, p.HasIdempotencyKey())
		assert.Equal(t, "client-retry-token-1", *p.IdempotencyKey)
	})
}

// ============================================
// Pending Payment Tests
// ============================================

func TestNewPendingPayment(t *testing.T) {
	order := createTestChargeOrder(t)

	t.Run("mobile gateway payment starts pending", func(t *testing.T) {
		p, err := NewPendingPayment(order, decimal.NewFromFloat(100.00), PaymentMethodMobile, "TX-9001", PaymentDetails{})
		require.NoError(t, err)
		assert.Equal(t, PaymentStatusPending, p.Status)
		assert.Equal(t, "TX-9001", p.GatewayTransactionID)
		assert.Nil(t, p.ConfirmedAt)
		assert.False(t, p.IsConfirmed())
	})

	t.Run("confirm pending payment", func(t *testing.T) {
		p, err := NewPendingPayment(order, decimal.NewFromFloat(100.00), PaymentMethodMobile, "TX-9002", PaymentDetails{})
		require.NoError(t, err)

		require.NoError(t, p.Confirm("GW-REF-77"))
		assert.Equal(t, PaymentStatusConfirmed, p.Status)
		assert.Equal(t, "GW-REF-77", p.ReferenceNumber)
		assert.NotNil(t, p.ConfirmedAt)
	})

	t.Run("confirm is not repeatable", func(t *testing.T) {
		p, err := NewPendingPayment(order, decimal.NewFromFloat(100.00), PaymentMethodMobile, "TX-9003", PaymentDetails{})
		require.NoError(t, err)
		require.NoError(t, p.Confirm(""))
		assert.Error(t, p.Confirm(""))
	})

	t.Run("reject pending payment", func(t *testing.T) {
		p, err := NewPendingPayment(order, decimal.NewFromFloat(100.00), PaymentMethodMobile, "TX-9004", PaymentDetails{})
		require.NoError(t, err)

		require.NoError(t, p.Reject("insufficient funds"))
		assert.Equal(t, PaymentStatusRejected, p.Status)
		assert.Equal(t, "insufficient funds", p.RejectionReason)
		assert.NotNil(t, p.RejectedAt)
	})

	t.Run("cannot reject confirmed payment", func(t *testing.T) {
		p, err := NewPendingPayment(order, decimal.NewFromFloat(100.00), PaymentMethodMobile, "TX-9005", PaymentDetails{})
		require.NoError(t, err)
		require.NoError(t, p.Confirm(""))
		assert.Error(t, p.Reject("too late"))
	})
}

// ============================================
// Manual Payment Tests
// ============================================

func TestNewManualPayment(t *testing.T) {
	order := createTestChargeOrder(t)

	t.Run("manual payment confirmed with flag and reason", func(t *testing.T) {
		p, err := NewManualPayment(order, decimal.NewFromFloat(50.00), "API_CONNECTION_DOWN", PaymentDetails{
			ReferenceNumber: "REF-M-01",
			BankName:        "Mercantil",
		})
		require.NoError(t, err)
		assert.Equal(t, PaymentStatusConfirmed, p.Status)
		assert.Equal(t, PaymentMethodTransfer, p.Method)
		assert.True(t, p.ManualVerification)
		assert.Equal(t, "API_CONNECTION_DOWN", p.VerificationReason)
	})

	t.Run("requires reference number", func(t *testing.T) {
		_, err := NewManualPayment(order, decimal.NewFromFloat(50.00), "API_CONNECTION_DOWN", PaymentDetails{
			BankName: "Mercantil",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Reference number")
	})

	t.Run("requires bank name", func(t *testing.T) {
		_, err := NewManualPayment(order, decimal.NewFromFloat(50.00), "API_CONNECTION_DOWN", PaymentDetails{
			ReferenceNumber: "REF-M-02",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Bank name")
	})

	t.Run("requires reason", func(t *testing.T) {
		_, err := NewManualPayment(order, decimal.NewFromFloat(50.00), "", PaymentDetails{
			ReferenceNumber: "REF-M-03",
			BankName:        "Mercantil",
		})
		assert.Error(t, err)
	})

	t.Run("requires positive amount", func(t *testing.T) {
		_, err := NewManualPayment(order, decimal.Zero, "API_CONNECTION_DOWN", PaymentDetails{
			ReferenceNumber: "REF-M-04",
			BankName:        "Mercantil",
		})
		assert.Error(t, err)
	})
}

// ============================================
// Audit Event Tests
// ============================================

func TestNewAuditEvent(t *testing.T) {
	institutionID := uuid.New()
	orderID := uuid.New()

	t.Run("creates event with notes", func(t *testing.T) {
		actor := uuid.New()
		e, err := NewAuditEvent(institutionID, orderID, AuditActionPaymentRegistered, &actor, AuditNotes{
			"payment_id": uuid.New().String(),
			"amount":     "100.00",
		})
		require.NoError(t, err)
		assert.Equal(t, AuditActionPaymentRegistered, e.Action)
		assert.Equal(t, orderID, e.ChargeOrderID)
		assert.NotNil(t, e.Actor)
		assert.False(t, e.OccurredAt.IsZero())
	})

	t.Run("nil notes become empty map", func(t *testing.T) {
		e, err := NewAuditEvent(institutionID, orderID, AuditActionCreated, nil, nil)
		require.NoError(t, err)
		assert.NotNil(t, e.Notes)
	})

	t.Run("rejects nil charge order", func(t *testing.T) {
		_, err := NewAuditEvent(institutionID, uuid.Nil, AuditActionCreated, nil, nil)
		assert.Error(t, err)
	})

	t.Run("rejects invalid action", func(t *testing.T) {
		_, err := NewAuditEvent(institutionID, orderID, AuditAction("EDITED"), nil, nil)
		assert.Error(t, err)
	})
}
