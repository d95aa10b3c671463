package valueobject

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMoney(t *testing.T) {
	t.Run("creates money with valid currency", func(t *testing.T) {
		m, err := NewMoney(decimal.NewFromInt(100), USD)
		require.NoError(t, err)
		assert.Equal(t, USD, m.Currency())
		assert.True(t, m.Amount().Equal(decimal.NewFromInt(100)))
	})

	t.Run("rejects empty currency", func(t *testing.T) {
		_, err := NewMoney(decimal.NewFromInt(100), "")
		assert.Error(t, err)
	})
}

func TestNewMoneyVES(t *testing.T) {
	m := NewMoneyVESFromFloat(1250.50)
	assert.Equal(t, VES, m.Currency())
	assert.Equal(t, "1250.50", m.StringFixed(2))

	m2, err := NewMoneyVESFromString("99.99")
	require.NoError(t, err)
	assert.Equal(t, "99.99", m2.StringFixed(2))

	_, err = NewMoneyVESFromString("not-a-number")
	assert.Error(t, err)
}

func TestMoneyArithmetic(t *testing.T) {
	a := NewMoneyVESFromFloat(100)
	b := NewMoneyVESFromFloat(30.50)

	t.Run("add", func(t *testing.T) {
		sum, err := a.Add(b)
		require.NoError(t, err)
		assert.Equal(t, "130.50", sum.StringFixed(2))
	})

	t.Run("subtract", func(t *testing.T) {
		diff, err := a.Subtract(b)
		require.NoError(t, err)
		assert.Equal(t, "69.50", diff.StringFixed(2))
	})

	t.Run("subtract below zero", func(t *testing.T) {
		diff, err := b.Subtract(a)
		require.NoError(t, err)
		assert.True(t, diff.IsNegative())
	})

	t.Run("multiply by int", func(t *testing.T) {
		product := b.MultiplyByInt(3)
		assert.Equal(t, "91.50", product.StringFixed(2))
	})

	t.Run("currency mismatch", func(t *testing.T) {
		usd, _ := NewMoney(decimal.NewFromInt(10), USD)
		_, err := a.Add(usd)
		assert.Error(t, err)
		_, err = a.Subtract(usd)
		assert.Error(t, err)
	})
}

func TestMoneyComparisons(t *testing.T) {
	a := NewMoneyVESFromFloat(100)
	b := NewMoneyVESFromFloat(100)
	c := NewMoneyVESFromFloat(50)

	assert.True(t, a.Equals(b))
	assert.False(t, a.Equals(c))

	lt, err := c.LessThan(a)
	require.NoError(t, err)
	assert.True(t, lt)

	gte, err := a.GreaterThanOrEqual(b)
	require.NoError(t, err)
	assert.True(t, gte)

	usd, _ := NewMoney(decimal.NewFromInt(100), USD)
	_, err = a.LessThan(usd)
	assert.Error(t, err)
}

func TestMoneyZero(t *testing.T) {
	z := ZeroVES()
	assert.True(t, z.IsZero())
	assert.False(t, z.IsPositive())
	assert.False(t, z.IsNegative())
	assert.Equal(t, VES, z.Currency())
}

func TestMoneyJSON(t *testing.T) {
	m := NewMoneyVESFromFloat(42.75)
	data, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded Money
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, m.Equals(decoded))
}

func TestMoneyScan(t *testing.T) {
	var m Money
	require.NoError(t, m.Scan("123.45"))
	assert.Equal(t, "123.45", m.StringFixed(2))
	assert.Equal(t, DefaultCurrency, m.Currency())

	var fromBytes Money
	require.NoError(t, fromBytes.Scan([]byte("0.10")))
	assert.Equal(t, "0.10", fromBytes.StringFixed(2))

	var fromNil Money
	require.NoError(t, fromNil.Scan(nil))
	assert.True(t, fromNil.IsZero())

	var bad Money
	assert.Error(t, bad.Scan(42))
}
