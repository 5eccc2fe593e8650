package ledger

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/psp-core/framework/core"
)

func TestNewMoney_Rounding(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"10", "10.00"},
		{"10.005", "10.01"},
		{"10.004", "10.00"},
		{"0.125", "0.13"},
		{"2.675", "2.68"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			m, err := ParseMoney(tt.in, "brl")
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Amount().StringFixed(2))
			assert.Equal(t, "BRL", m.Currency())
		})
	}
}

func TestNewMoney_Rejects(t *testing.T) {
	_, err := NewMoney(decimal.NewFromInt(-1), "BRL")
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = ParseMoney("abc", "BRL")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestNewMoney_DefaultCurrency(t *testing.T) {
	m, err := NewMoney(decimal.NewFromInt(5), "  ")
	require.NoError(t, err)
	assert.Equal(t, DefaultCurrency, m.Currency())
}

func TestMoney_Arithmetic(t *testing.T) {
	a := MustMoney("10.50", "BRL")
	b := MustMoney("0.50", "BRL")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.True(t, sum.Equal(MustMoney("11", "BRL")))

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.True(t, diff.Equal(MustMoney("10", "BRL")))

	_, err = b.Sub(a)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = a.Add(MustMoney("1", "USD"))
	assert.ErrorIs(t, err, core.ErrValidation)

	assert.True(t, b.LessThan(a))
	assert.Equal(t, "10.50 BRL", a.String())
	assert.True(t, Zero("brl").IsZero())
}

func TestMoney_JSON(t *testing.T) {
	data, err := json.Marshal(MustMoney("7.1", "usd"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"7.10","currency":"USD"}`, string(data))

	var back Money
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Equal(MustMoney("7.10", "USD")))

	assert.Error(t, json.Unmarshal([]byte(`{"amount":"-1","currency":"BRL"}`), &back))
}
