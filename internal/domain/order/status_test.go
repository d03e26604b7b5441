package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestStatus_Lifecycle(t *testing.T) {
	s := StatusPending
	var path []Status
	for {
		next, ok := s.Next()
		if !ok {
			break
		}
		assert.True(t, s.CanTransitionTo(next))
		path = append(path, next)
		s = next
	}
	assert.Equal(t, []Status{StatusConfirmed, StatusPreparing, StatusReady, StatusDelivered}, path)
	assert.True(t, s.Terminal())
}

func TestStatus_CancelledIsTerminal(t *testing.T) {
	assert.True(t, StatusCancelled.Terminal())
	for _, s := range Statuses {
		assert.False(t, StatusCancelled.CanTransitionTo(s))
		assert.False(t, s.CanTransitionTo(StatusCancelled))
	}
}

func TestStatus_Valid(t *testing.T) {
	assert.True(t, StatusReady.Valid())
	assert.False(t, Status("ready").Valid())
	assert.False(t, Status("").Valid())
}

func TestTotals(t *testing.T) {
	tests := []struct {
		subtotal string
		fee      string
		total    string
	}{
		{"100", "10", "110"},
		{"820.50", "82.05", "902.55"},
		{"0.05", "0.01", "0.06"},
		{"0", "0", "0"},
	}
	for _, tt := range tests {
		fee, total := Totals(decimalOf(tt.subtotal))
		assert.True(t, decimalOf(tt.fee).Equal(fee), "fee for %s: %s", tt.subtotal, fee)
		assert.True(t, decimalOf(tt.total).Equal(total), "total for %s: %s", tt.subtotal, total)
	}
}

func decimalOf(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
