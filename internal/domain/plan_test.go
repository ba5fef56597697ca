package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePlan(t *testing.T) {
	tests := []struct {
		name    string
		planID  string
		amount  decimal.Decimal
		credits int64
		wantErr bool
	}{
		{name: "starter by amount", amount: decimal.NewFromInt(9), credits: 10},
		{name: "pro by amount", amount: decimal.RequireFromString("39.00"), credits: 50},
		{name: "enterprise by amount", amount: decimal.NewFromInt(69), credits: 100},
		{name: "explicit plan overrides amount", planID: " Pro ", amount: decimal.NewFromInt(1), credits: 50},
		{name: "unknown amount", amount: decimal.NewFromInt(40), wantErr: true},
		{name: "unknown plan id", planID: "gold", amount: decimal.NewFromInt(39), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := ResolvePlan(tt.planID, tt.amount)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnknownPlan)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.credits, plan.Credits)
		})
	}
}
