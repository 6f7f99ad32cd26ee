package flashloan

import (
	"testing"

	"github.com/michaelpento.lv/lendcore/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNeedsFlashloan(t *testing.T) {
	tests := []struct {
		name   string
		hf     types.HealthFactor
		effect string
		want   bool
	}{
		{"unbounded never needs it", types.UnboundedHealthFactor(), "100", false},
		{"comfortable", types.NewHealthFactor(decimal.RequireFromString("3")), "0.5", false},
		{"lands exactly on threshold", types.NewHealthFactor(decimal.RequireFromString("1.55")), "0.5", false},
		{"just below threshold", types.NewHealthFactor(decimal.RequireFromString("1.5499")), "0.5", true},
		{"already risky", types.NewHealthFactor(decimal.RequireFromString("1.01")), "0", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NeedsFlashloan(tt.hf, decimal.RequireFromString(tt.effect)))
		})
	}
}

func TestRequiresFlashloan(t *testing.T) {
	safeHF := types.NewHealthFactor(decimal.NewFromInt(4))
	riskyHF := types.NewHealthFactor(decimal.RequireFromString("1.2"))

	t.Run("frozen source always requires it", func(t *testing.T) {
		for _, hf := range []types.HealthFactor{safeHF, riskyHF, types.UnboundedHealthFactor()} {
			d := RequiresFlashloan(Params{
				HealthFactor: hf,
				Source:       types.ReserveState{IsFrozen: true, FlashLoanEnabled: true},
			})
			assert.True(t, d.Required, "hf %s", hf)
			assert.True(t, d.Frozen)
			assert.False(t, d.Blocked)
		}
	})

	t.Run("health factor impact", func(t *testing.T) {
		d := RequiresFlashloan(Params{
			HealthFactor:         riskyHF,
			HFEffectOfFromAmount: decimal.RequireFromString("0.3"),
			Source:               types.ReserveState{FlashLoanEnabled: true},
		})
		assert.True(t, d.Required)
		assert.True(t, d.HealthFactorImpact)
		assert.False(t, d.Frozen)
		assert.False(t, d.Blocked)
	})

	t.Run("not required", func(t *testing.T) {
		d := RequiresFlashloan(Params{
			HealthFactor:         safeHF,
			HFEffectOfFromAmount: decimal.RequireFromString("0.3"),
		})
		assert.False(t, d.Required)
		assert.False(t, d.Blocked)
	})

	t.Run("required but disabled is blocked", func(t *testing.T) {
		d := RequiresFlashloan(Params{
			HealthFactor: safeHF,
			Source:       types.ReserveState{IsFrozen: true},
		})
		assert.True(t, d.Required)
		assert.True(t, d.Blocked)
	})
}
