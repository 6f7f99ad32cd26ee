package flashloan

import (
	"github.com/michaelpento.lv/lendcore/types"

	"github.com/shopspring/decimal"
)

// SafetyThreshold is the health factor the non-atomic path must stay above
// once the withdrawn collateral stops counting.
var SafetyThreshold = decimal.RequireFromString("1.05")

// NeedsFlashloan reports whether withdrawing collateral worth hfEffect of
// health factor would drop the position below SafetyThreshold.
func NeedsFlashloan(hf types.HealthFactor, hfEffect decimal.Decimal) bool {
	if hf.IsUnbounded() {
		return false
	}
	return hf.Value().Sub(hfEffect).LessThan(SafetyThreshold)
}

// Params are the inputs of a flashloan decision
type Params struct {
	HealthFactor         types.HealthFactor
	HFEffectOfFromAmount decimal.Decimal
	// Source is the collateral reserve that gets swapped. It is also the
	// asset the flashloan borrows.
	Source types.ReserveState
}

// Decision explains whether and why the atomic path is required
type Decision struct {
	Required           bool
	HealthFactorImpact bool
	Frozen             bool
	// Blocked means a flashloan is required but disabled on the reserve
	Blocked bool
}

// RequiresFlashloan decides whether a collateral repay must go through a
// flashloan. A frozen source reserve cannot take back a post-swap deposit, so
// it always forces the atomic path.
func RequiresFlashloan(p Params) Decision {
	d := Decision{
		HealthFactorImpact: NeedsFlashloan(p.HealthFactor, p.HFEffectOfFromAmount),
		Frozen:             p.Source.IsFrozen,
	}
	d.Required = d.HealthFactorImpact || d.Frozen
	d.Blocked = d.Required && !p.Source.FlashLoanEnabled
	return d
}
