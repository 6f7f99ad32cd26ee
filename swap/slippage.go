package swap

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// DefaultSlippage is the preselected tolerance, in percent
var DefaultSlippage = decimal.RequireFromString("0.5")

// SlippageOptions are the tolerances offered to the user, in percent
var SlippageOptions = []decimal.Decimal{
	decimal.RequireFromString("0.1"),
	DefaultSlippage,
	decimal.NewFromInt(1),
}

// MaxInputAmountWithSlippage inflates amount by (100+slippage)/100 and rounds
// up at the asset's precision so an approval always covers the worst case.
func MaxInputAmountWithSlippage(amount, slippage decimal.Decimal, decimals int32) decimal.Decimal {
	if amount.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(hundred.Add(slippage).Shift(-2)).RoundUp(decimals)
}

// MinimumReceivedAfterSlippage deflates amount by (100-slippage)/100 and rounds
// down at the asset's precision so the floor is never overstated.
func MinimumReceivedAfterSlippage(amount, slippage decimal.Decimal, decimals int32) decimal.Decimal {
	if amount.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(hundred.Sub(slippage).Shift(-2)).RoundDown(decimals)
}
