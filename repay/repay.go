// Package repay resolves how much debt to repay and what is left afterwards.
package repay

import (
	"fmt"
	"strings"

	"github.com/michaelpento.lv/lendcore/types"

	"github.com/shopspring/decimal"
)

// MaxSentinel is the amount a caller passes to ask for "repay everything"
const MaxSentinel = "-1"

// accrualWindowDivisor is 30 minutes as a fraction of a 360 day year (360 * 24 * 2)
var accrualWindowDivisor = decimal.NewFromInt(17280)

var hundred = decimal.NewFromInt(100)

// RateMode selects which debt of a reserve is being repaid
type RateMode int

const (
	RateModeVariable RateMode = iota
	RateModeStable
)

func (m RateMode) String() string {
	if m == RateModeStable {
		return "stable"
	}
	return "variable"
}

// Debt returns the outstanding debt of the user reserve for the rate mode
func Debt(userReserve *types.UserReserve, mode RateMode) decimal.Decimal {
	if userReserve == nil {
		return decimal.Zero
	}
	if mode == RateModeStable {
		return userReserve.StableBorrows
	}
	return userReserve.VariableBorrows
}

// SafeAmountToRepayAll over-estimates debt by the interest that accrues over a
// 30 minute execution window. apy is a fraction.
func SafeAmountToRepayAll(debt, apy decimal.Decimal) decimal.Decimal {
	return debt.Add(debt.Mul(apy).Div(accrualWindowDivisor))
}

// AmountAfterRepay is the debt left once output has been repaid, clamped to [0, debt]
func AmountAfterRepay(debt, output decimal.Decimal) decimal.Decimal {
	remaining := debt.Sub(decimal.Min(output, debt))
	if remaining.Sign() < 0 {
		return decimal.Zero
	}
	return remaining
}

// CollateralAmountAfterRepay is the collateral left after swapping input away.
// It goes negative when prices move and must not be clamped.
func CollateralAmountAfterRepay(balance, input decimal.Decimal) decimal.Decimal {
	return balance.Sub(input)
}

// CollateralRequiredToCoverDebt prices the safe repay amount in collateral
// units, with positive slippage applied since exact-out swaps inflate the input.
// slippage is a percentage.
func CollateralRequiredToCoverDebt(safeAmount, debtPriceUSD, collateralPriceUSD, slippage decimal.Decimal) decimal.Decimal {
	if collateralPriceUSD.IsZero() {
		return decimal.Zero
	}
	return safeAmount.
		Mul(debtPriceUSD).
		Mul(hundred.Add(slippage).Shift(-2)).
		Div(collateralPriceUSD)
}

// Input is a repay request as typed by the user
type Input struct {
	// Amount is a decimal string or MaxSentinel. Empty means nothing entered.
	Amount            string
	Debt              decimal.Decimal
	VariableBorrowAPY decimal.Decimal
	DebtPriceUSD      decimal.Decimal
}

// Resolution is the concrete amount to repay
type Resolution struct {
	IsMax          bool
	SafeAmount     decimal.Decimal
	RepayAmount    decimal.Decimal
	RepayAmountUSD decimal.Decimal
}

// Resolve turns user input into a repay amount. The max sentinel resolves to
// the safe repay-all amount.
func Resolve(in Input) (Resolution, error) {
	safe := SafeAmountToRepayAll(in.Debt, in.VariableBorrowAPY)
	res := Resolution{SafeAmount: safe}

	raw := strings.TrimSpace(in.Amount)
	switch raw {
	case MaxSentinel:
		res.IsMax = true
		res.RepayAmount = safe
	case "":
		res.RepayAmount = decimal.Zero
	default:
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return Resolution{}, fmt.Errorf("failed to parse repay amount %q: %w", raw, err)
		}
		if amount.Sign() < 0 {
			return Resolution{}, fmt.Errorf("repay amount cannot be negative: %s", raw)
		}
		res.RepayAmount = amount
	}

	res.RepayAmountUSD = res.RepayAmount.Mul(in.DebtPriceUSD)
	return res, nil
}
