// Package healthfactor projects a position's health factor before and after a
// hypothetical balance change. Everything here is pure decimal arithmetic.
package healthfactor

import (
	"github.com/michaelpento.lv/lendcore/types"

	"github.com/shopspring/decimal"
)

// Projection describes a position and a signed change to it. All values are in
// the market reference currency.
type Projection struct {
	Collateral           decimal.Decimal
	Borrow               decimal.Decimal
	LiquidationThreshold decimal.Decimal
	CollateralDelta      decimal.Decimal
	DebtDelta            decimal.Decimal
}

// FromBalances computes collateral * threshold / borrow. Zero borrow is unbounded.
func FromBalances(collateral, borrow, threshold decimal.Decimal) types.HealthFactor {
	if borrow.Sign() <= 0 {
		return types.UnboundedHealthFactor()
	}
	return types.NewHealthFactor(collateral.Mul(threshold).Div(borrow))
}

// Project applies the deltas and returns the resulting health factor
func Project(p Projection) types.HealthFactor {
	collateral := p.Collateral.Add(p.CollateralDelta)
	borrow := p.Borrow.Add(p.DebtDelta)
	return FromBalances(collateral, borrow, p.LiquidationThreshold)
}

// AfterCollateralSwitch returns the health factor once usage as collateral of
// the given reserve is flipped. Enabling adds the balance to collateral,
// disabling removes it.
func AfterCollateralSwitch(user *types.UserPosition, userReserve types.UserReserve) types.HealthFactor {
	delta := userReserve.UnderlyingBalanceMarketReferenceCurrency
	if userReserve.UsageAsCollateralEnabledOnUser {
		delta = delta.Neg()
	}
	return Project(Projection{
		Collateral:           user.TotalCollateralMarketReferenceCurrency,
		Borrow:               user.TotalBorrowsMarketReferenceCurrency,
		LiquidationThreshold: user.CurrentLiquidationThreshold,
		CollateralDelta:      delta,
	})
}

// RepayParams describes a repay funded by swapping collateral
type RepayParams struct {
	User                *types.UserPosition
	FromReserve         types.ReserveState
	ToReserve           types.ReserveState
	RepayWithReserve    *types.UserReserve
	AmountToSwap        decimal.Decimal
	AmountReceivedAfter decimal.Decimal
	Debt                decimal.Decimal
}

// RepayImpact is the health factor effect of a collateral repay
type RepayImpact struct {
	// HFAfterSwap is the projected health factor once the swap settles and
	// the debt is repaid.
	HFAfterSwap types.HealthFactor
	// HFEffectOfFromAmount is how much health factor the withdrawn collateral
	// is worth against the current debt. The pool checks health factor on
	// withdraw, so a large effect forces the flashloan path.
	HFEffectOfFromAmount decimal.Decimal
}

// AfterRepay projects the outcome of withdrawing AmountToSwap of the source
// collateral and repaying min(AmountReceivedAfter, Debt) of the target debt.
func AfterRepay(p RepayParams) RepayImpact {
	user := p.User
	fromThreshold := p.FromReserve.LiquidationThreshold
	usedAsCollateral := p.RepayWithReserve != nil && p.RepayWithReserve.UsageAsCollateralEnabledOnUser

	swappedCollateral := p.AmountToSwap.Mul(p.FromReserve.PriceInMarketReferenceCurrency)

	effect := decimal.Zero
	if usedAsCollateral && p.FromReserve.UsageAsCollateralEnabled {
		effect = finiteOrZero(FromBalances(swappedCollateral, user.TotalBorrowsMarketReferenceCurrency, fromThreshold))
	}

	repayAmount := decimal.Min(p.AmountReceivedAfter, p.Debt)
	borrowAfterRepay := user.TotalBorrowsMarketReferenceCurrency.Sub(repayAmount.Mul(p.ToReserve.PriceInMarketReferenceCurrency))

	beforeWithdraw := FromBalances(user.TotalCollateralMarketReferenceCurrency, borrowAfterRepay, user.CurrentLiquidationThreshold)
	if beforeWithdraw.IsUnbounded() {
		return RepayImpact{HFAfterSwap: beforeWithdraw, HFEffectOfFromAmount: effect}
	}

	realEffect := decimal.Zero
	if !fromThreshold.IsZero() && usedAsCollateral {
		realEffect = finiteOrZero(FromBalances(swappedCollateral, borrowAfterRepay, fromThreshold))
	}

	return RepayImpact{
		HFAfterSwap:          types.NewHealthFactor(beforeWithdraw.Value().Sub(realEffect)),
		HFEffectOfFromAmount: effect,
	}
}

func finiteOrZero(h types.HealthFactor) decimal.Decimal {
	if h.IsUnbounded() {
		return decimal.Zero
	}
	return h.Value()
}
