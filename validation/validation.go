package validation

import (
	"github.com/michaelpento.lv/lendcore/flashloan"
	"github.com/michaelpento.lv/lendcore/healthfactor"
	"github.com/michaelpento.lv/lendcore/types"

	"github.com/shopspring/decimal"
)

// ZeroLTVBlockingWithdraw returns the symbols of collateral the user has enabled
// that has zero LTV but a non-zero liquidation threshold. While any of these
// are enabled the pool rejects withdrawals of other collateral.
func ZeroLTVBlockingWithdraw(user *types.UserPosition, snapshot *types.MarketSnapshot) []string {
	if user == nil {
		return nil
	}
	var blockers []string
	for _, ur := range user.Reserves {
		if !ur.UsageAsCollateralEnabledOnUser || ur.UnderlyingBalance.Sign() <= 0 {
			continue
		}
		reserve, ok := snapshot.ReserveByAsset(ur.UnderlyingAsset)
		if !ok {
			continue
		}
		if reserve.BaseLTV.IsZero() && !reserve.LiquidationThreshold.IsZero() {
			blockers = append(blockers, reserve.Symbol)
		}
	}
	return blockers
}

func containsSymbol(symbols []string, symbol string) bool {
	for _, s := range symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// IsolationNotice is the warning shown alongside a collateral toggle
type IsolationNotice int

const (
	// NoticeEnableCollateral warns that enabled collateral can be liquidated
	NoticeEnableCollateral IsolationNotice = iota
	// NoticeDisableCollateral warns that borrowing power drops
	NoticeDisableCollateral
	// NoticeEnterIsolation warns that enabling an isolated asset restricts borrowing
	NoticeEnterIsolation
	// NoticeExitIsolation tells the user other assets become usable as collateral
	NoticeExitIsolation
)

func (n IsolationNotice) String() string {
	switch n {
	case NoticeEnableCollateral:
		return "Enabling this asset as collateral increases your borrowing power and Health Factor. However, it can get liquidated if your health factor drops below 1."
	case NoticeDisableCollateral:
		return "Disabling this asset as collateral affects your borrowing power and Health Factor."
	case NoticeEnterIsolation:
		return "Enabling an isolated asset as collateral enters isolation mode, which limits borrowing to a debt ceiling."
	case NoticeExitIsolation:
		return "You will exit isolation mode and other tokens can now be used as collateral"
	}
	return ""
}

// CollateralChangeInput describes a request to flip usage as collateral
type CollateralChangeInput struct {
	Snapshot    *types.MarketSnapshot
	Reserve     types.ReserveState
	UserReserve types.UserReserve
}

// CollateralChangeResult is the projected outcome of a collateral toggle
type CollateralChangeResult struct {
	UsageAfterSwitch        bool
	HealthFactorAfterSwitch types.HealthFactor
	Notice                  IsolationNotice
	Error                   BlockingError
}

// CollateralChange projects the health factor after toggling collateral and
// picks the first blocking condition.
func CollateralChange(in CollateralChangeInput) CollateralChangeResult {
	var user *types.UserPosition
	if in.Snapshot != nil {
		user = in.Snapshot.User
	}
	if user == nil {
		user = &types.UserPosition{}
	}

	res := CollateralChangeResult{
		UsageAfterSwitch:        !in.UserReserve.UsageAsCollateralEnabledOnUser,
		HealthFactorAfterSwitch: healthfactor.AfterCollateralSwitch(user, in.UserReserve),
	}

	switch {
	case !in.Reserve.IsIsolated && res.UsageAfterSwitch:
		res.Notice = NoticeEnableCollateral
	case !in.Reserve.IsIsolated:
		res.Notice = NoticeDisableCollateral
	case res.UsageAfterSwitch:
		res.Notice = NoticeEnterIsolation
	default:
		res.Notice = NoticeExitIsolation
	}

	blockers := ZeroLTVBlockingWithdraw(user, in.Snapshot)
	switch {
	case len(blockers) > 0 && !containsSymbol(blockers, in.Reserve.Symbol):
		res.Error = ZeroLTVWithdrawBlocked{Assets: blockers}
	case in.UserReserve.UnderlyingBalance.IsZero():
		res.Error = NoSupplies{}
	case in.Reserve.LiquidationThreshold.IsZero():
		res.Error = CannotUseAsCollateral{}
	case in.UserReserve.UsageAsCollateralEnabledOnUser &&
		!user.TotalBorrowsMarketReferenceCurrency.IsZero() &&
		res.HealthFactorAfterSwitch.Liquidatable():
		res.Error = CollateralSwitchUnsafe{}
	}

	return res
}

// CollateralRepayInput is what decides whether a collateral repay may proceed
type CollateralRepayInput struct {
	ZeroLTVBlockers []string
	RepayWithSymbol string
	Balance         decimal.Decimal
	InputAmount     decimal.Decimal
	Flashloan       flashloan.Decision
}

// CollateralRepay returns the first blocking condition of a collateral repay, or nil
func CollateralRepay(in CollateralRepayInput) BlockingError {
	switch {
	case len(in.ZeroLTVBlockers) > 0 && !containsSymbol(in.ZeroLTVBlockers, in.RepayWithSymbol):
		return ZeroLTVWithdrawBlocked{Assets: in.ZeroLTVBlockers}
	case in.Balance.LessThan(in.InputAmount):
		return NotEnoughCollateralToRepay{}
	case in.Flashloan.Blocked:
		return FlashLoanNotAvailable{}
	}
	return nil
}
