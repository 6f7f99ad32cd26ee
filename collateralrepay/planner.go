// Package collateralrepay plans repaying debt by swapping supplied collateral.
package collateralrepay

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/michaelpento.lv/lendcore/flashloan"
	"github.com/michaelpento.lv/lendcore/healthfactor"
	"github.com/michaelpento.lv/lendcore/repay"
	"github.com/michaelpento.lv/lendcore/swap"
	"github.com/michaelpento.lv/lendcore/types"
	lmath "github.com/michaelpento.lv/lendcore/utils/math"
	"github.com/michaelpento.lv/lendcore/validation"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Input is one collateral repay as the user has configured it
type Input struct {
	Snapshot        *types.MarketSnapshot
	DebtAsset       common.Address
	CollateralAsset common.Address
	RateMode        repay.RateMode
	// Amount is a decimal string, repay.MaxSentinel or empty
	Amount      string
	MaxSlippage decimal.Decimal
}

// Plan is everything the repay form shows and the repay transaction needs
type Plan struct {
	Debt               decimal.Decimal
	Resolution         repay.Resolution
	Balance            decimal.Decimal
	RequiredCollateral decimal.Decimal
	// RepayAllDebt is set when max is selected and the balance covers the safe amount
	RepayAllDebt bool
	Variant      swap.Variant
	Quote        types.SwapQuote

	// InputAmount and OutputAmount are as quoted. The slippage bounds are
	// what the transaction commits to.
	InputAmount        decimal.Decimal
	OutputAmount       decimal.Decimal
	InputWithSlippage  decimal.Decimal
	OutputWithSlippage decimal.Decimal

	HealthFactorAfter    types.HealthFactor
	HFEffectOfFromAmount decimal.Decimal
	Flashloan            flashloan.Decision

	DebtAfterRepay          decimal.Decimal
	DebtAfterRepayUSD       decimal.Decimal
	CollateralAfterRepay    decimal.Decimal
	CollateralAfterRepayUSD decimal.Decimal

	Error validation.BlockingError
}

// Ready reports whether the plan can be turned into a transaction
func (p Plan) Ready() bool {
	return p.Error == nil && !p.Quote.Loading && p.Quote.Error == "" && p.InputAmount.Sign() > 0
}

type market struct {
	user        *types.UserPosition
	debtReserve types.ReserveState
	collReserve types.ReserveState
	collUser    types.UserReserve
	debt        decimal.Decimal
	resolution  repay.Resolution
	required    decimal.Decimal
}

func (m market) repayAllDebt() bool {
	return m.resolution.IsMax && m.collUser.UnderlyingBalance.GreaterThanOrEqual(m.required)
}

func resolve(in Input) (market, error) {
	if in.Snapshot == nil || in.Snapshot.User == nil {
		return market{}, fmt.Errorf("market snapshot has no user position")
	}
	if in.DebtAsset == in.CollateralAsset {
		return market{}, fmt.Errorf("cannot repay %s with itself", in.DebtAsset.Hex())
	}

	debtReserve, ok := in.Snapshot.ReserveByAsset(in.DebtAsset)
	if !ok {
		return market{}, fmt.Errorf("debt reserve %s not found", in.DebtAsset.Hex())
	}
	collReserve, ok := in.Snapshot.ReserveByAsset(in.CollateralAsset)
	if !ok {
		return market{}, fmt.Errorf("collateral reserve %s not found", in.CollateralAsset.Hex())
	}

	user := in.Snapshot.User
	debtUser, _ := user.UserReserveByAsset(in.DebtAsset)
	collUser, _ := user.UserReserveByAsset(in.CollateralAsset)
	debt := repay.Debt(&debtUser, in.RateMode)

	resolution, err := repay.Resolve(repay.Input{
		Amount:            in.Amount,
		Debt:              debt,
		VariableBorrowAPY: debtReserve.VariableBorrowAPY,
		DebtPriceUSD:      debtReserve.PriceInUSD,
	})
	if err != nil {
		return market{}, err
	}

	return market{
		user:        user,
		debtReserve: debtReserve,
		collReserve: collReserve,
		collUser:    collUser,
		debt:        debt,
		resolution:  resolution,
		required: repay.CollateralRequiredToCoverDebt(
			resolution.SafeAmount, debtReserve.PriceInUSD, collReserve.PriceInUSD, in.MaxSlippage),
	}, nil
}

// Evaluate computes the plan for a quote obtained with variant
func Evaluate(in Input, variant swap.Variant, quote types.SwapQuote) (Plan, error) {
	m, err := resolve(in)
	if err != nil {
		return Plan{}, err
	}

	balance := m.collUser.UnderlyingBalance
	plan := Plan{
		Debt:               m.debt,
		Resolution:         m.resolution,
		Balance:            balance,
		RequiredCollateral: m.required,
		RepayAllDebt:       m.repayAllDebt(),
		Variant:            variant,
		Quote:              quote,
		InputAmount:        quote.InputAmount,
		OutputAmount:       quote.OutputAmount,
		InputWithSlippage:  swap.MaxInputAmountWithSlippage(quote.InputAmount, in.MaxSlippage, m.collReserve.Decimals),
		OutputWithSlippage: swap.MinimumReceivedAfterSlippage(quote.OutputAmount, in.MaxSlippage, m.debtReserve.Decimals),
	}

	impact := healthfactor.AfterRepay(healthfactor.RepayParams{
		User:                m.user,
		FromReserve:         m.collReserve,
		ToReserve:           m.debtReserve,
		RepayWithReserve:    &m.collUser,
		AmountToSwap:        quote.InputAmount,
		AmountReceivedAfter: quote.OutputAmount,
		Debt:                m.debt,
	})
	plan.HealthFactorAfter = impact.HFAfterSwap
	plan.HFEffectOfFromAmount = impact.HFEffectOfFromAmount

	plan.Flashloan = flashloan.RequiresFlashloan(flashloan.Params{
		HealthFactor:         m.user.HealthFactor,
		HFEffectOfFromAmount: impact.HFEffectOfFromAmount,
		Source:               m.collReserve,
	})

	plan.DebtAfterRepay = repay.AmountAfterRepay(m.debt, quote.OutputAmount)
	plan.DebtAfterRepayUSD = plan.DebtAfterRepay.Mul(m.debtReserve.PriceInUSD)
	plan.CollateralAfterRepay = repay.CollateralAmountAfterRepay(balance, quote.InputAmount)
	plan.CollateralAfterRepayUSD = plan.CollateralAfterRepay.Mul(m.collReserve.PriceInUSD)

	plan.Error = validation.CollateralRepay(validation.CollateralRepayInput{
		ZeroLTVBlockers: validation.ZeroLTVBlockingWithdraw(m.user, in.Snapshot),
		RepayWithSymbol: m.collReserve.Symbol,
		Balance:         balance,
		InputAmount:     quote.InputAmount,
		Flashloan:       plan.Flashloan,
	})
	if plan.Error == nil && quote.Error != "" {
		plan.Error = validation.QuoteUnavailable{Reason: quote.Error}
	}

	return plan, nil
}

// RepayTokens lists the user's supplied assets that can repay debtAsset,
// largest USD balance first.
func RepayTokens(snapshot *types.MarketSnapshot, debtAsset common.Address) []swap.Asset {
	if snapshot == nil || snapshot.User == nil {
		return nil
	}

	type candidate struct {
		asset      swap.Asset
		balanceUSD decimal.Decimal
	}
	var candidates []candidate
	for _, ur := range snapshot.User.Reserves {
		if ur.UnderlyingBalance.Sign() <= 0 || ur.UnderlyingAsset == debtAsset {
			continue
		}
		reserve, ok := snapshot.ReserveByAsset(ur.UnderlyingAsset)
		// stETH rebases under the adapter, so it cannot be swapped exactly
		if !ok || strings.EqualFold(reserve.Symbol, "stETH") {
			continue
		}
		candidates = append(candidates, candidate{asset: assetOf(reserve), balanceUSD: ur.UnderlyingBalanceUSD})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].balanceUSD.GreaterThan(candidates[j].balanceUSD)
	})

	out := make([]swap.Asset, len(candidates))
	for i, c := range candidates {
		out[i] = c.asset
	}
	return out
}

func assetOf(r types.ReserveState) swap.Asset {
	return swap.Asset{
		Address:  r.UnderlyingAsset,
		Symbol:   r.Symbol,
		Decimals: r.Decimals,
		PriceUSD: r.PriceInUSD,
	}
}

// Planner drives the swap engine and the flashloan router for one repay form
type Planner struct {
	engine  *swap.Engine
	manager *flashloan.Manager
	chainID uint64
	logger  *zap.Logger
}

// NewPlanner creates a new collateral repay planner
func NewPlanner(engine *swap.Engine, manager *flashloan.Manager, chainID uint64, logger *zap.Logger) (*Planner, error) {
	if engine == nil {
		return nil, fmt.Errorf("swap engine cannot be nil")
	}
	if manager == nil {
		return nil, fmt.Errorf("flashloan manager cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		engine:  engine,
		manager: manager,
		chainID: chainID,
		logger:  logger,
	}, nil
}

// SetAmount applies a repay amount edit to the swap engine
func (p *Planner) SetAmount(in Input) (swap.State, error) {
	m, err := resolve(in)
	if err != nil {
		return swap.State{}, err
	}
	return p.engine.SetRepayAmount(swap.AmountChange{
		Value:          in.Amount,
		SafeAmount:     m.resolution.SafeAmount,
		Balance:        m.collUser.UnderlyingBalance,
		RequiredSource: m.required,
	}), nil
}

// Quote fetches a fresh quote for in and evaluates it. skip is set while a
// transaction is in flight. A superseded response returns swap.ErrStaleQuote.
func (p *Planner) Quote(ctx context.Context, in Input, user common.Address, skip bool) (Plan, error) {
	m, err := resolve(in)
	if err != nil {
		return Plan{}, err
	}

	quote, err := p.engine.Quote(ctx, swap.Request{
		ChainID:       p.chainID,
		User:          user,
		Source:        assetOf(m.collReserve),
		Target:        assetOf(m.debtReserve),
		SourceBalance: m.collUser.UnderlyingBalance,
		MaxSlippage:   in.MaxSlippage,
		Max:           m.repayAllDebt(),
		Skip:          skip,
	})
	if err != nil {
		return Plan{}, err
	}

	return Evaluate(in, p.engine.State().Variant, quote)
}

// BuildOptions are the signing-time extras of a repay transaction
type BuildOptions struct {
	// Permit replaces the aToken approval when set
	Permit *flashloan.PermitSignature
	// BuyAllBalanceOffset is the aggregator calldata offset patched with the
	// live debt when repaying everything
	BuyAllBalanceOffset *big.Int
}

// BuildGroup turns a ready plan into an approval plus repay batch group
func (p *Planner) BuildGroup(ctx context.Context, in Input, plan Plan, user common.Address, opts BuildOptions) (types.BatchTransactionGroup, flashloan.Route, error) {
	if !plan.Ready() {
		return types.BatchTransactionGroup{}, flashloan.Route{}, fmt.Errorf("plan is not ready")
	}
	if plan.Quote.BuildTx == nil {
		return types.BatchTransactionGroup{}, flashloan.Route{}, fmt.Errorf("quote cannot build a swap transaction")
	}
	m, err := resolve(in)
	if err != nil {
		return types.BatchTransactionGroup{}, flashloan.Route{}, err
	}

	swapTx, err := plan.Quote.BuildTx(ctx)
	if err != nil {
		return types.BatchTransactionGroup{}, flashloan.Route{}, fmt.Errorf("failed to build swap transaction: %w", err)
	}

	collateralAmount, debtAmount := plan.InputWithSlippage, plan.OutputAmount
	if plan.Variant == swap.VariantExactIn {
		collateralAmount, debtAmount = plan.InputAmount, plan.OutputWithSlippage
	}

	collateralUnits, err := lmath.ToBaseUnitsChecked(collateralAmount, m.collReserve.Decimals)
	if err != nil {
		return types.BatchTransactionGroup{}, flashloan.Route{}, fmt.Errorf("invalid collateral amount: %w", err)
	}
	debtUnits, err := lmath.ToBaseUnitsChecked(debtAmount, m.debtReserve.Decimals)
	if err != nil {
		return types.BatchTransactionGroup{}, flashloan.Route{}, fmt.Errorf("invalid debt amount: %w", err)
	}

	offset := opts.BuyAllBalanceOffset
	if offset == nil || !plan.RepayAllDebt {
		offset = big.NewInt(0)
	}

	route, err := p.manager.BuildRepayTx(ctx, plan.Flashloan, flashloan.RepayParams{
		User:                user,
		CollateralAsset:     m.collReserve.UnderlyingAsset,
		DebtAsset:           m.debtReserve.UnderlyingAsset,
		CollateralAmount:    collateralUnits,
		DebtRepayAmount:     debtUnits,
		RateMode:            poolRateMode(in.RateMode),
		BuyAllBalanceOffset: offset,
		SwapData:            swapTx.Data,
		Permit:              opts.Permit,
	})
	if err != nil {
		return types.BatchTransactionGroup{}, flashloan.Route{}, err
	}

	var items []types.BatchTransaction
	if opts.Permit == nil {
		if m.collReserve.ATokenAddress == (common.Address{}) {
			return types.BatchTransactionGroup{}, flashloan.Route{}, fmt.Errorf("collateral reserve %s has no aToken", m.collReserve.Symbol)
		}
		// the adapter pulls the collateral aTokens plus any flashloan premium
		allowance := new(big.Int).Add(collateralUnits, route.Premium)
		approve, err := packApprove(p.manager.AdapterAddress(), allowance)
		if err != nil {
			return types.BatchTransactionGroup{}, flashloan.Route{}, err
		}
		items = append(items, types.BatchTransaction{
			Action:      types.ActionApprove,
			PoolAddress: m.collReserve.UnderlyingAsset,
			Amount:      collateralAmount,
			Symbol:      m.collReserve.Symbol,
			Tx: types.TxPayload{
				From:  user,
				To:    m.collReserve.ATokenAddress,
				Data:  approve,
				Value: big.NewInt(0),
			},
		})
	}
	items = append(items, types.BatchTransaction{
		Action:      types.ActionRepay,
		PoolAddress: m.debtReserve.UnderlyingAsset,
		Amount:      debtAmount,
		Symbol:      m.debtReserve.Symbol,
		Tx:          route.Tx,
	})

	p.logger.Info("Built collateral repay",
		zap.String("collateral", m.collReserve.Symbol),
		zap.String("debt", m.debtReserve.Symbol),
		zap.String("route", string(route.Kind)),
		zap.String("variant", string(plan.Variant)),
		zap.String("collateral_amount", collateralAmount.String()),
		zap.String("debt_amount", debtAmount.String()))

	return types.NewBatchTransactionGroup(items...), route, nil
}

func poolRateMode(mode repay.RateMode) uint8 {
	if mode == repay.RateModeStable {
		return flashloan.RateModeStable
	}
	return flashloan.RateModeVariable
}
