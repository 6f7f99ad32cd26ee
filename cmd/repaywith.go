package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/michaelpento.lv/lendcore/batch"
	"github.com/michaelpento.lv/lendcore/collateralrepay"
	"github.com/michaelpento.lv/lendcore/config"
	"github.com/michaelpento.lv/lendcore/dex/uniswap"
	"github.com/michaelpento.lv/lendcore/flashloan"
	"github.com/michaelpento.lv/lendcore/flashloan/aave"
	"github.com/michaelpento.lv/lendcore/gas"
	"github.com/michaelpento.lv/lendcore/healthfactor"
	"github.com/michaelpento.lv/lendcore/repay"
	"github.com/michaelpento.lv/lendcore/swap"
	"github.com/michaelpento.lv/lendcore/types"
	"github.com/michaelpento.lv/lendcore/utils"
	lmath "github.com/michaelpento.lv/lendcore/utils/math"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var errDryRun = errors.New("dry run, not sending")

// dryRunSender refuses to send; repay-with only prints the batch
type dryRunSender struct{}

func (dryRunSender) SendTx(ctx context.Context, payload types.TxPayload) (common.Hash, error) {
	return common.Hash{}, errDryRun
}

// chainCaller answers router and pool reads. Tests replace it.
var chainCaller = func(ctx context.Context, cfg *config.Config) (ethereum.ContractCaller, func(), error) {
	client, err := dial(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}

var repayWithFlags struct {
	debt               string
	debtSymbol         string
	debtDecimals       int32
	debtPrice          string
	debtAmount         string
	collateral         string
	collateralSymbol   string
	collateralDecimals int32
	collateralPrice    string
	collateralBalance  string
	aToken             string
	threshold          string
	amount             string
	user               string
	premium            uint64
	nativePrice        string
	baseFee            string
	tip                string
}

var repayWithCmd = &cobra.Command{
	Use:   "repay-with",
	Short: "Dry run a collateral repay through the market's router and print the batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := repayWithFlags
		for _, a := range []struct{ flag, value string }{
			{"debt", f.debt},
			{"collateral", f.collateral},
			{"a-token", f.aToken},
			{"user", f.user},
		} {
			if !common.IsHexAddress(a.value) {
				return fmt.Errorf("invalid --%s %q", a.flag, a.value)
			}
		}
		v, err := parseDecimals(
			"debt-price", f.debtPrice,
			"debt-amount", f.debtAmount,
			"collateral-price", f.collateralPrice,
			"collateral-balance", f.collateralBalance,
			"threshold", f.threshold,
			"native-price", f.nativePrice,
			"base-fee", f.baseFee,
			"tip", f.tip,
		)
		if err != nil {
			return err
		}
		debtPrice, debtAmount, collPrice, collBalance, threshold, nativePrice, baseFee, tip :=
			v[0], v[1], v[2], v[3], v[4], v[5], v[6], v[7]

		cfg, market, err := loadMarket()
		if err != nil {
			return err
		}
		if market.Router == "" {
			return fmt.Errorf("market %s has no router configured", market.Name)
		}
		caller, closeCaller, err := chainCaller(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeCaller()

		logger := utils.GetLogger()
		user := common.HexToAddress(f.user)
		debtAsset := common.HexToAddress(f.debt)
		collAsset := common.HexToAddress(f.collateral)

		collateralUSD := collBalance.Mul(collPrice)
		debtUSD := debtAmount.Mul(debtPrice)
		snapshot := &types.MarketSnapshot{
			Reserves: []types.ReserveState{
				{
					UnderlyingAsset: debtAsset, Symbol: f.debtSymbol, Decimals: f.debtDecimals,
					PriceInMarketReferenceCurrency: debtPrice, PriceInUSD: debtPrice,
					FlashLoanEnabled: true,
				},
				{
					UnderlyingAsset: collAsset, ATokenAddress: common.HexToAddress(f.aToken),
					Symbol: f.collateralSymbol, Decimals: f.collateralDecimals,
					PriceInMarketReferenceCurrency: collPrice, PriceInUSD: collPrice,
					LiquidationThreshold: threshold, BaseLTV: threshold,
					UsageAsCollateralEnabled: true, FlashLoanEnabled: true,
				},
				{Symbol: market.NativeSymbol, Decimals: 18, PriceInUSD: nativePrice},
			},
			User: &types.UserPosition{
				TotalCollateralMarketReferenceCurrency: collateralUSD,
				TotalBorrowsMarketReferenceCurrency:    debtUSD,
				CurrentLiquidationThreshold:            threshold,
				HealthFactor:                           healthfactor.FromBalances(collateralUSD, debtUSD, threshold),
				Reserves: []types.UserReserve{
					{UnderlyingAsset: collAsset, Symbol: f.collateralSymbol, UnderlyingBalance: collBalance,
						UnderlyingBalanceMarketReferenceCurrency: collateralUSD,
						UnderlyingBalanceUSD:                     collateralUSD,
						UsageAsCollateralEnabledOnUser:           true},
					{UnderlyingAsset: debtAsset, Symbol: f.debtSymbol, VariableBorrows: debtAmount},
				},
			},
			MarketReferencePriceInUSD: decimal.NewFromInt(1),
		}

		router, err := uniswap.NewRouter(market.RouterAddress(), caller, logger)
		if err != nil {
			return err
		}
		// dry runs keep their metrics unregistered
		engine, err := swap.NewEngine(router, swap.EngineConfig{
			CacheSize: cfg.Quote.CacheSize,
			CacheTTL:  cfg.Quote.CacheTTL,
			RateLimit: cfg.Quote.RateLimit.RequestsPerSecond,
			RateBurst: cfg.Quote.RateLimit.BurstSize,
			Namespace: cfg.MetricsNamespace,
		}, logger)
		if err != nil {
			return err
		}
		adapter, err := aave.NewRepayAdapter(market.RepayAdapterAddress())
		if err != nil {
			return err
		}
		pool, err := aave.NewPool(market.PoolAddress(), caller, logger)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("premium") {
			pool.SetPremium(f.premium)
		}
		manager, err := flashloan.NewManager(adapter, pool, logger, cfg.MetricsNamespace, nil)
		if err != nil {
			return err
		}
		planner, err := collateralrepay.NewPlanner(engine, manager, cfg.ChainID, logger)
		if err != nil {
			return err
		}

		in := collateralrepay.Input{
			Snapshot:        snapshot,
			DebtAsset:       debtAsset,
			CollateralAsset: collAsset,
			RateMode:        repay.RateModeVariable,
			Amount:          f.amount,
			MaxSlippage:     cfg.MaxSlippage,
		}
		if _, err := planner.SetAmount(in); err != nil {
			return err
		}
		plan, err := planner.Quote(cmd.Context(), in, user, false)
		if err != nil {
			return err
		}
		if plan.Error != nil {
			return fmt.Errorf("repay blocked: %s", plan.Error.Message())
		}
		group, route, err := planner.BuildGroup(cmd.Context(), in, plan, user, collateralrepay.BuildOptions{})
		if err != nil {
			return err
		}

		builder, err := batch.NewAccountBuilder(user, nil)
		if err != nil {
			return err
		}
		orch, err := batch.NewOrchestrator(batch.Config{
			Sender:       dryRunSender{},
			Builder:      builder,
			Fees:         gas.NewStaticEstimator(gwei(baseFee), gwei(tip)),
			Explorer:     market.TxExplorer(),
			NativeSymbol: market.NativeSymbol,
			ExplorerName: market.Explorer.Name,
			Namespace:    cfg.MetricsNamespace,
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		orch.AddGroup(group)

		cost, err := orch.GasCost(cmd.Context(), snapshot)
		if err != nil {
			return err
		}
		payload, err := orch.BatchTransactionPayload(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "variant:   %s\n", plan.Variant)
		fmt.Fprintf(out, "swap:      %s %s -> %s %s\n", plan.InputAmount, f.collateralSymbol, plan.OutputAmount, f.debtSymbol)
		fmt.Fprintf(out, "hf after:  %s\n", plan.HealthFactorAfter)
		fmt.Fprintf(out, "route:     %s\n", route.Kind)
		for _, tx := range orch.Transactions(snapshot) {
			fmt.Fprintf(out, "tx:        %s %s %s ($%s)\n", tx.Action, tx.Amount, tx.Symbol, tx.AmountUSD.StringFixed(2))
		}
		fmt.Fprintf(out, "approvals: %d\n", len(orch.Approvals()))
		fmt.Fprintf(out, "gas:       %d (%s %s, $%s)\n", cost.Limit, cost.Native, market.NativeSymbol, cost.USD.StringFixed(4))
		fmt.Fprintf(out, "batch:     %s -> %s, %d bytes\n", payload.From.Hex(), payload.To.Hex(), len(payload.Data))
		fmt.Fprintf(out, "button:    %s\n", orch.ButtonLabel())
		return nil
	},
}

func gwei(v decimal.Decimal) *big.Int {
	return lmath.ToBaseUnits(v, 9)
}

func init() {
	f := repayWithCmd.Flags()
	f.StringVar(&repayWithFlags.debt, "debt", "", "debt token address")
	f.StringVar(&repayWithFlags.debtSymbol, "debt-symbol", "DEBT", "debt token symbol")
	f.Int32Var(&repayWithFlags.debtDecimals, "debt-decimals", 18, "debt token decimals")
	f.StringVar(&repayWithFlags.debtPrice, "debt-price", "0", "debt price in USD")
	f.StringVar(&repayWithFlags.debtAmount, "debt-amount", "0", "outstanding variable debt")
	f.StringVar(&repayWithFlags.collateral, "collateral", "", "collateral token address")
	f.StringVar(&repayWithFlags.collateralSymbol, "collateral-symbol", "COLL", "collateral token symbol")
	f.Int32Var(&repayWithFlags.collateralDecimals, "collateral-decimals", 18, "collateral token decimals")
	f.StringVar(&repayWithFlags.collateralPrice, "collateral-price", "0", "collateral price in USD")
	f.StringVar(&repayWithFlags.collateralBalance, "collateral-balance", "0", "supplied collateral balance")
	f.StringVar(&repayWithFlags.aToken, "a-token", "", "collateral aToken address")
	f.StringVar(&repayWithFlags.threshold, "threshold", "0.8", "collateral liquidation threshold as a fraction")
	f.StringVar(&repayWithFlags.amount, "amount", repay.MaxSentinel, "debt amount to repay, or -1 for everything")
	f.StringVar(&repayWithFlags.user, "user", "", "account that holds the position and runs the batch")
	f.Uint64Var(&repayWithFlags.premium, "premium", 0, "flashloan premium in bps, read from the pool when unset")
	f.StringVar(&repayWithFlags.nativePrice, "native-price", "0", "native token price in USD")
	f.StringVar(&repayWithFlags.baseFee, "base-fee", "1", "base fee in gwei")
	f.StringVar(&repayWithFlags.tip, "tip", "0.1", "priority fee in gwei")
	rootCmd.AddCommand(repayWithCmd)
}
