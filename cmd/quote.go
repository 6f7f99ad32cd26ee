package cmd

import (
	"fmt"

	"github.com/michaelpento.lv/lendcore/dex/uniswap"
	"github.com/michaelpento.lv/lendcore/repay"
	"github.com/michaelpento.lv/lendcore/swap"
	"github.com/michaelpento.lv/lendcore/utils"
	"github.com/michaelpento.lv/lendcore/utils/metrics"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var quoteFlags struct {
	from         string
	fromDecimals int32
	fromPrice    string
	to           string
	toDecimals   int32
	toPrice      string
	amount       string
	debt         string
	balance      string
	user         string
}

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Quote a collateral to debt swap on the market's router",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, a := range []struct{ flag, value string }{
			{"from", quoteFlags.from},
			{"to", quoteFlags.to},
			{"user", quoteFlags.user},
		} {
			if !common.IsHexAddress(a.value) {
				return fmt.Errorf("invalid --%s %q", a.flag, a.value)
			}
		}
		v, err := parseDecimals(
			"from-price", quoteFlags.fromPrice,
			"to-price", quoteFlags.toPrice,
			"debt", quoteFlags.debt,
			"balance", quoteFlags.balance,
		)
		if err != nil {
			return err
		}
		fromPrice, toPrice, debt, balance := v[0], v[1], v[2], v[3]

		cfg, market, err := loadMarket()
		if err != nil {
			return err
		}
		if market.Router == "" {
			return fmt.Errorf("market %s has no router configured", market.Name)
		}
		client, err := dial(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		logger := utils.GetLogger()
		metrics.Initialize(&metrics.MetricsConfig{Namespace: cfg.MetricsNamespace, LogMetrics: debug}, logger)
		router, err := uniswap.NewRouter(market.RouterAddress(), client, logger)
		if err != nil {
			return err
		}
		engine, err := swap.NewEngine(router, swap.EngineConfig{
			CacheSize:  cfg.Quote.CacheSize,
			CacheTTL:   cfg.Quote.CacheTTL,
			RateLimit:  cfg.Quote.RateLimit.RequestsPerSecond,
			RateBurst:  cfg.Quote.RateLimit.BurstSize,
			Namespace:  cfg.MetricsNamespace,
			Registerer: metrics.Registry(),
		}, logger)
		if err != nil {
			return err
		}

		safe := repay.SafeAmountToRepayAll(debt, decimal.Zero)
		state := engine.SetRepayAmount(swap.AmountChange{
			Value:          quoteFlags.amount,
			SafeAmount:     safe,
			Balance:        balance,
			RequiredSource: repay.CollateralRequiredToCoverDebt(safe, toPrice, fromPrice, cfg.MaxSlippage),
		})

		q, err := engine.Quote(cmd.Context(), swap.Request{
			ChainID: cfg.ChainID,
			User:    common.HexToAddress(quoteFlags.user),
			Source: swap.Asset{
				Address:  common.HexToAddress(quoteFlags.from),
				Decimals: quoteFlags.fromDecimals,
				PriceUSD: fromPrice,
			},
			Target: swap.Asset{
				Address:  common.HexToAddress(quoteFlags.to),
				Decimals: quoteFlags.toDecimals,
				PriceUSD: toPrice,
			},
			SourceBalance: balance,
			MaxSlippage:   cfg.MaxSlippage,
		})
		if err != nil {
			return err
		}
		if q.Error != "" {
			return fmt.Errorf("quote failed: %s", q.Error)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "variant: %s\n", state.Variant)
		fmt.Fprintf(out, "input:   %s ($%s)\n", q.InputAmount, q.InputAmountUSD.StringFixed(2))
		fmt.Fprintf(out, "output:  %s ($%s)\n", q.OutputAmount, q.OutputAmountUSD.StringFixed(2))
		return nil
	},
}

func init() {
	quoteCmd.Flags().StringVar(&quoteFlags.from, "from", "", "collateral token address")
	quoteCmd.Flags().Int32Var(&quoteFlags.fromDecimals, "from-decimals", 18, "collateral token decimals")
	quoteCmd.Flags().StringVar(&quoteFlags.fromPrice, "from-price", "0", "collateral price in USD")
	quoteCmd.Flags().StringVar(&quoteFlags.to, "to", "", "debt token address")
	quoteCmd.Flags().Int32Var(&quoteFlags.toDecimals, "to-decimals", 18, "debt token decimals")
	quoteCmd.Flags().StringVar(&quoteFlags.toPrice, "to-price", "0", "debt price in USD")
	quoteCmd.Flags().StringVar(&quoteFlags.amount, "amount", repay.MaxSentinel, "debt amount to receive, or -1 for everything")
	quoteCmd.Flags().StringVar(&quoteFlags.debt, "debt", "0", "outstanding debt")
	quoteCmd.Flags().StringVar(&quoteFlags.balance, "balance", "0", "collateral balance available to swap")
	quoteCmd.Flags().StringVar(&quoteFlags.user, "user", "", "account receiving the swap output")
	rootCmd.AddCommand(quoteCmd)
}
