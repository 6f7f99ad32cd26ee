package cmd

import (
	"context"
	"fmt"

	"github.com/michaelpento.lv/lendcore/utils"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "lendcore",
	Short: "Risk and transaction planning for a lending market",
	Long: `lendcore projects health factors, resolves repay amounts, applies swap
slippage and decides when a collateral repay needs a flashloan.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.lendcore.json)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() {
	utils.InitLogger(debug)
}

func parseDecimal(flag, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid --%s %q: %w", flag, value, err)
	}
	return d, nil
}

// parseDecimals parses flag values in order, stopping at the first error
func parseDecimals(pairs ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		d, err := parseDecimal(pairs[i], pairs[i+1])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
