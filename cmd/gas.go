package cmd

import (
	"fmt"
	"strings"

	"github.com/michaelpento.lv/lendcore/gas"
	"github.com/michaelpento.lv/lendcore/types"
	"github.com/michaelpento.lv/lendcore/utils"
	lmath "github.com/michaelpento.lv/lendcore/utils/math"

	"github.com/spf13/cobra"
)

var gasFlags struct {
	actions     string
	nativePrice string
}

var gasCmd = &cobra.Command{
	Use:   "gas",
	Short: "Price a batch of actions at the configured chain's current fees",
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := parseDecimal("native-price", gasFlags.nativePrice)
		if err != nil {
			return err
		}

		var items []types.BatchTransaction
		for _, a := range strings.Split(gasFlags.actions, ",") {
			if a = strings.TrimSpace(a); a != "" {
				items = append(items, types.BatchTransaction{Action: types.ActionKind(a)})
			}
		}
		limit, err := gas.StaticLimitEstimator{}.EstimateGasLimit(cmd.Context(), items)
		if err != nil {
			return err
		}

		cfg, market, err := loadMarket()
		if err != nil {
			return err
		}
		client, err := dial(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		estimator, err := gas.NewEstimator(client, utils.GetLogger())
		if err != nil {
			return err
		}
		if err := estimator.Update(cmd.Context()); err != nil {
			return err
		}
		baseFee, tip := estimator.Fees()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "base fee:  %s gwei\n", lmath.FromBaseUnits(baseFee, 9))
		fmt.Fprintf(out, "tip:       %s gwei\n", lmath.FromBaseUnits(tip, 9))
		fmt.Fprintf(out, "gas limit: %d\n", limit)
		fmt.Fprintf(out, "cost:      %s %s ($%s)\n",
			lmath.WeiToNative(estimator.EstimateGasCost(limit)),
			market.NativeSymbol,
			estimator.EstimateGasCostUSD(limit, price).StringFixed(4))
		return nil
	},
}

func init() {
	gasCmd.Flags().StringVar(&gasFlags.actions, "actions", "approve,supply", "comma separated batch actions")
	gasCmd.Flags().StringVar(&gasFlags.nativePrice, "native-price", "0", "native token price in USD")
	rootCmd.AddCommand(gasCmd)
}
