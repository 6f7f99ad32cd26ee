package cmd

import (
	"fmt"

	"github.com/michaelpento.lv/lendcore/swap"

	"github.com/spf13/cobra"
)

var slippageFlags struct {
	amount   string
	slippage string
	decimals int32
}

var slippageCmd = &cobra.Command{
	Use:   "slippage",
	Short: "Show the slippage bounds of a swap amount",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := parseDecimals("amount", slippageFlags.amount, "slippage", slippageFlags.slippage)
		if err != nil {
			return err
		}
		if slippageFlags.decimals < 0 {
			return fmt.Errorf("invalid --decimals %d", slippageFlags.decimals)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "max input:    %s\n", swap.MaxInputAmountWithSlippage(v[0], v[1], slippageFlags.decimals))
		fmt.Fprintf(out, "min received: %s\n", swap.MinimumReceivedAfterSlippage(v[0], v[1], slippageFlags.decimals))
		return nil
	},
}

func init() {
	slippageCmd.Flags().StringVar(&slippageFlags.amount, "amount", "0", "quoted amount")
	slippageCmd.Flags().StringVar(&slippageFlags.slippage, "slippage", swap.DefaultSlippage.String(), "max slippage in percent")
	slippageCmd.Flags().Int32Var(&slippageFlags.decimals, "decimals", 18, "token decimals")
	rootCmd.AddCommand(slippageCmd)
}
