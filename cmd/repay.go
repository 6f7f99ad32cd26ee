package cmd

import (
	"fmt"

	"github.com/michaelpento.lv/lendcore/repay"
	"github.com/michaelpento.lv/lendcore/swap"

	"github.com/spf13/cobra"
)

var repayFlags struct {
	amount          string
	debt            string
	apy             string
	debtPrice       string
	balance         string
	collateralPrice string
	slippage        string
}

var repayCmd = &cobra.Command{
	Use:   "repay",
	Short: "Resolve a repay amount and the collateral needed to cover it",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := parseDecimals(
			"debt", repayFlags.debt,
			"apy", repayFlags.apy,
			"debt-price", repayFlags.debtPrice,
			"balance", repayFlags.balance,
			"collateral-price", repayFlags.collateralPrice,
			"slippage", repayFlags.slippage,
		)
		if err != nil {
			return err
		}
		debt, apy, debtPrice, balance, collPrice, slippage := v[0], v[1], v[2], v[3], v[4], v[5]

		res, err := repay.Resolve(repay.Input{
			Amount:            repayFlags.amount,
			Debt:              debt,
			VariableBorrowAPY: apy,
			DebtPriceUSD:      debtPrice,
		})
		if err != nil {
			return err
		}

		required := repay.CollateralRequiredToCoverDebt(res.SafeAmount, debtPrice, collPrice, slippage)
		target := res.RepayAmount
		if !res.IsMax {
			required = repay.CollateralRequiredToCoverDebt(target, debtPrice, collPrice, slippage)
		}
		selection := swap.SelectVariant(balance, required, target)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "safe amount:         %s\n", res.SafeAmount)
		fmt.Fprintf(out, "repay amount:        %s ($%s)\n", res.RepayAmount, res.RepayAmountUSD.StringFixed(2))
		fmt.Fprintf(out, "collateral required: %s\n", required)
		fmt.Fprintf(out, "swap:                %s %s\n", selection.Variant, selection.Amount)
		fmt.Fprintf(out, "debt after repay:    %s\n", repay.AmountAfterRepay(debt, res.RepayAmount))
		return nil
	},
}

func init() {
	repayCmd.Flags().StringVar(&repayFlags.amount, "amount", repay.MaxSentinel, "amount to repay, or -1 for everything")
	repayCmd.Flags().StringVar(&repayFlags.debt, "debt", "0", "outstanding debt")
	repayCmd.Flags().StringVar(&repayFlags.apy, "apy", "0", "variable borrow APY as a fraction")
	repayCmd.Flags().StringVar(&repayFlags.debtPrice, "debt-price", "1", "debt asset price in USD")
	repayCmd.Flags().StringVar(&repayFlags.balance, "balance", "0", "collateral balance available to swap")
	repayCmd.Flags().StringVar(&repayFlags.collateralPrice, "collateral-price", "1", "collateral asset price in USD")
	repayCmd.Flags().StringVar(&repayFlags.slippage, "slippage", swap.DefaultSlippage.String(), "max slippage in percent")
	rootCmd.AddCommand(repayCmd)
}
