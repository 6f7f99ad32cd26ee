package cmd

import (
	"fmt"

	"github.com/michaelpento.lv/lendcore/healthfactor"

	"github.com/spf13/cobra"
)

var hfFlags struct {
	collateral      string
	borrow          string
	threshold       string
	collateralDelta string
	debtDelta       string
}

var hfCmd = &cobra.Command{
	Use:   "hf",
	Short: "Project a health factor after a balance change",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := parseDecimals(
			"collateral", hfFlags.collateral,
			"borrow", hfFlags.borrow,
			"threshold", hfFlags.threshold,
			"collateral-delta", hfFlags.collateralDelta,
			"debt-delta", hfFlags.debtDelta,
		)
		if err != nil {
			return err
		}

		current := healthfactor.FromBalances(v[0], v[1], v[2])
		projected := healthfactor.Project(healthfactor.Projection{
			Collateral:           v[0],
			Borrow:               v[1],
			LiquidationThreshold: v[2],
			CollateralDelta:      v[3],
			DebtDelta:            v[4],
		})

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "current:   %s\n", current)
		fmt.Fprintf(out, "projected: %s\n", projected)
		if projected.Liquidatable() {
			fmt.Fprintln(out, "position would be liquidatable")
		}
		return nil
	},
}

func init() {
	hfCmd.Flags().StringVar(&hfFlags.collateral, "collateral", "0", "total collateral in market reference currency")
	hfCmd.Flags().StringVar(&hfFlags.borrow, "borrow", "0", "total borrows in market reference currency")
	hfCmd.Flags().StringVar(&hfFlags.threshold, "threshold", "0", "liquidation threshold as a fraction")
	hfCmd.Flags().StringVar(&hfFlags.collateralDelta, "collateral-delta", "0", "signed change in collateral")
	hfCmd.Flags().StringVar(&hfFlags.debtDelta, "debt-delta", "0", "signed change in debt")
	rootCmd.AddCommand(hfCmd)
}
