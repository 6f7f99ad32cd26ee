package cmd

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/michaelpento.lv/lendcore/flashloan"
	"github.com/michaelpento.lv/lendcore/flashloan/aave"
	"github.com/michaelpento.lv/lendcore/types"
	"github.com/michaelpento.lv/lendcore/utils"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var flashloanFlags struct {
	healthFactor string
	effect       string
	frozen       bool
	enabled      bool
	amount       string
	onchain      bool
}

var flashloanCmd = &cobra.Command{
	Use:   "flashloan",
	Short: "Decide whether a collateral repay must use a flashloan",
	RunE: func(cmd *cobra.Command, args []string) error {
		hf := types.UnboundedHealthFactor()
		if raw := strings.TrimSpace(flashloanFlags.healthFactor); raw != "" && !strings.EqualFold(raw, "inf") {
			v, err := parseDecimal("hf", raw)
			if err != nil {
				return err
			}
			hf = types.NewHealthFactor(v)
		}
		effect, err := parseDecimal("effect", flashloanFlags.effect)
		if err != nil {
			return err
		}

		decision := flashloan.RequiresFlashloan(flashloan.Params{
			HealthFactor:         hf,
			HFEffectOfFromAmount: effect,
			Source: types.ReserveState{
				IsFrozen:         flashloanFlags.frozen,
				FlashLoanEnabled: flashloanFlags.enabled,
			},
		})

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "required:  %t (health factor impact %t, frozen %t)\n",
			decision.Required, decision.HealthFactorImpact, decision.Frozen)
		if decision.Blocked {
			fmt.Fprintln(out, "blocked:   flashloans are disabled for this asset")
		}
		if !decision.Required || !flashloanFlags.onchain {
			return nil
		}

		amount, ok := new(big.Int).SetString(flashloanFlags.amount, 10)
		if !ok {
			return fmt.Errorf("invalid --amount %q", flashloanFlags.amount)
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

		pool, err := aave.NewPool(market.PoolAddress(), client, utils.GetLogger())
		if err != nil {
			return err
		}
		bps, err := pool.FlashloanPremium(cmd.Context())
		if err != nil {
			return err
		}

		utils.GetLogger().Debug("Read flashloan premium",
			zap.String("market", market.Name),
			zap.Uint64("premium_bps", bps))
		fmt.Fprintf(out, "premium:   %s (%d bps)\n", flashloan.Premium(amount, bps), bps)
		return nil
	},
}

func init() {
	flashloanCmd.Flags().StringVar(&flashloanFlags.healthFactor, "hf", "inf", "current health factor, or inf")
	flashloanCmd.Flags().StringVar(&flashloanFlags.effect, "effect", "0", "health factor worth of the collateral withdrawn")
	flashloanCmd.Flags().BoolVar(&flashloanFlags.frozen, "frozen", false, "collateral reserve is frozen")
	flashloanCmd.Flags().BoolVar(&flashloanFlags.enabled, "enabled", true, "flashloans are enabled for the collateral")
	flashloanCmd.Flags().StringVar(&flashloanFlags.amount, "amount", "0", "collateral amount in base units, for the premium")
	flashloanCmd.Flags().BoolVar(&flashloanFlags.onchain, "onchain", false, "read the flashloan premium from the configured market")
	rootCmd.AddCommand(flashloanCmd)
}
