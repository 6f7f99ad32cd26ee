package cmd

import (
	"fmt"

	"github.com/michaelpento.lv/lendcore/config"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.DefaultConfig()
		if err := config.SaveConfig(cfg, cfgFile); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "config written")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
