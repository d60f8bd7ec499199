package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/vuload/internal/performance/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a load test definition without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(args[0])
			if err != nil {
				return err
			}
			if _, err := config.ToSpec(cfg); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d virtual users, %d request(s), %d threshold(s))\n",
				args[0], cfg.VirtualUsers, len(cfg.Requests), len(cfg.Thresholds))
			return nil
		},
	}
}
