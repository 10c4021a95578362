package main

import (
	"github.com/spf13/cobra"

	"tethercheck/internal/scenario"
	"tethercheck/internal/tetherd"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [scenario...]",
		Short: "Run verification scenarios",
		Long: `Run the named scenarios against the tethering daemon, or every
registered scenario when none are named.

  tethercheck run                    # everything
  tethercheck run virtual-link       # one scenario
  tethercheck run -i eth1 physical-link`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			mgr, err := tetherd.NewManager(ctx)
			if err != nil {
				return err
			}
			r := scenario.NewRunner(cfg, scenario.DaemonController{Manager: mgr}, scenario.TAPProvider{})
			return r.Run(ctx, args)
		},
	}
}
