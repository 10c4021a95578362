package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tethercheck/internal/tetherd"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's current tethering state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			mgr, err := tetherd.NewManager(ctx)
			if err != nil {
				return err
			}
			props, err := mgr.GetProperties(ctx)
			if err != nil {
				return err
			}

			tethered, err := props.GetStrings(tetherd.ManagerPropertyTetheredInterfaces)
			if err != nil {
				return err
			}
			if len(tethered) == 0 {
				fmt.Println("tethered interfaces: none")
			} else {
				fmt.Printf("tethered interfaces: %s\n", strings.Join(tethered, ", "))
			}

			upstream, err := props.GetString(tetherd.ManagerPropertyUpstreamNetwork)
			if err != nil {
				return err
			}
			if upstream == "" {
				upstream = "none"
			}
			fmt.Printf("upstream network: %s\n", upstream)

			// Older daemons do not expose the preference property.
			if props.Has(tetherd.ManagerPropertyPreferTestUpstreams) {
				prefer, err := props.GetBool(tetherd.ManagerPropertyPreferTestUpstreams)
				if err != nil {
					return err
				}
				fmt.Printf("test upstreams preferred: %t\n", prefer)
			}
			return nil
		},
	}
}
