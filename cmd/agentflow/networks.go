package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var networksCmd = &cobra.Command{
	Use:   "networks",
	Short: "List the agent networks the server offers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := connectivityClient().Networks(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(names) == 0 {
			fmt.Fprintln(out, systemStyle.Render("no networks available at "+cfg.APIBase))
			return nil
		}
		for _, n := range names {
			fmt.Fprintln(out, n)
		}
		return nil
	},
}
