package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear cached agent positions",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how many networks and agents have cached positions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pc, store, err := openPositions()
		if err != nil {
			return err
		}
		defer store.Close()
		return writeYAML(cmd.OutOrStdout(), pc.Stats())
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [network]",
	Short: "Clear cached positions for one network, or for all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pc, store, err := openPositions()
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 0 {
			if err := pc.ClearAll(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cleared all cached positions")
			return nil
		}
		if err := pc.Clear(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cleared cached positions for %s\n", args[0])
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
