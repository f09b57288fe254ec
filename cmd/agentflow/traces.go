package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var tracesCmd = &cobra.Command{
	Use:   "traces <session>",
	Short: "List the archived traces of a chat session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openArchive()
		if err != nil {
			return err
		}
		defer store.Close()

		list, err := store.ListTraces(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), renderSummaries(list))
		return nil
	},
}

var traceShowCmd = &cobra.Command{
	Use:   "show <trace-id>",
	Short: "Print every step of one archived trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openArchive()
		if err != nil {
			return err
		}
		defer store.Close()

		tr, err := store.GetTrace(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), renderTrace(*tr))
		return nil
	},
}

func init() {
	tracesCmd.AddCommand(traceShowCmd)
}
