package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ineilsen/agent-builder-sub002/internal/slydata"
)

var slydataNextID int

var slydataCmd = &cobra.Command{
	Use:   "slydata",
	Short: "Manage per-network sly data",
}

var slydataShowCmd = &cobra.Command{
	Use:   "show [network]",
	Short: "Show a network's sly data, or list networks that have some",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCacheStore()
		if err != nil {
			return err
		}
		defer store.Close()
		sc := slydata.New(store)

		if len(args) == 0 {
			names, err := sc.Networks()
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), map[string][]string{"networks": names})
		}

		entry, ok, err := sc.Load(args[0])
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), systemStyle.Render("no sly data for "+args[0]))
			return nil
		}
		var data any
		if err := json.Unmarshal(entry.Data, &data); err != nil {
			return fmt.Errorf("decode sly data: %w", err)
		}
		return writeYAML(cmd.OutOrStdout(), map[string]any{
			"network": args[0],
			"nextId":  entry.NextID,
			"data":    data,
		})
	},
}

var slydataSetCmd = &cobra.Command{
	Use:   "set <network> <json>",
	Short: "Replace a network's sly data",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !json.Valid([]byte(args[1])) {
			return fmt.Errorf("sly data must be valid JSON")
		}
		store, err := openCacheStore()
		if err != nil {
			return err
		}
		defer store.Close()
		return slydata.New(store).Save(args[0], json.RawMessage(args[1]), slydataNextID)
	},
}

var slydataClearCmd = &cobra.Command{
	Use:   "clear [network]",
	Short: "Clear sly data for one network, or for all of them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openCacheStore()
		if err != nil {
			return err
		}
		defer store.Close()
		network := ""
		if len(args) == 1 {
			network = args[0]
		}
		return slydata.New(store).Clear(network)
	},
}

func init() {
	slydataSetCmd.Flags().IntVar(&slydataNextID, "next-id", 1, "next item id to hand out")
	slydataCmd.AddCommand(slydataShowCmd)
	slydataCmd.AddCommand(slydataSetCmd)
	slydataCmd.AddCommand(slydataClearCmd)
}
