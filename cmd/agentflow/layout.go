package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ineilsen/agent-builder-sub002/internal/layout"
)

var (
	layoutForce   bool
	layoutCompact bool
)

var layoutCmd = &cobra.Command{
	Use:   "layout <network>",
	Short: "Lay out a network's agent graph and print it as YAML",
	Long: `Fetch the network's connectivity, position every agent and print the result.
Cached positions are reused when they cover every agent; --force recomputes
and replaces them.`,
	Args: cobra.ExactArgs(1),
	RunE: runLayout,
}

func init() {
	layoutCmd.Flags().BoolVar(&layoutForce, "force", false, "ignore cached positions")
	layoutCmd.Flags().BoolVar(&layoutCompact, "compact", false, "use the compact connectivity view")
}

type layoutOutput struct {
	Network string        `yaml:"network"`
	Cached  bool          `yaml:"cached"`
	Nodes   []layout.Node `yaml:"nodes"`
	Edges   []layout.Edge `yaml:"edges"`
}

func runLayout(cmd *cobra.Command, args []string) error {
	network := args[0]

	g, err := connectivityClient().Fetch(cmd.Context(), network, layoutCompact)
	if err != nil {
		return err
	}

	pc, store, err := openPositions()
	if err != nil {
		return fmt.Errorf("failed to open position cache: %w", err)
	}
	defer store.Close()

	mgr := layout.NewManager(network, pc, cfg.LayoutOptions())
	cached := !layoutForce && mgr.HasCachedPositions()
	nodes := mgr.Apply(g.Nodes, g.Edges, layoutForce)

	return writeYAML(cmd.OutOrStdout(), layoutOutput{
		Network: network,
		Cached:  cached,
		Nodes:   nodes,
		Edges:   g.Edges,
	})
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}
