package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ineilsen/agent-builder-sub002/internal/config"
)

var (
	cfgFile string
	envFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "agentflow",
	Short: "Chat with agent networks and inspect how they answer",
	Long: `agentflow connects to an agent network server, runs conversations against a
network and records an execution trace for every turn.

Commands:
  chat <network>              Interactive chat session
  networks                    List the networks the server offers
  layout <network>            Print the laid out agent graph as YAML
  cache stats|clear           Inspect or clear cached node positions
  slydata show|set|clear      Manage cached sly data per network
  traces <session>            List archived traces of a session
  traces show <trace-id>      Print one archived trace`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgFile, envFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = c
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(networksCmd)
	rootCmd.AddCommand(layoutCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(slydataCmd)
	rootCmd.AddCommand(tracesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
