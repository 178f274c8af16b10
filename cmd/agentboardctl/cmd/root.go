// Package cmd implements agentboardctl's cobra command tree: a small CLI
// for driving a running cliboard control plane daemon (start/stop Runs,
// tail logs, attach a TTY, manage warm containers and credentials).
package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/cliboard/cliboard/pkg/client"
)

type contextKey string

const configContextKey contextKey = "cliboardconfig"

var (
	cfgFile string
	baseURL string

	rootCmd = &cobra.Command{
		Use:   "agentboardctl",
		Short: "CLI for driving a running cliboard control plane (runs, logs, attach, warm, creds)",
		Long: `agentboardctl is a small command-line tool for interacting with a running
cliboard control plane daemon. It provides subcommands to start/stop/kill
Runs, tail or attach to a Run's TTY, inspect and prime the warm container
pool, and manage per-engine credentials.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := client.LoadConfig(cfgFile)
			if err != nil {
				return err
			}
			if baseURL != "" {
				cfg.BaseURL = baseURL
			}

			ctx := context.WithValue(cmd.Context(), configContextKey, cfg)
			cmd.SetContext(ctx)
			return nil
		},
	}
)

// GetClient builds a client.Client against the command's resolved Config.
func GetClient(cmd *cobra.Command) (*client.Client, error) {
	ctx := cmd.Context()
	cfg, ok := ctx.Value(configContextKey).(*client.Config)
	if !ok {
		return nil, errors.New("no config in context")
	}
	return client.NewClient(cfg.BaseURL), nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML). Searches: cliboard.yaml, .cliboard/config.yaml")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Base URL for the control plane daemon (overrides config)")
}
