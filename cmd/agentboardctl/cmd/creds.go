package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var credsCmd = &cobra.Command{
	Use:   "creds",
	Short: "Check and manage per-engine credentials",
}

var (
	credsCheckEngine string
	credsCheckPath   string
)

var credsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check an engine's credential readiness",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := GetClient(cmd)
		if err != nil {
			return err
		}

		readiness, err := c.CheckCreds(cmd.Context(), credsCheckEngine, credsCheckPath)
		if err != nil {
			return err
		}

		fmt.Printf("engine: %s\n", readiness.Engine)
		fmt.Printf("ready: %v\n", readiness.Ready)
		if len(readiness.Reasons) > 0 {
			fmt.Printf("reasons: %s\n", strings.Join(readiness.Reasons, "; "))
		}
		if len(readiness.Found.Keys) > 0 {
			fmt.Printf("keys found: %v\n", readiness.Found.Keys)
		}
		if len(readiness.Found.Dirs) > 0 {
			fmt.Printf("dirs found: %v\n", readiness.Found.Dirs)
		}
		return nil
	},
}

var (
	credsWritePath   string
	credsWriteSets   []string
	credsWriteDelete []string
)

var credsWriteCmd = &cobra.Command{
	Use:   "write-env",
	Short: "Persist credential environment overlays to <creds>/.env",
	Long:  `Write-env writes KEY=VALUE pairs (--set, repeatable) to a creds directory's .env overlay, and removes keys named by --delete.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := GetClient(cmd)
		if err != nil {
			return err
		}

		updates := make(map[string]string, len(credsWriteSets))
		for _, kv := range credsWriteSets {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("invalid --set %q, expected KEY=VALUE", kv)
			}
			updates[key] = value
		}

		env, err := c.WriteEnv(cmd.Context(), credsWritePath, updates, credsWriteDelete)
		if err != nil {
			return err
		}

		for k, v := range env {
			fmt.Printf("%s=%s\n", k, v)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(credsCmd)
	credsCmd.AddCommand(credsCheckCmd)
	credsCmd.AddCommand(credsWriteCmd)

	credsCheckCmd.Flags().StringVar(&credsCheckEngine, "engine", "", "engine: codex, gemini, or opencode")
	credsCheckCmd.Flags().StringVar(&credsCheckPath, "creds", "", "absolute host creds path")

	credsWriteCmd.Flags().StringVar(&credsWritePath, "creds", "", "absolute host creds path")
	credsWriteCmd.Flags().StringArrayVar(&credsWriteSets, "set", nil, "KEY=VALUE to write (repeatable)")
	credsWriteCmd.Flags().StringArrayVar(&credsWriteDelete, "delete", nil, "key to remove (repeatable)")
}
