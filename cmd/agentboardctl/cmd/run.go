package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cliboard/cliboard/pkg/client"
)

var (
	runEngine     string
	runWorkspace  string
	runCreds      string
	runReadOnly   bool
	runUIDGID     string
	runPreferWarm bool
)

var runCmd = &cobra.Command{
	Use:   "run [flags] -- [argv...]",
	Short: "Start a new Run against a workspace and credentials directory",
	Long: `Start a new Run.

Examples:
  # Start a codex Run against the current directory
  agentboardctl run --engine codex --workspace "$(pwd)" --creds ~/.cliboard/creds/codex

  # Pass an explicit argv to the engine instead of the image default
  agentboardctl run --engine codex --workspace "$(pwd)" --creds "$(pwd)/creds" -- codex --model o1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runWorkspace == "" || runCreds == "" || runEngine == "" {
			return fmt.Errorf("--engine, --workspace, and --creds are required")
		}

		c, err := GetClient(cmd)
		if err != nil {
			return err
		}

		preferWarm := runPreferWarm
		resp, err := c.StartRun(cmd.Context(), client.StartRunRequest{
			Engine:     runEngine,
			Workspace:  runWorkspace,
			Creds:      runCreds,
			ReadOnly:   runReadOnly,
			UIDGID:     runUIDGID,
			Argv:       args,
			PreferWarm: &preferWarm,
		})
		if err != nil {
			return fmt.Errorf("starting run: %w", err)
		}

		fmt.Printf("Run ID: %s\n", resp.RunID)
		fmt.Printf("Container: %s\n", resp.ContainerName)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runEngine, "engine", "", "engine to run: codex, gemini, or opencode")
	runCmd.Flags().StringVar(&runWorkspace, "workspace", "", "absolute host path to bind-mount at /workspace")
	runCmd.Flags().StringVar(&runCreds, "creds", "", "absolute host path to bind-mount at /home/agent/.creds")
	runCmd.Flags().BoolVar(&runReadOnly, "read-only", false, "run the container with a read-only root filesystem")
	runCmd.Flags().StringVar(&runUIDGID, "uidgid", "", "uid:gid to run the engine process as")
	runCmd.Flags().BoolVar(&runPreferWarm, "prefer-warm", true, "exec into a warm container when one matches")
}
