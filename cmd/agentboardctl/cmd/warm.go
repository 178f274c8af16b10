package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cliboard/cliboard/pkg/client"
)

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Inspect and prime the warm container pool",
}

var warmListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List warm containers",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := GetClient(cmd)
		if err != nil {
			return err
		}

		containers, err := c.ListWarm(cmd.Context())
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CONTAINER ID\tENGINE\tWORKSPACE\tREAD-ONLY")
		for _, wc := range containers {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", wc.ContainerID, wc.Engine, wc.Workspace, wc.ReadOnly)
		}
		return tw.Flush()
	},
}

var (
	warmEnsureEngine    string
	warmEnsureWorkspace string
	warmEnsureCreds     string
	warmEnsureReadOnly  bool
	warmEnsureUIDGID    string
)

var warmEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Ensure a warm container exists for a mount fingerprint",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := GetClient(cmd)
		if err != nil {
			return err
		}

		id, err := c.EnsureWarm(cmd.Context(), client.EnsureWarmRequest{
			Engine:    warmEnsureEngine,
			Workspace: warmEnsureWorkspace,
			Creds:     warmEnsureCreds,
			ReadOnly:  warmEnsureReadOnly,
			UIDGID:    warmEnsureUIDGID,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Container: %s\n", id)
		return nil
	},
}

var warmDeleteCmd = &cobra.Command{
	Use:   "rm <container-id>",
	Short: "Stop and remove a warm container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := GetClient(cmd)
		if err != nil {
			return err
		}

		if _, err := c.DeleteWarm(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(warmCmd)
	warmCmd.AddCommand(warmListCmd)
	warmCmd.AddCommand(warmEnsureCmd)
	warmCmd.AddCommand(warmDeleteCmd)

	warmEnsureCmd.Flags().StringVar(&warmEnsureEngine, "engine", "", "engine: codex, gemini, or opencode")
	warmEnsureCmd.Flags().StringVar(&warmEnsureWorkspace, "workspace", "", "absolute host workspace path")
	warmEnsureCmd.Flags().StringVar(&warmEnsureCreds, "creds", "", "absolute host creds path")
	warmEnsureCmd.Flags().BoolVar(&warmEnsureReadOnly, "read-only", false, "run the container with a read-only root filesystem")
	warmEnsureCmd.Flags().StringVar(&warmEnsureUIDGID, "uidgid", "", "uid:gid to run the engine process as")
}
