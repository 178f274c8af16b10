package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List currently registered Runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := GetClient(cmd)
		if err != nil {
			return err
		}

		runs, err := c.ListRuns(cmd.Context())
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN ID\tENGINE\tWORKSPACE\tSTATUS\tSTARTED")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.RunID, r.Engine, r.Workspace, r.Status, r.StartedAt)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
}
