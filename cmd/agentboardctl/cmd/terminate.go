package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cliboard/cliboard/pkg/client"
)

func newTerminateCmd(use, short string, op func(*client.Client, context.Context, string) (client.OkResponse, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <run-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := GetClient(cmd)
			if err != nil {
				return err
			}

			ok, err := op(c, cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if ok.Fallback {
				fmt.Printf("ok (fallback cleanup, run %s was no longer tracked)\n", args[0])
			} else {
				fmt.Println("ok")
			}
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(newTerminateCmd("stop", "Gracefully stop a Run", (*client.Client).Stop))
	rootCmd.AddCommand(newTerminateCmd("kill", "Immediately kill a Run", (*client.Client).Kill))
	rootCmd.AddCommand(newTerminateCmd("close", "Unconditionally tear down a Run", (*client.Client).Close))
}
