package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the control plane's liveness and configured allow-lists",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := GetClient(cmd)
		if err != nil {
			return err
		}

		h, err := c.Health(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("ok: %v\n", h.OK)
		fmt.Printf("image: %s\n", h.Image)
		fmt.Printf("allowed workspaces: %v\n", h.Allow.Workspaces)
		fmt.Printf("allowed creds: %v\n", h.Allow.Creds)
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the control plane process's identity and platform",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := GetClient(cmd)
		if err != nil {
			return err
		}

		w, err := c.Whoami(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("uid=%d gid=%d platform=%s\n", w.UID, w.GID, w.Platform)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(whoamiCmd)
}
