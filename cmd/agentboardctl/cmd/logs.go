package cmd

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var followLogs bool

var logsCmd = &cobra.Command{
	Use:   "logs <run-id>",
	Short: "Fetch or follow a Run's transcript",
	Long: `Fetch a Run's transcript tail, or stream it live with --follow until the
Run exits.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := args[0]

		c, err := GetClient(cmd)
		if err != nil {
			return err
		}

		body, err := c.StreamLogs(cmd.Context(), runID, followLogs)
		if err != nil {
			return fmt.Errorf("fetching logs: %w", err)
		}
		defer body.Close()

		return decodeSSEChunks(body, os.Stdout)
	},
}

// decodeSSEChunks reads the "event: chunk\ndata: <base64>\n\n" frames the
// control plane emits and writes the decoded payloads to w.
func decodeSSEChunks(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			continue
		}
		w.Write(decoded)
	}
	return scanner.Err()
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().BoolVarP(&followLogs, "follow", "f", false, "stream log output until the run exits")
}
