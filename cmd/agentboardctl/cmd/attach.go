package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var attachCmd = &cobra.Command{
	Use:   "attach <run-id>",
	Short: "Attach an interactive TTY to a running Run",
	Long: `Attach puts the local terminal into raw mode and pipes it bidirectionally
over the control plane's WebSocket, exactly like attaching to a local
container shell. Every keystroke, Ctrl-] included, is forwarded to the Run;
there is no detach key. The session ends when local stdin closes, the
WebSocket drops, or the Run exits.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := args[0]

		c, err := GetClient(cmd)
		if err != nil {
			return err
		}

		conn, err := c.Attach(cmd.Context(), runID)
		if err != nil {
			return fmt.Errorf("attaching to run %s: %w", runID, err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "detaching")

		fd := int(os.Stdin.Fd())
		var restore func()
		if term.IsTerminal(fd) {
			prevState, err := term.MakeRaw(fd)
			if err == nil {
				restore = func() { term.Restore(fd, prevState) }
				defer restore()
			}
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sendResize(ctx, conn, fd)

		go func() {
			defer cancel()
			buf := make([]byte, 4096)
			for {
				n, err := os.Stdin.Read(buf)
				if n > 0 {
					if werr := conn.Write(ctx, websocket.MessageBinary, buf[:n]); werr != nil {
						return
					}
				}
				if err != nil {
					return
				}
			}
		}()

		for {
			msgType, data, err := conn.Read(ctx)
			if err != nil {
				if err == io.EOF || ctx.Err() != nil {
					return nil
				}
				return err
			}
			if msgType == websocket.MessageBinary {
				os.Stdout.Write(data)
			}
		}
	},
}

func sendResize(ctx context.Context, conn *websocket.Conn, fd int) {
	cols, rows, err := term.GetSize(fd)
	if err != nil {
		return
	}
	payload, _ := json.Marshal(struct {
		Type string `json:"type"`
		Cols int    `json:"cols"`
		Rows int    `json:"rows"`
	}{Type: "resize", Cols: cols, Rows: rows})
	_ = conn.Write(ctx, websocket.MessageText, payload)
}

func init() {
	rootCmd.AddCommand(attachCmd)
}
