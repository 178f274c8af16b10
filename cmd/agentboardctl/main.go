package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/cliboard/cliboard/cmd/agentboardctl/cmd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "agentboardctl crashed: %v\n", r)
			if os.Getenv("CLIBOARD_DEBUG") != "" {
				debug.PrintStack()
			}
			os.Exit(2)
		}
	}()

	cmd.Execute()
}
