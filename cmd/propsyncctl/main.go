// Command propsyncctl replays stream events and repairs denormalized property
// summaries.
package main

import (
	"fmt"
	"os"

	"github.com/jacentio/propsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
