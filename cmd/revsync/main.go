// Command revsync runs the revsync document store CLI.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/revsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		code := cli.GetExitCode(err)
		// ExitFailure results were already rendered by the command.
		if code != cli.ExitFailure {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(code)
	}
}
