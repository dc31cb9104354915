// Command snitch records collected fleet state into a versioned graph and
// answers point-in-time and change queries over it.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/snitch/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// Commands report their own errors; anything else came from cobra.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
