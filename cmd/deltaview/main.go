// Command deltaview subscribes to workflow delta streams and renders the
// merged state as a tree or table.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/deltaview/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()

	// ExitErrors were already reported by the command; flag and argument
	// errors from cobra were not.
	var exitErr *cli.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
