package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	LogFormat  string // "text" | "json"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the deltaview CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "deltaview",
		Short: "deltaview - workflow delta viewer",
		Long: `Subscribe to a workflow server's delta stream, keep a normalized
store of workflows, families, tasks and jobs, and render it as a tree or
a table.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var msg string
			switch {
			case !slices.Contains(ValidFormats, opts.Format):
				msg = fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			case !slices.Contains(ValidFormats, opts.LogFormat):
				msg = fmt.Sprintf("invalid log format %q: must be one of %v", opts.LogFormat, ValidFormats)
			}
			if msg != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), "Error:", msg)
				return NewExitError(ExitCommandError, msg)
			}
			configureLogging(cmd.ErrOrStderr(), opts.LogFormat, opts.Verbose)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log format (json|text)")

	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}
