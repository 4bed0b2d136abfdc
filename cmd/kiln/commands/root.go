package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	statePath   string
	logLevel    string
	logFormat   string
	jsonOutput  bool
	enableTrace bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kiln",
		Short: "OpenKiln - declarative stack orchestration",
		Long: `OpenKiln converges declarative stacks of resources against
asynchronous providers.

A stack template names resources, their properties, and how they
reference each other. OpenKiln builds the dependency graph, drives the
provider operations batch by batch with cooperative polling, and
persists every state transition.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVar(&statePath, "state", "kiln.db", "state database path (\"memory\" for no persistence)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output results in JSON format")
	rootCmd.PersistentFlags().BoolVar(&enableTrace, "trace", false, "export OpenTelemetry spans to stdout")

	rootCmd.AddCommand(newCreateCommand())
	rootCmd.AddCommand(newUpdateCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newSuspendCommand())
	rootCmd.AddCommand(newResumeCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
