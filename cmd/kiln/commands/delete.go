package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/openkiln/openkiln/pkg/engine"
)

func newDeleteCommand() *cobra.Command {
	var (
		timeout      time.Duration
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "delete <template>",
		Short: "Delete the stack's resources",
		Long: `Delete removes every resource in reverse dependency order.
Resources that were never created, or that the provider no longer
knows, complete immediately.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, args[0])
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			opts := stackOptions(timeout, pollInterval, false)
			_, err = rt.runOperation(ctx, "DELETE", func(ctx context.Context) (*engine.StackResult, error) {
				return rt.stack.DeleteStack(ctx, opts)
			})
			return err
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall operation timeout")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 250*time.Millisecond, "delay between provider polls")

	return cmd
}
