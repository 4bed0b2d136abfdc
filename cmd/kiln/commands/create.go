package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/openkiln/openkiln/pkg/engine"
)

func newCreateCommand() *cobra.Command {
	var (
		timeout      time.Duration
		pollInterval time.Duration
		rollback     bool
	)

	cmd := &cobra.Command{
		Use:   "create <template>",
		Short: "Create the stack described by a template",
		Long: `Create parses the template, orders the resources by their
references, and drives each batch of create operations until the
providers report completion. With --rollback, resources created
during a failed run are deleted again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, args[0])
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			opts := stackOptions(timeout, pollInterval, rollback)
			result, err := rt.runOperation(ctx, "CREATE", func(ctx context.Context) (*engine.StackResult, error) {
				return rt.stack.CreateStack(ctx, opts)
			})
			if err == nil && result != nil && result.Status == engine.StackStatusComplete {
				rt.saveTemplate(ctx)
			}
			return err
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall operation timeout")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 250*time.Millisecond, "delay between provider polls")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "delete created resources if the operation fails")

	return cmd
}
