package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/openkiln/openkiln/pkg/engine"
)

func newUpdateCommand() *cobra.Command {
	var (
		timeout      time.Duration
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "update <template>",
		Short: "Converge the stack onto a new template",
		Long: `Update diffs the stored stack against the template: new
resources are created, changed resources are updated in place or
replaced when the provider requires it, and resources absent from
the template are deleted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, args[0])
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			opts := stackOptions(timeout, pollInterval, false)
			result, err := rt.runOperation(ctx, "UPDATE", func(ctx context.Context) (*engine.StackResult, error) {
				return rt.stack.UpdateStack(ctx, rt.doc.Definitions(), opts)
			})
			if err == nil && result != nil && result.Status == engine.StackStatusComplete {
				rt.saveTemplate(ctx)
			}
			return err
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall operation timeout")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 250*time.Millisecond, "delay between provider polls")

	return cmd
}
