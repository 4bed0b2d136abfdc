package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openkiln/openkiln/pkg/template"
)

func newEventsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "events <template>",
		Short: "Show the stack's state-transition history",
		Long: `Events reads the append-only transition log from the state
store, newest first. Every provider-visible state change a stack
operation made is one row.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			doc, err := template.NewParser().ParseFile(args[0])
			if err != nil {
				return err
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			events, err := store.ListEvents(ctx, doc.Name, limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(events)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tRESOURCE\tTRANSITION\tREASON")
			for _, ev := range events {
				fmt.Fprintf(w, "%s\t%s\t%s -> %s\t%s\n",
					ev.Timestamp.Format(time.RFC3339),
					ev.Resource, ev.OldState, ev.NewState, ev.Reason)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events (0 for all)")

	return cmd
}
