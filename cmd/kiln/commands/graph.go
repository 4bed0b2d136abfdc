package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openkiln/openkiln/pkg/engine"
	"github.com/openkiln/openkiln/pkg/handlers"
	"github.com/openkiln/openkiln/pkg/stores"
	"github.com/openkiln/openkiln/pkg/template"
)

func newGraphCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "graph <template>",
		Short: "Print the stack's dependency graph",
		Long: `Graph parses the template and prints its dependency graph
without touching providers or state. The dot format renders with
Graphviz; the batches format lists the parallel execution batches
one per line.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tel, err := newTelemetry()
			if err != nil {
				return err
			}

			doc, err := template.NewParser().ParseFile(args[0])
			if err != nil {
				return err
			}

			registry := handlers.DefaultRegistry(handlers.NewCloud())
			stack, err := engine.NewStack(doc.Name, doc.Definitions(), registry,
				stores.NewMemStore(), template.Extractor(), tel.Logger)
			if err != nil {
				return err
			}

			graph, err := stack.Graph()
			if err != nil {
				return err
			}

			switch format {
			case "dot":
				fmt.Print(graph.ToDOT())
			case "batches":
				for i, batch := range graph.Batches() {
					fmt.Printf("batch %d:", i)
					for _, name := range batch {
						fmt.Printf(" %s", name)
					}
					fmt.Println()
				}
			default:
				return fmt.Errorf("unknown graph format %q", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "dot", "output format (dot, batches)")

	return cmd
}
