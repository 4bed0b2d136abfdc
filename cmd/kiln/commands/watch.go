package commands

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/openkiln/openkiln/pkg/engine"
	"github.com/openkiln/openkiln/pkg/template"
)

func newWatchCommand() *cobra.Command {
	var (
		timeout      time.Duration
		pollInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <template>",
		Short: "Converge the stack on every template change",
		Long: `Watch converges the stack once, then watches the template
file and re-converges whenever it changes. A template that no
longer parses is logged and skipped; the previous state stays in
effect. Stop with Ctrl-C.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, path)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			opts := stackOptions(timeout, pollInterval, false)
			converge := func(defs []engine.ResourceDefinition) {
				result, err := rt.runOperation(ctx, "UPDATE", func(ctx context.Context) (*engine.StackResult, error) {
					return rt.stack.UpdateStack(ctx, defs, opts)
				})
				if err != nil {
					rt.tel.Logger.Warn().Err(err).Msg("convergence failed, keeping watch")
					return
				}
				if result != nil && result.Status == engine.StackStatusComplete {
					rt.saveTemplate(ctx)
				}
			}

			converge(rt.doc.Definitions())

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer watcher.Close()

			// Watch the directory: editors replace files by rename, which
			// drops a watch on the file itself.
			if err := watcher.Add(filepath.Dir(path)); err != nil {
				return err
			}

			rt.tel.Logger.Info().Str("template", path).Msg("watching for template changes")

			parser := template.NewParser()
			var pending <-chan time.Time
			for {
				select {
				case <-ctx.Done():
					return nil

				case ev, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if ev.Name != path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
						continue
					}
					// Editors fire bursts of events per save; settle first.
					pending = time.After(200 * time.Millisecond)

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					rt.tel.Logger.Warn().Err(err).Msg("watch error")

				case <-pending:
					pending = nil
					raw, err := os.ReadFile(path)
					if err != nil {
						rt.tel.Logger.Warn().Err(err).Msg("failed to re-read template")
						continue
					}
					doc, err := parser.Parse(raw)
					if err != nil {
						rt.tel.Logger.Warn().Err(err).Msg("template no longer parses, skipping")
						continue
					}
					rt.raw = raw
					rt.doc = doc
					rt.tel.Logger.Info().Msg("template changed, converging")
					converge(doc.Definitions())
				}
			}
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "timeout per convergence")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 250*time.Millisecond, "delay between provider polls")

	return cmd
}
