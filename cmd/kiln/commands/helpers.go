package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/openkiln/openkiln/pkg/engine"
	"github.com/openkiln/openkiln/pkg/handlers"
	"github.com/openkiln/openkiln/pkg/stores"
	"github.com/openkiln/openkiln/pkg/telemetry"
	"github.com/openkiln/openkiln/pkg/template"
)

// runtime bundles the wiring every stack command needs: telemetry,
// the state store, and the stack built from a template. The stack is
// constructed from the template last applied to the store when one
// exists, so an update can diff against what actually ran; doc and
// raw hold the template named on the command line.
type runtime struct {
	tel   *telemetry.Telemetry
	store stores.Store
	stack *engine.Stack
	doc   *template.Document
	raw   []byte
}

func newTelemetry() (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = logLevel
	cfg.Logging.Format = logFormat
	cfg.Tracing.Enabled = enableTrace
	return telemetry.New(cfg)
}

func openStore(ctx context.Context) (stores.Store, error) {
	if statePath == "memory" {
		return stores.NewMemStore(), nil
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: statePath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// newRuntime parses the template, opens the store, and builds the
// stack with the default handler registry wrapped in the reference
// resolver. When the store carries the template from a previous run,
// the stack is built from that one, so the command-line template acts
// as the desired state to converge onto. Persisted resource state is
// restored so repeated commands converge instead of starting over.
func newRuntime(ctx context.Context, templatePath string) (*runtime, error) {
	tel, err := newTelemetry()
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(templatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}

	parser := template.NewParser()
	doc, err := parser.Parse(raw)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	base := doc
	if prevRaw, err := store.LoadTemplate(ctx, doc.Name); err == nil {
		prev, err := parser.Parse(prevRaw)
		if err != nil {
			tel.Logger.Warn().Err(err).Msg("stored template no longer parses, using the new one")
		} else {
			base = prev
		}
	} else if !errors.Is(err, stores.ErrNotFound) {
		tel.Logger.Warn().Err(err).Msg("failed to load stored template")
	}

	resolver := template.NewResolver()
	registry := template.NewResolvingRegistry(
		handlers.DefaultRegistry(handlers.NewCloud()), resolver)

	stack, err := engine.NewStack(doc.Name, base.Definitions(), registry, store,
		template.Extractor(), tel.Logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	resolver.Bind(stack)

	for _, res := range stack.Resources() {
		rec, err := store.LoadResource(ctx, stack.Name(), res.Name)
		if err != nil {
			if errors.Is(err, stores.ErrNotFound) {
				continue
			}
			tel.Logger.Warn().Err(err).Str("resource", res.Name).
				Msg("failed to restore resource state")
			continue
		}
		res.RestoreState(rec.State, rec.Reason, rec.PhysicalID)
	}

	return &runtime{tel: tel, store: store, stack: stack, doc: doc, raw: raw}, nil
}

// saveTemplate records the applied template so the next update can
// diff against it. Best effort, like the rest of persistence.
func (rt *runtime) saveTemplate(ctx context.Context) {
	if err := rt.store.SaveTemplate(ctx, rt.stack.Name(), rt.raw); err != nil {
		rt.tel.Logger.Warn().Err(err).Msg("failed to save applied template")
	}
}

func (rt *runtime) Close(ctx context.Context) {
	_ = rt.store.Close()
	_ = rt.tel.Shutdown(ctx)
}

// runOperation executes one stack operation under a span, records the
// metrics, and prints the per-resource outcome report.
func (rt *runtime) runOperation(ctx context.Context, operation string, fn func(ctx context.Context) (*engine.StackResult, error)) (*engine.StackResult, error) {
	rt.tel.Metrics.RecordStackOpStarted(operation)

	ctx, span := rt.tel.Tracer.StartStackSpan(ctx, rt.stack.Name(), operation, "")
	defer span.End()

	start := time.Now()
	result, err := fn(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}

	status := "error"
	if result != nil {
		status = string(result.Status)
		rt.recordResourceMetrics(operation, result)
		printResult(result)
	}
	rt.tel.Metrics.RecordStackOpCompleted(operation, status, time.Since(start))
	rt.tel.Metrics.SetResourcesManaged(rt.stack.Name(), float64(len(rt.stack.Resources())))

	return result, err
}

func (rt *runtime) recordResourceMetrics(operation string, result *engine.StackResult) {
	per := time.Duration(0)
	if n := len(result.Outcomes); n > 0 {
		per = result.Duration / time.Duration(n)
	}
	for _, o := range result.Outcomes {
		rt.tel.Metrics.RecordResourceOp(o.Type, operation, string(o.Status), per)
	}
}

func printResult(result *engine.StackResult) {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
		return
	}

	fmt.Printf("Stack %s: %s %s (%s)\n", result.Stack, result.Operation, result.Status, result.Duration.Round(time.Millisecond))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RESOURCE\tTYPE\tSTATUS\tSTATE\tPHYSICAL ID\tREASON")
	for _, o := range result.Outcomes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			o.Name, o.Type, o.Status, o.State, o.PhysicalID, o.Reason)
	}
	_ = w.Flush()
}

func stackOptions(timeout time.Duration, pollInterval time.Duration, rollback bool) engine.StackOptions {
	return engine.StackOptions{
		Timeout:           timeout,
		PollInterval:      pollInterval,
		RollbackOnFailure: rollback,
	}
}
