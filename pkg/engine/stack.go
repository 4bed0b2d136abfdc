package engine

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ResourceDefinition is the declarative description of one resource,
// as produced by the template layer.
type ResourceDefinition struct {
	// Name is the logical name, unique within the stack.
	Name string `json:"name"`

	// Type is the resource type name.
	Type string `json:"type"`

	// Properties is the property tree, references already resolved or
	// resolvable at execution time.
	Properties map[string]interface{} `json:"properties,omitempty"`

	// DependsOn lists explicit dependency names.
	DependsOn []string `json:"depends_on,omitempty"`
}

// Stack owns a named set of resources and orchestrates whole-stack
// operations over them in dependency order. Each operation runs on a
// single control goroutine: one TaskRunner drives a step function that
// walks the graph's batches, interleaving every in-flight resource
// task cooperatively.
type Stack struct {
	name     string
	registry HandlerRegistry
	store    StateStore
	extract  ReferenceExtractor
	log      zerolog.Logger

	mu        sync.Mutex
	resources map[string]*Resource
	order     []string
}

// NewStack builds a stack from resource definitions. The extractor
// reports implicit dependencies found inside property trees; explicit
// depends_on entries are always honoured in addition. A nil extractor
// means explicit dependencies only. Definitions are validated for
// duplicate names; cycles are rejected when an operation builds the
// graph.
func NewStack(name string, defs []ResourceDefinition, registry HandlerRegistry, store StateStore, extract ReferenceExtractor, log zerolog.Logger) (*Stack, error) {
	if name == "" {
		return nil, NewValidationError("stack name must not be empty", nil)
	}
	if registry == nil {
		return nil, NewValidationError("handler registry is required", nil)
	}

	s := &Stack{
		name:      name,
		registry:  registry,
		store:     store,
		extract:   extract,
		log:       log.With().Str("stack", name).Logger(),
		resources: make(map[string]*Resource, len(defs)),
	}

	for _, def := range defs {
		if _, exists := s.resources[def.Name]; exists {
			return nil, NewValidationError(
				fmt.Sprintf("duplicate resource name: %s", def.Name), nil)
		}
		s.resources[def.Name] = s.newResource(def)
		s.order = append(s.order, def.Name)
	}

	return s, nil
}

func (s *Stack) newResource(def ResourceDefinition) *Resource {
	return NewResource(s.name, def.Name, def.Type, def.Properties, def.DependsOn,
		s.registry.HandlerFor(def.Type), s.store, s.log)
}

// Name returns the stack's name.
func (s *Stack) Name() string { return s.name }

// Resource returns the named resource, or nil.
func (s *Stack) Resource(name string) *Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resources[name]
}

// Resources returns the stack's resources in definition order.
func (s *Stack) Resources() []*Resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Resource, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.resources[name])
	}
	return out
}

// refsFor merges explicit depends_on entries with the implicit
// references the extractor finds in the property tree.
func (s *Stack) refsFor(r *Resource) []string {
	refs := append([]string{}, r.DependsOn...)
	if s.extract != nil {
		refs = append(refs, s.extract(r)...)
	}
	return refs
}

// Graph builds the dependency graph over the current resource set.
func (s *Stack) Graph() (*Graph, error) {
	return BuildGraph(s.Resources(), s.refsFor)
}

// CreateStack creates every resource in dependency order. Resources
// whose dependencies all succeeded run concurrently within a batch; a
// failure lets in-flight siblings finish but marks every transitive
// dependent skipped. With RollbackOnFailure set, a failed create
// deletes whatever this run created, in reverse order.
func (s *Stack) CreateStack(ctx context.Context, opts StackOptions) (*StackResult, error) {
	graph, err := s.Graph()
	if err != nil {
		return nil, err
	}

	run := s.newRun(OpCreate, graph.Batches(), graph.DependenciesOf,
		func(r *Resource) Task { return r.CreateTask() })
	result, runErr := s.execute(ctx, run, opts)

	if result.Status == StackStatusFailed && opts.RollbackOnFailure {
		s.rollback(ctx, graph, run, result, opts)
	}
	return result, runErr
}

// DeleteStack deletes every resource in reverse dependency order: a
// resource is deleted only after everything that depends on it has
// been deleted. Deleting an already absent resource succeeds.
func (s *Stack) DeleteStack(ctx context.Context, opts StackOptions) (*StackResult, error) {
	graph, err := s.Graph()
	if err != nil {
		return nil, err
	}

	run := s.newRun(OpDelete, graph.ReverseBatches(), graph.RequiredBy,
		func(r *Resource) Task { return r.DeleteTask() })
	return s.execute(ctx, run, opts)
}

// SuspendStack suspends every resource, dependents before their
// dependencies, so nothing is suspended while something that relies on
// it is still active.
func (s *Stack) SuspendStack(ctx context.Context, opts StackOptions) (*StackResult, error) {
	graph, err := s.Graph()
	if err != nil {
		return nil, err
	}

	run := s.newRun(OpSuspend, graph.ReverseBatches(), graph.RequiredBy,
		func(r *Resource) Task { return r.SuspendTask() })
	return s.execute(ctx, run, opts)
}

// ResumeStack resumes every resource in forward dependency order.
func (s *Stack) ResumeStack(ctx context.Context, opts StackOptions) (*StackResult, error) {
	graph, err := s.Graph()
	if err != nil {
		return nil, err
	}

	run := s.newRun(OpResume, graph.Batches(), graph.DependenciesOf,
		func(r *Resource) Task { return r.ResumeTask() })
	return s.execute(ctx, run, opts)
}

// UpdateStack converges the stack onto a new set of definitions:
// added resources are created, surviving resources are updated in
// place or replaced when their handler demands it, and removed
// resources are deleted afterwards in reverse order. Unchanged
// resources in a healthy state are not touched.
func (s *Stack) UpdateStack(ctx context.Context, defs []ResourceDefinition, opts StackOptions) (*StackResult, error) {
	oldGraph, err := s.Graph()
	if err != nil {
		return nil, err
	}

	newByName := make(map[string]ResourceDefinition, len(defs))
	desired := make([]*Resource, 0, len(defs))
	for _, def := range defs {
		if _, dup := newByName[def.Name]; dup {
			return nil, NewValidationError(
				fmt.Sprintf("duplicate resource name: %s", def.Name), nil)
		}
		newByName[def.Name] = def
		// Shadow resources carry the desired properties so the graph
		// reflects the new reference structure.
		desired = append(desired, s.newResource(def))
	}

	newGraph, err := BuildGraph(desired, s.refsFor)
	if err != nil {
		return nil, err
	}

	run := s.newRun(OpUpdate, newGraph.Batches(), newGraph.DependenciesOf, nil)
	run.taskFor = func(r *Resource) Task {
		return s.updateTaskFor(r.Name, newByName[r.Name], newGraph, run)
	}
	run.lookup = func(name string) *Resource {
		if existing := s.Resource(name); existing != nil {
			return existing
		}
		for _, d := range desired {
			if d.Name == name {
				return d
			}
		}
		return nil
	}
	result, runErr := s.execute(ctx, run, opts)

	// Remove resources absent from the new definitions, dependents
	// first per the old graph. Skipped when the forward pass was
	// cancelled; a failed forward pass still cleans up removals so
	// repeated updates converge.
	if result.Status != StackStatusCancelled {
		s.deleteRemoved(ctx, oldGraph, newByName, result, opts)
	}

	s.commitUpdate(newByName, run)

	if result.Status == StackStatusFailed && opts.RollbackOnFailure {
		s.rollback(ctx, newGraph, run, result, opts)
	}
	return result, runErr
}

// updateTaskFor builds the task that converges one surviving or added
// resource during an update.
func (s *Stack) updateTaskFor(name string, def ResourceDefinition, newGraph *Graph, run *stackRun) Task {
	existing := s.Resource(name)

	// Added resource: plain create.
	if existing == nil {
		repl := run.lookup(name)
		run.trackCreated(name, repl)
		return repl.CreateTask()
	}

	// Known but never created, or deleted since: a fresh create with
	// the new properties.
	if st := existing.State(); st == StateNone || st == StateDeleteComplete {
		existing.Properties = def.Properties
		existing.DependsOn = def.DependsOn
		run.trackCreated(name, existing)
		return existing.CreateTask()
	}

	// Unchanged and healthy: nothing to do.
	if reflect.DeepEqual(existing.Properties, def.Properties) &&
		existing.State().IsComplete() && existing.State() != StateDeleteComplete {
		return NewTask(fmt.Sprintf("%s %s", OpUpdate, name), func(ctx context.Context) (bool, error) {
			return true, nil
		})
	}

	// In-place update first; replacement on demand. Whether the
	// replacement creates before destroying depends on whether anything
	// depends on this resource.
	createFirst := len(newGraph.RequiredBy(name)) > 0
	update := existing.UpdateTask(def.Properties)

	var active Task = update
	replaced := false
	return NewTask(update.Name(), func(ctx context.Context) (bool, error) {
		done, err := active.Step(ctx)
		if err == ErrUpdateReplace && !replaced {
			replaced = true
			active = s.replacementTask(existing, def, createFirst, run)
			run.markReplaced(name)
			return false, nil
		}
		return done, err
	})
}

// replacementTask replaces a resource: a fresh instance is created
// with the new properties and the old physical object is deleted. When
// dependents exist the new instance is created before the old one is
// destroyed, so dependents never observe a missing dependency;
// otherwise destroy-then-create avoids the double-existence window.
func (s *Stack) replacementTask(old *Resource, def ResourceDefinition, createFirst bool, run *stackRun) Task {
	repl := s.newResource(def)
	run.trackCreated(def.Name, repl)

	name := fmt.Sprintf("replace %s", def.Name)
	if createFirst {
		return NewSequentialTaskGroup(name, repl.CreateTask(), old.DeleteTask())
	}
	return NewSequentialTaskGroup(name, old.DeleteTask(), repl.CreateTask())
}

// commitUpdate swaps the stack's resource set to the post-update view:
// replacements take their predecessor's slot, additions are inserted,
// removals dropped. Definition order follows the new template.
func (s *Stack) commitUpdate(newByName map[string]ResourceDefinition, run *stackRun) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resources := make(map[string]*Resource, len(newByName))
	var order []string
	for _, name := range run.orderHint {
		def, ok := newByName[name]
		if !ok {
			continue
		}
		old := s.resources[name]
		switch {
		case run.adoptReplacement(name, old):
			resources[name] = run.replaced[name]
		case old != nil:
			resources[name] = old
			// Only an applied outcome may adopt the new definition.
			// Failed or skipped resources keep their old properties so
			// a retried update still sees the difference.
			if o := run.outcomes[name]; o != nil && o.Status == OutcomeSucceeded {
				old.Properties = def.Properties
				old.DependsOn = def.DependsOn
			}
		case run.created[name] != nil:
			// Resource added by this update.
			resources[name] = run.created[name]
		default:
			continue
		}
		order = append(order, name)
	}
	s.resources = resources
	s.order = order
}

// adoptReplacement decides whether the committed resource set takes
// the replacement instance over the original: always once the
// replacement finished creating, and also when the original was
// already destroyed, so its failure is what the stack reports.
func (r *stackRun) adoptReplacement(name string, old *Resource) bool {
	repl := r.replaced[name]
	if repl == nil {
		if res := r.created[name]; res != nil && old != nil {
			// Replacement tracked but never finished; adopt it only if
			// the original is gone.
			if old.State() == StateDeleteComplete {
				r.replaced[name] = res
				return true
			}
		}
		return false
	}
	return repl.State() == StateCreateComplete || old == nil || old.State() == StateDeleteComplete
}

// deleteRemoved deletes resources that are absent from the new
// definitions, walking the old graph's reverse batches restricted to
// the removed names.
func (s *Stack) deleteRemoved(ctx context.Context, oldGraph *Graph, newByName map[string]ResourceDefinition, result *StackResult, opts StackOptions) {
	removed := make(map[string]bool)
	for _, r := range s.Resources() {
		if _, keep := newByName[r.Name]; !keep {
			removed[r.Name] = true
		}
	}
	if len(removed) == 0 {
		return
	}

	var batches [][]string
	for _, batch := range oldGraph.ReverseBatches() {
		var filtered []string
		for _, name := range batch {
			if removed[name] {
				filtered = append(filtered, name)
			}
		}
		if len(filtered) > 0 {
			batches = append(batches, filtered)
		}
	}

	run := s.newRun(OpDelete, batches, oldGraph.RequiredBy,
		func(r *Resource) Task { return r.DeleteTask() })
	sub, _ := s.execute(ctx, run, opts)

	for _, o := range sub.Outcomes {
		result.Outcomes = append(result.Outcomes, o)
		if o.Status != OutcomeSucceeded && result.Status == StackStatusComplete {
			result.Status = StackStatusFailed
		}
	}
}

// rollback deletes the resources this run created, in reverse
// dependency order, leaving pre-existing resources alone.
func (s *Stack) rollback(ctx context.Context, graph *Graph, run *stackRun, result *StackResult, opts StackOptions) {
	if len(run.created) == 0 {
		return
	}

	s.log.Warn().Str("operation", string(run.op)).
		Int("created", len(run.created)).
		Msg("rolling back resources created by failed operation")

	var batches [][]string
	for _, batch := range graph.ReverseBatches() {
		var filtered []string
		for _, name := range batch {
			if run.created[name] != nil {
				filtered = append(filtered, name)
			}
		}
		if len(filtered) > 0 {
			batches = append(batches, filtered)
		}
	}

	rb := s.newRun(OpDelete, batches, graph.RequiredBy, nil)
	rb.taskFor = func(r *Resource) Task { return r.DeleteTask() }
	rb.lookup = func(name string) *Resource { return run.created[name] }
	sub, err := s.execute(ctx, rb, opts)

	for i := range sub.Outcomes {
		sub.Outcomes[i].Reason = "rolled back: " + sub.Outcomes[i].Reason
		result.Outcomes = append(result.Outcomes, sub.Outcomes[i])
	}
	if err == nil && sub.Status == StackStatusComplete {
		result.Status = StackStatusRolledBack
	}
}

// stackRun carries the moving parts of one batch walk.
type stackRun struct {
	op        StackOperation
	batches   [][]string
	depsOf    func(name string) []string
	taskFor   func(r *Resource) Task
	lookup    func(name string) *Resource
	orderHint []string

	outcomes map[string]*ResourceOutcome
	created  map[string]*Resource
	replaced map[string]*Resource

	// trackAllCreated marks every opened resource as created by this
	// run, used by create so rollback knows what to undo.
	trackAllCreated bool

	batchIdx int
	batch    []string
	runners  map[string]*TaskRunner
}

func (s *Stack) newRun(op StackOperation, batches [][]string, depsOf func(string) []string, taskFor func(*Resource) Task) *stackRun {
	run := &stackRun{
		op:       op,
		batches:  batches,
		depsOf:   depsOf,
		taskFor:  taskFor,
		lookup:   s.Resource,
		outcomes: make(map[string]*ResourceOutcome),
		created:  make(map[string]*Resource),
		replaced: make(map[string]*Resource),
	}
	for _, batch := range batches {
		run.orderHint = append(run.orderHint, batch...)
	}
	if op == OpCreate {
		run.trackAllCreated = true
	}
	return run
}

func (r *stackRun) trackCreated(name string, res *Resource) {
	r.created[name] = res
}

func (r *stackRun) markReplaced(name string) {
	if o := r.outcomes[name]; o != nil {
		o.Replaced = true
	}
}

// execute drives one batch walk to completion under a single
// TaskRunner, honouring the poll interval, the operation timeout, and
// context cancellation.
func (s *Stack) execute(ctx context.Context, run *stackRun, opts StackOptions) (*StackResult, error) {
	result := &StackResult{
		RunID:     uuid.New().String(),
		Stack:     s.name,
		Operation: run.op,
		StartedAt: time.Now(),
	}

	s.log.Info().Str("operation", string(run.op)).
		Str("run_id", result.RunID).
		Int("batches", len(run.batches)).
		Msg("stack operation started")

	runner := NewTaskRunner(NewTask(
		fmt.Sprintf("%s stack %s", run.op, s.name),
		func(ctx context.Context) (bool, error) { return s.stepRun(ctx, run) },
	))
	runErr := runner.RunTimeout(ctx, opts.PollInterval, opts.Timeout)

	s.finalize(run, result, runErr)
	result.Duration = time.Since(result.StartedAt)

	ev := s.log.Info()
	if result.Status != StackStatusComplete {
		ev = s.log.Warn()
	}
	ev.Str("operation", string(run.op)).
		Str("run_id", result.RunID).
		Str("status", string(result.Status)).
		Dur("duration", result.Duration).
		Msg("stack operation finished")

	if result.Status == StackStatusComplete || result.Status == StackStatusRolledBack {
		return result, nil
	}
	if runErr != nil {
		return result, runErr
	}
	incomplete := len(result.Outcomes) - run.succeededCount()
	msg := fmt.Sprintf("stack %s %s: %d of %d resources did not complete",
		s.name, run.op, incomplete, len(result.Outcomes))
	for _, o := range result.Outcomes {
		if o.Status == OutcomeFailed {
			msg = fmt.Sprintf("stack %s %s: resource %s failed, %d of %d resources did not complete",
				s.name, run.op, o.Name, incomplete, len(result.Outcomes))
			break
		}
	}
	return result, NewProviderError(msg, nil).WithOperation(string(run.op))
}

// stepRun advances the walk by one scheduler tick: it opens the next
// batch when the current one is drained, steps every in-flight runner
// once, and records outcomes as members finish.
func (s *Stack) stepRun(ctx context.Context, run *stackRun) (bool, error) {
	for run.runners == nil {
		if run.batchIdx >= len(run.batches) {
			return true, nil
		}
		s.openBatch(ctx, run)
	}

	allDone := true
	for _, name := range run.batch {
		runner, ok := run.runners[name]
		if !ok || runner.Done() {
			continue
		}
		if _, err := runner.Step(ctx); err != nil {
			s.recordFailure(run, name, err)
			continue
		}
		if runner.Done() {
			s.recordSuccess(run, name)
		} else {
			allDone = false
		}
	}

	if !allDone {
		return false, nil
	}

	run.runners = nil
	run.batchIdx++
	return run.batchIdx >= len(run.batches), nil
}

// openBatch starts every member of the next batch whose dependencies
// all succeeded, and marks the rest skipped. A batch that skips
// entirely is closed immediately so the walk keeps moving.
func (s *Stack) openBatch(ctx context.Context, run *stackRun) {
	run.batch = run.batches[run.batchIdx]
	run.runners = make(map[string]*TaskRunner, len(run.batch))

	for _, name := range run.batch {
		if reason, blocked := run.blockedBy(name); blocked {
			res := run.lookup(name)
			out := &ResourceOutcome{
				Name:   name,
				Status: OutcomeSkipped,
				Reason: reason,
			}
			if res != nil {
				out.Type = res.Type
				out.State = res.State()
				out.PhysicalID = res.PhysicalID()
			}
			run.outcomes[name] = out
			s.log.Warn().Str("resource", name).Str("reason", reason).
				Msg("resource skipped")
			continue
		}

		res := run.lookup(name)
		if res == nil {
			run.outcomes[name] = &ResourceOutcome{
				Name:   name,
				Status: OutcomeFailed,
				Reason: "resource not found in stack",
			}
			continue
		}
		run.outcomes[name] = &ResourceOutcome{Name: name, Type: res.Type}
		if run.trackAllCreated {
			run.trackCreated(name, res)
		}
		run.runners[name] = NewTaskRunner(run.taskFor(res))
	}

	if len(run.runners) == 0 {
		// Nothing runnable in this batch; move on so the walk keeps
		// making progress.
		run.runners = nil
		run.batchIdx++
	}
}

// blockedBy reports whether a dependency of the named resource failed
// or was skipped, with the reason to record.
func (r *stackRun) blockedBy(name string) (string, bool) {
	for _, dep := range r.depsOf(name) {
		o, tracked := r.outcomes[dep]
		if !tracked {
			continue
		}
		if o.Status != OutcomeSucceeded {
			return fmt.Sprintf("dependency %s %s", dep, o.Status), true
		}
	}
	return "", false
}

func (s *Stack) recordFailure(run *stackRun, name string, err error) {
	o := run.outcomes[name]
	o.Status = OutcomeFailed
	o.Reason = err.Error()
	if IsCancelled(err) {
		o.Status = OutcomeCancelled
	}
	if res := run.lookup(name); res != nil {
		o.State = res.State()
		o.PhysicalID = res.PhysicalID()
	}
}

func (s *Stack) recordSuccess(run *stackRun, name string) {
	o := run.outcomes[name]
	o.Status = OutcomeSucceeded
	res := run.lookup(name)
	if repl := run.created[name]; repl != nil && run.op == OpUpdate {
		if o.Replaced && repl.State() == StateCreateComplete {
			run.replaced[name] = repl
			res = repl
		}
	}
	if res != nil {
		o.State = res.State()
		o.Reason = res.StatusReason()
		o.PhysicalID = res.PhysicalID()
	}
}

// finalize fills the result from the run's outcome map, marking
// resources the walk never reached.
func (s *Stack) finalize(run *stackRun, result *StackResult, runErr error) {
	failed, cancelled := 0, 0

	for _, name := range run.orderHint {
		o := run.outcomes[name]
		if o == nil {
			reason := "not reached"
			status := OutcomeSkipped
			if runErr != nil {
				reason = runErr.Error()
				status = OutcomeCancelled
			}
			o = &ResourceOutcome{Name: name, Status: status, Reason: reason}
			if res := run.lookup(name); res != nil {
				o.Type = res.Type
				o.State = res.State()
			}
		}
		if o.Status == "" {
			// In flight when the run stopped.
			o.Status = OutcomeCancelled
			if runErr != nil {
				o.Reason = runErr.Error()
			}
			if res := run.lookup(o.Name); res != nil {
				o.State = res.State()
			}
		}
		switch o.Status {
		case OutcomeFailed, OutcomeSkipped:
			failed++
		case OutcomeCancelled:
			cancelled++
		}
		result.Outcomes = append(result.Outcomes, *o)
	}

	switch {
	case runErr != nil && IsCancelled(runErr):
		result.Status = StackStatusCancelled
	case failed > 0 || cancelled > 0 || runErr != nil:
		result.Status = StackStatusFailed
	default:
		result.Status = StackStatusComplete
	}
}

func (r *stackRun) succeededCount() int {
	n := 0
	for _, o := range r.outcomes {
		if o != nil && o.Status == OutcomeSucceeded {
			n++
		}
	}
	return n
}
