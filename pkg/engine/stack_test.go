package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// stackHandler is a scripted provider shared by all resources in a
// test stack. Behaviour is keyed by resource name; every begin call is
// appended to the trace so tests can assert ordering.
type stackHandler struct {
	mu     sync.Mutex
	trace  []string
	checks map[string]int

	polls      map[string]int
	failCreate map[string]bool
	failCheck  map[string]bool
	replace    map[string]bool
	nextID     int
}

func newStackHandler() *stackHandler {
	return &stackHandler{
		checks:     make(map[string]int),
		polls:      make(map[string]int),
		failCreate: make(map[string]bool),
		failCheck:  make(map[string]bool),
		replace:    make(map[string]bool),
	}
}

// HandlerFor makes the handler its own registry.
func (h *stackHandler) HandlerFor(string) Handler { return h }

func (h *stackHandler) record(op, name string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := name + ":" + op
	h.trace = append(h.trace, "begin-"+op+":"+name)
	h.checks[key] = 0
	return key
}

func (h *stackHandler) poll(op, name string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failCheck[name] {
		return false, fmt.Errorf("%s of %s broke", op, name)
	}
	key := name + ":" + op
	h.checks[key]++
	need := h.polls[name]
	if need == 0 {
		need = 1
	}
	return h.checks[key] >= need, nil
}

// traceIndex returns the position of the first trace entry, or -1.
func (h *stackHandler) traceIndex(entry string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.trace {
		if e == entry {
			return i
		}
	}
	return -1
}

func (h *stackHandler) resetTrace() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trace = nil
}

func (h *stackHandler) HandleCreate(ctx context.Context, r *Resource) (interface{}, error) {
	h.record("create", r.Name)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failCreate[r.Name] {
		return nil, fmt.Errorf("create of %s refused", r.Name)
	}
	h.nextID++
	r.SetPhysicalID(fmt.Sprintf("%s-%d", r.Name, h.nextID))
	return nil, nil
}

func (h *stackHandler) CheckCreateComplete(ctx context.Context, r *Resource, _ interface{}) (bool, error) {
	return h.poll("create", r.Name)
}

func (h *stackHandler) HandleUpdate(ctx context.Context, r *Resource, newProps map[string]interface{}) (*UpdateResult, error) {
	h.mu.Lock()
	needsReplace := h.replace[r.Name]
	h.mu.Unlock()
	if needsReplace {
		return &UpdateResult{Replace: true}, nil
	}
	h.record("update", r.Name)
	return &UpdateResult{}, nil
}

func (h *stackHandler) CheckUpdateComplete(ctx context.Context, r *Resource, _ interface{}) (bool, error) {
	return h.poll("update", r.Name)
}

func (h *stackHandler) HandleDelete(ctx context.Context, r *Resource) (interface{}, error) {
	h.record("delete", r.Name)
	return nil, nil
}

func (h *stackHandler) CheckDeleteComplete(ctx context.Context, r *Resource, _ interface{}) (bool, error) {
	return h.poll("delete", r.Name)
}

func (h *stackHandler) HandleSuspend(ctx context.Context, r *Resource) (interface{}, error) {
	h.record("suspend", r.Name)
	return nil, nil
}

func (h *stackHandler) CheckSuspendComplete(ctx context.Context, r *Resource, _ interface{}) (bool, error) {
	return h.poll("suspend", r.Name)
}

func (h *stackHandler) HandleResume(ctx context.Context, r *Resource) (interface{}, error) {
	h.record("resume", r.Name)
	return nil, nil
}

func (h *stackHandler) CheckResumeComplete(ctx context.Context, r *Resource, _ interface{}) (bool, error) {
	return h.poll("resume", r.Name)
}

func (h *stackHandler) Attribute(ctx context.Context, r *Resource, key string) (string, error) {
	return "", fmt.Errorf("no attribute %s", key)
}

func def(name string, deps ...string) ResourceDefinition {
	return ResourceDefinition{
		Name:       name,
		Type:       "test.thing",
		Properties: map[string]interface{}{"flavor": "m1"},
		DependsOn:  deps,
	}
}

func newTestStack(t *testing.T, h *stackHandler, defs ...ResourceDefinition) *Stack {
	t.Helper()
	s, err := NewStack("test-stack", defs, h, &fakeStore{}, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("new stack: %v", err)
	}
	return s
}

func mustCreate(t *testing.T, s *Stack) *StackResult {
	t.Helper()
	result, err := s.CreateStack(context.Background(), StackOptions{})
	if err != nil {
		t.Fatalf("create stack: %v", err)
	}
	if result.Status != StackStatusComplete {
		t.Fatalf("create status = %s, outcomes %+v", result.Status, result.Outcomes)
	}
	return result
}

// assertBefore fails unless entry a appears in the trace before b.
func assertBefore(t *testing.T, h *stackHandler, a, b string) {
	t.Helper()
	ia, ib := h.traceIndex(a), h.traceIndex(b)
	if ia < 0 || ib < 0 {
		t.Fatalf("trace missing %q or %q: %v", a, b, h.trace)
	}
	if ia >= ib {
		t.Errorf("%q at %d not before %q at %d: %v", a, ia, b, ib, h.trace)
	}
}

// TestStackCreateOrdering checks forward dependency order and the
// aggregate result of a clean create.
func TestStackCreateOrdering(t *testing.T) {
	h := newStackHandler()
	h.polls["db"] = 3
	s := newTestStack(t, h,
		def("lb", "app"), def("app", "db"), def("cache", "db"), def("db"))

	result := mustCreate(t, s)

	assertBefore(t, h, "begin-create:db", "begin-create:app")
	assertBefore(t, h, "begin-create:db", "begin-create:cache")
	assertBefore(t, h, "begin-create:app", "begin-create:lb")

	if len(result.Outcomes) != 4 {
		t.Fatalf("outcomes = %+v, want 4", result.Outcomes)
	}
	for _, o := range result.Outcomes {
		if o.Status != OutcomeSucceeded {
			t.Errorf("resource %s outcome = %s (%s)", o.Name, o.Status, o.Reason)
		}
		if o.State != StateCreateComplete {
			t.Errorf("resource %s state = %s", o.Name, o.State)
		}
		if o.PhysicalID == "" {
			t.Errorf("resource %s has no physical ID", o.Name)
		}
	}
	if result.RunID == "" {
		t.Error("result has no run ID")
	}
}

// TestStackCreateSiblingFailure checks that a failure lets in-flight
// siblings finish while transitive dependents are skipped.
func TestStackCreateSiblingFailure(t *testing.T) {
	h := newStackHandler()
	h.failCheck["a"] = true
	h.polls["b"] = 4
	s := newTestStack(t, h,
		def("a"), def("b"), def("c", "a"), def("d", "b"))

	result, err := s.CreateStack(context.Background(), StackOptions{})
	if err == nil {
		t.Fatal("create succeeded despite failure")
	}
	if result.Status != StackStatusFailed {
		t.Fatalf("status = %s, want %s", result.Status, StackStatusFailed)
	}
	if !strings.Contains(err.Error(), "resource a failed") {
		t.Errorf("aggregate error %q does not name the failed resource", err)
	}

	if o := result.Outcome("a"); o == nil || o.Status != OutcomeFailed {
		t.Errorf("a outcome = %+v, want failed", o)
	}
	if o := result.Outcome("b"); o == nil || o.Status != OutcomeSucceeded {
		t.Errorf("b outcome = %+v, want succeeded despite sibling failure", o)
	}
	if o := result.Outcome("c"); o == nil || o.Status != OutcomeSkipped {
		t.Errorf("c outcome = %+v, want skipped", o)
	} else if !strings.Contains(o.Reason, "a") {
		t.Errorf("skip reason %q does not name the failed dependency", o.Reason)
	}
	if o := result.Outcome("d"); o == nil || o.Status != OutcomeSucceeded {
		t.Errorf("d outcome = %+v, want succeeded", o)
	}
	if s.Resource("b").State() != StateCreateComplete {
		t.Errorf("b state = %s", s.Resource("b").State())
	}
	if s.Resource("c").State() != StateNone {
		t.Errorf("skipped c reached state %s", s.Resource("c").State())
	}
}

// TestStackCreateRollback checks that an opted-in rollback deletes
// what the failed run created.
func TestStackCreateRollback(t *testing.T) {
	h := newStackHandler()
	h.failCreate["b"] = true
	s := newTestStack(t, h, def("a"), def("b", "a"))

	result, err := s.CreateStack(context.Background(), StackOptions{RollbackOnFailure: true})
	if err == nil {
		t.Fatal("create reported success despite failure")
	}
	if result.Status != StackStatusRolledBack {
		t.Fatalf("status = %s, want %s", result.Status, StackStatusRolledBack)
	}
	if s.Resource("a").State() != StateDeleteComplete {
		t.Errorf("a state = %s, want rolled-back delete", s.Resource("a").State())
	}
	if s.Resource("a").PhysicalID() != "" {
		t.Errorf("a kept physical ID %q after rollback", s.Resource("a").PhysicalID())
	}

	found := false
	for _, o := range result.Outcomes {
		if o.Name == "a" && strings.HasPrefix(o.Reason, "rolled back") {
			found = true
		}
	}
	if !found {
		t.Errorf("no rollback outcome for a: %+v", result.Outcomes)
	}
}

// TestStackDeleteReverseOrder checks dependents are deleted before
// their dependencies.
func TestStackDeleteReverseOrder(t *testing.T) {
	h := newStackHandler()
	s := newTestStack(t, h, def("db"), def("app", "db"), def("lb", "app"))
	mustCreate(t, s)
	h.resetTrace()

	result, err := s.DeleteStack(context.Background(), StackOptions{})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if result.Status != StackStatusComplete {
		t.Fatalf("status = %s", result.Status)
	}

	assertBefore(t, h, "begin-delete:lb", "begin-delete:app")
	assertBefore(t, h, "begin-delete:app", "begin-delete:db")

	for _, r := range s.Resources() {
		if r.State() != StateDeleteComplete {
			t.Errorf("resource %s state = %s", r.Name, r.State())
		}
	}
}

// TestStackDeleteNeverCreated checks that deleting a stack that never
// ran completes without provider calls.
func TestStackDeleteNeverCreated(t *testing.T) {
	h := newStackHandler()
	s := newTestStack(t, h, def("a"), def("b", "a"))

	result, err := s.DeleteStack(context.Background(), StackOptions{})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if result.Status != StackStatusComplete {
		t.Fatalf("status = %s", result.Status)
	}
	if len(h.trace) != 0 {
		t.Errorf("provider was called: %v", h.trace)
	}
}

// TestStackDeleteTwice checks that deleting an already deleted stack
// completes again without provider calls.
func TestStackDeleteTwice(t *testing.T) {
	h := newStackHandler()
	s := newTestStack(t, h, def("a"), def("b", "a"))
	mustCreate(t, s)

	if _, err := s.DeleteStack(context.Background(), StackOptions{}); err != nil {
		t.Fatalf("first delete failed: %v", err)
	}
	h.resetTrace()

	result, err := s.DeleteStack(context.Background(), StackOptions{})
	if err != nil {
		t.Fatalf("second delete failed: %v", err)
	}
	if result.Status != StackStatusComplete {
		t.Fatalf("status = %s", result.Status)
	}
	for _, o := range result.Outcomes {
		if o.Status != OutcomeSucceeded {
			t.Errorf("resource %s outcome = %s (%s)", o.Name, o.Status, o.Reason)
		}
	}
	if len(h.trace) != 0 {
		t.Errorf("provider called on second delete: %v", h.trace)
	}
}

// TestStackSuspendResume checks suspension runs in reverse order and
// resumption forward.
func TestStackSuspendResume(t *testing.T) {
	h := newStackHandler()
	s := newTestStack(t, h, def("db"), def("app", "db"))
	mustCreate(t, s)
	h.resetTrace()

	if _, err := s.SuspendStack(context.Background(), StackOptions{}); err != nil {
		t.Fatalf("suspend failed: %v", err)
	}
	assertBefore(t, h, "begin-suspend:app", "begin-suspend:db")
	if s.Resource("db").State() != StateSuspendComplete {
		t.Errorf("db state = %s", s.Resource("db").State())
	}

	h.resetTrace()
	if _, err := s.ResumeStack(context.Background(), StackOptions{}); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	assertBefore(t, h, "begin-resume:db", "begin-resume:app")
	if s.Resource("app").State() != StateResumeComplete {
		t.Errorf("app state = %s", s.Resource("app").State())
	}
}

// TestStackUpdateAddRemove checks that an update creates added
// resources, leaves unchanged ones alone, and deletes removed ones.
func TestStackUpdateAddRemove(t *testing.T) {
	h := newStackHandler()
	s := newTestStack(t, h, def("a"), def("b"))
	mustCreate(t, s)
	removed := s.Resource("b")
	h.resetTrace()

	result, err := s.UpdateStack(context.Background(),
		[]ResourceDefinition{def("a"), def("c")}, StackOptions{})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if result.Status != StackStatusComplete {
		t.Fatalf("status = %s, outcomes %+v", result.Status, result.Outcomes)
	}

	if h.traceIndex("begin-create:c") < 0 {
		t.Errorf("added resource not created: %v", h.trace)
	}
	if h.traceIndex("begin-delete:b") < 0 {
		t.Errorf("removed resource not deleted: %v", h.trace)
	}
	if h.traceIndex("begin-update:a") >= 0 || h.traceIndex("begin-create:a") >= 0 {
		t.Errorf("unchanged resource was touched: %v", h.trace)
	}

	if s.Resource("b") != nil {
		t.Error("removed resource still in the stack")
	}
	if removed.State() != StateDeleteComplete {
		t.Errorf("removed resource state = %s", removed.State())
	}
	if c := s.Resource("c"); c == nil || c.State() != StateCreateComplete {
		t.Errorf("added resource missing or wrong state")
	}
}

// TestStackUpdateInPlace checks a property change runs the handler's
// in-place update.
func TestStackUpdateInPlace(t *testing.T) {
	h := newStackHandler()
	s := newTestStack(t, h, def("a"))
	mustCreate(t, s)
	oldID := s.Resource("a").PhysicalID()
	h.resetTrace()

	changed := def("a")
	changed.Properties = map[string]interface{}{"flavor": "m2"}
	result, err := s.UpdateStack(context.Background(),
		[]ResourceDefinition{changed}, StackOptions{})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if result.Status != StackStatusComplete {
		t.Fatalf("status = %s", result.Status)
	}

	if h.traceIndex("begin-update:a") < 0 {
		t.Errorf("no in-place update: %v", h.trace)
	}
	a := s.Resource("a")
	if a.State() != StateUpdateComplete {
		t.Errorf("state = %s", a.State())
	}
	if a.Properties["flavor"] != "m2" {
		t.Errorf("properties = %v", a.Properties)
	}
	if a.PhysicalID() != oldID {
		t.Errorf("in-place update changed the physical ID %q -> %q", oldID, a.PhysicalID())
	}
}

// TestStackUpdateRetryAfterSkip checks that a retried update still
// reaches the provider for a resource the previous failed run skipped.
func TestStackUpdateRetryAfterSkip(t *testing.T) {
	h := newStackHandler()
	s := newTestStack(t, h, def("a"), def("b", "a"))
	mustCreate(t, s)
	h.resetTrace()
	h.failCheck["a"] = true

	changedA := def("a")
	changedA.Properties = map[string]interface{}{"flavor": "m2"}
	changedB := def("b", "a")
	changedB.Properties = map[string]interface{}{"flavor": "m2"}
	defs := []ResourceDefinition{changedA, changedB}

	result, err := s.UpdateStack(context.Background(), defs, StackOptions{})
	if err == nil {
		t.Fatal("update succeeded despite failure")
	}
	if o := result.Outcome("b"); o == nil || o.Status != OutcomeSkipped {
		t.Fatalf("b outcome = %+v, want skipped", o)
	}
	if got := s.Resource("b").Properties["flavor"]; got != "m1" {
		t.Fatalf("skipped b already carries flavor %v", got)
	}

	h.failCheck["a"] = false
	h.resetTrace()

	result, err = s.UpdateStack(context.Background(), defs, StackOptions{})
	if err != nil {
		t.Fatalf("retried update failed: %v", err)
	}
	if result.Status != StackStatusComplete {
		t.Fatalf("status = %s, outcomes %+v", result.Status, result.Outcomes)
	}
	if h.traceIndex("begin-update:b") < 0 {
		t.Errorf("retry never updated the skipped resource: %v", h.trace)
	}
	if got := s.Resource("b").Properties["flavor"]; got != "m2" {
		t.Errorf("b flavor = %v after retry", got)
	}
	if s.Resource("b").State() != StateUpdateComplete {
		t.Errorf("b state = %s", s.Resource("b").State())
	}
}

// TestStackUpdateReplaceWithDependents checks create-before-destroy
// replacement when something depends on the replaced resource.
func TestStackUpdateReplaceWithDependents(t *testing.T) {
	h := newStackHandler()
	s := newTestStack(t, h, def("a"), def("b", "a"))
	mustCreate(t, s)
	oldID := s.Resource("a").PhysicalID()
	h.resetTrace()
	h.replace["a"] = true

	changed := def("a")
	changed.Properties = map[string]interface{}{"flavor": "m2"}
	result, err := s.UpdateStack(context.Background(),
		[]ResourceDefinition{changed, def("b", "a")}, StackOptions{})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if result.Status != StackStatusComplete {
		t.Fatalf("status = %s, outcomes %+v", result.Status, result.Outcomes)
	}

	assertBefore(t, h, "begin-create:a", "begin-delete:a")

	a := s.Resource("a")
	if a.State() != StateCreateComplete {
		t.Errorf("replacement state = %s", a.State())
	}
	if a.PhysicalID() == oldID || a.PhysicalID() == "" {
		t.Errorf("replacement physical ID = %q, old %q", a.PhysicalID(), oldID)
	}
	if o := result.Outcome("a"); o == nil || !o.Replaced {
		t.Errorf("a outcome = %+v, want replaced", o)
	}
}

// TestStackUpdateReplaceWithoutDependents checks destroy-then-create
// replacement for a resource nothing depends on.
func TestStackUpdateReplaceWithoutDependents(t *testing.T) {
	h := newStackHandler()
	s := newTestStack(t, h, def("a"))
	mustCreate(t, s)
	h.resetTrace()
	h.replace["a"] = true

	changed := def("a")
	changed.Properties = map[string]interface{}{"flavor": "m2"}
	result, err := s.UpdateStack(context.Background(),
		[]ResourceDefinition{changed}, StackOptions{})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if result.Status != StackStatusComplete {
		t.Fatalf("status = %s", result.Status)
	}

	assertBefore(t, h, "begin-delete:a", "begin-create:a")
	if s.Resource("a").State() != StateCreateComplete {
		t.Errorf("replacement state = %s", s.Resource("a").State())
	}
}

// TestStackUpdateCreatesNeverCreated checks that updating a stack
// whose resource never got created falls back to creating it.
func TestStackUpdateCreatesNeverCreated(t *testing.T) {
	h := newStackHandler()
	s := newTestStack(t, h, def("a"))

	result, err := s.UpdateStack(context.Background(),
		[]ResourceDefinition{def("a")}, StackOptions{})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if result.Status != StackStatusComplete {
		t.Fatalf("status = %s", result.Status)
	}
	if h.traceIndex("begin-create:a") < 0 {
		t.Errorf("never-created resource not created: %v", h.trace)
	}
	if s.Resource("a").State() != StateCreateComplete {
		t.Errorf("state = %s", s.Resource("a").State())
	}
}

// TestStackCancellation checks that cancelling the context stops the
// run with a cancelled status.
func TestStackCancellation(t *testing.T) {
	h := newStackHandler()
	h.polls["a"] = 1 << 30
	s := newTestStack(t, h, def("a"), def("b", "a"))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	result, err := s.CreateStack(ctx, StackOptions{PollInterval: time.Millisecond})
	if !IsCancelled(err) {
		t.Fatalf("error = %v, want cancelled", err)
	}
	if result.Status != StackStatusCancelled {
		t.Fatalf("status = %s, want %s", result.Status, StackStatusCancelled)
	}
	if o := result.Outcome("b"); o == nil || o.Status != OutcomeCancelled {
		t.Errorf("unreached b outcome = %+v, want cancelled", o)
	}
}

// TestStackTimeout checks the operation deadline maps to a timeout
// error.
func TestStackTimeout(t *testing.T) {
	h := newStackHandler()
	h.polls["a"] = 1 << 30
	s := newTestStack(t, h, def("a"))

	_, err := s.CreateStack(context.Background(), StackOptions{
		PollInterval: time.Millisecond,
		Timeout:      20 * time.Millisecond,
	})
	if !IsTimeout(err) {
		t.Fatalf("error = %v, want timeout", err)
	}
	if errors.Is(err, context.Canceled) {
		t.Error("timeout reported as plain context cancellation")
	}
}

// TestStackCycleRejected checks an operation on a cyclic graph fails
// before any provider call.
func TestStackCycleRejected(t *testing.T) {
	h := newStackHandler()
	s := newTestStack(t, h, def("a", "b"), def("b", "a"))

	_, err := s.CreateStack(context.Background(), StackOptions{})
	if !IsCycle(err) {
		t.Fatalf("error = %v, want cycle", err)
	}
	if len(h.trace) != 0 {
		t.Errorf("provider called despite cycle: %v", h.trace)
	}
}

// TestStackDuplicateDefinitions checks duplicate names are rejected at
// construction.
func TestStackDuplicateDefinitions(t *testing.T) {
	h := newStackHandler()
	_, err := NewStack("dup", []ResourceDefinition{def("a"), def("a")}, h, nil, nil, zerolog.Nop())
	if !IsValidation(err) {
		t.Fatalf("error = %v, want validation", err)
	}
}
