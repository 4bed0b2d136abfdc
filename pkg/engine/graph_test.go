package engine

import (
	"strings"
	"testing"
)

func graphResources(deps map[string][]string, order ...string) []*Resource {
	var resources []*Resource
	for _, name := range order {
		resources = append(resources, &Resource{Name: name, DependsOn: deps[name]})
	}
	return resources
}

func dependsOnExtractor(r *Resource) []string { return r.DependsOn }

func mustGraph(t *testing.T, deps map[string][]string, order ...string) *Graph {
	t.Helper()
	g, err := BuildGraph(graphResources(deps, order...), dependsOnExtractor)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	return g
}

func flatten(batches [][]string) []string {
	var out []string
	for _, b := range batches {
		out = append(out, b...)
	}
	return out
}

// TestGraphBatches checks that batches are valid topological levels
// with insertion order preserved inside each batch.
func TestGraphBatches(t *testing.T) {
	// db has no deps; app and cache depend on db; lb depends on app.
	g := mustGraph(t, map[string][]string{
		"app":   {"db"},
		"cache": {"db"},
		"lb":    {"app"},
	}, "lb", "app", "cache", "db")

	batches := g.Batches()
	if len(batches) != 3 {
		t.Fatalf("batches = %v, want 3 levels", batches)
	}
	if len(batches[0]) != 1 || batches[0][0] != "db" {
		t.Errorf("batch 0 = %v, want [db]", batches[0])
	}
	// app precedes cache because app was inserted first.
	if len(batches[1]) != 2 || batches[1][0] != "app" || batches[1][1] != "cache" {
		t.Errorf("batch 1 = %v, want [app cache]", batches[1])
	}
	if len(batches[2]) != 1 || batches[2][0] != "lb" {
		t.Errorf("batch 2 = %v, want [lb]", batches[2])
	}
}

// TestGraphReverseBatches checks that the reversed order handles
// dependents before their dependencies.
func TestGraphReverseBatches(t *testing.T) {
	g := mustGraph(t, map[string][]string{
		"app": {"db"},
		"lb":  {"app"},
	}, "db", "app", "lb")

	batches := g.ReverseBatches()
	want := []string{"lb", "app", "db"}
	got := flatten(batches)
	if len(got) != len(want) {
		t.Fatalf("reverse batches = %v, want %v", batches, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("reverse order = %v, want %v", got, want)
		}
	}
}

// TestGraphIndependentResources checks that unrelated resources land
// in one batch, in insertion order.
func TestGraphIndependentResources(t *testing.T) {
	g := mustGraph(t, nil, "c", "a", "b")

	batches := g.Batches()
	if len(batches) != 1 {
		t.Fatalf("batches = %v, want a single level", batches)
	}
	if batches[0][0] != "c" || batches[0][1] != "a" || batches[0][2] != "b" {
		t.Errorf("batch order = %v, want insertion order [c a b]", batches[0])
	}
}

// TestGraphCycleDetection checks that a cycle fails construction and
// the error names the offending chain.
func TestGraphCycleDetection(t *testing.T) {
	_, err := BuildGraph(graphResources(map[string][]string{
		"a": {"c"},
		"b": {"a"},
		"c": {"b"},
	}, "a", "b", "c"), dependsOnExtractor)
	if err == nil {
		t.Fatal("cycle accepted")
	}
	if !IsCycle(err) {
		t.Fatalf("error class = %v, want cycle", err)
	}
	for _, name := range []string{"a", "b", "c"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("cycle error %q does not name %s", err, name)
		}
	}
}

// TestGraphSelfDependency checks that a self-edge is rejected.
func TestGraphSelfDependency(t *testing.T) {
	_, err := BuildGraph(graphResources(map[string][]string{
		"a": {"a"},
	}, "a"), dependsOnExtractor)
	if !IsCycle(err) {
		t.Fatalf("self dependency error = %v, want cycle", err)
	}
}

// TestGraphDuplicateName checks that duplicate resource names are
// rejected.
func TestGraphDuplicateName(t *testing.T) {
	_, err := BuildGraph([]*Resource{
		{Name: "a"}, {Name: "a"},
	}, dependsOnExtractor)
	if !IsValidation(err) {
		t.Fatalf("duplicate name error = %v, want validation", err)
	}
}

// TestGraphUnknownAndDuplicateRefs checks that references to names
// outside the set are ignored and repeated edges are collapsed.
func TestGraphUnknownAndDuplicateRefs(t *testing.T) {
	g := mustGraph(t, map[string][]string{
		"app": {"db", "db", "elsewhere"},
	}, "db", "app")

	if deps := g.DependenciesOf("app"); len(deps) != 1 || deps[0] != "db" {
		t.Errorf("dependencies of app = %v, want [db]", deps)
	}
	if req := g.RequiredBy("db"); len(req) != 1 || req[0] != "app" {
		t.Errorf("required by db = %v, want [app]", req)
	}
}

// TestGraphToDOT checks the DOT rendering includes nodes and edges.
func TestGraphToDOT(t *testing.T) {
	g := mustGraph(t, map[string][]string{
		"app": {"db"},
	}, "db", "app")

	dot := g.ToDOT()
	if !strings.HasPrefix(dot, "digraph") {
		t.Fatalf("dot output missing digraph header: %q", dot)
	}
	if !strings.Contains(dot, `"db" -> "app"`) {
		t.Errorf("dot output missing edge: %s", dot)
	}
	if !strings.Contains(dot, "cluster_batch_0") {
		t.Errorf("dot output missing batch clusters: %s", dot)
	}
}
