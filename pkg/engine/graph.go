package engine

import (
	"fmt"
	"strings"
)

// ReferenceExtractor returns the names of the resources a resource
// hard-depends on, derived from its resolved properties and any
// explicit dependency declarations. Attribute-only references behind
// the ignore marker must not be reported here.
type ReferenceExtractor func(r *Resource) []string

// Graph is the dependency graph over a stack's resources. Edges point
// from a dependency to its dependents: an edge A -> B means A must
// reach a terminal success state before B's operation may begin.
type Graph struct {
	// order preserves resource insertion order for deterministic
	// tie-breaking within a batch.
	order []string

	// edges maps a resource to the resources that depend on it.
	edges map[string][]string

	// reverseEdges maps a resource to the resources it depends on.
	reverseEdges map[string][]string
}

// BuildGraph constructs the dependency graph for a resource set,
// detecting cycles before any execution is attempted. References to
// names outside the set are ignored; they are the property resolver's
// problem, not an ordering constraint.
func BuildGraph(resources []*Resource, extract ReferenceExtractor) (*Graph, error) {
	g := &Graph{
		edges:        make(map[string][]string),
		reverseEdges: make(map[string][]string),
	}

	known := make(map[string]bool, len(resources))
	for _, r := range resources {
		if known[r.Name] {
			return nil, NewValidationError(
				fmt.Sprintf("duplicate resource name: %s", r.Name), nil)
		}
		known[r.Name] = true
		g.order = append(g.order, r.Name)
		g.edges[r.Name] = nil
		g.reverseEdges[r.Name] = nil
	}

	for _, r := range resources {
		seen := make(map[string]bool)
		for _, dep := range extract(r) {
			if dep == r.Name {
				return nil, NewCycleError(
					fmt.Sprintf("resource depends on itself: %s", r.Name), nil)
			}
			if !known[dep] || seen[dep] {
				continue
			}
			seen[dep] = true
			g.edges[dep] = append(g.edges[dep], r.Name)
			g.reverseEdges[r.Name] = append(g.reverseEdges[r.Name], dep)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, NewCycleError(
			fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, " -> ")), nil)
	}

	return g, nil
}

// findCycle runs a depth-first search over the dependency edges and
// reconstructs one offending cycle from the parent chain.
func (g *Graph) findCycle() []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var walk func(name string, path []string) []string
	walk = func(name string, path []string) []string {
		visited[name] = true
		onStack[name] = true
		path = append(path, name)

		for _, dependent := range g.edges[name] {
			if !visited[dependent] {
				if cycle := walk(dependent, path); cycle != nil {
					return cycle
				}
			} else if onStack[dependent] {
				start := 0
				for i, n := range path {
					if n == dependent {
						start = i
						break
					}
				}
				return append(append([]string{}, path[start:]...), dependent)
			}
		}

		onStack[name] = false
		return nil
	}

	for _, name := range g.order {
		if !visited[name] {
			if cycle := walk(name, nil); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// Batches returns the execution order for forward operations (create,
// update, resume) as topological levels: every resource in a batch has
// all its dependencies satisfied by earlier batches, so members of one
// batch may run concurrently. Within a batch, resources keep their
// insertion order.
func (g *Graph) Batches() [][]string {
	return g.levels(g.reverseEdges, g.edges)
}

// ReverseBatches returns the execution order over the reversed edge
// set, used for deletion and suspension so dependents are handled
// before their dependencies.
func (g *Graph) ReverseBatches() [][]string {
	return g.levels(g.edges, g.reverseEdges)
}

// levels runs Kahn's algorithm, consuming incoming edges and emitting
// one level at a time. Cycles were rejected at build time, so every
// resource lands in exactly one level.
func (g *Graph) levels(incoming, outgoing map[string][]string) [][]string {
	degree := make(map[string]int, len(g.order))
	for _, name := range g.order {
		degree[name] = len(incoming[name])
	}

	var batches [][]string
	var current []string
	for _, name := range g.order {
		if degree[name] == 0 {
			current = append(current, name)
		}
	}

	for len(current) > 0 {
		batches = append(batches, current)

		ready := make(map[string]bool)
		for _, name := range current {
			for _, next := range outgoing[name] {
				degree[next]--
				if degree[next] == 0 {
					ready[next] = true
				}
			}
		}

		current = nil
		for _, name := range g.order {
			if ready[name] {
				current = append(current, name)
			}
		}
	}

	return batches
}

// DependenciesOf returns the names this resource hard-depends on.
func (g *Graph) DependenciesOf(name string) []string {
	return g.reverseEdges[name]
}

// RequiredBy returns the names that hard-depend on this resource.
func (g *Graph) RequiredBy(name string) []string {
	return g.edges[name]
}

// Len returns the number of resources in the graph.
func (g *Graph) Len() int {
	return len(g.order)
}

// ToDOT renders the graph in Graphviz DOT format, grouped by batch.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Stack {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for i, batch := range g.Batches() {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_batch_%d {\n", i))
		sb.WriteString(fmt.Sprintf("    label=\"Batch %d\";\n", i))
		sb.WriteString("    style=dashed;\n")
		for _, name := range batch {
			sb.WriteString(fmt.Sprintf("    %q;\n", name))
		}
		sb.WriteString("  }\n\n")
	}

	for _, name := range g.order {
		for _, dependent := range g.edges[name] {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", name, dependent))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
