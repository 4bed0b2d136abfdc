package engine

import (
	"context"
	"fmt"
)

// PollingTaskGroup drives N independent tasks at a synchronized cadence
// under a single polling loop. Every Step call advances each
// not-yet-done member exactly once, round-robin, so no member is
// starved and N multi-step provider operations share one control
// thread instead of needing one apiece. The group fails as soon as any
// member fails and is done only once every member is done.
type PollingTaskGroup struct {
	name    string
	members []*TaskRunner
	started bool
}

// NewPollingTaskGroup builds a group from task factories. Factories are
// invoked immediately, once each; tasks are never shared between
// groups.
func NewPollingTaskGroup(name string, factories ...func() Task) *PollingTaskGroup {
	g := &PollingTaskGroup{name: name}
	for _, f := range factories {
		g.members = append(g.members, NewTaskRunner(f()))
	}
	return g
}

// NewPollingTaskGroupOf builds a group over already-constructed tasks.
func NewPollingTaskGroupOf(name string, tasks ...Task) *PollingTaskGroup {
	g := &PollingTaskGroup{name: name}
	for _, t := range tasks {
		g.members = append(g.members, NewTaskRunner(t))
	}
	return g
}

// Name identifies the group.
func (g *PollingTaskGroup) Name() string { return g.name }

// Len returns the member count.
func (g *PollingTaskGroup) Len() int { return len(g.members) }

// Step starts every member on the first call, then advances each
// unfinished member once per call. The first member failure aborts the
// whole group.
func (g *PollingTaskGroup) Step(ctx context.Context) (bool, error) {
	if !g.started {
		g.started = true
		for _, m := range g.members {
			if err := m.Start(ctx); err != nil {
				return true, fmt.Errorf("task group %s: %w", g.name, err)
			}
		}
		return g.allDone(), nil
	}

	for _, m := range g.members {
		if m.Done() {
			continue
		}
		if _, err := m.Step(ctx); err != nil {
			return true, err
		}
	}
	return g.allDone(), nil
}

// Cancel forwards the cancellation request to every member.
func (g *PollingTaskGroup) Cancel() {
	for _, m := range g.members {
		m.Cancel()
	}
}

func (g *PollingTaskGroup) allDone() bool {
	for _, m := range g.members {
		if !m.Done() {
			return false
		}
	}
	return true
}

// SequentialTaskGroup runs tasks strictly one after another: a member
// starts only after the previous one finished successfully. It exposes
// the same Task contract, so sequential and polled groups nest freely.
type SequentialTaskGroup struct {
	name    string
	members []*TaskRunner
	current int
}

// NewSequentialTaskGroup builds a sequential group over tasks.
func NewSequentialTaskGroup(name string, tasks ...Task) *SequentialTaskGroup {
	g := &SequentialTaskGroup{name: name}
	for _, t := range tasks {
		g.members = append(g.members, NewTaskRunner(t))
	}
	return g
}

// Name identifies the group.
func (g *SequentialTaskGroup) Name() string { return g.name }

// Step advances the active member by one unit of work, moving to the
// next member once the active one completes.
func (g *SequentialTaskGroup) Step(ctx context.Context) (bool, error) {
	if g.current >= len(g.members) {
		return true, nil
	}

	m := g.members[g.current]
	if _, err := m.Step(ctx); err != nil {
		return true, err
	}
	if m.Done() {
		g.current++
	}
	return g.current >= len(g.members), nil
}

// Cancel cancels the active and all pending members.
func (g *SequentialTaskGroup) Cancel() {
	for _, m := range g.members {
		m.Cancel()
	}
}
