package stores

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/openkiln/openkiln/pkg/engine"
)

// MemStore is an in-memory Store for tests and throwaway runs.
type MemStore struct {
	mu        sync.Mutex
	resources map[string]*engine.ResourceRecord
	events    []*engine.Event
	templates map[string][]byte

	// FailWrites makes every write return an error, for exercising the
	// engine's best-effort persistence.
	FailWrites bool
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		resources: make(map[string]*engine.ResourceRecord),
		templates: make(map[string][]byte),
	}
}

func key(stack, name string) string { return stack + "/" + name }

// SaveResource upserts a resource's snapshot.
func (m *MemStore) SaveResource(ctx context.Context, rec *engine.ResourceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return fmt.Errorf("store write disabled")
	}
	cp := *rec
	m.resources[key(rec.Stack, rec.Name)] = &cp
	return nil
}

// LoadResource retrieves one resource's snapshot.
func (m *MemStore) LoadResource(ctx context.Context, stack, name string) (*engine.ResourceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.resources[key(stack, name)]
	if !ok {
		return nil, fmt.Errorf("resource %s/%s: %w", stack, name, ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

// ListResources retrieves every snapshot for a stack, ordered by name.
func (m *MemStore) ListResources(ctx context.Context, stack string) ([]*engine.ResourceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := []*engine.ResourceRecord{}
	for _, rec := range m.resources {
		if rec.Stack == stack {
			cp := *rec
			records = append(records, &cp)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

// DeleteResource removes a resource's snapshot.
func (m *MemStore) DeleteResource(ctx context.Context, stack, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resources, key(stack, name))
	return nil
}

// RecordEvent appends one transition event.
func (m *MemStore) RecordEvent(ctx context.Context, ev *engine.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return fmt.Errorf("store write disabled")
	}
	cp := *ev
	m.events = append(m.events, &cp)
	return nil
}

// ListEvents retrieves a stack's events, newest first.
func (m *MemStore) ListEvents(ctx context.Context, stack string, limit int) ([]*engine.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := []*engine.Event{}
	for i := len(m.events) - 1; i >= 0; i-- {
		if m.events[i].Stack != stack {
			continue
		}
		cp := *m.events[i]
		events = append(events, &cp)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}

// SaveTemplate stores the raw template last applied to a stack.
func (m *MemStore) SaveTemplate(ctx context.Context, stack string, raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return fmt.Errorf("store write disabled")
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	m.templates[stack] = cp
	return nil
}

// LoadTemplate retrieves the raw template last applied to a stack.
func (m *MemStore) LoadTemplate(ctx context.Context, stack string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.templates[stack]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", stack, ErrNotFound)
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return cp, nil
}

// Close is a no-op.
func (m *MemStore) Close() error { return nil }
