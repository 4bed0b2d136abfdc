package handlers

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/openkiln/openkiln/pkg/engine"
)

// ObjectStatus is the simulated provider-side status of an object.
type ObjectStatus string

const (
	StatusBuilding  ObjectStatus = "BUILDING"
	StatusActive    ObjectStatus = "ACTIVE"
	StatusSuspended ObjectStatus = "SUSPENDED"
	StatusDeleting  ObjectStatus = "DELETING"
)

// Object is one simulated provider object.
type Object struct {
	// ID is the provider-assigned identifier, used as the resource's
	// physical ID.
	ID string

	// Kind is the object kind: instance, network or volume.
	Kind string

	// Name is the logical name the object was provisioned under.
	Name string

	// Status is the current provider-side status.
	Status ObjectStatus

	// Attrs holds runtime attributes, e.g. an instance's address.
	Attrs map[string]string

	// AttachedTo is the instance a volume is attached to, if any.
	AttachedTo string

	// remaining counts the polls left before the pending transition
	// lands.
	remaining int
	target    ObjectStatus
	removing  bool
}

// Cloud simulates an asynchronous provider: objects transition between
// statuses over a configurable number of polls, the way a real
// provider's objects take time to build, suspend or delete. All
// methods are safe for concurrent use.
type Cloud struct {
	mu      sync.Mutex
	objects map[string]*Object
	seq     int
}

// NewCloud returns an empty simulated provider.
func NewCloud() *Cloud {
	return &Cloud{objects: make(map[string]*Object)}
}

// Provision registers a new object in BUILDING status that becomes
// ACTIVE after latency polls. Zero latency activates on the first
// poll.
func (c *Cloud) Provision(kind, name string, latency int) *Object {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	obj := &Object{
		ID:     fmt.Sprintf("%s-%s", kind, uuid.New().String()[:8]),
		Kind:   kind,
		Name:   name,
		Status: StatusBuilding,
		Attrs: map[string]string{
			"address": fmt.Sprintf("10.0.0.%d", c.seq),
		},
		remaining: latency,
		target:    StatusActive,
	}
	c.objects[obj.ID] = obj
	return obj
}

// Get returns the object, or engine.ErrResourceNotFound.
func (c *Cloud) Get(id string) (*Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(id)
}

func (c *Cloud) get(id string) (*Object, error) {
	obj, ok := c.objects[id]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", id, engine.ErrResourceNotFound)
	}
	return obj, nil
}

// Poll advances the object's pending transition by one tick and
// returns the resulting status. A finished removal deletes the object,
// so later polls report not found.
func (c *Cloud) Poll(id string) (ObjectStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, err := c.get(id)
	if err != nil {
		return "", err
	}

	if obj.remaining > 0 {
		obj.remaining--
	}
	if obj.remaining == 0 && obj.Status != obj.target {
		obj.Status = obj.target
		if obj.removing {
			delete(c.objects, id)
		}
	}
	return obj.Status, nil
}

// Transition starts moving the object toward the target status over
// latency polls.
func (c *Cloud) Transition(id string, target ObjectStatus, latency int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, err := c.get(id)
	if err != nil {
		return err
	}
	obj.target = target
	obj.remaining = latency
	if latency == 0 {
		obj.Status = target
	}
	return nil
}

// Remove starts deleting the object. The object disappears once the
// deletion has been polled to completion.
func (c *Cloud) Remove(id string, latency int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, err := c.get(id)
	if err != nil {
		return err
	}
	obj.Status = StatusDeleting
	obj.target = "GONE"
	obj.remaining = latency
	obj.removing = true
	if latency == 0 {
		delete(c.objects, id)
	}
	return nil
}

// Attach attaches a volume to an instance. The instance must exist.
func (c *Cloud) Attach(volumeID, instanceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	vol, err := c.get(volumeID)
	if err != nil {
		return err
	}
	if _, err := c.get(instanceID); err != nil {
		return fmt.Errorf("attach %s: %w", volumeID, err)
	}
	vol.AttachedTo = instanceID
	return nil
}

// Len returns the number of live objects.
func (c *Cloud) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.objects)
}
