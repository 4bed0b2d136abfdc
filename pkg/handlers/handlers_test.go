package handlers

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openkiln/openkiln/pkg/engine"
)

func simResource(t *testing.T, cloud *Cloud, typ, name string, props map[string]interface{}) *engine.Resource {
	t.Helper()
	reg := DefaultRegistry(cloud)
	return engine.NewResource("sim-stack", name, typ, props, nil,
		reg.HandlerFor(typ), nil, zerolog.Nop())
}

func runTask(t *testing.T, task engine.Task) error {
	t.Helper()
	return engine.NewTaskRunner(task).Run(context.Background(), 0)
}

// TestCloudProvisionPoll checks the BUILDING to ACTIVE transition
// lands after the configured number of polls.
func TestCloudProvisionPoll(t *testing.T) {
	cloud := NewCloud()
	obj := cloud.Provision("instance", "web", 2)

	if obj.Status != StatusBuilding {
		t.Fatalf("fresh object status = %s, want %s", obj.Status, StatusBuilding)
	}

	if status, _ := cloud.Poll(obj.ID); status != StatusBuilding {
		t.Errorf("after 1 poll status = %s, want still building", status)
	}
	if status, _ := cloud.Poll(obj.ID); status != StatusActive {
		t.Errorf("after 2 polls status = %s, want %s", status, StatusActive)
	}
}

// TestCloudRemove checks a removed object disappears and later polls
// report not found.
func TestCloudRemove(t *testing.T) {
	cloud := NewCloud()
	obj := cloud.Provision("volume", "data", 0)
	cloud.Poll(obj.ID)

	if err := cloud.Remove(obj.ID, 1); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := cloud.Poll(obj.ID); err != nil {
		t.Fatalf("first removal poll errored: %v", err)
	}
	if _, err := cloud.Poll(obj.ID); !engine.IsNotFound(err) {
		t.Fatalf("poll after removal = %v, want not found", err)
	}
	if cloud.Len() != 0 {
		t.Errorf("cloud still holds %d objects", cloud.Len())
	}
}

// TestCloudAttachMissingInstance checks attaching to an absent
// instance fails with not found.
func TestCloudAttachMissingInstance(t *testing.T) {
	cloud := NewCloud()
	vol := cloud.Provision("volume", "data", 0)

	err := cloud.Attach(vol.ID, "instance-nope")
	if !engine.IsNotFound(err) {
		t.Fatalf("attach error = %v, want not found", err)
	}
}

// TestSimInstanceLifecycle drives an instance through create, suspend,
// resume and delete against the simulated cloud.
func TestSimInstanceLifecycle(t *testing.T) {
	cloud := NewCloud()
	r := simResource(t, cloud, "sim.instance", "web", map[string]interface{}{
		"image":         "jammy",
		"latency_polls": 2,
	})

	if err := runTask(t, r.CreateTask()); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if r.State() != engine.StateCreateComplete {
		t.Fatalf("state = %s", r.State())
	}
	if !strings.HasPrefix(r.PhysicalID(), "instance-") {
		t.Errorf("physical ID = %q", r.PhysicalID())
	}

	if err := runTask(t, r.SuspendTask()); err != nil {
		t.Fatalf("suspend failed: %v", err)
	}
	obj, err := cloud.Get(r.PhysicalID())
	if err != nil {
		t.Fatalf("object gone after suspend: %v", err)
	}
	if obj.Status != StatusSuspended {
		t.Errorf("provider status = %s, want %s", obj.Status, StatusSuspended)
	}

	if err := runTask(t, r.ResumeTask()); err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	if err := runTask(t, r.DeleteTask()); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if cloud.Len() != 0 {
		t.Errorf("cloud still holds %d objects after delete", cloud.Len())
	}
	if r.State() != engine.StateDeleteComplete {
		t.Errorf("state = %s", r.State())
	}
}

// TestSimInstanceImageChangeReplaces checks that an image change
// demands replacement while metadata changes do not.
func TestSimInstanceImageChangeReplaces(t *testing.T) {
	cloud := NewCloud()
	h := NewSimInstance(cloud)
	r := simResource(t, cloud, "sim.instance", "web", map[string]interface{}{
		"image": "jammy",
	})
	ctx := context.Background()

	res, err := h.HandleUpdate(ctx, r, map[string]interface{}{"image": "noble"})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !res.Replace {
		t.Error("image change did not demand replacement")
	}

	res, err = h.HandleUpdate(ctx, r, map[string]interface{}{"image": "jammy", "note": "x"})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if res.Replace {
		t.Error("metadata change demanded replacement")
	}
}

// TestSimInstanceFailureInjection checks the fail_* properties produce
// provider failures.
func TestSimInstanceFailureInjection(t *testing.T) {
	cloud := NewCloud()
	r := simResource(t, cloud, "sim.instance", "web", map[string]interface{}{
		"fail_create": true,
	})

	err := runTask(t, r.CreateTask())
	if err == nil {
		t.Fatal("create succeeded despite fail_create")
	}
	if r.State() != engine.StateCreateFailed {
		t.Errorf("state = %s", r.State())
	}
}

// TestSimNetworkCIDRAttribute checks networks expose their cidr as an
// attribute.
func TestSimNetworkCIDRAttribute(t *testing.T) {
	cloud := NewCloud()
	r := simResource(t, cloud, "sim.network", "net", map[string]interface{}{
		"cidr": "10.1.0.0/24",
	})

	if err := runTask(t, r.CreateTask()); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	v, err := r.Attribute(context.Background(), "cidr")
	if err != nil {
		t.Fatalf("attribute failed: %v", err)
	}
	if v != "10.1.0.0/24" {
		t.Errorf("cidr = %q", v)
	}
	if _, err := r.Attribute(context.Background(), "address"); err != nil {
		t.Errorf("address attribute failed: %v", err)
	}
}

// TestSimVolumeAttach checks a volume attaches to its instance once
// built, and fails its create when the instance is missing.
func TestSimVolumeAttach(t *testing.T) {
	cloud := NewCloud()
	inst := simResource(t, cloud, "sim.instance", "web", map[string]interface{}{
		"latency_polls": 0,
	})
	if err := runTask(t, inst.CreateTask()); err != nil {
		t.Fatalf("instance create failed: %v", err)
	}

	vol := simResource(t, cloud, "sim.volume", "data", map[string]interface{}{
		"latency_polls": 1,
		"instance":      inst.PhysicalID(),
	})
	if err := runTask(t, vol.CreateTask()); err != nil {
		t.Fatalf("volume create failed: %v", err)
	}

	obj, err := cloud.Get(vol.PhysicalID())
	if err != nil {
		t.Fatalf("volume object missing: %v", err)
	}
	if obj.AttachedTo != inst.PhysicalID() {
		t.Errorf("attached to %q, want %q", obj.AttachedTo, inst.PhysicalID())
	}

	orphan := simResource(t, cloud, "sim.volume", "loose", map[string]interface{}{
		"latency_polls": 0,
		"instance":      "instance-gone",
	})
	if err := runTask(t, orphan.CreateTask()); err == nil {
		t.Error("volume create succeeded with missing instance")
	}
}

// TestGenericHandler checks the no-op handler assigns an ID and
// completes everything instantly.
func TestGenericHandler(t *testing.T) {
	r := engine.NewResource("s", "x", "core.generic", nil, nil,
		NewGeneric(), nil, zerolog.Nop())

	if err := runTask(t, r.CreateTask()); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if r.PhysicalID() == "" {
		t.Error("generic create assigned no physical ID")
	}
	if _, err := r.Attribute(context.Background(), "anything"); err == nil {
		t.Error("generic attribute resolved")
	}
}

// TestRegistryFallback checks unknown type names resolve to the
// generic handler and registered ones to their own.
func TestRegistryFallback(t *testing.T) {
	cloud := NewCloud()
	reg := DefaultRegistry(cloud)

	if _, ok := reg.HandlerFor("sim.instance").(*SimInstance); !ok {
		t.Error("sim.instance did not resolve to SimInstance")
	}
	if _, ok := reg.HandlerFor("no.such.type").(*Generic); !ok {
		t.Error("unknown type did not fall back to Generic")
	}

	types := reg.Types()
	want := []string{"core.generic", "sim.instance", "sim.network", "sim.volume"}
	if len(types) != len(want) {
		t.Fatalf("types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("types = %v, want %v", types, want)
		}
	}
}
