package handlers

import (
	"context"
	"fmt"

	"github.com/openkiln/openkiln/pkg/engine"
)

// Property keys shared by the sim.* types. latency_polls controls how
// many polls a provider transition takes; the fail_* switches inject
// provider failures for exercising failure paths.
const (
	propLatency    = "latency_polls"
	propFailCreate = "fail_create"
	propFailCheck  = "fail_check"
	propFailDelete = "fail_delete"
)

func propString(props map[string]interface{}, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func propBool(props map[string]interface{}, key string) bool {
	v, ok := props[key].(bool)
	return ok && v
}

func propInt(props map[string]interface{}, key string, def int) int {
	switch v := props[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// simBase carries the behaviour the three sim types share: an
// asynchronous create against the Cloud, polling via object status,
// and a delete that converges when the object is gone.
type simBase struct {
	Generic
	cloud *Cloud
	kind  string
}

func (s *simBase) HandleCreate(ctx context.Context, r *engine.Resource) (interface{}, error) {
	if propBool(r.Properties, propFailCreate) {
		return nil, fmt.Errorf("%s %s: simulated create failure", s.kind, r.Name)
	}
	obj := s.cloud.Provision(s.kind, r.Name, propInt(r.Properties, propLatency, 2))
	r.SetPhysicalID(obj.ID)
	return obj.ID, nil
}

func (s *simBase) CheckCreateComplete(ctx context.Context, r *engine.Resource, opData interface{}) (bool, error) {
	if propBool(r.Properties, propFailCheck) {
		return false, fmt.Errorf("%s %s: simulated poll failure", s.kind, r.Name)
	}
	status, err := s.cloud.Poll(r.PhysicalID())
	if err != nil {
		return false, err
	}
	return status == StatusActive, nil
}

func (s *simBase) HandleDelete(ctx context.Context, r *engine.Resource) (interface{}, error) {
	if propBool(r.Properties, propFailDelete) {
		return nil, fmt.Errorf("%s %s: simulated delete failure", s.kind, r.Name)
	}
	if err := s.cloud.Remove(r.PhysicalID(), propInt(r.Properties, propLatency, 2)); err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *simBase) CheckDeleteComplete(ctx context.Context, r *engine.Resource, opData interface{}) (bool, error) {
	_, err := s.cloud.Poll(r.PhysicalID())
	if engine.IsNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func (s *simBase) Attribute(ctx context.Context, r *engine.Resource, key string) (string, error) {
	obj, err := s.cloud.Get(r.PhysicalID())
	if err != nil {
		return "", err
	}
	switch key {
	case "id":
		return obj.ID, nil
	case "status":
		return string(obj.Status), nil
	default:
		if v, ok := obj.Attrs[key]; ok {
			return v, nil
		}
		return "", fmt.Errorf("type %s has no attribute %q", r.Type, key)
	}
}

// SimInstance simulates a compute instance: creation takes several
// polls while the instance "boots", and the instance can be suspended
// and resumed. Changing the image property forces replacement;
// metadata changes apply in place.
type SimInstance struct {
	simBase
}

// NewSimInstance returns the sim.instance handler over the cloud.
func NewSimInstance(cloud *Cloud) *SimInstance {
	return &SimInstance{simBase{cloud: cloud, kind: "instance"}}
}

func (s *SimInstance) HandleUpdate(ctx context.Context, r *engine.Resource, newProps map[string]interface{}) (*engine.UpdateResult, error) {
	if propString(newProps, "image") != propString(r.Properties, "image") {
		return &engine.UpdateResult{Replace: true}, nil
	}
	// Metadata-style changes apply without provider work beyond a
	// status check.
	return &engine.UpdateResult{OpData: r.PhysicalID()}, nil
}

func (s *SimInstance) CheckUpdateComplete(ctx context.Context, r *engine.Resource, opData interface{}) (bool, error) {
	status, err := s.cloud.Poll(r.PhysicalID())
	if err != nil {
		return false, err
	}
	return status == StatusActive || status == StatusSuspended, nil
}

func (s *SimInstance) HandleSuspend(ctx context.Context, r *engine.Resource) (interface{}, error) {
	return nil, s.cloud.Transition(r.PhysicalID(), StatusSuspended, propInt(r.Properties, propLatency, 1))
}

func (s *SimInstance) CheckSuspendComplete(ctx context.Context, r *engine.Resource, opData interface{}) (bool, error) {
	status, err := s.cloud.Poll(r.PhysicalID())
	if err != nil {
		return false, err
	}
	return status == StatusSuspended, nil
}

func (s *SimInstance) HandleResume(ctx context.Context, r *engine.Resource) (interface{}, error) {
	return nil, s.cloud.Transition(r.PhysicalID(), StatusActive, propInt(r.Properties, propLatency, 1))
}

func (s *SimInstance) CheckResumeComplete(ctx context.Context, r *engine.Resource, opData interface{}) (bool, error) {
	status, err := s.cloud.Poll(r.PhysicalID())
	if err != nil {
		return false, err
	}
	return status == StatusActive, nil
}

// SimNetwork simulates a network. Networks build fast and expose
// their cidr property as an attribute.
type SimNetwork struct {
	simBase
}

// NewSimNetwork returns the sim.network handler over the cloud.
func NewSimNetwork(cloud *Cloud) *SimNetwork {
	return &SimNetwork{simBase{cloud: cloud, kind: "network"}}
}

func (s *SimNetwork) HandleCreate(ctx context.Context, r *engine.Resource) (interface{}, error) {
	if propBool(r.Properties, propFailCreate) {
		return nil, fmt.Errorf("network %s: simulated create failure", r.Name)
	}
	obj := s.cloud.Provision(s.kind, r.Name, propInt(r.Properties, propLatency, 1))
	if cidr := propString(r.Properties, "cidr"); cidr != "" {
		obj.Attrs["cidr"] = cidr
	}
	r.SetPhysicalID(obj.ID)
	return obj.ID, nil
}

// SimVolume simulates a block volume. The instance property names the
// physical ID of the instance to attach to; attachment happens once
// the volume is built and fails if the instance does not exist.
type SimVolume struct {
	simBase
}

// NewSimVolume returns the sim.volume handler over the cloud.
func NewSimVolume(cloud *Cloud) *SimVolume {
	return &SimVolume{simBase{cloud: cloud, kind: "volume"}}
}

func (s *SimVolume) CheckCreateComplete(ctx context.Context, r *engine.Resource, opData interface{}) (bool, error) {
	done, err := s.simBase.CheckCreateComplete(ctx, r, opData)
	if err != nil || !done {
		return done, err
	}
	if instance := propString(r.Properties, "instance"); instance != "" {
		if err := s.cloud.Attach(r.PhysicalID(), instance); err != nil {
			return false, err
		}
	}
	return true, nil
}
