package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestErrorClassification checks each constructor lands in its class
// and nothing else.
func TestErrorClassification(t *testing.T) {
	cases := []struct {
		err   error
		check func(error) bool
		name  string
	}{
		{NewValidationError("bad", nil), IsValidation, "validation"},
		{NewCycleError("loop", nil), IsCycle, "cycle"},
		{NewProviderError("boom", nil), IsProvider, "provider"},
		{NewTimeoutError("slow", nil), IsTimeout, "timeout"},
		{NewCancelledError("stop", nil), IsCancelled, "cancelled"},
	}

	for _, tc := range cases {
		if !tc.check(tc.err) {
			t.Errorf("%s error not recognized by its own check", tc.name)
		}
		for _, other := range cases {
			if other.name != tc.name && other.check(tc.err) {
				t.Errorf("%s error also classified as %s", tc.name, other.name)
			}
		}
	}
}

// TestErrorContext checks resource and operation decoration shows up
// in the message and wrapping is preserved.
func TestErrorContext(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewProviderError("create failed", cause).
		WithResource("web").WithOperation("CREATE")

	msg := err.Error()
	for _, want := range []string{"web", "CREATE", "create failed"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
	if !errors.Is(err, cause) {
		t.Error("cause not reachable through errors.Is")
	}
}

// TestIsNotFound checks the sentinel survives wrapping.
func TestIsNotFound(t *testing.T) {
	if !IsNotFound(fmt.Errorf("instance xyz: %w", ErrResourceNotFound)) {
		t.Error("wrapped not-found not detected")
	}
	if IsNotFound(errors.New("other")) {
		t.Error("unrelated error detected as not found")
	}
	if IsNotFound(nil) {
		t.Error("nil detected as not found")
	}
}
