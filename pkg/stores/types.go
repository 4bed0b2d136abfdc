package stores

import (
	"context"
	"errors"

	"github.com/openkiln/openkiln/pkg/engine"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the full persistence surface: the engine's write-side
// contract plus the read queries the CLI uses.
type Store interface {
	engine.StateStore

	// LoadResource returns the persisted record for one resource, or
	// ErrNotFound.
	LoadResource(ctx context.Context, stack, name string) (*engine.ResourceRecord, error)

	// ListResources returns every persisted record for a stack,
	// ordered by name.
	ListResources(ctx context.Context, stack string) ([]*engine.ResourceRecord, error)

	// DeleteResource removes a resource's record. Missing records are
	// not an error.
	DeleteResource(ctx context.Context, stack, name string) error

	// ListEvents returns a stack's events, newest first, up to limit.
	// A non-positive limit returns everything.
	ListEvents(ctx context.Context, stack string, limit int) ([]*engine.Event, error)

	// SaveTemplate stores the raw template last applied to a stack,
	// replacing any previous one.
	SaveTemplate(ctx context.Context, stack string, raw []byte) error

	// LoadTemplate returns the raw template last applied to a stack,
	// or ErrNotFound.
	LoadTemplate(ctx context.Context, stack string) ([]byte, error)

	// Close releases the store's resources.
	Close() error
}
