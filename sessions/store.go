package sessions

import (
	"context"
	"errors"
)

// ErrRecordNotFound is returned by Store.Get for unknown tokens.
var ErrRecordNotFound = errors.New("session record not found")

// Store persists session metadata. It is a journal, not the source of truth:
// live transports and Servers only exist in the owning Registry. Registry.List
// reads it back, so registries sharing a Store see each other's sessions.
type Store interface {
	Put(ctx context.Context, rec Record) error
	// Get is not used by the Registry. It serves tools that inspect the
	// journal directly.
	Get(ctx context.Context, token string) (Record, error)
	Delete(ctx context.Context, token string) error
	// List returns all records ordered by CreatedAt.
	List(ctx context.Context) ([]Record, error)
}
