package speaker

import "context"

// Backend persists profiles across restarts. Implementations need not be
// safe for concurrent writes: the [Registry] serializes every mutation.
type Backend interface {
	// Load returns all stored profiles in insertion order.
	Load(ctx context.Context) ([]Profile, error)

	// Save inserts p or, when a profile with the same key exists, replaces
	// its embedding in place without changing its position.
	Save(ctx context.Context, p Profile) error

	// Delete removes the profile with the given key. Deleting an absent key
	// is not an error.
	Delete(ctx context.Context, key string) error

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
