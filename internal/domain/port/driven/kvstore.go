package driven

import "context"

// KVStore is the durable key-value medium behind the credential store. Keys
// are opaque strings; callers namespace them.
type KVStore interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// GetMany returns the values of every present key, read as one
	// consistent view: no concurrent SetMany is observed half applied.
	// Missing keys are absent from the map.
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)

	// Set stores or replaces the value for key.
	Set(ctx context.Context, key, value string) error

	// SetMany stores all pairs atomically where the medium allows it.
	SetMany(ctx context.Context, pairs map[string]string) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}
