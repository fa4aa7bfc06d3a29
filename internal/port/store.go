package port

import "context"

// KeyValueStore is the opaque key -> string storage the engine persists into
type KeyValueStore interface {
	// Get returns the value for key; ok is false when the key is absent
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key
	Set(ctx context.Context, key, value string) error

	// Close releases the underlying resources
	Close() error
}
