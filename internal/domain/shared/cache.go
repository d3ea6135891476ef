package shared

import (
	"context"
	"time"
)

// Cache is a TTL key/value store used for webhook dedup markers,
// entitlement memoization and plan-catalog caching.
//
// SetIfAbsent must be atomic against concurrent callers: of N concurrent
// calls for the same absent key, exactly one returns true. This is the
// primitive the webhook processor relies on for event-id reservation.
type Cache interface {
	// Get retrieves the value for a key. Returns (nil, nil) on a miss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with a TTL, overwriting any existing value.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetIfAbsent stores a value only if the key does not exist.
	// Returns true if the value was stored, false if the key was present.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteByPrefix removes all keys with the given prefix.
	DeleteByPrefix(ctx context.Context, prefix string) error

	// Close releases resources held by the cache
	Close() error
}
