package cache

import (
	"context"
	"errors"
	"time"
)

var ErrCacheMiss = errors.New("cache: key not found")

// Locker is a best-effort distributed mutex. A lock expires after its ttl
// even if Unlock is never called.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Service is the key-value store behind prediction caching, display id
// sequences and sweep locks. Keys are namespaced by the implementation.
type Service interface {
	Locker
	// Set stores value; zero expiration keeps it until evicted.
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	// Get decodes the stored value into dest; *string receives the raw text.
	// It returns ErrCacheMiss for absent or expired keys.
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	// Increment adds one to the integer at key, starting from zero.
	Increment(ctx context.Context, key string) (int64, error)
	Close() error
}
