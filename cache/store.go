// Package cache holds derived values with a TTL on top of a key/value Store.
//
// The Store contract is that of a distributed cache: values are opaque
// bytes, counters are decimal integers, and every mutation is a single
// atomic operation. Nothing in this package reads a value, modifies it and
// writes it back.
package cache

import (
	"context"
	"errors"
	"strconv"
	"time"
)

var (
	// ErrMiss is returned by Get for absent or expired keys.
	ErrMiss = errors.New("cache miss")
	// ErrUnavailable wraps failures of the backing store.
	ErrUnavailable = errors.New("cache store unavailable")
	// ErrNotInteger is returned when incrementing a non-counter value.
	ErrNotInteger = errors.New("cache value is not an integer")
)

// Store is a key/value store with per-key expiry. A ttl <= 0 means the key
// never expires.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// IncrBy adds delta to the counter at key, creating it at zero when
	// absent, and resets its expiry to ttl.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	// IncrByIfPresent adds delta to an existing counter and keeps its
	// expiry. Absent keys stay absent; the bool reports whether the key
	// existed.
	IncrByIfPresent(ctx context.Context, key string, delta int64) (int64, bool, error)
	Delete(ctx context.Context, key string) error
}

// FormatInt encodes a counter the way stores keep it.
func FormatInt(n int64) []byte {
	return strconv.AppendInt(nil, n, 10)
}

// ParseInt decodes a counter value.
func ParseInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	return n, nil
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
