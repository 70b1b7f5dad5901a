package cache

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process Store. Expired keys are removed lazily when
// touched.
type MemoryStore struct {
	entries *xsync.MapOf[string, memoryEntry]
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, for tests that need to move time forward.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: xsync.NewMapOf[string, memoryEntry](),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	now := s.now()
	e, ok := s.entries.Load(key)
	if !ok {
		return nil, ErrMiss
	}
	if e.expired(now) {
		s.entries.Compute(key, func(old memoryEntry, loaded bool) (memoryEntry, bool) {
			return old, loaded && old.expired(now)
		})
		return nil, ErrMiss
	}
	return append([]byte(nil), e.value...), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.entries.Store(key, memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: expiry(s.now(), ttl),
	})
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	now := s.now()
	stored := false
	s.entries.Compute(key, func(old memoryEntry, loaded bool) (memoryEntry, bool) {
		if loaded && !old.expired(now) {
			return old, false
		}
		stored = true
		return memoryEntry{value: append([]byte(nil), value...), expiresAt: expiry(now, ttl)}, false
	})
	return stored, nil
}

func (s *MemoryStore) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	n, _, err := s.incr(key, delta, ttl, true)
	return n, err
}

func (s *MemoryStore) IncrByIfPresent(ctx context.Context, key string, delta int64) (int64, bool, error) {
	return s.incr(key, delta, 0, false)
}

func (s *MemoryStore) incr(key string, delta int64, ttl time.Duration, create bool) (int64, bool, error) {
	now := s.now()
	var (
		result  int64
		present bool
		err     error
	)
	s.entries.Compute(key, func(old memoryEntry, loaded bool) (memoryEntry, bool) {
		live := loaded && !old.expired(now)
		if !live && !create {
			// drop an expired entry, leave an absent one absent
			return old, true
		}
		var current int64
		expiresAt := expiry(now, ttl)
		if live {
			present = true
			current, err = ParseInt(old.value)
			if err != nil {
				return old, false
			}
			if !create {
				expiresAt = old.expiresAt
			}
		}
		result = current + delta
		return memoryEntry{value: FormatInt(result), expiresAt: expiresAt}, false
	})
	return result, present, err
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.entries.Delete(key)
	return nil
}

// Len returns the number of stored keys, expired ones included.
func (s *MemoryStore) Len() int {
	return s.entries.Size()
}
