package rating

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fortressi/coursesaga/bus"
	"github.com/fortressi/coursesaga/cache"
	"github.com/fortressi/coursesaga/event"
)

var errCacheDown = errors.New("cache unavailable")

type published struct {
	topic   string
	typ     event.Type
	subject int64
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, t event.Type, subjectID int64, payload any) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{topic: topic, typ: t, subject: subjectID, payload: payload})
	return fmt.Sprintf("e%d", len(p.events))
}

func (p *recordingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

// flakyStore fails selected operations of a MemoryStore.
type flakyStore struct {
	*cache.MemoryStore
	mu         sync.Mutex
	failIncr   map[string]bool
	failDelete bool
	failSetNX  bool
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: cache.NewMemoryStore(), failIncr: make(map[string]bool)}
}

func (f *flakyStore) failIncrOn(key string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failIncr[key] = fail
}

func (f *flakyStore) IncrByIfPresent(ctx context.Context, key string, delta int64) (int64, bool, error) {
	f.mu.Lock()
	fail := f.failIncr[key]
	f.mu.Unlock()
	if fail {
		return 0, false, errCacheDown
	}
	return f.MemoryStore.IncrByIfPresent(ctx, key, delta)
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	if f.failDelete {
		return errCacheDown
	}
	return f.MemoryStore.Delete(ctx, key)
}

func (f *flakyStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if f.failSetNX {
		return false, errCacheDown
	}
	return f.MemoryStore.SetNX(ctx, key, value, ttl)
}

// recordingInvalidator records the courses whose aggregate was dropped.
type recordingInvalidator struct {
	mu      sync.Mutex
	courses []int64
	err     error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, courseID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.courses = append(r.courses, courseID)
	return r.err
}

// countingRepository records the reverting calls made on a MemoryRepository.
type countingRepository struct {
	*MemoryRepository
	mu       sync.Mutex
	deletes  []int64
	cas      []int64
	restores []int64
}

func (c *countingRepository) Delete(ctx context.Context, id int64) (Review, error) {
	c.mu.Lock()
	c.deletes = append(c.deletes, id)
	c.mu.Unlock()
	return c.MemoryRepository.Delete(ctx, id)
}

func (c *countingRepository) CompareAndSetRating(ctx context.Context, id int64, expected, rating int) (bool, error) {
	c.mu.Lock()
	c.cas = append(c.cas, id)
	c.mu.Unlock()
	return c.MemoryRepository.CompareAndSetRating(ctx, id, expected, rating)
}

func (c *countingRepository) Restore(ctx context.Context, r Review) (bool, error) {
	c.mu.Lock()
	c.restores = append(c.restores, r.ID)
	c.mu.Unlock()
	return c.MemoryRepository.Restore(ctx, r)
}

func message(t *testing.T, id string, typ event.Type, subject int64, payload any) bus.Message {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	value, err := event.Envelope{ID: id, Type: typ, SubjectID: subject, OccurredAt: time.Now(), Payload: raw}.Marshal()
	require.NoError(t, err)
	return bus.Message{Topic: event.TopicRatings, Key: fmt.Sprint(subject), Value: value, Attempt: 1}
}
