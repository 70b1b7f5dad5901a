package rating

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortressi/coursesaga/cache"
	"github.com/fortressi/coursesaga/idempotency"
)

type fixedStats struct {
	total, count, version int64
	calls                 int
}

func (f *fixedStats) Stats(context.Context, int64) (CourseStats, error) {
	f.calls++
	return CourseStats{Total: f.total, Count: f.count, Version: f.version}, nil
}

func TestAverage(t *testing.T) {
	assert.Equal(t, 4.5, Average(9, 2))
	assert.Equal(t, 0.0, Average(0, 0))
	assert.Equal(t, 0.0, Average(7, 0))
}

func TestAggregateSummaryLoadsLazily(t *testing.T) {
	ctx := context.Background()
	source := &fixedStats{total: 9, count: 2}
	agg := NewAggregate(cache.NewTemplate("ratings", cache.NewMemoryStore()), source, time.Minute, nil)

	avg, err := agg.Average(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 4.5, avg)

	s, err := agg.Summary(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, Summary{CourseID: 5, Total: 9, Count: 2, Average: 4.5}, s)
	assert.Equal(t, 1, source.calls)
}

func TestAggregateEmptyCourse(t *testing.T) {
	agg := NewAggregate(cache.NewTemplate("ratings", cache.NewMemoryStore()), &fixedStats{}, 0, nil)
	avg, err := agg.Average(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, avg)
}

func TestAggregateApply(t *testing.T) {
	ctx := context.Background()
	source := &fixedStats{total: 9, count: 2, version: 2}
	agg := NewAggregate(cache.NewTemplate("ratings", cache.NewMemoryStore()), source, time.Minute, nil)

	// nothing cached: the increment is skipped and the read recomputes
	require.NoError(t, agg.Apply(ctx, 5, 2, 4, 1))
	s, err := agg.Summary(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(9), s.Total)

	require.NoError(t, agg.Apply(ctx, 5, 3, 4, 1))
	s, err = agg.Summary(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, Summary{CourseID: 5, Total: 13, Count: 3, Average: 13.0 / 3}, s)
	assert.Equal(t, 1, source.calls)
}

func TestAggregateApplyTotalFailure(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	agg := NewAggregate(cache.NewTemplate("ratings", store), &fixedStats{total: 9, count: 2}, time.Minute, nil)
	_, err := agg.Summary(ctx, 5)
	require.NoError(t, err)

	store.failIncrOn(TotalKey(5), true)
	err = agg.Apply(ctx, 5, 1, 4, 1)
	var failure *CacheApplyFailure
	require.True(t, errors.As(err, &failure))
	assert.Equal(t, int64(5), failure.CourseID)
	assert.ErrorIs(t, err, errCacheDown)

	s, err := agg.Summary(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.Count, "a failed apply changes nothing")
}

func TestAggregateApplyPartialFailureInvalidates(t *testing.T) {
	ctx := context.Background()
	store := newFlakyStore()
	source := &fixedStats{total: 9, count: 2}
	agg := NewAggregate(cache.NewTemplate("ratings", store), source, time.Minute, nil)
	_, err := agg.Summary(ctx, 5)
	require.NoError(t, err)

	store.failIncrOn(CountKey(5), true)
	require.NoError(t, agg.Apply(ctx, 5, 1, 4, 1))
	_, err = store.Get(ctx, TotalKey(5))
	assert.ErrorIs(t, err, cache.ErrMiss)

	source.total, source.count, source.version = 13, 3, 1
	s, err := agg.Summary(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(13), s.Total)
	assert.Equal(t, 2, source.calls)

	store.failDelete = true
	err = agg.Apply(ctx, 5, 2, 1, 1)
	var failure *CacheApplyFailure
	assert.True(t, errors.As(err, &failure))
}

func TestAggregateSkipsWritesInLoadedSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	pub := &recordingPublisher{}
	svc := NewService(repo, pub, nil)
	agg := NewAggregate(cache.NewTemplate("ratings", cache.NewMemoryStore()), repo, time.Minute, nil)
	consumer := NewConsumer(idempotency.NewLedger(cache.NewMemoryStore(), time.Hour), agg, &recordingPublisher{}, nil)

	// both writes commit and a read loads them before their events arrive
	_, err := svc.Create(ctx, NewReview{CourseID: 5, UserID: 1, Rating: 2})
	require.NoError(t, err)
	_, err = svc.Create(ctx, NewReview{CourseID: 5, UserID: 2, Rating: 4})
	require.NoError(t, err)
	s, err := agg.Summary(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 3.0, s.Average)

	for i, p := range pub.all() {
		require.NoError(t, consumer.Handle(ctx, message(t, fmt.Sprintf("e%d", i), p.typ, 5, p.payload)))
	}
	s, err = agg.Summary(ctx, 5)
	require.NoError(t, err)
	stats, err := repo.Stats(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, Summary{CourseID: 5, Total: stats.Total, Count: stats.Count, Average: 3.0}, s)

	// a write after the load is applied on top of it
	_, err = svc.Create(ctx, NewReview{CourseID: 5, UserID: 3, Rating: 3})
	require.NoError(t, err)
	last := pub.all()[2]
	require.NoError(t, consumer.Handle(ctx, message(t, "e2", last.typ, 5, last.payload)))
	s, err = agg.Summary(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, Summary{CourseID: 5, Total: 9, Count: 3, Average: 3.0}, s)
}

// reloadingStore reloads the aggregate in the middle of Apply, between
// the total and the count increment.
type reloadingStore struct {
	*cache.MemoryStore
	reload func()
}

func (r *reloadingStore) IncrByIfPresent(ctx context.Context, key string, delta int64) (int64, bool, error) {
	n, ok, err := r.MemoryStore.IncrByIfPresent(ctx, key, delta)
	if r.reload != nil && key == TotalKey(5) {
		reload := r.reload
		r.reload = nil
		reload()
	}
	return n, ok, err
}

func TestAggregateApplyInvalidatesOnConcurrentReload(t *testing.T) {
	ctx := context.Background()
	store := &reloadingStore{MemoryStore: cache.NewMemoryStore()}
	source := &fixedStats{total: 2, count: 1, version: 1}
	agg := NewAggregate(cache.NewTemplate("ratings", store), source, time.Minute, nil)
	_, err := agg.Summary(ctx, 5)
	require.NoError(t, err)

	// the record already holds the write at version 2 when the reload runs
	source.total, source.count, source.version = 6, 2, 2
	store.reload = func() {
		require.NoError(t, store.MemoryStore.Delete(ctx, VersionKey(5)))
		_, err := agg.Summary(ctx, 5)
		require.NoError(t, err)
	}
	require.NoError(t, agg.Apply(ctx, 5, 2, 4, 1))

	_, err = store.Get(ctx, TotalKey(5))
	assert.ErrorIs(t, err, cache.ErrMiss, "a reload during Apply drops the aggregate")
	s, err := agg.Summary(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, Summary{CourseID: 5, Total: 6, Count: 2, Average: 3}, s)
}

func TestAggregateCountersExpireDespiteIncrements(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	store := cache.NewMemoryStore(cache.WithClock(func() time.Time { return now }))
	source := &fixedStats{total: 4, count: 1, version: 1}
	agg := NewAggregate(cache.NewTemplate("ratings", store), source, time.Minute, nil)
	_, err := agg.Summary(ctx, 5)
	require.NoError(t, err)

	for v := int64(2); v <= 4; v++ {
		now = now.Add(20 * time.Second)
		require.NoError(t, agg.Apply(ctx, 5, v, 1, 0))
	}
	now = now.Add(time.Second)
	_, err = agg.Summary(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls, "the loaded counters expire one ttl after the load")
}
