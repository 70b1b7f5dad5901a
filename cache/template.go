package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Template implements cache-aside reads and counter updates over a Store.
//
// A failing store never fails a read: errors other than ErrMiss are logged
// and treated as a miss, and a failed write-back is logged and dropped.
type Template struct {
	name    string
	store   Store
	logger  *zap.Logger
	metrics *Metrics
}

// TemplateOption configures a Template.
type TemplateOption func(*Template)

func WithLogger(logger *zap.Logger) TemplateOption {
	return func(t *Template) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) TemplateOption {
	return func(t *Template) { t.metrics = m }
}

// NewTemplate creates a Template. name labels its metrics and logs.
func NewTemplate(name string, store Store, opts ...TemplateOption) *Template {
	t := &Template{name: name, store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With(zap.String("cache", name))
	return t
}

// Store returns the underlying store.
func (t *Template) Store() Store {
	return t.store
}

// GetOrLoad returns the JSON value cached at key. On a miss it calls load
// and stores the result for ttl.
func GetOrLoad[T any](ctx context.Context, t *Template, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if raw, ok := t.lookup(ctx, key); ok {
		var v T
		err := json.Unmarshal(raw, &v)
		if err == nil {
			t.metrics.hit(t.name)
			return v, nil
		}
		t.logger.Warn("discarding undecodable cache value", zap.String("key", key), zap.Error(err))
	}
	t.metrics.miss(t.name)

	v, err := load(ctx)
	if err != nil {
		t.metrics.loadError(t.name)
		var zero T
		return zero, fmt.Errorf("load %s: %w", key, err)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		t.writeBackFailed(key, err)
		return v, nil
	}
	if err := t.store.Set(ctx, key, raw, ttl); err != nil {
		t.writeBackFailed(key, err)
	}
	return v, nil
}

// LoadCounters reads the counters at keys. If any of them is missing, load
// recomputes all of them and they are stored for ttl, in key order. load
// must return one value per key.
func (t *Template) LoadCounters(ctx context.Context, keys []string, ttl time.Duration, load func(context.Context) ([]int64, error)) ([]int64, error) {
	values := make([]int64, len(keys))
	hit := true
	for i, key := range keys {
		raw, ok := t.lookup(ctx, key)
		if !ok {
			hit = false
			break
		}
		n, err := ParseInt(raw)
		if err != nil {
			t.logger.Warn("discarding non-integer counter", zap.String("key", key))
			hit = false
			break
		}
		values[i] = n
	}
	if hit {
		t.metrics.hit(t.name)
		return values, nil
	}
	t.metrics.miss(t.name)

	loaded, err := load(ctx)
	if err != nil {
		t.metrics.loadError(t.name)
		return nil, fmt.Errorf("load %v: %w", keys, err)
	}
	if len(loaded) != len(keys) {
		t.metrics.loadError(t.name)
		return nil, fmt.Errorf("load %v: got %d values", keys, len(loaded))
	}
	for i, key := range keys {
		if err := t.store.Set(ctx, key, FormatInt(loaded[i]), ttl); err != nil {
			t.writeBackFailed(key, err)
		}
	}
	return loaded, nil
}

// Increment atomically adds delta to the counter at key and refreshes its
// ttl, creating the counter when absent. The rating aggregate uses
// IncrementIfPresent instead, so that only loaded counters move.
func (t *Template) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return t.store.IncrBy(ctx, key, delta, ttl)
}

// IncrementIfPresent is Increment for counters that must be seeded by a
// load first. It reports whether the counter existed. The counter keeps
// the expiry it was loaded with, so a loaded value is recomputed at least
// once per ttl however often it is incremented.
func (t *Template) IncrementIfPresent(ctx context.Context, key string, delta int64) (int64, bool, error) {
	return t.store.IncrByIfPresent(ctx, key, delta)
}

// Counter reads the counter at key. The bool is false on a miss.
func (t *Template) Counter(ctx context.Context, key string) (int64, bool, error) {
	raw, err := t.store.Get(ctx, key)
	if errors.Is(err, ErrMiss) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := ParseInt(raw)
	if err != nil {
		return 0, false, fmt.Errorf("counter %s: %w", key, err)
	}
	return n, true, nil
}

// Invalidate deletes keys so that the next read reloads them. It returns
// the first failure but attempts every key.
func (t *Template) Invalidate(ctx context.Context, keys ...string) error {
	var first error
	for _, key := range keys {
		if err := t.store.Delete(ctx, key); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t *Template) lookup(ctx context.Context, key string) ([]byte, bool) {
	raw, err := t.store.Get(ctx, key)
	switch {
	case err == nil:
		return raw, true
	case errors.Is(err, ErrMiss):
	default:
		t.logger.Warn("cache read failed, falling back to loader", zap.String("key", key), zap.Error(err))
	}
	return nil, false
}

func (t *Template) writeBackFailed(key string, err error) {
	t.metrics.writeBackError(t.name)
	t.logger.Warn("cache write-back failed", zap.String("key", key), zap.Error(err))
}
