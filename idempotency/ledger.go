// Package idempotency records which events have already been applied.
//
// A key present in the ledger means the event was applied. An absent key
// does not prove the opposite once its TTL has passed: a redelivery later
// than the TTL is applied again. Pick a TTL well above the bus's maximum
// redelivery window.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fortressi/coursesaga/cache"
)

// DefaultTTL is how long a processed marker is kept.
const DefaultTTL = 24 * time.Hour

// ErrDuplicateDelivery marks an event that was already applied. Consumers
// treat it as success.
var ErrDuplicateDelivery = errors.New("duplicate delivery")

var marker = []byte("1")

// Ledger is a processed-event ledger on a cache store.
type Ledger struct {
	store cache.Store
	ttl   time.Duration
}

// NewLedger creates a ledger. A ttl <= 0 uses DefaultTTL.
func NewLedger(store cache.Store, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ledger{store: store, ttl: ttl}
}

// Key builds the ledger key of an event.
func Key(eventType, eventID string) string {
	return "idem:" + eventType + ":" + eventID
}

// TTL returns the marker lifetime.
func (l *Ledger) TTL() time.Duration {
	return l.ttl
}

// Exists reports whether key was marked processed.
func (l *Ledger) Exists(ctx context.Context, key string) (bool, error) {
	_, err := l.store.Get(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, cache.ErrMiss):
		return false, nil
	default:
		return false, fmt.Errorf("check %s: %w", key, err)
	}
}

// MarkProcessed records key. It returns ErrDuplicateDelivery if the key was
// already recorded by someone else.
func (l *Ledger) MarkProcessed(ctx context.Context, key string) error {
	stored, err := l.store.SetNX(ctx, key, marker, l.ttl)
	if err != nil {
		return fmt.Errorf("mark %s: %w", key, err)
	}
	if !stored {
		return fmt.Errorf("mark %s: %w", key, ErrDuplicateDelivery)
	}
	return nil
}

// Forget removes key, making the event eligible to be applied again.
func (l *Ledger) Forget(ctx context.Context, key string) error {
	return l.store.Delete(ctx, key)
}

// Apply runs fn unless key is already marked, then marks it. It returns
// ErrDuplicateDelivery without calling fn for a processed key.
//
// The check and the mark are two operations; callers must not run two
// Apply calls for the same key concurrently. The bus delivers one key on
// one partition, which provides that.
func (l *Ledger) Apply(ctx context.Context, key string, fn func(context.Context) error) error {
	done, err := l.Exists(ctx, key)
	if err != nil {
		return err
	}
	if done {
		return ErrDuplicateDelivery
	}
	if err := fn(ctx); err != nil {
		return err
	}
	return l.MarkProcessed(ctx, key)
}
