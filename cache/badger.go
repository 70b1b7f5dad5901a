package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Required unless InMemory is set.
	Path     string
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// ConflictRetries bounds how often a conflicting transaction is retried.
	ConflictRetries uint
	Logger          *zap.Logger
}

// BadgerStore is a Store on an embedded badger database. Expiry uses
// badger's native TTL, and counters are updated in serializable
// transactions that are retried on conflict.
type BadgerStore struct {
	db      *badger.DB
	retries uint
}

var _ Store = (*BadgerStore)(nil)

type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// OpenBadger opens (or creates) the database described by cfg.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{logger: cfg.Logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	retries := cfg.ConflictRetries
	if retries == 0 {
		retries = 32
	}
	return &BadgerStore{db: db, retries: retries}, nil
}

// OpenBadgerInMemory opens a throwaway in-memory database.
func OpenBadgerInMemory() (*BadgerStore, error) {
	return OpenBadger(BadgerConfig{InMemory: true})
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return value, nil
}

func (s *BadgerStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(newEntry(key, value, ttl))
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *BadgerStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var stored bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		stored = false
		_, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			return nil
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		stored = true
		return txn.SetEntry(newEntry(key, value, ttl))
	})
	return stored, err
}

func (s *BadgerStore) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	n, _, err := s.incr(ctx, key, delta, ttl, true)
	return n, err
}

func (s *BadgerStore) IncrByIfPresent(ctx context.Context, key string, delta int64) (int64, bool, error) {
	return s.incr(ctx, key, delta, 0, false)
}

func (s *BadgerStore) incr(ctx context.Context, key string, delta int64, ttl time.Duration, create bool) (int64, bool, error) {
	var (
		result  int64
		present bool
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		result, present = 0, false
		var (
			current   int64
			expiresAt uint64
		)
		item, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			present = true
			expiresAt = item.ExpiresAt()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if current, err = ParseInt(raw); err != nil {
				return err
			}
		case errors.Is(err, badger.ErrKeyNotFound):
			if !create {
				return nil
			}
		default:
			return err
		}
		result = current + delta
		e := newEntry(key, FormatInt(result), ttl)
		if !create {
			e.ExpiresAt = expiresAt
		}
		return txn.SetEntry(e)
	})
	return result, present, err
}

func (s *BadgerStore) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// update runs fn in a read-write transaction, retrying on conflict with
// a concurrent writer of the same keys.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	err := retry.Do(
		func() error {
			err := s.db.Update(fn)
			if err != nil && !errors.Is(err, badger.ErrConflict) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(s.retries),
		retry.Delay(time.Millisecond),
		retry.MaxJitter(time.Millisecond),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
	)
	if err == nil || errors.Is(err, ErrNotInteger) {
		return err
	}
	return unavailable(err)
}

func newEntry(key string, value []byte, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry([]byte(key), value)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
