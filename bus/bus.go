// Package bus is an in-process message bus with the delivery guarantees of
// a partitioned broker: at-least-once delivery, ordering per message key,
// bounded redelivery with exponential backoff, and a dead-letter topic for
// messages that exhaust their attempts.
//
// Every consumer group subscribed to a topic receives each message once.
// Within a group, messages are spread over partitions by key hash and each
// partition is served by one worker, so messages sharing a key are handled
// one at a time in publish order. Publishing to a topic nobody subscribes
// to drops the message.
package bus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/avast/retry-go/v4"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrClosed    = errors.New("bus closed")
	ErrQueueFull = errors.New("partition queue full")
)

// Headers set on dead-lettered messages.
const (
	HeaderOriginTopic = "x-origin-topic"
	HeaderGroup       = "x-group"
	HeaderAttempts    = "x-attempts"
	HeaderError       = "x-error"
)

// Message is one delivery.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
	// Attempt counts deliveries of this message to the current group,
	// starting at 1.
	Attempt uint
}

// Handler processes a message. Returning an error schedules a redelivery
// unless the error was wrapped with Permanent.
type Handler func(ctx context.Context, msg Message) error

// Permanent marks err as not worth retrying; the message goes straight to
// the dead-letter topic.
func Permanent(err error) error {
	return retry.Unrecoverable(err)
}

// Config tunes delivery.
type Config struct {
	Partitions       int
	QueueSize        int
	MaxAttempts      uint
	MinBackoff       time.Duration
	MaxBackoff       time.Duration
	DeadLetterSuffix string
}

// DefaultConfig returns the defaults used for zero fields.
func DefaultConfig() Config {
	return Config{
		Partitions:       4,
		QueueSize:        256,
		MaxAttempts:      5,
		MinBackoff:       50 * time.Millisecond,
		MaxBackoff:       2 * time.Second,
		DeadLetterSuffix: ".dlq",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Partitions <= 0 {
		c.Partitions = d.Partitions
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = d.MinBackoff
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = c.MinBackoff
	}
	if c.DeadLetterSuffix == "" {
		c.DeadLetterSuffix = d.DeadLetterSuffix
	}
	return c
}

type subscription struct {
	topic      string
	group      string
	handler    Handler
	partitions []chan Message
}

// Bus routes messages from publishers to subscribed groups.
type Bus struct {
	cfg     Config
	logger  *zap.Logger
	metrics *Metrics

	// mu guards closed and the partition channels: Publish sends under the
	// read lock, Close closes the channels under the write lock.
	mu     sync.RWMutex
	closed bool

	subs    *xsync.MapOf[string, []*subscription]
	workers errgroup.Group
	pending atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	dlMu        sync.Mutex
	deadLetters []Message
}

// Option configures a Bus.
type Option func(*Bus)

func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// New creates a Bus. Call Close to stop its workers.
func New(cfg Config, opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		cfg:    cfg.withDefaults(),
		logger: zap.NewNop(),
		subs:   xsync.NewMapOf[string, []*subscription](),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// DeadLetterTopic returns the topic that receives topic's dead letters.
func (b *Bus) DeadLetterTopic(topic string) string {
	return topic + b.cfg.DeadLetterSuffix
}

// Subscribe registers h for group on topic and starts its workers.
func (b *Bus) Subscribe(topic, group string, h Handler) error {
	if h == nil {
		return fmt.Errorf("subscribe %s/%s: nil handler", topic, group)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	sub := &subscription{
		topic:      topic,
		group:      group,
		handler:    h,
		partitions: make([]chan Message, b.cfg.Partitions),
	}
	var dup bool
	b.subs.Compute(topic, func(old []*subscription, _ bool) ([]*subscription, bool) {
		for _, s := range old {
			if s.group == group {
				dup = true
				return old, false
			}
		}
		return append(append([]*subscription(nil), old...), sub), false
	})
	if dup {
		return fmt.Errorf("subscribe %s: group %q already subscribed", topic, group)
	}

	for i := range sub.partitions {
		ch := make(chan Message, b.cfg.QueueSize)
		sub.partitions[i] = ch
		partition := i
		b.workers.Go(func() error {
			b.work(sub, partition, ch)
			return nil
		})
	}
	b.logger.Debug("subscribed", zap.String("topic", topic), zap.String("group", group))
	return nil
}

// Publish enqueues a copy of the message for every group on topic. It never
// waits for a handler: a full partition queue fails with ErrQueueFull.
func (b *Bus) Publish(_ context.Context, topic, key string, value []byte) error {
	return b.publish(Message{Topic: topic, Key: key, Value: value})
}

func (b *Bus) publish(msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	subs, _ := b.subs.Load(msg.Topic)
	if len(subs) == 0 {
		b.logger.Debug("dropping message without subscribers", zap.String("topic", msg.Topic))
		return nil
	}

	var errs error
	for _, sub := range subs {
		ch := sub.partitions[partitionFor(msg.Key, len(sub.partitions))]
		b.pending.Add(1)
		select {
		case ch <- msg:
		default:
			b.pending.Add(-1)
			errs = errors.Join(errs, fmt.Errorf("publish %s to group %s: %w", msg.Topic, sub.group, ErrQueueFull))
		}
	}
	return errs
}

func partitionFor(key string, n int) int {
	return int(xxhash.ChecksumString64(key) % uint64(n))
}

func (b *Bus) work(sub *subscription, partition int, ch <-chan Message) {
	log := b.logger.With(
		zap.String("topic", sub.topic),
		zap.String("group", sub.group),
		zap.Int("partition", partition),
	)
	for msg := range ch {
		b.deliver(log, sub, msg)
		b.pending.Add(-1)
	}
}

func (b *Bus) deliver(log *zap.Logger, sub *subscription, msg Message) {
	var attempt uint
	err := retry.Do(
		func() error {
			attempt++
			m := msg
			m.Attempt = attempt
			return invoke(b.ctx, sub.handler, m)
		},
		retry.Context(b.ctx),
		retry.Attempts(b.cfg.MaxAttempts),
		retry.Delay(b.cfg.MinBackoff),
		retry.MaxDelay(b.cfg.MaxBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			b.metrics.retried(sub.topic, sub.group)
			log.Debug("redelivering message", zap.String("key", msg.Key), zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err == nil {
		b.metrics.delivered(sub.topic, sub.group)
		return
	}
	b.deadLetter(log, sub, msg, attempt, err)
}

func invoke(ctx context.Context, h Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, msg)
}

func (b *Bus) deadLetter(log *zap.Logger, sub *subscription, msg Message, attempts uint, cause error) {
	b.metrics.deadLettered(sub.topic, sub.group)
	dl := Message{
		Topic: b.DeadLetterTopic(sub.topic),
		Key:   msg.Key,
		Value: msg.Value,
		Headers: map[string]string{
			HeaderOriginTopic: sub.topic,
			HeaderGroup:       sub.group,
			HeaderAttempts:    strconv.FormatUint(uint64(attempts), 10),
			HeaderError:       cause.Error(),
		},
	}
	log.Warn("message dead-lettered",
		zap.String("key", msg.Key),
		zap.Uint("attempts", attempts),
		zap.String("dead_letter_topic", dl.Topic),
		zap.Error(cause),
	)

	b.dlMu.Lock()
	b.deadLetters = append(b.deadLetters, dl)
	b.dlMu.Unlock()

	if err := b.publish(dl); err != nil {
		log.Error("failed to publish dead letter", zap.Error(err))
	}
}

// DeadLetters returns every message dead-lettered so far.
func (b *Bus) DeadLetters() []Message {
	b.dlMu.Lock()
	defer b.dlMu.Unlock()
	return append([]Message(nil), b.deadLetters...)
}

// Flush waits until every message published so far, and everything those
// deliveries published in turn, has been handled.
func (b *Bus) Flush(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for b.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops accepting messages, lets the workers drain what is queued,
// redeliveries included, and waits for them. Dead letters produced while
// draining are kept in DeadLetters but no longer published.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subs.Range(func(_ string, subs []*subscription) bool {
		for _, sub := range subs {
			for _, ch := range sub.partitions {
				close(ch)
			}
		}
		return true
	})
	b.mu.Unlock()

	err := b.workers.Wait()
	b.cancel()
	return err
}
