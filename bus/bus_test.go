package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastConfig() Config {
	return Config{
		Partitions:  4,
		QueueSize:   64,
		MaxAttempts: 3,
		MinBackoff:  time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func flush(t *testing.T, b *Bus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Flush(ctx))
}

// collector records messages per key.
type collector struct {
	mu    sync.Mutex
	byKey map[string][]string
}

func (c *collector) handle(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byKey == nil {
		c.byKey = make(map[string][]string)
	}
	c.byKey[msg.Key] = append(c.byKey[msg.Key], string(msg.Value))
	return nil
}

func TestPerKeyOrdering(t *testing.T) {
	b := New(fastConfig(), WithLogger(zaptest.NewLogger(t)))
	defer b.Close()

	c := &collector{}
	require.NoError(t, b.Subscribe("ratings", "agg", c.handle))

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		for _, key := range []string{"1", "2", "3"} {
			require.NoError(t, b.Publish(ctx, "ratings", key, []byte(fmt.Sprint(i))))
		}
	}
	flush(t, b)

	for _, key := range []string{"1", "2", "3"} {
		require.Len(t, c.byKey[key], 20)
		for i, v := range c.byKey[key] {
			assert.Equal(t, fmt.Sprint(i), v)
		}
	}
}

func TestEveryGroupReceivesEachMessage(t *testing.T) {
	b := New(fastConfig())
	defer b.Close()

	a, c := &collector{}, &collector{}
	require.NoError(t, b.Subscribe("ratings", "a", a.handle))
	require.NoError(t, b.Subscribe("ratings", "c", c.handle))
	assert.Error(t, b.Subscribe("ratings", "a", a.handle))

	require.NoError(t, b.Publish(context.Background(), "ratings", "k", []byte("v")))
	flush(t, b)

	assert.Equal(t, []string{"v"}, a.byKey["k"])
	assert.Equal(t, []string{"v"}, c.byKey["k"])
}

func TestRedeliveryUntilSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	b := New(fastConfig(), WithMetrics(metrics))
	defer b.Close()

	var attempts []uint
	require.NoError(t, b.Subscribe("ratings", "agg", func(_ context.Context, msg Message) error {
		attempts = append(attempts, msg.Attempt)
		if msg.Attempt < 3 {
			return errors.New("cache unavailable")
		}
		return nil
	}))

	require.NoError(t, b.Publish(context.Background(), "ratings", "k", []byte("v")))
	flush(t, b)

	assert.Equal(t, []uint{1, 2, 3}, attempts)
	assert.Empty(t, b.DeadLetters())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.retriedTotal.WithLabelValues("ratings", "agg")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.deliveredTotal.WithLabelValues("ratings", "agg")))
}

func TestDeadLetterAfterMaxAttempts(t *testing.T) {
	b := New(fastConfig())
	defer b.Close()

	calls := 0
	require.NoError(t, b.Subscribe("ratings", "agg", func(context.Context, Message) error {
		calls++
		return errors.New("cache unavailable")
	}))

	var dead []Message
	require.NoError(t, b.Subscribe(b.DeadLetterTopic("ratings"), "relay", func(_ context.Context, msg Message) error {
		dead = append(dead, msg)
		return nil
	}))

	require.NoError(t, b.Publish(context.Background(), "ratings", "k", []byte("payload")))
	flush(t, b)

	assert.Equal(t, 3, calls)
	require.Len(t, dead, 1)
	assert.Equal(t, "ratings.dlq", dead[0].Topic)
	assert.Equal(t, []byte("payload"), dead[0].Value)
	assert.Equal(t, "ratings", dead[0].Headers[HeaderOriginTopic])
	assert.Equal(t, "agg", dead[0].Headers[HeaderGroup])
	assert.Equal(t, "3", dead[0].Headers[HeaderAttempts])
	assert.Equal(t, "cache unavailable", dead[0].Headers[HeaderError])
	assert.Len(t, b.DeadLetters(), 1)
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	b := New(fastConfig())
	defer b.Close()

	calls := 0
	require.NoError(t, b.Subscribe("ratings", "agg", func(context.Context, Message) error {
		calls++
		return Permanent(errors.New("malformed payload"))
	}))
	require.NoError(t, b.Publish(context.Background(), "ratings", "k", []byte("v")))
	flush(t, b)

	assert.Equal(t, 1, calls)
	require.Len(t, b.DeadLetters(), 1)
	assert.Equal(t, "1", b.DeadLetters()[0].Headers[HeaderAttempts])
}

func TestHandlerPanicIsRetried(t *testing.T) {
	b := New(fastConfig())
	defer b.Close()

	calls := 0
	require.NoError(t, b.Subscribe("ratings", "agg", func(context.Context, Message) error {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return nil
	}))
	require.NoError(t, b.Publish(context.Background(), "ratings", "k", nil))
	flush(t, b)

	assert.Equal(t, 2, calls)
	assert.Empty(t, b.DeadLetters())
}

func TestQueueFull(t *testing.T) {
	cfg := fastConfig()
	cfg.Partitions = 1
	cfg.QueueSize = 1
	b := New(cfg)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	require.NoError(t, b.Subscribe("ratings", "agg", func(context.Context, Message) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}))

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "ratings", "k", nil))
	<-started
	require.NoError(t, b.Publish(ctx, "ratings", "k", nil))
	assert.ErrorIs(t, b.Publish(ctx, "ratings", "k", nil), ErrQueueFull)

	close(release)
	require.NoError(t, b.Close())
}

func TestClose(t *testing.T) {
	b := New(fastConfig())
	c := &collector{}
	require.NoError(t, b.Subscribe("ratings", "agg", c.handle))
	require.NoError(t, b.Publish(context.Background(), "ratings", "k", []byte("v")))

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, []string{"v"}, c.byKey["k"], "queued messages are drained on close")

	assert.ErrorIs(t, b.Publish(context.Background(), "ratings", "k", nil), ErrClosed)
	assert.ErrorIs(t, b.Subscribe("other", "agg", c.handle), ErrClosed)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := New(fastConfig())
	defer b.Close()
	assert.NoError(t, b.Publish(context.Background(), "nobody", "k", nil))
	flush(t, b)
}

func TestPartitionForIsStable(t *testing.T) {
	for _, key := range []string{"1", "42", "course-7"} {
		p := partitionFor(key, 8)
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 8)
		assert.Equal(t, p, partitionFor(key, 8))
	}
}
