package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Transport hands encoded events to the bus. Publish must not wait for
// consumers.
type Transport interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// Publisher emits events without surfacing delivery failures to the
// caller. A failed send is logged and the caller carries on: a stale read
// model is acceptable, a write path blocked on the bus is not.
type Publisher struct {
	transport Transport
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

// NewPublisher creates a Publisher. A nil logger discards logs.
func NewPublisher(transport Transport, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		transport: transport,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Publish wraps payload in a fresh envelope, sends it on topic and returns
// the event id. The id is returned even when the send failed.
func (p *Publisher) Publish(ctx context.Context, topic string, t Type, subjectID int64, payload any) string {
	env := Envelope{
		ID:         p.newID(),
		Type:       t,
		SubjectID:  subjectID,
		OccurredAt: p.now().UTC(),
	}
	log := p.logger.With(
		zap.String("event_id", env.ID),
		zap.String("event_type", string(t)),
		zap.String("topic", topic),
		zap.Int64("subject_id", subjectID),
	)

	raw, err := json.Marshal(payload)
	if err != nil {
		log.Error("failed to encode event payload", zap.Error(err))
		return env.ID
	}
	env.Payload = raw

	value, err := env.Marshal()
	if err != nil {
		log.Error("failed to encode event", zap.Error(err))
		return env.ID
	}
	if err := p.transport.Publish(ctx, topic, env.Key(), value); err != nil {
		log.Warn("event publish failed", zap.Error(err))
		return env.ID
	}
	log.Debug("event published")
	return env.ID
}
