package rating

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/fortressi/coursesaga/bus"
	"github.com/fortressi/coursesaga/event"
	"github.com/fortressi/coursesaga/idempotency"
)

// Consumer folds rating events into the cached aggregate, each event at
// most once.
type Consumer struct {
	ledger    *idempotency.Ledger
	aggregate *Aggregate
	publisher EventPublisher
	logger    *zap.Logger
}

func NewConsumer(ledger *idempotency.Ledger, aggregate *Aggregate, publisher EventPublisher, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{ledger: ledger, aggregate: aggregate, publisher: publisher, logger: logger}
}

// Handle is the bus handler for event.TopicRatings.
//
// A returned error makes the bus redeliver the message; undecodable
// messages are rejected permanently. A redelivery of an event that was
// already applied is acknowledged without touching the aggregate.
func (c *Consumer) Handle(ctx context.Context, msg bus.Message) error {
	env, err := event.Unmarshal(msg.Value)
	if err != nil {
		return bus.Permanent(err)
	}
	log := c.logger.With(
		zap.String("event_id", env.ID),
		zap.String("event_type", string(env.Type)),
		zap.Uint("attempt", msg.Attempt),
	)

	var change event.RatingChanged
	if err := env.Decode(&change); err != nil {
		return bus.Permanent(err)
	}
	total, count, err := change.Delta(env.Type)
	if err != nil {
		log.Warn("ignoring event without rating delta", zap.Error(err))
		return nil
	}
	log = log.With(zap.Int64("course_id", change.CourseID))

	key := idempotency.Key(string(env.Type), env.ID)
	err = c.ledger.Apply(ctx, key, func(ctx context.Context) error {
		return c.aggregate.Apply(ctx, change.CourseID, change.Version, total, count)
	})
	switch {
	case errors.Is(err, idempotency.ErrDuplicateDelivery):
		log.Debug("duplicate delivery ignored")
		return nil
	case err != nil:
		log.Warn("rating event not applied", zap.Error(err))
		return err
	}

	log.Debug("rating event applied", zap.Int64("total_delta", total), zap.Int64("count_delta", count))
	c.publisher.Publish(ctx, event.TopicRatingResponses, event.RatingApplyResponse, change.CourseID, event.ApplyResponse{
		EventID:       env.ID,
		Success:       true,
		Operation:     env.Type,
		RatingChanged: change,
	})
	return nil
}
