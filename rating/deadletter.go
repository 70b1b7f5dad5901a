package rating

import (
	"context"

	"go.uber.org/zap"

	"github.com/fortressi/coursesaga/bus"
	"github.com/fortressi/coursesaga/event"
)

// DeadLetterRelay turns rating events the Consumer gave up on into failed
// ApplyResponses, handing them to the Compensator.
type DeadLetterRelay struct {
	publisher EventPublisher
	logger    *zap.Logger
}

func NewDeadLetterRelay(publisher EventPublisher, logger *zap.Logger) *DeadLetterRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeadLetterRelay{publisher: publisher, logger: logger}
}

// Handle is the bus handler for the dead-letter topic of
// event.TopicRatings. Messages that cannot be decoded are only logged:
// without the original write there is nothing to compensate.
func (r *DeadLetterRelay) Handle(ctx context.Context, msg bus.Message) error {
	env, err := event.Unmarshal(msg.Value)
	if err != nil {
		r.logger.Error("dropping undecodable dead letter", zap.String("key", msg.Key), zap.Error(err))
		return nil
	}
	var change event.RatingChanged
	if err := env.Decode(&change); err != nil {
		r.logger.Error("dropping undecodable dead letter", zap.String("event_id", env.ID), zap.Error(err))
		return nil
	}

	reason := msg.Headers[bus.HeaderError]
	r.logger.Warn("rating event dead-lettered, requesting compensation",
		zap.String("event_id", env.ID),
		zap.String("event_type", string(env.Type)),
		zap.Int64("review_id", change.ReviewID),
		zap.Int64("course_id", change.CourseID),
		zap.String("attempts", msg.Headers[bus.HeaderAttempts]),
		zap.String("reason", reason),
	)
	r.publisher.Publish(ctx, event.TopicRatingResponses, event.RatingApplyResponse, change.CourseID, event.ApplyResponse{
		EventID:       env.ID,
		Success:       false,
		Operation:     env.Type,
		RatingChanged: change,
		Reason:        reason,
	})
	return nil
}
