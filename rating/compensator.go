package rating

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fortressi/coursesaga/bus"
	"github.com/fortressi/coursesaga/event"
)

// AggregateInvalidator drops the cached aggregate of a course.
type AggregateInvalidator interface {
	Invalidate(ctx context.Context, courseID int64) error
}

// Compensator reverts review writes whose events could not be applied to
// the aggregate. Reverts publish no events. A load may already have
// picked the write up from the record, so every failure response ends by
// invalidating the course's aggregate.
type Compensator struct {
	repo      Repository
	aggregate AggregateInvalidator
	logger    *zap.Logger
}

func NewCompensator(repo Repository, aggregate AggregateInvalidator, logger *zap.Logger) *Compensator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compensator{repo: repo, aggregate: aggregate, logger: logger}
}

// Handle is the bus handler for event.TopicRatingResponses.
func (c *Compensator) Handle(ctx context.Context, msg bus.Message) error {
	env, err := event.Unmarshal(msg.Value)
	if err != nil {
		return bus.Permanent(err)
	}
	if env.Type != event.RatingApplyResponse {
		return nil
	}
	var resp event.ApplyResponse
	if err := env.Decode(&resp); err != nil {
		return bus.Permanent(err)
	}
	return c.Revert(ctx, resp)
}

// Revert undoes the write behind a failed ApplyResponse. Successful
// responses are only logged. Each revert is safe to repeat.
func (c *Compensator) Revert(ctx context.Context, resp event.ApplyResponse) error {
	log := c.logger.With(
		zap.String("event_id", resp.EventID),
		zap.String("operation", string(resp.Operation)),
		zap.Int64("review_id", resp.ReviewID),
		zap.Int64("course_id", resp.CourseID),
	)
	if resp.Success {
		log.Debug("rating applied")
		return nil
	}

	reverted, err := c.revert(ctx, resp, log)
	if err != nil {
		return err
	}
	if err := c.aggregate.Invalidate(ctx, resp.CourseID); err != nil {
		return fmt.Errorf("invalidate rating aggregate of course %d: %w", resp.CourseID, err)
	}
	if reverted {
		log.Warn("review write reverted after failed cache apply", zap.String("reason", resp.Reason))
	}
	return nil
}

func (c *Compensator) revert(ctx context.Context, resp event.ApplyResponse, log *zap.Logger) (bool, error) {
	switch resp.Operation {
	case event.RatingCreated:
		_, err := c.repo.Delete(ctx, resp.ReviewID)
		if errors.Is(err, ErrReviewNotFound) {
			log.Info("review already gone")
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("revert creation of review %d: %w", resp.ReviewID, err)
		}
	case event.RatingUpdated:
		swapped, err := c.repo.CompareAndSetRating(ctx, resp.ReviewID, resp.NewRating, resp.OldRating)
		if errors.Is(err, ErrReviewNotFound) {
			log.Info("review already gone")
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("revert update of review %d: %w", resp.ReviewID, err)
		}
		if !swapped {
			log.Warn("review changed since the failed update, leaving it", zap.Bool("manual_reconciliation", true))
			return false, nil
		}
	case event.RatingDeleted:
		restored, err := c.repo.Restore(ctx, Review{
			ID:       resp.ReviewID,
			CourseID: resp.CourseID,
			UserID:   resp.UserID,
			Rating:   resp.OldRating,
		})
		if err != nil {
			return false, fmt.Errorf("revert deletion of review %d: %w", resp.ReviewID, err)
		}
		if !restored {
			log.Info("review already restored")
			return false, nil
		}
	default:
		log.Error("cannot revert unknown operation")
		return false, bus.Permanent(fmt.Errorf("unknown operation %q", resp.Operation))
	}
	return true, nil
}
