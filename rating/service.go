package rating

import (
	"context"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/fortressi/coursesaga/event"
)

const (
	MinRating = 1
	MaxRating = 5
)

// NewReview is the input of Service.Create.
type NewReview struct {
	CourseID int64
	UserID   int64
	Rating   int
	Comment  string
}

func (n NewReview) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.CourseID, validation.Required, validation.Min(int64(1))),
		validation.Field(&n.UserID, validation.Required, validation.Min(int64(1))),
		validation.Field(&n.Rating, validation.Required, validation.Min(MinRating), validation.Max(MaxRating)),
		validation.Field(&n.Comment, validation.Length(0, 2000)),
	)
}

func validateRating(rating int) error {
	return validation.Validate(rating, validation.Required, validation.Min(MinRating), validation.Max(MaxRating))
}

// EventPublisher is the part of event.Publisher the service needs.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, t event.Type, subjectID int64, payload any) string
}

// Service is the write side of reviews. Each method commits to the
// repository first and then publishes the matching event; the caller never
// waits for the aggregate to catch up.
type Service struct {
	repo      Repository
	publisher EventPublisher
	logger    *zap.Logger
}

func NewService(repo Repository, publisher EventPublisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, publisher: publisher, logger: logger}
}

func (s *Service) Create(ctx context.Context, in NewReview) (Review, error) {
	if err := in.Validate(); err != nil {
		return Review{}, fmt.Errorf("invalid review: %w", err)
	}
	r, err := s.repo.Create(ctx, Review{
		CourseID: in.CourseID,
		UserID:   in.UserID,
		Rating:   in.Rating,
		Comment:  in.Comment,
	})
	if err != nil {
		return Review{}, fmt.Errorf("create review: %w", err)
	}
	s.publish(ctx, event.RatingCreated, event.RatingChanged{
		ReviewID:  r.ID,
		CourseID:  r.CourseID,
		UserID:    r.UserID,
		NewRating: r.Rating,
		Version:   r.Version,
	})
	return r, nil
}

func (s *Service) UpdateRating(ctx context.Context, reviewID int64, rating int) (Review, error) {
	if err := validateRating(rating); err != nil {
		return Review{}, fmt.Errorf("invalid rating: %w", err)
	}
	prev, err := s.repo.UpdateRating(ctx, reviewID, rating)
	if err != nil {
		return Review{}, fmt.Errorf("update review: %w", err)
	}
	if prev.Rating != rating {
		s.publish(ctx, event.RatingUpdated, event.RatingChanged{
			ReviewID:  prev.ID,
			CourseID:  prev.CourseID,
			UserID:    prev.UserID,
			OldRating: prev.Rating,
			NewRating: rating,
			Version:   prev.Version,
		})
	}
	updated := prev
	updated.Rating = rating
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, reviewID int64) error {
	r, err := s.repo.Delete(ctx, reviewID)
	if err != nil {
		return fmt.Errorf("delete review: %w", err)
	}
	s.publish(ctx, event.RatingDeleted, event.RatingChanged{
		ReviewID:  r.ID,
		CourseID:  r.CourseID,
		UserID:    r.UserID,
		OldRating: r.Rating,
		Version:   r.Version,
	})
	return nil
}

func (s *Service) publish(ctx context.Context, t event.Type, payload event.RatingChanged) {
	id := s.publisher.Publish(ctx, event.TopicRatings, t, payload.CourseID, payload)
	s.logger.Debug("review written",
		zap.String("event_type", string(t)),
		zap.String("event_id", id),
		zap.Int64("review_id", payload.ReviewID),
		zap.Int64("course_id", payload.CourseID),
	)
}
