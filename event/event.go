// Package event defines the domain events exchanged over the bus and a
// fire-and-forget publisher for them.
package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Type identifies the kind of event carried by an Envelope.
type Type string

const (
	RatingCreated Type = "rating.created"
	RatingUpdated Type = "rating.updated"
	RatingDeleted Type = "rating.deleted"
	// RatingApplyResponse reports whether a rating event reached the
	// aggregate.
	RatingApplyResponse Type = "rating.apply_response"
)

const (
	TopicRatings         = "course.ratings"
	TopicRatingResponses = "course.ratings.responses"
)

// Envelope is the immutable wire form of every event.
type Envelope struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	SubjectID  int64           `json:"subject_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Key is the partition key: all events of one subject share it.
func (e Envelope) Key() string {
	return strconv.FormatInt(e.SubjectID, 10)
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload of event %s: %w", e.Type, e.ID, err)
	}
	return nil
}

// Marshal encodes the envelope for the transport.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal decodes an envelope received from the transport.
func Unmarshal(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if e.ID == "" || e.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing id or type")
	}
	return e, nil
}

// RatingChanged is the payload of RatingCreated, RatingUpdated and
// RatingDeleted. OldRating is zero for creations, NewRating for deletions.
// Version is the course's rating version right after the write.
type RatingChanged struct {
	ReviewID  int64 `json:"review_id"`
	CourseID  int64 `json:"course_id"`
	UserID    int64 `json:"user_id"`
	OldRating int   `json:"old_rating,omitempty"`
	NewRating int   `json:"new_rating,omitempty"`
	Version   int64 `json:"version,omitempty"`
}

// Delta returns the change the event makes to a course's rating total and
// rating count.
func (r RatingChanged) Delta(t Type) (total, count int64, err error) {
	switch t {
	case RatingCreated:
		return int64(r.NewRating), 1, nil
	case RatingUpdated:
		return int64(r.NewRating - r.OldRating), 0, nil
	case RatingDeleted:
		return -int64(r.OldRating), -1, nil
	default:
		return 0, 0, fmt.Errorf("event type %s carries no rating delta", t)
	}
}

// ApplyResponse reports the fate of one rating event. On failure the
// origin reverts the write described by Operation and the rating fields.
type ApplyResponse struct {
	EventID   string `json:"event_id"`
	Success   bool   `json:"success"`
	Operation Type   `json:"operation"`
	RatingChanged
	Reason string `json:"reason,omitempty"`
}
