// Package rating keeps course reviews and the cached rating average
// derived from them.
//
// Reviews live in a Repository, the system of record. Every committed
// write publishes an event; the Consumer folds those events into cached
// per-course counters, and when it cannot, the Compensator reverts the
// write so the record and the aggregate agree again.
package rating

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

var ErrReviewNotFound = errors.New("review not found")

// Review is one user's rating of a course.
type Review struct {
	ID        int64     `json:"id"`
	CourseID  int64     `json:"course_id"`
	UserID    int64     `json:"user_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// Version is the course rating version produced by the write that
	// returned this review.
	Version int64 `json:"version,omitempty"`
}

// CourseStats is the rating total and count of a course together with the
// course version they reflect.
type CourseStats struct {
	Total   int64
	Count   int64
	Version int64
}

// Repository is the system of record for reviews.
//
// Every write that changes a course's ratings advances that course's
// version by one. Create, UpdateRating and Delete return it in
// Review.Version, and Stats reports the version its totals include.
type Repository interface {
	Create(ctx context.Context, r Review) (Review, error)
	Get(ctx context.Context, id int64) (Review, error)
	// UpdateRating sets the rating and returns the previous review.
	UpdateRating(ctx context.Context, id int64, rating int) (Review, error)
	// CompareAndSetRating sets the rating only if it currently equals
	// expected, and reports whether it did.
	CompareAndSetRating(ctx context.Context, id int64, expected, rating int) (bool, error)
	// Delete removes the review and returns it.
	Delete(ctx context.Context, id int64) (Review, error)
	// Restore puts back a deleted review under its original id. It
	// reports false if a review with that id already exists.
	Restore(ctx context.Context, r Review) (bool, error)
	Stats(ctx context.Context, courseID int64) (CourseStats, error)
}

// MemoryRepository is an in-memory Repository. Writes and Stats are
// serialized so that a version always matches the totals next to it;
// Get does not lock.
type MemoryRepository struct {
	mu       sync.Mutex
	reviews  *xsync.MapOf[int64, Review]
	versions map[int64]int64
	seq      atomic.Int64
	now      func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		reviews:  xsync.NewMapOf[int64, Review](),
		versions: make(map[int64]int64),
		now:      time.Now,
	}
}

// advance bumps the version of a course. m.mu must be held.
func (m *MemoryRepository) advance(courseID int64) int64 {
	m.versions[courseID]++
	return m.versions[courseID]
}

func (m *MemoryRepository) Create(_ context.Context, r Review) (Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.ID = m.seq.Add(1)
	r.CreatedAt = m.now().UTC()
	r.UpdatedAt = r.CreatedAt
	r.Version = 0
	m.reviews.Store(r.ID, r)
	r.Version = m.advance(r.CourseID)
	return r, nil
}

func (m *MemoryRepository) Get(_ context.Context, id int64) (Review, error) {
	r, ok := m.reviews.Load(id)
	if !ok {
		return Review{}, fmt.Errorf("review %d: %w", id, ErrReviewNotFound)
	}
	return r, nil
}

func (m *MemoryRepository) UpdateRating(_ context.Context, id int64, rating int) (Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.reviews.Load(id)
	if !ok {
		return Review{}, fmt.Errorf("review %d: %w", id, ErrReviewNotFound)
	}
	if prev.Rating == rating {
		prev.Version = m.versions[prev.CourseID]
		return prev, nil
	}
	updated := prev
	updated.Rating = rating
	updated.UpdatedAt = m.now().UTC()
	m.reviews.Store(id, updated)
	prev.Version = m.advance(prev.CourseID)
	return prev, nil
}

func (m *MemoryRepository) CompareAndSetRating(_ context.Context, id int64, expected, rating int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reviews.Load(id)
	if !ok {
		return false, fmt.Errorf("review %d: %w", id, ErrReviewNotFound)
	}
	if r.Rating != expected {
		return false, nil
	}
	if r.Rating != rating {
		r.Rating = rating
		r.UpdatedAt = m.now().UTC()
		m.reviews.Store(id, r)
		m.advance(r.CourseID)
	}
	return true, nil
}

func (m *MemoryRepository) Delete(_ context.Context, id int64) (Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reviews.LoadAndDelete(id)
	if !ok {
		return Review{}, fmt.Errorf("review %d: %w", id, ErrReviewNotFound)
	}
	r.Version = m.advance(r.CourseID)
	return r, nil
}

func (m *MemoryRepository) Restore(_ context.Context, r Review) (bool, error) {
	if r.ID <= 0 {
		return false, fmt.Errorf("restore review: invalid id %d", r.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r.UpdatedAt = m.now().UTC()
	r.Version = 0
	if _, loaded := m.reviews.LoadOrStore(r.ID, r); loaded {
		return false, nil
	}
	m.advance(r.CourseID)
	return true, nil
}

func (m *MemoryRepository) Stats(_ context.Context, courseID int64) (CourseStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := CourseStats{Version: m.versions[courseID]}
	m.reviews.Range(func(_ int64, r Review) bool {
		if r.CourseID == courseID {
			s.Total += int64(r.Rating)
			s.Count++
		}
		return true
	})
	return s, nil
}
