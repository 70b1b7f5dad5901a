package rating

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fortressi/coursesaga/cache"
)

// DefaultAggregateTTL is how long cached counters live without a write.
const DefaultAggregateTTL = 10 * time.Minute

// CacheApplyFailure reports that a rating delta could not be applied to
// the cached aggregate. It never reaches the writer of the review.
type CacheApplyFailure struct {
	CourseID int64
	error
}

func (e *CacheApplyFailure) Unwrap() error { return e.error }

func applyFailed(courseID int64, err error) error {
	return &CacheApplyFailure{CourseID: courseID, error: fmt.Errorf("apply rating delta to course %d: %w", courseID, err)}
}

func TotalKey(courseID int64) string   { return fmt.Sprintf("rating:total:%d", courseID) }
func CountKey(courseID int64) string   { return fmt.Sprintf("rating:count:%d", courseID) }
func VersionKey(courseID int64) string { return fmt.Sprintf("rating:version:%d", courseID) }

// counterKeys lists the cached keys of a course. The version comes first
// so that a load writes it before the counters.
func counterKeys(courseID int64) []string {
	return []string{VersionKey(courseID), TotalKey(courseID), CountKey(courseID)}
}

// Summary is the rating aggregate of one course.
type Summary struct {
	CourseID int64   `json:"course_id"`
	Total    int64   `json:"total"`
	Count    int64   `json:"count"`
	Average  float64 `json:"average"`
}

// Average returns total/count, or 0 for a course without ratings.
func Average(total, count int64) float64 {
	if count <= 0 {
		return 0
	}
	return float64(total) / float64(count)
}

// StatsSource computes the aggregate from the system of record.
type StatsSource interface {
	Stats(ctx context.Context, courseID int64) (CourseStats, error)
}

// Aggregate maintains cached rating totals and counts per course.
//
// Reads load the counters from the system of record on a miss, together
// with the course version the load reflects. A write's event carries the
// version the write produced, and Apply skips events at or below the
// loaded version since the load already counted them. Apply only moves
// counters that are loaded, and never extends their ttl.
//
// A load that reads the record before a write commits but stores its
// result after Apply has checked the version can still lose that write's
// delta. Such an error lasts until the counters expire, at most ttl after
// the load.
type Aggregate struct {
	tmpl   *cache.Template
	source StatsSource
	ttl    time.Duration
	logger *zap.Logger
}

func NewAggregate(tmpl *cache.Template, source StatsSource, ttl time.Duration, logger *zap.Logger) *Aggregate {
	if ttl <= 0 {
		ttl = DefaultAggregateTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregate{tmpl: tmpl, source: source, ttl: ttl, logger: logger}
}

// Summary returns the aggregate of a course.
func (a *Aggregate) Summary(ctx context.Context, courseID int64) (Summary, error) {
	values, err := a.tmpl.LoadCounters(ctx, counterKeys(courseID), a.ttl,
		func(ctx context.Context) ([]int64, error) {
			s, err := a.source.Stats(ctx, courseID)
			if err != nil {
				return nil, err
			}
			return []int64{s.Version, s.Total, s.Count}, nil
		})
	if err != nil {
		return Summary{}, err
	}
	total, count := values[1], values[2]
	return Summary{
		CourseID: courseID,
		Total:    total,
		Count:    count,
		Average:  Average(total, count),
	}, nil
}

// Average returns the mean rating of a course.
func (a *Aggregate) Average(ctx context.Context, courseID int64) (float64, error) {
	s, err := a.Summary(ctx, courseID)
	if err != nil {
		return 0, err
	}
	return s.Average, nil
}

// Apply adds the rating delta of the write at version to the cached
// counters of a course. Failures are *CacheApplyFailure.
//
// If the counters are not cached, or were loaded at version or later,
// nothing changes. If only one of the two counters changes, or the
// counters were reloaded while Apply ran, all keys are invalidated so the
// next read rebuilds them; when that works the delta is accounted for and
// Apply succeeds.
func (a *Aggregate) Apply(ctx context.Context, courseID, version, total, count int64) error {
	log := a.logger.With(zap.Int64("course_id", courseID), zap.Int64("version", version))

	loaded, cached, err := a.tmpl.Counter(ctx, VersionKey(courseID))
	if err != nil {
		return applyFailed(courseID, err)
	}
	if !cached {
		log.Debug("rating aggregate not cached, skipping increment")
		return nil
	}
	if version <= loaded {
		log.Debug("rating delta already in loaded aggregate", zap.Int64("loaded_version", loaded))
		return nil
	}

	_, totalPresent, err := a.tmpl.IncrementIfPresent(ctx, TotalKey(courseID), total)
	if err != nil {
		return applyFailed(courseID, err)
	}
	_, countPresent, err := a.tmpl.IncrementIfPresent(ctx, CountKey(courseID), count)
	if err != nil {
		log.Warn("rating count increment failed after total, invalidating aggregate", zap.Error(err))
	} else if totalPresent && countPresent {
		current, stillCached, verr := a.tmpl.Counter(ctx, VersionKey(courseID))
		if verr == nil && stillCached && current == loaded {
			return nil
		}
		log.Debug("rating aggregate reloaded during increment, invalidating")
	}

	if ierr := a.Invalidate(ctx, courseID); ierr != nil {
		if err == nil {
			err = ierr
		}
		return applyFailed(courseID, err)
	}
	return nil
}

// Invalidate drops the cached aggregate of a course so the next read
// rebuilds it from the system of record.
func (a *Aggregate) Invalidate(ctx context.Context, courseID int64) error {
	return a.tmpl.Invalidate(ctx, counterKeys(courseID)...)
}
