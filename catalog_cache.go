package coursesaga

import (
	"context"
	"fmt"
	"time"

	"github.com/fortressi/coursesaga/cache"
)

// CachedCatalog is a read-through cache in front of a CourseCatalog.
// Only available courses are kept. Lookups that fail, including unknown
// courses, and courses that are not open for purchase go to the catalog
// every time, so a course that reopens is sold right away.
type CachedCatalog struct {
	next CourseCatalog
	tmpl *cache.Template
	ttl  time.Duration
}

var _ CourseCatalog = (*CachedCatalog)(nil)

func NewCachedCatalog(next CourseCatalog, tmpl *cache.Template, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{next: next, tmpl: tmpl, ttl: ttl}
}

func (c *CachedCatalog) Lookup(ctx context.Context, courseID int64) (Course, error) {
	course, err := cache.GetOrLoad(ctx, c.tmpl, courseKey(courseID), c.ttl, func(ctx context.Context) (Course, error) {
		return c.next.Lookup(ctx, courseID)
	})
	if err != nil {
		return Course{}, err
	}
	if !course.Available {
		// a failed delete leaves the entry until ttl
		_ = c.tmpl.Invalidate(ctx, courseKey(courseID))
	}
	return course, nil
}

// Forget drops a course from the cache, e.g. after it changed.
func (c *CachedCatalog) Forget(ctx context.Context, courseID int64) error {
	return c.tmpl.Invalidate(ctx, courseKey(courseID))
}

func courseKey(courseID int64) string {
	return fmt.Sprintf("course:%d", courseID)
}
