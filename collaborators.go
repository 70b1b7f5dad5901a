package coursesaga

import (
	"context"
	"errors"
)

var (
	ErrCourseNotFound    = errors.New("course not found")
	ErrCourseUnavailable = errors.New("course unavailable")
)

// Course is the slice of the course record the purchase saga cares about.
type Course struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Available bool   `json:"available"`
}

// CourseCatalog looks up courses. Implementations return ErrCourseNotFound
// for unknown ids.
type CourseCatalog interface {
	Lookup(ctx context.Context, courseID int64) (Course, error)
}

// PaymentService is the payment collaborator. Create records a payment in a
// pending state and returns its id.
type PaymentService interface {
	Create(ctx context.Context, userID, amount int64, method string) (int64, error)
	Delete(ctx context.Context, paymentID int64) error
}

// EnrollmentService is the enrollment collaborator.
type EnrollmentService interface {
	Create(ctx context.Context, userID, courseID, paymentID int64) (int64, error)
	Delete(ctx context.Context, enrollmentID int64) error
}

// CapacityService adjusts the remaining seats of a course. A false result
// without error means the owner could not apply the change.
type CapacityService interface {
	Adjust(ctx context.Context, courseID int64, delta int) (bool, error)
}
