package coursesaga

import (
	"context"
	"errors"
	"fmt"
)

// ValidateCourse checks that the course exists and is open for purchase.
// It mutates nothing, so it has nothing to compensate.
type ValidateCourse struct {
	Catalog CourseCatalog
}

var _ Step = (*ValidateCourse)(nil)

func (s *ValidateCourse) Name() StepName         { return StepValidateCourse }
func (s *ValidateCourse) Requires() []Identifier { return nil }
func (s *ValidateCourse) Produces() []Identifier { return nil }
func (s *ValidateCourse) isStep()                {}

func (s *ValidateCourse) Execute(ctx context.Context, sc *SagaContext) (StepResult, error) {
	course, err := s.Catalog.Lookup(ctx, sc.CourseID())
	switch {
	case errors.Is(err, ErrCourseNotFound):
		return Failed("course %d not found", sc.CourseID()), nil
	case errors.Is(err, ErrCourseUnavailable):
		return Failed("course %d unavailable", sc.CourseID()), nil
	case err != nil:
		return StepResult{}, err
	}
	if !course.Available {
		return Failed("course %d unavailable", sc.CourseID()), nil
	}
	return Succeeded(course.ID, "course is available"), nil
}

func (s *ValidateCourse) Compensate(context.Context, *SagaContext) error {
	return nil
}

// CreatePayment charges the user through the payment collaborator and
// records the payment id. Amount and method are read from the context
// extension map under KeyAmount and KeyPaymentMethod.
type CreatePayment struct {
	Payments PaymentService
}

var _ Step = (*CreatePayment)(nil)

func (s *CreatePayment) Name() StepName         { return StepCreatePayment }
func (s *CreatePayment) Requires() []Identifier { return nil }
func (s *CreatePayment) Produces() []Identifier { return []Identifier{IdentifierPayment} }
func (s *CreatePayment) isStep()                {}

func (s *CreatePayment) Execute(ctx context.Context, sc *SagaContext) (StepResult, error) {
	amount, ok := Lookup[int64](sc, KeyAmount)
	if !ok || amount <= 0 {
		return Failed("invalid payment amount"), nil
	}
	method, ok := Lookup[string](sc, KeyPaymentMethod)
	if !ok || method == "" {
		return Failed("payment method missing"), nil
	}

	paymentID, err := s.Payments.Create(ctx, sc.UserID(), amount, method)
	if err != nil {
		return StepResult{}, fmt.Errorf("create payment: %w", err)
	}
	if err := sc.RecordID(IdentifierPayment, paymentID); err != nil {
		return StepResult{}, err
	}
	return Succeeded(paymentID, "payment created"), nil
}

// Compensate voids the recorded payment. Without a payment id there is
// nothing to void.
func (s *CreatePayment) Compensate(ctx context.Context, sc *SagaContext) error {
	paymentID, ok := sc.PaymentID()
	if !ok {
		return nil
	}
	return s.Payments.Delete(ctx, paymentID)
}

// CreateEnrollment enrolls the user, referencing the payment made by an
// earlier step.
type CreateEnrollment struct {
	Enrollments EnrollmentService
}

var _ Step = (*CreateEnrollment)(nil)

func (s *CreateEnrollment) Name() StepName         { return StepCreateEnrollment }
func (s *CreateEnrollment) Requires() []Identifier { return []Identifier{IdentifierPayment} }
func (s *CreateEnrollment) Produces() []Identifier { return []Identifier{IdentifierEnrollment} }
func (s *CreateEnrollment) isStep()                {}

func (s *CreateEnrollment) Execute(ctx context.Context, sc *SagaContext) (StepResult, error) {
	paymentID, ok := sc.PaymentID()
	if !ok {
		return StepResult{}, ErrMissingPaymentID
	}

	enrollmentID, err := s.Enrollments.Create(ctx, sc.UserID(), sc.CourseID(), paymentID)
	if err != nil {
		return StepResult{}, fmt.Errorf("create enrollment: %w", err)
	}
	if err := sc.RecordID(IdentifierEnrollment, enrollmentID); err != nil {
		return StepResult{}, err
	}
	return Succeeded(enrollmentID, "enrollment created"), nil
}

func (s *CreateEnrollment) Compensate(ctx context.Context, sc *SagaContext) error {
	enrollmentID, ok := sc.EnrollmentID()
	if !ok {
		return nil
	}
	return s.Enrollments.Delete(ctx, enrollmentID)
}

// AdjustCapacity takes Unit seats from the course.
//
// The collaborator call is not idempotent against its own partial failure;
// its internal consistency is the collaborator's responsibility.
type AdjustCapacity struct {
	Capacity CapacityService
	Unit     int
}

var _ Step = (*AdjustCapacity)(nil)

func (s *AdjustCapacity) Name() StepName         { return StepAdjustCapacity }
func (s *AdjustCapacity) Requires() []Identifier { return nil }
func (s *AdjustCapacity) Produces() []Identifier { return nil }
func (s *AdjustCapacity) isStep()                {}

func (s *AdjustCapacity) unit() int {
	if s.Unit <= 0 {
		return 1
	}
	return s.Unit
}

func (s *AdjustCapacity) Execute(ctx context.Context, sc *SagaContext) (StepResult, error) {
	ok, err := s.Capacity.Adjust(ctx, sc.CourseID(), -s.unit())
	if err != nil {
		return StepResult{}, fmt.Errorf("adjust capacity: %w", err)
	}
	if !ok {
		return Failed("could not update capacity of course %d", sc.CourseID()), nil
	}
	return Succeeded(-s.unit(), "capacity decremented"), nil
}

// Compensate gives the seats back.
func (s *AdjustCapacity) Compensate(ctx context.Context, sc *SagaContext) error {
	ok, err := s.Capacity.Adjust(ctx, sc.CourseID(), s.unit())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("could not restore capacity of course %d", sc.CourseID())
	}
	return nil
}
