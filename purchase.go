package coursesaga

import (
	"context"
	"fmt"
)

// PurchasePlanName names the plan built by NewPurchasePlan.
const PurchasePlanName = "purchase"

// PurchaseDeps are the collaborators of the purchase saga.
type PurchaseDeps struct {
	Catalog     CourseCatalog
	Payments    PaymentService
	Enrollments EnrollmentService
	Capacity    CapacityService
	// CapacityUnit is the number of seats taken per purchase. Zero means 1.
	CapacityUnit int
}

// Register adds the four purchase steps, bound to deps, to r.
func (deps PurchaseDeps) Register(r *StepRegistry) error {
	return r.Register(
		&ValidateCourse{Catalog: deps.Catalog},
		&CreatePayment{Payments: deps.Payments},
		&CreateEnrollment{Enrollments: deps.Enrollments},
		&AdjustCapacity{Capacity: deps.Capacity, Unit: deps.CapacityUnit},
	)
}

// NewPurchasePlan builds validate, charge, enroll, adjust capacity.
func NewPurchasePlan(r *StepRegistry) (*Plan, error) {
	return r.Plan(PurchasePlanName,
		StepValidateCourse,
		StepCreatePayment,
		StepCreateEnrollment,
		StepAdjustCapacity,
	)
}

// PurchaseResult is what a successful purchase returns.
type PurchaseResult struct {
	SagaID       string
	PaymentID    int64
	EnrollmentID int64
	Status       SagaStatus
}

// SagaFailure is returned by RunPurchaseSaga when the saga did not
// confirm. Compensation has already run when it is returned.
type SagaFailure struct {
	SagaID     string
	Status     SagaStatus
	FailedStep StepName
	// Cause is the *ValidationFailure or *StepExecutionFailure that ended
	// the saga.
	Cause error
	// Warning aggregates compensation failures. When set, the saga left
	// side effects behind that need manual reconciliation.
	Warning error
}

func (e *SagaFailure) Error() string {
	msg := fmt.Sprintf("saga %s %s: %v", e.SagaID, e.Status, e.Cause)
	if e.Warning != nil {
		msg += fmt.Sprintf(" (compensation incomplete: %v)", e.Warning)
	}
	return msg
}

func (e *SagaFailure) Unwrap() error { return e.Cause }

// PurchaseSaga runs course purchases.
type PurchaseSaga struct {
	coordinator *Coordinator
	plan        *Plan
}

// NewPurchaseSaga wires the purchase plan to deps.
func NewPurchaseSaga(deps PurchaseDeps, opts ...CoordinatorOption) (*PurchaseSaga, error) {
	registry := NewStepRegistry()
	if err := deps.Register(registry); err != nil {
		return nil, err
	}
	plan, err := NewPurchasePlan(registry)
	if err != nil {
		return nil, err
	}
	return &PurchaseSaga{coordinator: NewCoordinator(opts...), plan: plan}, nil
}

// Plan returns the plan the saga runs.
func (p *PurchaseSaga) Plan() *Plan {
	return p.plan
}

// RunPurchaseSaga charges userID amount (in minor currency units) with
// method and enrolls them in courseID. Either every step commits and the
// result carries the new payment and enrollment ids, or the completed
// steps are compensated and a *SagaFailure is returned.
func (p *PurchaseSaga) RunPurchaseSaga(ctx context.Context, userID, courseID, amount int64, method string) (PurchaseResult, error) {
	sc := NewSagaContext(userID, courseID)
	if err := sc.Put(KeyAmount, amount); err != nil {
		return PurchaseResult{}, err
	}
	if err := sc.Put(KeyPaymentMethod, method); err != nil {
		return PurchaseResult{}, err
	}

	outcome := p.coordinator.Run(ctx, p.plan, sc)
	result := PurchaseResult{SagaID: outcome.SagaID, Status: outcome.Status}
	if !outcome.Succeeded() {
		return result, &SagaFailure{
			SagaID:     outcome.SagaID,
			Status:     outcome.Status,
			FailedStep: outcome.FailedStep,
			Cause:      outcome.Err,
			Warning:    outcome.CompensationErr,
		}
	}
	result.PaymentID, _ = sc.PaymentID()
	result.EnrollmentID, _ = sc.EnrollmentID()
	return result, nil
}
