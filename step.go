package coursesaga

import (
	"context"
	"fmt"
)

// StepName identifies a step in logs, journals and plans.
type StepName string

const (
	StepValidateCourse   StepName = "validate_course"
	StepCreatePayment    StepName = "create_payment"
	StepCreateEnrollment StepName = "create_enrollment"
	StepAdjustCapacity   StepName = "adjust_capacity"
)

// Identifier names an id produced by one step and consumed by later ones.
type Identifier string

const (
	IdentifierPayment    Identifier = "payment_id"
	IdentifierEnrollment Identifier = "enrollment_id"
)

// StepResult represents the outcome of a step's forward action.
type StepResult struct {
	Success bool
	Message string
	// Value is the artifact the step produced, if any (e.g. a payment id).
	Value any
}

// Succeeded builds a successful StepResult.
func Succeeded(value any, message string) StepResult {
	return StepResult{Success: true, Message: message, Value: value}
}

// Failed builds a failed StepResult.
func Failed(format string, args ...any) StepResult {
	return StepResult{Success: false, Message: fmt.Sprintf(format, args...)}
}

// Step is a unit of forward work with a paired undo action.
//
// The set of steps is closed: ValidateCourse, CreatePayment,
// CreateEnrollment and AdjustCapacity are the only implementations, and the
// coordinator handles each of them explicitly when classifying failures.
// Steps hold references to their collaborators only; everything that varies
// per purchase travels in the SagaContext.
type Step interface {
	Name() StepName
	// Execute performs the forward action. A returned error and a result
	// with Success=false are both treated as a step failure.
	Execute(ctx context.Context, sc *SagaContext) (StepResult, error)
	// Compensate undoes Execute. It must be a no-op when Execute never
	// produced an artifact. Errors are logged by the coordinator, never
	// propagated.
	Compensate(ctx context.Context, sc *SagaContext) error
	// Requires lists identifiers that must be written by an earlier step.
	Requires() []Identifier
	// Produces lists identifiers this step writes into the context.
	Produces() []Identifier

	isStep()
}
