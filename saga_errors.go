package coursesaga

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingPaymentID is returned by CreateEnrollment when no earlier
	// step recorded a payment id.
	ErrMissingPaymentID = errors.New("payment id missing from saga context")
	// ErrContextSealed is returned when writing to a context under compensation.
	ErrContextSealed = errors.New("saga context is read-only during compensation")
	// ErrStepPanicked wraps a recovered panic from a step.
	ErrStepPanicked = errors.New("step panicked")
	// ErrUnknownStep is returned by the registry for unregistered names.
	ErrUnknownStep = errors.New("step not registered")
)

// IdentifierError reports an attempt to overwrite an identifier.
type IdentifierError struct {
	Identifier Identifier
}

func (e *IdentifierError) Error() string {
	return fmt.Sprintf("identifier %s already written", e.Identifier)
}

// IdentifierWritten builds an IdentifierError.
func IdentifierWritten(name Identifier) error {
	return &IdentifierError{Identifier: name}
}

// ValidationFailure reports a precondition that was not met. No
// compensation is needed for it beyond the steps already completed.
type ValidationFailure struct {
	Step StepName
	error
}

func (e *ValidationFailure) Unwrap() error { return e.error }

// ValidationFailed wraps cause in a ValidationFailure.
func ValidationFailed(step StepName, cause error) error {
	return &ValidationFailure{Step: step, error: fmt.Errorf("validation failed at %s: %w", step, cause)}
}

// StepExecutionFailure reports a failed forward action; it triggers
// compensation of every step that already succeeded.
type StepExecutionFailure struct {
	Step StepName
	error
}

func (e *StepExecutionFailure) Unwrap() error { return e.error }

// StepFailed wraps cause in a StepExecutionFailure.
func StepFailed(step StepName, cause error) error {
	return &StepExecutionFailure{Step: step, error: fmt.Errorf("step %s failed: %w", step, cause)}
}

// CompensationFailure reports a failed rollback. It is logged and surfaced
// as a warning only; the affected saga needs manual reconciliation.
type CompensationFailure struct {
	Step StepName
	error
}

func (e *CompensationFailure) Unwrap() error { return e.error }

// CompensationFailed wraps cause in a CompensationFailure.
func CompensationFailed(step StepName, cause error) error {
	return &CompensationFailure{Step: step, error: fmt.Errorf("compensation of %s failed: %w", step, cause)}
}

// resultError turns a failed StepResult into an error.
func resultError(result StepResult) error {
	if result.Message == "" {
		return errors.New("step reported failure")
	}
	return errors.New(result.Message)
}
