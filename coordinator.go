package coursesaga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// SagaStatus is the terminal (or current) state of a saga.
type SagaStatus string

const (
	SagaRunning            SagaStatus = "RUNNING"
	SagaConfirmed          SagaStatus = "CONFIRMED"
	SagaCompensated        SagaStatus = "COMPENSATED"
	SagaCompensationFailed SagaStatus = "COMPENSATION_FAILED"
)

// Outcome describes how a saga ended.
type Outcome struct {
	SagaID string
	Status SagaStatus
	// FailedStep is the step whose forward action failed, if any.
	FailedStep StepName
	// Err is the original failure: a *ValidationFailure or a
	// *StepExecutionFailure. Nil when Status is SagaConfirmed.
	Err error
	// Compensated lists the steps undone, in the order they were undone.
	Compensated []StepName
	// CompensationErr aggregates every *CompensationFailure. It is a
	// warning for operators and is never the saga's error.
	CompensationErr error
	Events          []StepEvent
	Duration        time.Duration
}

// Succeeded reports whether every step committed.
func (o Outcome) Succeeded() bool {
	return o.Status == SagaConfirmed
}

// Coordinator runs plans step by step and compensates on failure.
//
// A Coordinator holds no per-saga state and may run many sagas
// concurrently, each with its own SagaContext.
type Coordinator struct {
	logger  *zap.Logger
	journal Journal
	metrics *Metrics
	now     func() time.Time
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJournal records every saga transition in j.
func WithJournal(j Journal) CoordinatorOption {
	return func(c *Coordinator) { c.journal = j }
}

// WithMetrics records saga counters in m.
func WithMetrics(m *Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// NewCoordinator builds a Coordinator.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes the plan's steps in order against sc.
//
// On the first failure every step that already succeeded is compensated
// exactly once, in reverse order, and the original failure is returned in
// Outcome.Err. Compensation failures are logged and collected in
// Outcome.CompensationErr; they never trigger a second rollback pass.
// Once started a saga runs to one of its terminal states: cancellation of
// ctx is visible to the steps but compensation always runs to the end.
func (c *Coordinator) Run(ctx context.Context, plan *Plan, sc *SagaContext) Outcome {
	start := c.now()
	log := c.logger.With(
		zap.String("saga_id", sc.SagaID()),
		zap.String("plan", plan.Name()),
		zap.Int64("user_id", sc.UserID()),
		zap.Int64("course_id", sc.CourseID()),
	)
	run := &sagaRun{
		coordinator: c,
		log:         log,
		plan:        plan,
		sc:          sc,
		sagaLog:     NewSagaLog(sc.SagaID()),
		entry: JournalEntry{
			SagaID:    sc.SagaID(),
			SagaName:  plan.Name(),
			Status:    SagaRunning,
			UserID:    sc.UserID(),
			CourseID:  sc.CourseID(),
			CreatedAt: start,
		},
	}

	c.metrics.sagaStarted()
	log.Info("saga started", zap.Int("steps", plan.Len()))
	run.persist(ctx)

	outcome := run.forward(ctx)
	outcome.SagaID = sc.SagaID()
	outcome.Events = run.sagaLog.Events()
	outcome.Duration = c.now().Sub(start)

	run.entry.Status = outcome.Status
	if outcome.Err != nil {
		run.entry.Failure = outcome.Err.Error()
	}
	run.persist(context.WithoutCancel(ctx))
	c.metrics.sagaFinished(outcome.Status, outcome.Duration)

	fields := []zap.Field{
		zap.String("status", string(outcome.Status)),
		zap.Duration("duration", outcome.Duration),
	}
	switch outcome.Status {
	case SagaConfirmed:
		log.Info("saga confirmed", fields...)
	case SagaCompensated:
		log.Info("saga compensated", append(fields, zap.Error(outcome.Err))...)
	default:
		log.Warn("saga finished with failed compensation",
			append(fields, zap.Error(outcome.Err), zap.Bool("manual_reconciliation", true))...)
	}
	return outcome
}

// sagaRun is the state of one Run call.
type sagaRun struct {
	coordinator *Coordinator
	log         *zap.Logger
	plan        *Plan
	sc          *SagaContext
	sagaLog     *SagaLog
	entry       JournalEntry
}

func (r *sagaRun) forward(ctx context.Context) Outcome {
	var completed []Step
	for _, step := range r.plan.Steps() {
		log := r.log.With(zap.String("step", string(step.Name())))
		r.record(step.Name(), EventStarted, nil)

		result, err := executeStep(ctx, step, r.sc)
		if err == nil && !result.Success {
			err = resultError(result)
		}
		if err != nil {
			failure := classify(step, err)
			r.record(step.Name(), EventFailed, failure)
			log.Error("saga step failed", zap.Error(err), zap.Int("completed_steps", len(completed)))

			undone, compErr := r.compensate(ctx, completed)
			status := SagaCompensated
			if compErr != nil {
				status = SagaCompensationFailed
			}
			return Outcome{
				Status:          status,
				FailedStep:      step.Name(),
				Err:             failure,
				Compensated:     undone,
				CompensationErr: compErr,
			}
		}

		r.record(step.Name(), EventSucceeded, nil)
		completed = append(completed, step)
		log.Debug("saga step succeeded", zap.String("message", result.Message))
	}
	return Outcome{Status: SagaConfirmed}
}

// compensate undoes completed in reverse order. The context is sealed for
// the duration and stays sealed afterwards.
func (r *sagaRun) compensate(ctx context.Context, completed []Step) ([]StepName, error) {
	r.sc.seal()
	ctx = context.WithoutCancel(ctx)

	var (
		undone []StepName
		merr   *multierror.Error
	)
	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		log := r.log.With(zap.String("step", string(step.Name())))

		if err := r.sagaLog.Record(step.Name(), EventUndoStarted, nil); err != nil {
			log.Error("refusing to compensate step", zap.Error(err))
			continue
		}
		err := compensateStep(ctx, step, r.sc)
		r.coordinator.metrics.compensated(step.Name(), err)
		if err != nil {
			failure := CompensationFailed(step.Name(), err)
			r.record(step.Name(), EventUndoFailed, failure)
			r.entry.CompensationErrors = append(r.entry.CompensationErrors, failure.Error())
			log.Warn("saga compensation failed",
				zap.Error(err),
				zap.Any("identifiers", r.sc.Identifiers()),
				zap.Bool("manual_reconciliation", true),
			)
			merr = multierror.Append(merr, failure)
			continue
		}
		r.record(step.Name(), EventUndoFinished, nil)
		undone = append(undone, step.Name())
		log.Info("saga step compensated")
	}
	return undone, merr.ErrorOrNil()
}

// record appends to the saga log and journals the new state. The
// transitions made by forward and compensate are always legal, so a log
// error here is a bug and is only logged.
func (r *sagaRun) record(step StepName, eventType StepEventType, cause error) {
	if err := r.sagaLog.Record(step, eventType, cause); err != nil {
		r.log.Error("saga log rejected event", zap.Error(err))
		return
	}
	r.persist(context.Background())
}

func (r *sagaRun) persist(ctx context.Context) {
	j := r.coordinator.journal
	if j == nil {
		return
	}
	r.entry.Identifiers = r.sc.Identifiers()
	r.entry.Steps = r.entry.Steps[:0]
	for _, step := range r.plan.Steps() {
		r.entry.Steps = append(r.entry.Steps, StepRecord{
			Name:   step.Name(),
			Status: r.sagaLog.Status(step.Name()).String(),
		})
	}
	if err := j.Save(ctx, r.entry); err != nil {
		r.log.Error("failed to journal saga state", zap.Error(err))
	}
}

// classify maps a step failure onto the error taxonomy. Validation steps
// perform no mutation, so their failures are ValidationFailures; any other
// step's failure is a StepExecutionFailure.
func classify(step Step, err error) error {
	switch s := step.(type) {
	case *ValidateCourse:
		return ValidationFailed(s.Name(), err)
	case *CreatePayment:
		return StepFailed(s.Name(), err)
	case *CreateEnrollment:
		return StepFailed(s.Name(), err)
	case *AdjustCapacity:
		return StepFailed(s.Name(), err)
	default:
		return StepFailed(step.Name(), fmt.Errorf("%w: %T: %w", ErrUnknownStep, step, err))
	}
}

func executeStep(ctx context.Context, step Step, sc *SagaContext) (result StepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = StepResult{}, fmt.Errorf("%w: %v", ErrStepPanicked, r)
		}
	}()
	return step.Execute(ctx, sc)
}

func compensateStep(ctx context.Context, step Step, sc *SagaContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrStepPanicked, r)
		}
	}()
	return step.Compensate(ctx, sc)
}

// IsValidationFailure reports whether err is or wraps a ValidationFailure.
func IsValidationFailure(err error) bool {
	var v *ValidationFailure
	return errors.As(err, &v)
}
