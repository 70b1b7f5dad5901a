package coursesaga

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// StepRegistry holds the steps available to build plans, keyed by name.
// Steps are stateless beyond their collaborators, so one registered
// instance serves every saga.
type StepRegistry struct {
	steps *xsync.MapOf[StepName, Step]
}

// NewStepRegistry creates an empty StepRegistry.
func NewStepRegistry() *StepRegistry {
	return &StepRegistry{
		steps: xsync.NewMapOf[StepName, Step](),
	}
}

// Register adds steps to the registry. Names must be unique.
func (r *StepRegistry) Register(steps ...Step) error {
	for _, step := range steps {
		if step == nil {
			return fmt.Errorf("cannot register nil step")
		}
		if _, loaded := r.steps.LoadOrStore(step.Name(), step); loaded {
			return fmt.Errorf("step with name '%s' already registered", step.Name())
		}
	}
	return nil
}

// Get retrieves a step by name.
func (r *StepRegistry) Get(name StepName) (Step, error) {
	step, ok := r.steps.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, name)
	}
	return step, nil
}

// Plan resolves names through the registry and builds a validated plan.
func (r *StepRegistry) Plan(planName string, names ...StepName) (*Plan, error) {
	steps := make([]Step, 0, len(names))
	for _, name := range names {
		step, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return NewPlan(planName, steps...)
}
