package coursesaga

import (
	"fmt"

	"github.com/fortressi/coursesaga/dag"
	"github.com/fortressi/coursesaga/set"
)

// Plan is an ordered, validated list of steps.
//
// Building a plan checks that every identifier a step requires is produced
// by a step earlier in the list, and that no identifier is produced twice.
// CreateEnrollment still checks at runtime; the plan check catches a
// misordered list before any collaborator is called.
type Plan struct {
	name  string
	steps []Step
	graph *dag.Graph
}

// NewPlan validates steps and builds a plan.
func NewPlan(name string, steps ...Step) (*Plan, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("plan %q has no steps", name)
	}

	g := dag.New()
	names := set.Of[StepName]()
	producers := make(map[Identifier]StepName)

	for _, step := range steps {
		if step == nil {
			return nil, fmt.Errorf("plan %q contains a nil step", name)
		}
		if !names.Insert(step.Name()) {
			return nil, fmt.Errorf("plan %q: step '%s' appears twice", name, step.Name())
		}
		if _, err := g.AddNamed(string(step.Name()), string(step.Name())); err != nil {
			return nil, err
		}

		for _, id := range step.Requires() {
			producer, ok := producers[id]
			if !ok {
				return nil, fmt.Errorf("plan %q: step '%s' requires %s but no earlier step produces it", name, step.Name(), id)
			}
			if err := g.Link(string(producer), string(step.Name()), string(id)); err != nil {
				return nil, err
			}
		}
		for _, id := range step.Produces() {
			if prev, ok := producers[id]; ok {
				return nil, fmt.Errorf("plan %q: %s produced by both '%s' and '%s'", name, id, prev, step.Name())
			}
			producers[id] = step.Name()
		}
	}

	if _, err := g.Order(); err != nil {
		return nil, err
	}

	return &Plan{
		name:  name,
		steps: append([]Step(nil), steps...),
		graph: g,
	}, nil
}

func (p *Plan) Name() string {
	return p.name
}

// Steps returns the steps in execution order.
func (p *Plan) Steps() []Step {
	return append([]Step(nil), p.steps...)
}

func (p *Plan) Len() int {
	return len(p.steps)
}

// DependsOn lists the steps whose identifiers the named step reads.
func (p *Plan) DependsOn(name StepName) []StepName {
	preds := p.graph.Predecessors(string(name))
	out := make([]StepName, len(preds))
	for i, pred := range preds {
		out[i] = StepName(pred)
	}
	return out
}

// DOT renders the data dependencies of the plan in Graphviz format.
func (p *Plan) DOT() (string, error) {
	return p.graph.ExportToDot(p.name)
}
