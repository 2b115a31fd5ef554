package durablesaga

import (
	"fmt"
	"slices"

	"github.com/fortressi/durablesaga/dag"
	"github.com/fortressi/durablesaga/set"
)

// PlanBuilder assembles a Plan step by step.
type PlanBuilder[I any] struct {
	name      SagaName
	steps     []Step[I]
	stepNames *set.Set[StepName]
	options   ActivityOptions
}

// NewPlanBuilder creates a builder for a saga called name.
func NewPlanBuilder[I any](name SagaName) *PlanBuilder[I] {
	return &PlanBuilder[I]{
		name:      name,
		stepNames: set.New[StepName](),
	}
}

// WithDefaultOptions sets the activity options used by steps that do not
// override them.
func (b *PlanBuilder[I]) WithDefaultOptions(opts ActivityOptions) *PlanBuilder[I] {
	b.options = opts
	return b
}

// Append adds steps to the end of the plan. Steps run strictly one after
// another in the order they were appended.
func (b *PlanBuilder[I]) Append(steps ...Step[I]) error {
	for _, step := range steps {
		if step.Name == "" {
			return fmt.Errorf("step name must not be empty")
		}
		if step.Activity == "" {
			return fmt.Errorf("step '%s' has no activity", step.Name)
		}
		if step.CompensationInput != nil && step.Compensation == "" {
			return fmt.Errorf("step '%s' has a compensation input but no compensation", step.Name)
		}
		if !b.stepNames.Insert(step.Name) {
			return fmt.Errorf("step with name '%s' already exists", step.Name)
		}
		b.steps = append(b.steps, step)
	}
	return nil
}

// Build validates the steps and returns the plan.
func (b *PlanBuilder[I]) Build() (*Plan[I], error) {
	if b.name == "" {
		return nil, fmt.Errorf("saga name must not be empty")
	}
	if len(b.steps) == 0 {
		return nil, fmt.Errorf("saga '%s' has no steps", b.name)
	}

	g := dag.New(string(b.name))
	var prev *dag.Node
	for i := range b.steps {
		step := &b.steps[i]
		node := g.Add(string(step.Name), step.label(), dag.KindStep)
		if prev != nil {
			g.Connect(prev, node, "")
		}
		if step.Compensation != "" {
			undo := g.Add(string(step.Name)+".compensation", string(step.Compensation), dag.KindCompensation)
			g.Connect(node, undo, "compensated by")
		}
		prev = node
	}

	return &Plan[I]{
		name:    b.name,
		steps:   slices.Clone(b.steps),
		options: b.options,
		graph:   g,
	}, nil
}
