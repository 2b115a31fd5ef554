package durablesaga

import (
	"encoding/json"
	"time"

	"github.com/fortressi/durablesaga/dag"
	"github.com/tidwall/btree"
)

// SagaName is a human-readable name for a saga plan.
type SagaName string

// StepName uniquely identifies a step within a plan.
type StepName string

// Step is one forward step of a saga together with its optional
// compensation.
type Step[I any] struct {
	Name StepName
	// Label is used when rendering the plan. Defaults to Name.
	Label    string
	Activity ActivityName
	// Input builds the forward activity's input. Nil passes the saga input
	// unchanged.
	Input func(sc StepContext[I]) any
	// Options overrides the plan's default activity options for this step.
	Options *ActivityOptions

	// Compensation names the activity that undoes this step. Empty means
	// the step has nothing to undo.
	Compensation ActivityName
	// CompensationInput builds the compensation's input from the step
	// context and the forward activity's output. Nil passes the output
	// unchanged.
	CompensationInput func(sc StepContext[I], output json.RawMessage) any
}

func (s *Step[I]) input(sc StepContext[I]) any {
	if s.Input == nil {
		return sc.Input
	}
	return s.Input(sc)
}

func (s *Step[I]) compensationInput(sc StepContext[I], output json.RawMessage) any {
	if s.CompensationInput == nil {
		return output
	}
	return s.CompensationInput(sc, output)
}

func (s *Step[I]) label() string {
	if s.Label != "" {
		return s.Label
	}
	return string(s.Name)
}

// StepContext is everything a step may derive its inputs from. All of it is
// reproduced exactly when the host replays the saga.
type StepContext[I any] struct {
	Input      I
	InstanceID InstanceID
	Now        time.Time
	results    *btree.Map[StepName, json.RawMessage]
}

// Lookup returns the output of an earlier step.
func (sc StepContext[I]) Lookup(name StepName) (json.RawMessage, bool) {
	if sc.results == nil {
		return nil, false
	}
	return sc.results.Get(name)
}

// LookupTyped decodes the output of an earlier step into R.
func LookupTyped[R any, I any](sc StepContext[I], name StepName) (R, bool) {
	var zero R
	raw, ok := sc.Lookup(name)
	if !ok {
		return zero, false
	}
	var out R
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, false
	}
	return out, true
}

// Plan is a validated, immutable sequence of saga steps.
type Plan[I any] struct {
	name    SagaName
	steps   []Step[I]
	options ActivityOptions
	graph   *dag.Graph
}

// Name returns the saga name.
func (p *Plan[I]) Name() SagaName {
	return p.name
}

// Steps returns a copy of the plan's steps in execution order.
func (p *Plan[I]) Steps() []Step[I] {
	out := make([]Step[I], len(p.steps))
	copy(out, p.steps)
	return out
}

// Options returns the default activity options for forward steps.
func (p *Plan[I]) Options() ActivityOptions {
	return p.options
}

// ExportDOT renders the plan, forward steps and compensations, in Graphviz
// format.
func (p *Plan[I]) ExportDOT() (string, error) {
	return p.graph.ExportToDot()
}

func (p *Plan[I]) stepOptions(s *Step[I]) ActivityOptions {
	if s.Options != nil {
		return *s.Options
	}
	return p.options
}
