package durablesaga

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/btree"
	"go.uber.org/zap"
)

// DriverState is the lifecycle state of a saga driver.
type DriverState int

const (
	StateNotStarted DriverState = iota
	StateRunning
	StateCompensating
	StateCompleted
	StateRolledBack
)

func (s DriverState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateCompensating:
		return "compensating"
	case StateCompleted:
		return "completed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("DriverState(%d)", int(s))
	}
}

// Terminal reports whether s is a final state.
func (s DriverState) Terminal() bool {
	return s == StateCompleted || s == StateRolledBack
}

// nextState validates a transition out of s.
func (s DriverState) nextState(to DriverState) (DriverState, error) {
	switch s {
	case StateNotStarted:
		if to == StateRunning {
			return to, nil
		}
	case StateRunning:
		if to == StateCompleted || to == StateCompensating {
			return to, nil
		}
	case StateCompensating:
		if to == StateCompleted || to == StateRolledBack {
			return to, nil
		}
	}
	return s, fmt.Errorf("illegal driver transition %s -> %s", s, to)
}

// Driver runs one execution of a saga plan.
//
// A driver is created for every run of the workflow body, including every
// replay. It performs the forward steps in order, registers each step's
// compensation as soon as the step succeeds and, when a step fails, hands
// the registry to the executor.
type Driver[I any] struct {
	plan     *Plan[I]
	executor *Executor
	state    DriverState
	registry *CompensationRegistry
}

// NewDriver creates a driver for plan. A nil executor runs compensations
// sequentially with default options.
func NewDriver[I any](plan *Plan[I], executor *Executor) *Driver[I] {
	if executor == nil {
		executor = NewExecutor(CompensationSequential)
	}
	return &Driver[I]{
		plan:     plan,
		executor: executor,
		state:    StateNotStarted,
		registry: NewCompensationRegistry(),
	}
}

// State returns the current driver state.
func (d *Driver[I]) State() DriverState {
	return d.state
}

// Registry returns the driver's compensation registry.
func (d *Driver[I]) Registry() *CompensationRegistry {
	return d.registry
}

func (d *Driver[I]) transition(to DriverState) {
	next, err := d.state.nextState(to)
	if err != nil {
		panic(err)
	}
	d.state = next
}

// Run executes the plan on host. A failed forward step is reported through
// the outcome, not the error; the error is reserved for programming errors
// such as a RegistrationError.
func (d *Driver[I]) Run(host Host, input I) (SagaOutcome, error) {
	if d.state != StateNotStarted {
		return SagaOutcome{}, fmt.Errorf("driver for saga '%s' already ran", d.plan.name)
	}
	d.transition(StateRunning)

	results := btree.NewMap[StepName, json.RawMessage](8)
	for i := range d.plan.steps {
		step := &d.plan.steps[i]
		sc := StepContext[I]{
			Input:      input,
			InstanceID: host.InstanceID(),
			Now:        host.Now(),
			results:    results,
		}

		var output json.RawMessage
		err := host.ExecuteActivity(d.plan.stepOptions(step), step.Activity, step.input(sc)).Get(&output)
		if err != nil {
			host.Logger().Warn("forward step failed",
				zap.String("step", string(step.Name)),
				zap.String("activity", string(step.Activity)),
				zap.Error(err))
			return d.rollback(host, step, err, results), nil
		}
		results.Set(step.Name, output)

		if step.Compensation == "" {
			continue
		}
		// Registration happens on the same non-suspending path as the
		// step's completion, so every replay rebuilds the same registry.
		sc.Now = host.Now()
		if err := d.registry.Register(step.Compensation, step.compensationInput(sc, output)); err != nil {
			return SagaOutcome{}, err
		}
	}

	d.transition(StateCompleted)
	host.Logger().Info("saga completed",
		zap.String("saga", string(d.plan.name)),
		zap.Int("unused_compensations", d.registry.Len()))

	return SagaOutcome{
		Status:     OutcomeCompleted,
		Registered: d.registry.Snapshot(),
		Output:     collectOutput(results),
	}, nil
}

func (d *Driver[I]) rollback(host Host, step *Step[I], err error, results *btree.Map[StepName, json.RawMessage]) SagaOutcome {
	cause := &ForwardStepError{Step: step.Name, Activity: step.Activity, Err: err}

	d.transition(StateCompensating)
	compensations := d.executor.Run(host, d.registry)
	d.transition(StateRolledBack)

	host.Logger().Info("saga rolled back",
		zap.String("saga", string(d.plan.name)),
		zap.String("failed_step", string(step.Name)),
		zap.Int("compensations", len(compensations)))

	return SagaOutcome{
		Status:        OutcomeRolledBack,
		FailedStep:    step.Name,
		Cause:         cause,
		CauseMessage:  err.Error(),
		Compensations: compensations,
		Registered:    d.registry.Snapshot(),
		Output:        collectOutput(results),
	}
}

func collectOutput(results *btree.Map[StepName, json.RawMessage]) map[StepName]json.RawMessage {
	if results.Len() == 0 {
		return nil
	}
	out := make(map[StepName]json.RawMessage, results.Len())
	results.Scan(func(name StepName, raw json.RawMessage) bool {
		out[name] = raw
		return true
	})
	return out
}
