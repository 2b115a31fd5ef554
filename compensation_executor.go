package durablesaga

import (
	"fmt"

	"go.uber.org/zap"
)

// CompensationMode selects how the executor runs compensations.
type CompensationMode int

const (
	// CompensationSequential runs compensations one at a time in reverse
	// registration order. It is the default because compensations often
	// depend on each other.
	CompensationSequential CompensationMode = iota
	// CompensationParallel starts every compensation at once and waits for
	// all of them. Use it only when compensations are independent.
	CompensationParallel
)

func (m CompensationMode) String() string {
	switch m {
	case CompensationSequential:
		return "sequential"
	case CompensationParallel:
		return "parallel"
	default:
		return fmt.Sprintf("CompensationMode(%d)", int(m))
	}
}

// ParseCompensationMode parses the String form of a CompensationMode.
func ParseCompensationMode(s string) (CompensationMode, error) {
	switch s {
	case "", "sequential":
		return CompensationSequential, nil
	case "parallel":
		return CompensationParallel, nil
	default:
		return CompensationSequential, fmt.Errorf("unknown compensation mode %q", s)
	}
}

// Executor runs the compensations in a registry.
//
// An executor never fails. A compensation that raises an error is recorded
// as not succeeded and the remaining compensations still run, so the result
// always has exactly one entry per registered action.
type Executor struct {
	mode    CompensationMode
	options ActivityOptions
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithCompensationOptions sets the activity options used for every
// compensation.
func WithCompensationOptions(opts ActivityOptions) ExecutorOption {
	return func(e *Executor) {
		e.options = opts
	}
}

// NewExecutor creates an executor running in mode.
func NewExecutor(mode CompensationMode, opts ...ExecutorOption) *Executor {
	e := &Executor{mode: mode}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mode returns the configured compensation mode.
func (e *Executor) Mode() CompensationMode {
	return e.mode
}

// Run runs the registry in the configured mode.
func (e *Executor) Run(host Host, registry *CompensationRegistry) []CompensationResult {
	if e.mode == CompensationParallel {
		return e.RunParallel(host, registry)
	}
	return e.RunSequential(host, registry)
}

// RunSequential runs compensations from the highest ordinal to the lowest,
// awaiting each before starting the next.
func (e *Executor) RunSequential(host Host, registry *CompensationRegistry) []CompensationResult {
	actions := registry.Snapshot()
	results := make([]CompensationResult, 0, len(actions))

	host.Logger().Info("running compensations",
		zap.String("mode", CompensationSequential.String()),
		zap.Int("count", len(actions)))

	for i := len(actions) - 1; i >= 0; i-- {
		action := actions[i]
		err := host.ExecuteActivity(e.options, action.Activity, action.Input).Get(nil)
		results = append(results, e.result(host, action, err))
	}
	return results
}

// RunParallel starts every compensation before awaiting any of them and
// returns once all have finished. Results are reported from the highest
// ordinal to the lowest; the compensations themselves run in no particular
// order.
func (e *Executor) RunParallel(host Host, registry *CompensationRegistry) []CompensationResult {
	actions := registry.Snapshot()
	futures := make([]Future, len(actions))

	host.Logger().Info("running compensations",
		zap.String("mode", CompensationParallel.String()),
		zap.Int("count", len(actions)))

	for i, action := range actions {
		futures[i] = host.ExecuteActivity(e.options, action.Activity, action.Input)
	}

	results := make([]CompensationResult, 0, len(actions))
	for i := len(actions) - 1; i >= 0; i-- {
		err := futures[i].Get(nil)
		results = append(results, e.result(host, actions[i], err))
	}
	return results
}

func (e *Executor) result(host Host, action CompensatingAction, err error) CompensationResult {
	res := CompensationResult{
		Ordinal:   action.Ordinal,
		Activity:  action.Activity,
		Succeeded: err == nil,
	}
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		host.Logger().Warn("compensation failed",
			zap.Int("ordinal", action.Ordinal),
			zap.String("activity", string(action.Activity)),
			zap.Error(err))
	}
	return res
}
