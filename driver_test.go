package durablesaga

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testInput struct {
	OrderID string `json:"order_id"`
}

// chainPlan builds a plan of n steps named s1..sn running activity Dok.
// Every step except those listed in bare registers Undok.
func chainPlan(t *testing.T, n int, bare ...int) *Plan[testInput] {
	t.Helper()
	skip := make(map[int]bool)
	for _, k := range bare {
		skip[k] = true
	}

	b := NewPlanBuilder[testInput]("chain")
	for k := 1; k <= n; k++ {
		step := Step[testInput]{
			Name:     StepName(fmt.Sprintf("s%d", k)),
			Activity: ActivityName(fmt.Sprintf("Do%d", k)),
		}
		if !skip[k] {
			step.Compensation = ActivityName(fmt.Sprintf("Undo%d", k))
		}
		require.NoError(t, b.Append(step))
	}
	plan, err := b.Build()
	require.NoError(t, err)
	return plan
}

func compensationActivities(results []CompensationResult) []ActivityName {
	out := make([]ActivityName, len(results))
	for i, r := range results {
		out[i] = r.Activity
	}
	return out
}

func TestDriverCompensatesOnlyCompletedSteps(t *testing.T) {
	const n = 5
	for failAt := 1; failAt <= n; failAt++ {
		t.Run(fmt.Sprintf("fail at %d", failAt), func(t *testing.T) {
			host := newFakeHost()
			host.failures[ActivityName(fmt.Sprintf("Do%d", failAt))] = errors.New("boom")

			d := NewDriver(chainPlan(t, n), nil)
			outcome, err := d.Run(host, testInput{OrderID: "o-1"})
			require.NoError(t, err)

			assert.Equal(t, OutcomeRolledBack, outcome.Status)
			assert.Equal(t, StepName(fmt.Sprintf("s%d", failAt)), outcome.FailedStep)
			assert.Equal(t, StateRolledBack, d.State())

			var want []ActivityName
			for k := failAt - 1; k >= 1; k-- {
				want = append(want, ActivityName(fmt.Sprintf("Undo%d", k)))
			}
			assert.Equal(t, len(want), len(outcome.Compensations))
			if len(want) > 0 {
				assert.Equal(t, want, compensationActivities(outcome.Compensations))
			}
			assert.Len(t, outcome.Registered, failAt-1)

			// No forward step after the failed one ran.
			for _, c := range host.calls {
				var k int
				if _, err := fmt.Sscanf(string(c.Activity), "Do%d", &k); err == nil {
					assert.LessOrEqual(t, k, failAt)
				}
			}
		})
	}
}

func TestDriverSkipsStepsWithoutCompensation(t *testing.T) {
	host := newFakeHost()
	host.failures["Do6"] = errors.New("delivery failed")

	outcome, err := NewDriver(chainPlan(t, 6, 1, 3), nil).Run(host, testInput{})
	require.NoError(t, err)

	assert.Equal(t, []ActivityName{"Undo5", "Undo4", "Undo2"}, compensationActivities(outcome.Compensations))
	assert.True(t, outcome.FullyRolledBack())
	assert.False(t, outcome.PartiallyRolledBack())
}

func TestDriverCompletedDiscardsRegistry(t *testing.T) {
	host := newFakeHost()
	d := NewDriver(chainPlan(t, 6, 1, 3), nil)

	outcome, err := d.Run(host, testInput{OrderID: "o-1"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, outcome.Status)
	assert.Equal(t, StateCompleted, d.State())
	assert.Empty(t, outcome.Compensations)
	assert.Len(t, outcome.Registered, 4)
	assert.Equal(t, 4, d.Registry().Len())
	assert.Len(t, host.calls, 6)
	assert.NoError(t, outcome.Err())
	for _, c := range host.calls {
		assert.NotContains(t, string(c.Activity), "Undo")
	}
}

func TestDriverPartialRollback(t *testing.T) {
	host := newFakeHost()
	host.failures["Do4"] = errors.New("delivery failed")
	host.failures["Undo2"] = errors.New("refund failed")

	outcome, err := NewDriver(chainPlan(t, 4), nil).Run(host, testInput{})
	require.NoError(t, err)

	require.Len(t, outcome.Compensations, 3)
	assert.True(t, outcome.Compensations[0].Succeeded)
	assert.False(t, outcome.Compensations[1].Succeeded)
	assert.True(t, outcome.Compensations[2].Succeeded)
	assert.True(t, outcome.PartiallyRolledBack())

	var stepErr *ForwardStepError
	require.ErrorAs(t, outcome.Err(), &stepErr)
	assert.Equal(t, StepName("s4"), stepErr.Step)
	var actErr *ActivityError
	require.ErrorAs(t, outcome.Err(), &actErr)
	assert.Equal(t, "delivery failed", actErr.Message)
}

func TestDriverIsDeterministic(t *testing.T) {
	run := func() SagaOutcome {
		host := newFakeHost()
		host.failures["Do5"] = errors.New("boom")
		outcome, err := NewDriver(chainPlan(t, 5, 2), NewExecutor(CompensationParallel)).Run(host, testInput{OrderID: "o-1"})
		require.NoError(t, err)
		return outcome
	}

	first, second := run(), run()
	assert.Equal(t, first.Registered, second.Registered)
	assert.Equal(t, compensationActivities(first.Compensations), compensationActivities(second.Compensations))
	assert.Equal(t, first.Output, second.Output)
}

func TestDriverCompensationInput(t *testing.T) {
	type reservation struct {
		ID string `json:"id"`
	}
	b := NewPlanBuilder[testInput]("inputs")
	require.NoError(t, b.Append(
		Step[testInput]{
			Name:         "reserve",
			Activity:     "Reserve",
			Compensation: "Release",
		},
		Step[testInput]{
			Name:     "charge",
			Activity: "Charge",
			Input: func(sc StepContext[testInput]) any {
				r, ok := LookupTyped[reservation](sc, "reserve")
				if !ok {
					return nil
				}
				return map[string]string{"order": sc.Input.OrderID, "reservation": r.ID}
			},
			Compensation: "Refund",
			CompensationInput: func(sc StepContext[testInput], output json.RawMessage) any {
				return map[string]string{"order": sc.Input.OrderID, "charge": string(output)}
			},
		},
		Step[testInput]{Name: "ship", Activity: "Ship"},
	))
	plan, err := b.Build()
	require.NoError(t, err)

	host := newFakeHost()
	host.outputs["Reserve"] = reservation{ID: "r-1"}
	host.outputs["Charge"] = "c-1"
	host.failures["Ship"] = errors.New("no courier")

	_, err = NewDriver(plan, nil).Run(host, testInput{OrderID: "o-1"})
	require.NoError(t, err)

	require.Len(t, host.calls, 5)
	assert.JSONEq(t, `{"order_id":"o-1"}`, string(host.calls[0].Input))
	assert.JSONEq(t, `{"order":"o-1","reservation":"r-1"}`, string(host.calls[1].Input))
	assert.Equal(t, ActivityName("Refund"), host.calls[3].Activity)
	assert.JSONEq(t, `{"order":"o-1","charge":"\"c-1\""}`, string(host.calls[3].Input))
	assert.Equal(t, ActivityName("Release"), host.calls[4].Activity)
	assert.JSONEq(t, `{"id":"r-1"}`, string(host.calls[4].Input))
}

func TestDriverStepOptions(t *testing.T) {
	defaults := ActivityOptions{StartToCloseTimeout: time.Minute}
	override := ActivityOptions{StartToCloseTimeout: time.Second}

	b := NewPlanBuilder[testInput]("options").WithDefaultOptions(defaults)
	require.NoError(t, b.Append(
		Step[testInput]{Name: "a", Activity: "A"},
		Step[testInput]{Name: "b", Activity: "B", Options: &override},
	))
	plan, err := b.Build()
	require.NoError(t, err)

	host := newFakeHost()
	_, err = NewDriver(plan, nil).Run(host, testInput{})
	require.NoError(t, err)

	assert.Equal(t, defaults, host.calls[0].Options)
	assert.Equal(t, override, host.calls[1].Options)
}

func TestDriverRunsOnce(t *testing.T) {
	d := NewDriver(chainPlan(t, 1), nil)
	assert.Equal(t, StateNotStarted, d.State())

	_, err := d.Run(newFakeHost(), testInput{})
	require.NoError(t, err)

	_, err = d.Run(newFakeHost(), testInput{})
	assert.Error(t, err)
}

func TestDriverStateTransitions(t *testing.T) {
	legal := map[DriverState][]DriverState{
		StateNotStarted:   {StateRunning},
		StateRunning:      {StateCompleted, StateCompensating},
		StateCompensating: {StateCompleted, StateRolledBack},
	}
	all := []DriverState{StateNotStarted, StateRunning, StateCompensating, StateCompleted, StateRolledBack}

	for _, from := range all {
		for _, to := range all {
			_, err := from.nextState(to)
			allowed := false
			for _, l := range legal[from] {
				if l == to {
					allowed = true
				}
			}
			if allowed {
				assert.NoError(t, err, "%s -> %s", from, to)
			} else {
				assert.Error(t, err, "%s -> %s", from, to)
			}
		}
	}

	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateRolledBack.Terminal())
	assert.False(t, StateCompensating.Terminal())
}
