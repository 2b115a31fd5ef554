package durablesaga

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registryOf(t *testing.T, names ...ActivityName) *CompensationRegistry {
	t.Helper()
	r := NewCompensationRegistry()
	for i, name := range names {
		require.NoError(t, r.Register(name, fmt.Sprintf("input-%d", i+1)))
	}
	return r
}

func ordinals(results []CompensationResult) []int {
	out := make([]int, len(results))
	for i, r := range results {
		out[i] = r.Ordinal
	}
	return out
}

func TestRunSequentialIsLIFO(t *testing.T) {
	for n := 0; n <= 5; n++ {
		t.Run(fmt.Sprintf("%d actions", n), func(t *testing.T) {
			names := make([]ActivityName, n)
			for i := range names {
				names[i] = ActivityName(fmt.Sprintf("Undo%d", i+1))
			}
			host := newFakeHost()

			results := NewExecutor(CompensationSequential).RunSequential(host, registryOf(t, names...))

			require.Len(t, results, n)
			for i, r := range results {
				assert.Equal(t, n-i, r.Ordinal)
				assert.True(t, r.Succeeded)
			}
			require.Len(t, host.calls, n)
			for i, c := range host.calls {
				assert.Equal(t, names[n-1-i], c.Activity)
			}
		})
	}
}

func TestRunSequentialAwaitsEachAction(t *testing.T) {
	host := newFakeHost()
	NewExecutor(CompensationSequential).RunSequential(host, registryOf(t, "A", "B"))

	assert.Equal(t, []string{"schedule:B", "get:B", "schedule:A", "get:A"}, host.events)
}

func TestRunSequentialPassesRegisteredInput(t *testing.T) {
	host := newFakeHost()
	NewExecutor(CompensationSequential).RunSequential(host, registryOf(t, "A", "B"))

	assert.JSONEq(t, `"input-2"`, string(host.calls[0].Input))
	assert.JSONEq(t, `"input-1"`, string(host.calls[1].Input))
}

func TestCompensationFailureIsIsolated(t *testing.T) {
	for _, mode := range []CompensationMode{CompensationSequential, CompensationParallel} {
		t.Run(mode.String(), func(t *testing.T) {
			host := newFakeHost()
			host.failures["B"] = errors.New("refund rejected")

			results := NewExecutor(mode).Run(host, registryOf(t, "A", "B", "C"))

			require.Len(t, results, 3)
			assert.ElementsMatch(t, []ActivityName{"A", "B", "C"}, host.activities())
			for _, r := range results {
				if r.Activity == "B" {
					assert.False(t, r.Succeeded)
					assert.Contains(t, r.Error, "refund rejected")
					var actErr *ActivityError
					assert.ErrorAs(t, r.Err, &actErr)
					continue
				}
				assert.True(t, r.Succeeded, "%s", r.Activity)
				assert.Empty(t, r.Error)
				assert.NoError(t, r.Err)
			}
		})
	}
}

func TestRunParallelSchedulesAllBeforeAwaiting(t *testing.T) {
	host := newFakeHost()
	results := NewExecutor(CompensationParallel).RunParallel(host, registryOf(t, "A", "B", "C"))

	assert.Equal(t, []string{
		"schedule:A", "schedule:B", "schedule:C",
		"get:C", "get:B", "get:A",
	}, host.events)
	assert.Equal(t, []int{3, 2, 1}, ordinals(results))
}

func TestExecutorEmptyRegistry(t *testing.T) {
	for _, mode := range []CompensationMode{CompensationSequential, CompensationParallel} {
		host := newFakeHost()
		results := NewExecutor(mode).Run(host, NewCompensationRegistry())
		assert.Empty(t, results)
		assert.Empty(t, host.calls)
	}
}

func TestExecutorUsesCompensationOptions(t *testing.T) {
	opts := ActivityOptions{RetryPolicy: &DefaultRetryPolicy}
	host := newFakeHost()

	NewExecutor(CompensationSequential, WithCompensationOptions(opts)).Run(host, registryOf(t, "A"))

	require.Len(t, host.calls, 1)
	assert.Equal(t, opts, host.calls[0].Options)
}

func TestParseCompensationMode(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want CompensationMode
	}{
		{"", CompensationSequential},
		{"sequential", CompensationSequential},
		{"parallel", CompensationParallel},
	} {
		got, err := ParseCompensationMode(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := ParseCompensationMode("random")
	assert.Error(t, err)
	assert.Equal(t, "CompensationMode(7)", CompensationMode(7).String())
}
