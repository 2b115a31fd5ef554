package durablesaga

import (
	"encoding/json"
	"fmt"
)

// OutcomeStatus is the terminal status of a saga execution.
type OutcomeStatus string

const (
	OutcomeCompleted  OutcomeStatus = "completed"
	OutcomeRolledBack OutcomeStatus = "rolled_back"
)

// CompensationResult records what happened to one compensating action.
type CompensationResult struct {
	Ordinal   int          `json:"ordinal"`
	Activity  ActivityName `json:"activity"`
	Succeeded bool         `json:"succeeded"`
	// Err is the failure as seen by the executor. It does not survive
	// serialization; Error carries its message.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`
}

// SagaOutcome is the terminal result of a saga execution.
type SagaOutcome struct {
	Status OutcomeStatus `json:"status"`

	// FailedStep, Cause and CauseMessage describe the forward step failure
	// that triggered a rollback. Cause does not survive serialization.
	FailedStep   StepName `json:"failed_step,omitempty"`
	Cause        error    `json:"-"`
	CauseMessage string   `json:"cause,omitempty"`

	// Compensations has one entry per registered action when the saga
	// rolled back, in the order the executor reported them.
	Compensations []CompensationResult `json:"compensations,omitempty"`

	// Registered is the compensation registry as it stood when the saga
	// finished. A completed saga discards it unused.
	Registered []CompensatingAction `json:"registered,omitempty"`

	// Output holds the result of every forward step that completed.
	Output map[StepName]json.RawMessage `json:"output,omitempty"`
}

// FullyRolledBack reports whether the saga failed and every compensation
// succeeded.
func (o *SagaOutcome) FullyRolledBack() bool {
	return o.Status == OutcomeRolledBack && o.failedCompensations() == 0
}

// PartiallyRolledBack reports whether the saga failed and at least one
// compensation failed.
func (o *SagaOutcome) PartiallyRolledBack() bool {
	return o.Status == OutcomeRolledBack && o.failedCompensations() > 0
}

// Err returns nil for a completed saga and the rollback cause otherwise.
func (o *SagaOutcome) Err() error {
	if o.Status == OutcomeCompleted {
		return nil
	}
	if o.Cause != nil {
		return o.Cause
	}
	return fmt.Errorf("forward step %s failed: %s", o.FailedStep, o.CauseMessage)
}

func (o *SagaOutcome) failedCompensations() int {
	n := 0
	for _, c := range o.Compensations {
		if !c.Succeeded {
			n++
		}
	}
	return n
}
