package durablesaga

// CompensatingAction is a rollback step recorded after a forward step
// succeeds. It is immutable once created.
type CompensatingAction struct {
	// Ordinal is assigned in registration order, starting at 1.
	Ordinal  int          `json:"ordinal"`
	Activity ActivityName `json:"activity"`
	Input    any          `json:"input,omitempty"`
}

// CompensationRegistry is the append-only log of compensating actions for a
// single saga execution.
//
// The registry lives in the driver's call frame and is rebuilt from scratch
// every time the host replays the body. Register never suspends, so a replay
// that reaches the same point in the body has produced exactly the same
// registry. It is not safe for concurrent use; the driver body is single
// threaded.
type CompensationRegistry struct {
	actions []CompensatingAction
}

// NewCompensationRegistry returns an empty registry.
func NewCompensationRegistry() *CompensationRegistry {
	return &CompensationRegistry{}
}

// Register appends a compensating action with the next ordinal.
func (r *CompensationRegistry) Register(activity ActivityName, input any) error {
	if activity == "" {
		return registrationFailed("activity name must not be empty")
	}
	r.actions = append(r.actions, CompensatingAction{
		Ordinal:  len(r.actions) + 1,
		Activity: activity,
		Input:    input,
	})
	return nil
}

// Snapshot returns the registered actions in registration order. The
// returned slice is a copy.
func (r *CompensationRegistry) Snapshot() []CompensatingAction {
	out := make([]CompensatingAction, len(r.actions))
	copy(out, r.actions)
	return out
}

// Len returns the number of registered actions.
func (r *CompensationRegistry) Len() int {
	return len(r.actions)
}
