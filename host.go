package durablesaga

import (
	"time"

	"go.uber.org/zap"
)

// InstanceID identifies one execution of a saga.
type InstanceID string

// Host is the deterministic execution host a saga driver runs under.
//
// The host may run the driver body many times for one instance. Every call
// that has already completed is answered from recorded history instead of
// invoking the activity again, so the body must reach the same calls in the
// same order each time. Nothing in a body may depend on wall-clock time,
// randomness or goroutine scheduling; Now and InstanceID are the only
// ambient values a body may read.
type Host interface {
	// ExecuteActivity schedules an activity and returns immediately. The
	// call is not a suspension point; Future.Get is.
	ExecuteActivity(opts ActivityOptions, name ActivityName, input any) Future
	// Now is the host's deterministic clock.
	Now() time.Time
	// InstanceID is the ID of the running saga instance.
	InstanceID() InstanceID
	// Logger returns a logger that is silent while the host is replaying.
	// Call it at each log site; do not cache the result.
	Logger() *zap.Logger
}

// Future is the pending result of an activity.
type Future interface {
	// Get blocks until the activity finishes. On success the JSON result is
	// decoded into valuePtr unless valuePtr is nil. Failures are returned as
	// *ActivityError.
	Get(valuePtr any) error
}
