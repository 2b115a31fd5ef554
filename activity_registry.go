package durablesaga

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
)

// ActivityRegistry maps activity names to their implementations.
//
// Compensations are stored as a name plus an opaque payload, and the same is
// true of everything recorded in an execution's history. When the body is
// replayed the only thing left to find the code with is the name, so every
// activity a saga can call, forward or compensating, is registered here up
// front.
type ActivityRegistry struct {
	activities *xsync.MapOf[ActivityName, ActivityFunc]
}

var _ ActivityInvoker = (*ActivityRegistry)(nil)

// NewActivityRegistry creates an empty registry.
func NewActivityRegistry() *ActivityRegistry {
	return &ActivityRegistry{
		activities: xsync.NewMapOf[ActivityName, ActivityFunc](),
	}
}

// Register adds an activity under name.
func (r *ActivityRegistry) Register(name ActivityName, fn ActivityFunc) error {
	if name == "" {
		return fmt.Errorf("activity name must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("activity %q has no implementation", name)
	}
	if _, loaded := r.activities.LoadOrStore(name, fn); loaded {
		return fmt.Errorf("activity with name '%s' already registered", name)
	}
	return nil
}

// Get retrieves an activity by its name.
func (r *ActivityRegistry) Get(name ActivityName) (ActivityFunc, error) {
	fn, ok := r.activities.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActivityNotFound, name)
	}
	return fn, nil
}

// Range calls f for every registered activity until f returns false.
func (r *ActivityRegistry) Range(f func(name ActivityName, fn ActivityFunc) bool) {
	r.activities.Range(f)
}

// Invoke implements ActivityInvoker.
func (r *ActivityRegistry) Invoke(ctx context.Context, name ActivityName, input json.RawMessage) (json.RawMessage, error) {
	fn, err := r.Get(name)
	if err != nil {
		return nil, NonRetryable(err)
	}
	return fn(ctx, input)
}
