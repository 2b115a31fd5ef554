package durablesaga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ActivityName identifies a unit of work that the host can invoke by name.
type ActivityName string

// ActivityFunc is the type-erased form of an activity. Inputs and outputs
// cross the host boundary as JSON so that they can be recorded and replayed.
type ActivityFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// ActivityInvoker executes a named activity with an encoded input.
type ActivityInvoker interface {
	Invoke(ctx context.Context, name ActivityName, input json.RawMessage) (json.RawMessage, error)
}

// NewActivity adapts a typed function into an ActivityFunc. The input is
// decoded into I before fn is called, so a payload of the wrong shape is
// rejected at the invocation boundary rather than inside the activity.
func NewActivity[I any, O any](fn func(ctx context.Context, input I) (O, error)) ActivityFunc {
	return func(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
		var in I
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, NonRetryable(fmt.Errorf("decode activity input: %w", err))
			}
		}

		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(out)
		if err != nil {
			return nil, NonRetryable(fmt.Errorf("encode activity output: %w", err))
		}
		return data, nil
	}
}

// ActivityOptions controls how the host runs a single activity invocation.
type ActivityOptions struct {
	// StartToCloseTimeout bounds each attempt. Zero means no per-attempt
	// timeout beyond the execution's own lifetime.
	StartToCloseTimeout time.Duration
	// RetryPolicy is applied by the host. Nil means a single attempt.
	RetryPolicy *RetryPolicy
}
