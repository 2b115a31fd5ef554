package durablesaga

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// RetryPolicy describes how a host retries a failing activity.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Zero or less means a single attempt.
	MaxAttempts int
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration
	// BackoffCoefficient multiplies the delay after each retry. Values
	// below 1 are treated as 1.
	BackoffCoefficient float64
	// MaxInterval caps the delay between retries. Zero means no cap
	// beyond backoff's default.
	MaxInterval time.Duration
}

// DefaultRetryPolicy is used for compensations when nothing else is
// configured. Compensations are expected to be idempotent and worth
// retrying harder than forward steps.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:        5,
	InitialInterval:    100 * time.Millisecond,
	BackoffCoefficient: 2,
	MaxInterval:        5 * time.Second,
}

func (p *RetryPolicy) attempts() uint {
	if p == nil || p.MaxAttempts <= 1 {
		return 1
	}
	return uint(p.MaxAttempts)
}

func (p *RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p == nil {
		return b
	}
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	b.Multiplier = p.BackoffCoefficient
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// invokeWithOptions runs one activity invocation under opts: each attempt
// is bounded by StartToCloseTimeout and failed attempts are retried per
// RetryPolicy unless the error is NonRetryable. A panicking attempt counts
// as a failed one.
func invokeWithOptions(
	ctx context.Context,
	invoker ActivityInvoker,
	opts ActivityOptions,
	name ActivityName,
	input json.RawMessage,
	logger *zap.Logger,
) (json.RawMessage, error) {
	attempt := 0
	operation := func() (out json.RawMessage, err error) {
		attempt++
		defer func() {
			if p := recover(); p != nil {
				out, err = nil, fmt.Errorf("activity %s panicked: %v", name, p)
			}
		}()
		attemptCtx := ctx
		if opts.StartToCloseTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, opts.StartToCloseTimeout)
			defer cancel()
		}

		out, err = invoker.Invoke(attemptCtx, name, input)
		if err != nil && IsNonRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return out, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(opts.RetryPolicy.backOff()),
		backoff.WithMaxTries(opts.RetryPolicy.attempts()),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debug("retrying activity",
				zap.String("activity", string(name)),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", next),
				zap.Error(err))
		}),
	)
}
