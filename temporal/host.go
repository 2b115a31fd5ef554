// Package temporal runs saga plans as Temporal workflows.
//
// Temporal replays workflow code from event history on every worker
// restart, so the Driver runs on top of Host unchanged.
package temporal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fortressi/durablesaga"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"
)

// DefaultStartToCloseTimeout applies to activities whose options leave the
// timeout unset. Temporal rejects activities without one.
const DefaultStartToCloseTimeout = time.Minute

// Host adapts a workflow.Context to durablesaga.Host.
type Host struct {
	ctx          workflow.Context
	disconnected workflow.Context
	logger       *zap.Logger
}

var _ durablesaga.Host = (*Host)(nil)

// NewHost creates a host for the workflow running in ctx.
func NewHost(ctx workflow.Context, logger *zap.Logger) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	info := workflow.GetInfo(ctx)
	disconnected, _ := workflow.NewDisconnectedContext(ctx)
	return &Host{
		ctx:          ctx,
		disconnected: disconnected,
		logger: logger.With(
			zap.String("workflow_id", info.WorkflowExecution.ID),
			zap.String("run_id", info.WorkflowExecution.RunID)),
	}
}

// ExecuteActivity schedules the named activity. Once the workflow has been
// cancelled, activities are scheduled on a disconnected context so that
// compensations still run.
func (h *Host) ExecuteActivity(opts durablesaga.ActivityOptions, name durablesaga.ActivityName, input any) durablesaga.Future {
	ctx := h.ctx
	if ctx.Err() != nil {
		ctx = h.disconnected
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions(opts))

	payload, err := json.Marshal(input)
	if err != nil {
		return &future{ctx: ctx, name: name, err: fmt.Errorf("encode input: %w", err)}
	}
	return &future{
		ctx:    ctx,
		name:   name,
		future: workflow.ExecuteActivity(ctx, string(name), json.RawMessage(payload)),
	}
}

// Now returns workflow time.
func (h *Host) Now() time.Time {
	return workflow.Now(h.ctx)
}

// InstanceID returns the workflow ID.
func (h *Host) InstanceID() durablesaga.InstanceID {
	return durablesaga.InstanceID(workflow.GetInfo(h.ctx).WorkflowExecution.ID)
}

// Logger returns a no-op logger while the workflow is replaying.
func (h *Host) Logger() *zap.Logger {
	if workflow.IsReplaying(h.ctx) {
		return zap.NewNop()
	}
	return h.logger
}

type future struct {
	ctx    workflow.Context
	name   durablesaga.ActivityName
	future workflow.Future
	err    error
}

func (f *future) Get(valuePtr any) error {
	if f.err != nil {
		return &durablesaga.ActivityError{Activity: f.name, Message: f.err.Error()}
	}

	var raw json.RawMessage
	if err := f.future.Get(f.ctx, &raw); err != nil {
		return &durablesaga.ActivityError{Activity: f.name, Message: failureMessage(err)}
	}
	if valuePtr == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, valuePtr); err != nil {
		return fmt.Errorf("decode result of %s: %w", f.name, err)
	}
	return nil
}

// failureMessage strips Temporal's activity error envelope, which carries
// event IDs, down to the message the activity failed with.
func failureMessage(err error) string {
	var appErr *temporalsdk.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Error()
	}
	var timeoutErr *temporalsdk.TimeoutError
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Error()
	}
	var canceledErr *temporalsdk.CanceledError
	if errors.As(err, &canceledErr) {
		return canceledErr.Error()
	}
	return err.Error()
}

func activityOptions(opts durablesaga.ActivityOptions) workflow.ActivityOptions {
	timeout := opts.StartToCloseTimeout
	if timeout <= 0 {
		timeout = DefaultStartToCloseTimeout
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         retryPolicy(opts.RetryPolicy),
	}
}

func retryPolicy(p *durablesaga.RetryPolicy) *temporalsdk.RetryPolicy {
	if p == nil || p.MaxAttempts <= 1 {
		return &temporalsdk.RetryPolicy{MaximumAttempts: 1}
	}
	coefficient := p.BackoffCoefficient
	if coefficient < 1 {
		coefficient = 1
	}
	return &temporalsdk.RetryPolicy{
		InitialInterval:    p.InitialInterval,
		BackoffCoefficient: coefficient,
		MaximumInterval:    p.MaxInterval,
		MaximumAttempts:    int32(p.MaxAttempts),
	}
}
