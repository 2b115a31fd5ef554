package temporal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fortressi/durablesaga"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"
)

// Workflow runs a saga plan as a Temporal workflow. The workflow type is
// registered under the plan's name.
type Workflow[I any] struct {
	plan     *durablesaga.Plan[I]
	executor *durablesaga.Executor
	logger   *zap.Logger
}

// NewWorkflow creates a workflow for plan. A nil executor compensates
// sequentially.
func NewWorkflow[I any](plan *durablesaga.Plan[I], executor *durablesaga.Executor, logger *zap.Logger) *Workflow[I] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow[I]{plan: plan, executor: executor, logger: logger}
}

// Name returns the workflow type name.
func (w *Workflow[I]) Name() string {
	return string(w.plan.Name())
}

// Run is the workflow function.
func (w *Workflow[I]) Run(ctx workflow.Context, input I) (durablesaga.SagaOutcome, error) {
	host := NewHost(ctx, w.logger)
	return durablesaga.NewDriver(w.plan, w.executor).Run(host, input)
}

// Registrar is the part of worker.Worker, and of the test workflow
// environment, that Register needs.
type Registrar interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register registers the workflow and every activity in activities with r.
func Register[I any](r Registrar, w *Workflow[I], activities *durablesaga.ActivityRegistry) {
	r.RegisterWorkflowWithOptions(w.Run, workflow.RegisterOptions{Name: w.Name()})
	activities.Range(func(name durablesaga.ActivityName, fn durablesaga.ActivityFunc) bool {
		r.RegisterActivityWithOptions(activityFunc(fn), activity.RegisterOptions{Name: string(name)})
		return true
	})
}

// activityFunc turns NonRetryable failures into non-retryable application
// errors so the server stops retrying them.
func activityFunc(fn durablesaga.ActivityFunc) func(context.Context, json.RawMessage) (json.RawMessage, error) {
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		out, err := fn(ctx, input)
		if err != nil && durablesaga.IsNonRetryable(err) {
			return nil, temporalsdk.NewNonRetryableApplicationError(err.Error(), "NonRetryable", nil)
		}
		return out, err
	}
}

// NewWorker creates a worker on taskQueue serving w and its activities.
func NewWorker[I any](c client.Client, taskQueue string, w *Workflow[I], activities *durablesaga.ActivityRegistry) worker.Worker {
	wk := worker.New(c, taskQueue, worker.Options{})
	Register(wk, w, activities)
	return wk
}

// Start starts a saga workflow with the given ID.
func Start[I any](ctx context.Context, c client.Client, taskQueue string, name durablesaga.SagaName, id durablesaga.InstanceID, input I) (client.WorkflowRun, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        string(id),
		TaskQueue: taskQueue,
	}, string(name), input)
	if err != nil {
		return nil, fmt.Errorf("start workflow %s: %w", name, err)
	}
	return run, nil
}
