package main

import (
	"errors"
	"fmt"

	"github.com/fortressi/durablesaga"
	"github.com/fortressi/durablesaga/order"
	sagatemporal "github.com/fortressi/durablesaga/temporal"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
)

func (a *app) dialTemporal() (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  a.cfg.Temporal.HostPort,
		Namespace: a.cfg.Temporal.Namespace,
		Logger:    sagatemporal.NewLogger(a.logger),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to temporal at %s: %w", a.cfg.Temporal.HostPort, err)
	}
	return c, nil
}

func newWorkerCmd(a *app) *cobra.Command {
	var fail []string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve the order saga and its activities on a Temporal task queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := a.cfg.Mode()
			if err != nil {
				return err
			}
			plan, err := order.NewPlan(a.cfg.Activity.Options())
			if err != nil {
				return err
			}

			backend := order.NewBackend(map[string]int{"widget": 100, "gadget": 100}, order.WithBackendLogger(a.logger))
			for _, name := range fail {
				backend.FailOn(durablesaga.ActivityName(name), durablesaga.NonRetryable(errors.New("injected failure")))
			}
			activities := durablesaga.NewActivityRegistry()
			if err := backend.Register(activities); err != nil {
				return err
			}

			c, err := a.dialTemporal()
			if err != nil {
				return err
			}
			defer c.Close()

			executor := durablesaga.NewExecutor(mode, durablesaga.WithCompensationOptions(a.cfg.Compensation.Options()))
			wf := sagatemporal.NewWorkflow(plan, executor, a.logger)
			w := sagatemporal.NewWorker(c, a.cfg.Temporal.TaskQueue, wf, activities)

			a.logger.Info("starting worker",
				zap.String("task_queue", a.cfg.Temporal.TaskQueue),
				zap.String("workflow", wf.Name()))
			return w.Run(worker.InterruptCh())
		},
	}
	cmd.Flags().StringSliceVar(&fail, "fail", nil, "activity to fail (repeatable)")
	return cmd
}

func newStartCmd(a *app) *cobra.Command {
	var (
		flags orderFlags
		id    string
		wait  bool
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the order saga on Temporal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := flags.input()
			if err != nil {
				return err
			}
			if id == "" {
				id = "order-saga-" + uuid.NewString()
			}

			c, err := a.dialTemporal()
			if err != nil {
				return err
			}
			defer c.Close()

			run, err := sagatemporal.Start(cmd.Context(), c, a.cfg.Temporal.TaskQueue, order.SagaName, durablesaga.InstanceID(id), in)
			if err != nil {
				return err
			}
			a.logger.Info("workflow started", zap.String("workflow_id", run.GetID()), zap.String("run_id", run.GetRunID()))
			if !wait {
				return nil
			}

			var outcome durablesaga.SagaOutcome
			if err := run.Get(cmd.Context(), &outcome); err != nil {
				return fmt.Errorf("workflow %s: %w", run.GetID(), err)
			}
			return printJSON(cmd, outcome)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "workflow ID (generated when empty)")
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for the outcome and print it")
	return cmd
}
