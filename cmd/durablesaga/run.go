package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fortressi/durablesaga"
	"github.com/fortressi/durablesaga/order"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type orderFlags struct {
	orderID  string
	customer string
	items    []string
	amount   int64
}

func (f *orderFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.orderID, "order-id", "order-1", "order ID")
	cmd.Flags().StringVar(&f.customer, "customer", "customer-1", "customer ID")
	cmd.Flags().StringSliceVar(&f.items, "item", []string{"widget:1"}, "order line as sku:quantity (repeatable)")
	cmd.Flags().Int64Var(&f.amount, "amount", 1000, "order total in cents")
}

func (f *orderFlags) input() (order.Input, error) {
	in := order.Input{OrderID: f.orderID, CustomerID: f.customer, Amount: f.amount}
	for _, line := range f.items {
		item, err := parseItem(line)
		if err != nil {
			return order.Input{}, err
		}
		in.Items = append(in.Items, item)
	}
	return in, in.Validate()
}

func parseItem(s string) (order.Item, error) {
	sku, qty, ok := strings.Cut(s, ":")
	if !ok {
		return order.Item{SKU: s, Quantity: 1}, nil
	}
	n, err := strconv.Atoi(qty)
	if err != nil {
		return order.Item{}, fmt.Errorf("invalid quantity in %q: %w", s, err)
	}
	return order.Item{SKU: sku, Quantity: n}, nil
}

func newRunCmd(a *app) *cobra.Command {
	var (
		flags orderFlags
		fail  []string
		stock []string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the order saga in process and print its outcome",
		Example: `  durablesaga run --item widget:2 --fail Delivery
  durablesaga run --fail Delivery --fail RefundPayment`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := flags.input()
			if err != nil {
				return err
			}
			inventory, err := parseStock(stock)
			if err != nil {
				return err
			}
			mode, err := a.cfg.Mode()
			if err != nil {
				return err
			}

			store, closeStore, err := a.openStore()
			if err != nil {
				return err
			}
			defer closeStore()

			backend := order.NewBackend(inventory, order.WithBackendLogger(a.logger))
			for _, name := range fail {
				backend.FailOn(durablesaga.ActivityName(name), durablesaga.NonRetryable(errors.New("injected failure")))
			}
			activities := durablesaga.NewActivityRegistry()
			if err := backend.Register(activities); err != nil {
				return err
			}

			plan, err := order.NewPlan(a.cfg.Activity.Options())
			if err != nil {
				return err
			}
			executor := durablesaga.NewExecutor(mode, durablesaga.WithCompensationOptions(a.cfg.Compensation.Options()))

			rt := durablesaga.NewRuntime(plan, activities,
				durablesaga.WithExecutor(executor),
				durablesaga.WithStore(store),
				durablesaga.WithLogger(a.logger),
				durablesaga.WithMetrics(a.serveMetrics(cmd.Context())),
			)
			defer rt.Close()

			id, outcome, err := rt.Execute(cmd.Context(), in)
			if err != nil {
				return err
			}
			a.logger.Info("saga finished", zap.String("instance_id", string(id)), zap.String("status", string(outcome.Status)))
			return printJSON(cmd, outcome)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringSliceVar(&fail, "fail", nil, "activity to fail (repeatable)")
	cmd.Flags().StringSliceVar(&stock, "stock", []string{"widget=100", "gadget=100"}, "initial stock as sku=quantity (repeatable)")
	return cmd
}

func parseStock(lines []string) (map[string]int, error) {
	stock := make(map[string]int, len(lines))
	for _, line := range lines {
		sku, qty, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("invalid stock %q, want sku=quantity", line)
		}
		n, err := strconv.Atoi(qty)
		if err != nil {
			return nil, fmt.Errorf("invalid quantity in %q: %w", line, err)
		}
		stock[sku] = n
	}
	return stock, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
