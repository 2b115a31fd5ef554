package main

import (
	"fmt"

	"github.com/fortressi/durablesaga"
	"github.com/fortressi/durablesaga/order"
	"github.com/spf13/cobra"
)

func newPlanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the order saga as a Graphviz graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := order.NewPlan(durablesaga.ActivityOptions{})
			if err != nil {
				return err
			}
			dot, err := plan.ExportDOT()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), dot)
			return err
		},
	}
}
