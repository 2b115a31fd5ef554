package order

import (
	"github.com/fortressi/durablesaga"
)

// NewPlan builds the order saga. opts become the default options of every
// forward step.
func NewPlan(opts durablesaga.ActivityOptions) (*durablesaga.Plan[Input], error) {
	b := durablesaga.NewPlanBuilder[Input](SagaName).WithDefaultOptions(opts)

	err := b.Append(
		durablesaga.Step[Input]{
			Name:     StepNotify,
			Label:    "Notify customer",
			Activity: Notify,
			Input: func(sc durablesaga.StepContext[Input]) any {
				return Notification{
					OrderID:    sc.Input.OrderID,
					CustomerID: sc.Input.CustomerID,
					Message:    "order received",
				}
			},
		},
		durablesaga.Step[Input]{
			Name:         StepReserveInventory,
			Label:        "Reserve inventory",
			Activity:     ReserveInventory,
			Compensation: ReleaseInventory,
		},
		durablesaga.Step[Input]{
			Name:     StepRequestApproval,
			Label:    "Request approval",
			Activity: RequestApproval,
			Input: func(sc durablesaga.StepContext[Input]) any {
				return ApprovalRequest{OrderID: sc.Input.OrderID, Amount: sc.Input.Amount}
			},
		},
		durablesaga.Step[Input]{
			Name:     StepProcessPayment,
			Label:    "Process payment",
			Activity: ProcessPayment,
			Input: func(sc durablesaga.StepContext[Input]) any {
				return PaymentRequest{
					OrderID:    sc.Input.OrderID,
					CustomerID: sc.Input.CustomerID,
					Amount:     sc.Input.Amount,
				}
			},
			Compensation: RefundPayment,
		},
		durablesaga.Step[Input]{
			Name:     StepUpdateInventory,
			Label:    "Update inventory",
			Activity: UpdateInventory,
			Input: func(sc durablesaga.StepContext[Input]) any {
				reservation, _ := durablesaga.LookupTyped[Reservation](sc, StepReserveInventory)
				return InventoryUpdate{
					ReservationID: reservation.ReservationID,
					OrderID:       sc.Input.OrderID,
					Items:         sc.Input.Items,
				}
			},
			Compensation: RestoreInventory,
		},
		durablesaga.Step[Input]{
			Name:     StepDelivery,
			Label:    "Schedule delivery",
			Activity: Delivery,
			Input: func(sc durablesaga.StepContext[Input]) any {
				return DeliveryRequest{
					OrderID:    sc.Input.OrderID,
					CustomerID: sc.Input.CustomerID,
					Items:      sc.Input.Items,
				}
			},
			Compensation: CancelDelivery,
		},
	)
	if err != nil {
		return nil, err
	}
	return b.Build()
}
