// Package order is a sample saga that places an order: it reserves stock,
// takes payment, commits the stock and ships. Every step that changes state
// registers the activity that undoes it.
package order

import (
	"fmt"

	"github.com/fortressi/durablesaga"
)

// SagaName is the name of the order plan.
const SagaName durablesaga.SagaName = "place-order"

// Forward activities.
const (
	Notify           durablesaga.ActivityName = "Notify"
	ReserveInventory durablesaga.ActivityName = "ReserveInventory"
	RequestApproval  durablesaga.ActivityName = "RequestApproval"
	ProcessPayment   durablesaga.ActivityName = "ProcessPayment"
	UpdateInventory  durablesaga.ActivityName = "UpdateInventory"
	Delivery         durablesaga.ActivityName = "Delivery"
)

// Compensating activities.
const (
	ReleaseInventory durablesaga.ActivityName = "ReleaseInventory"
	RefundPayment    durablesaga.ActivityName = "RefundPayment"
	RestoreInventory durablesaga.ActivityName = "RestoreInventory"
	CancelDelivery   durablesaga.ActivityName = "CancelDelivery"
)

// Step names.
const (
	StepNotify           durablesaga.StepName = "notify"
	StepReserveInventory durablesaga.StepName = "reserve-inventory"
	StepRequestApproval  durablesaga.StepName = "request-approval"
	StepProcessPayment   durablesaga.StepName = "process-payment"
	StepUpdateInventory  durablesaga.StepName = "update-inventory"
	StepDelivery         durablesaga.StepName = "delivery"
)

// Item is one order line.
type Item struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// Input is the input of the order saga.
type Input struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	Items      []Item `json:"items"`
	// Amount is the order total in cents.
	Amount int64 `json:"amount"`
}

// Validate checks that an order can be placed at all.
func (in Input) Validate() error {
	if in.OrderID == "" {
		return fmt.Errorf("order ID is required")
	}
	if in.CustomerID == "" {
		return fmt.Errorf("customer ID is required")
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("order %s has no items", in.OrderID)
	}
	for _, item := range in.Items {
		if item.SKU == "" || item.Quantity <= 0 {
			return fmt.Errorf("order %s has an invalid item %+v", in.OrderID, item)
		}
	}
	if in.Amount <= 0 {
		return fmt.Errorf("order %s has a non-positive amount", in.OrderID)
	}
	return nil
}

// Notification is the input of Notify.
type Notification struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	Message    string `json:"message"`
}

// Reservation holds stock for an order until it is committed or released.
type Reservation struct {
	ReservationID string `json:"reservation_id"`
	OrderID       string `json:"order_id"`
	Items         []Item `json:"items"`
}

// ApprovalRequest is the input of RequestApproval.
type ApprovalRequest struct {
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
}

// Approval is the output of RequestApproval.
type Approval struct {
	OrderID  string `json:"order_id"`
	Approved bool   `json:"approved"`
}

// PaymentRequest is the input of ProcessPayment.
type PaymentRequest struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	Amount     int64  `json:"amount"`
}

// Payment is a captured payment.
type Payment struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	Amount    int64  `json:"amount"`
}

// InventoryUpdate commits a reservation, taking its items out of stock.
type InventoryUpdate struct {
	ReservationID string `json:"reservation_id"`
	OrderID       string `json:"order_id"`
	Items         []Item `json:"items"`
}

// DeliveryRequest is the input of Delivery.
type DeliveryRequest struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	Items      []Item `json:"items"`
}

// Shipment is a scheduled delivery.
type Shipment struct {
	TrackingID string `json:"tracking_id"`
	OrderID    string `json:"order_id"`
}
