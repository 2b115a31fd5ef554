package order

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fortressi/durablesaga"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrApprovalDenied is returned by RequestApproval for orders above the
// approval limit.
var ErrApprovalDenied = errors.New("order approval denied")

// Backend is an in-memory inventory, payment and shipping system serving
// every order activity. Failures can be injected per activity.
type Backend struct {
	mu            sync.Mutex
	logger        *zap.Logger
	approvalLimit int64

	stock        map[string]int
	reservations map[string]*reservationState
	payments     map[string]Payment
	refunds      map[string]Payment
	shipments    map[string]Shipment
	notified     []Notification

	// Activities may run more than once for one order. These index the
	// record each order already has so a repeat call returns it.
	reservationOf map[string]string
	paymentOf     map[string]string
	shipmentOf    map[string]string

	calls    []durablesaga.ActivityName
	failures map[durablesaga.ActivityName]error
}

type reservationState struct {
	Reservation
	committed bool
}

// BackendOption configures a Backend.
type BackendOption func(*Backend)

// WithBackendLogger sets the backend logger.
func WithBackendLogger(l *zap.Logger) BackendOption {
	return func(b *Backend) {
		b.logger = l
	}
}

// WithApprovalLimit denies approval for orders whose amount exceeds limit.
// Zero approves everything.
func WithApprovalLimit(limit int64) BackendOption {
	return func(b *Backend) {
		b.approvalLimit = limit
	}
}

// NewBackend creates a backend holding stock, keyed by SKU.
func NewBackend(stock map[string]int, opts ...BackendOption) *Backend {
	b := &Backend{
		logger:       zap.NewNop(),
		stock:        make(map[string]int, len(stock)),
		reservations: make(map[string]*reservationState),
		payments:     make(map[string]Payment),
		refunds:      make(map[string]Payment),
		shipments:    make(map[string]Shipment),
		failures:     make(map[durablesaga.ActivityName]error),

		reservationOf: make(map[string]string),
		paymentOf:     make(map[string]string),
		shipmentOf:    make(map[string]string),
	}
	for sku, qty := range stock {
		b.stock[sku] = qty
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// FailOn makes every invocation of activity fail with err. A nil err
// clears the failure.
func (b *Backend) FailOn(activity durablesaga.ActivityName, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		delete(b.failures, activity)
		return
	}
	b.failures[activity] = err
}

// Register adds every order activity to reg.
func (b *Backend) Register(reg *durablesaga.ActivityRegistry) error {
	activities := map[durablesaga.ActivityName]durablesaga.ActivityFunc{
		Notify:           durablesaga.NewActivity(b.Notify),
		ReserveInventory: durablesaga.NewActivity(b.ReserveInventory),
		RequestApproval:  durablesaga.NewActivity(b.RequestApproval),
		ProcessPayment:   durablesaga.NewActivity(b.ProcessPayment),
		UpdateInventory:  durablesaga.NewActivity(b.UpdateInventory),
		Delivery:         durablesaga.NewActivity(b.Delivery),
		ReleaseInventory: durablesaga.NewActivity(b.ReleaseInventory),
		RefundPayment:    durablesaga.NewActivity(b.RefundPayment),
		RestoreInventory: durablesaga.NewActivity(b.RestoreInventory),
		CancelDelivery:   durablesaga.NewActivity(b.CancelDelivery),
	}
	for name, fn := range activities {
		if err := reg.Register(name, fn); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	return nil
}

// begin records the call and returns the injected failure, if any. The
// caller must hold b.mu.
func (b *Backend) begin(name durablesaga.ActivityName) error {
	b.calls = append(b.calls, name)
	if err := b.failures[name]; err != nil {
		b.logger.Info("injected failure", zap.String("activity", string(name)), zap.Error(err))
		return err
	}
	return nil
}

// Notify sends a notification to the customer.
func (b *Backend) Notify(ctx context.Context, n Notification) (Notification, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.begin(Notify); err != nil {
		return Notification{}, err
	}
	b.notified = append(b.notified, n)
	return n, nil
}

// ReserveInventory holds stock for every item of the order. An order has
// at most one reservation; reserving again returns it.
func (b *Backend) ReserveInventory(ctx context.Context, in Input) (Reservation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.begin(ReserveInventory); err != nil {
		return Reservation{}, err
	}
	if held, ok := b.reservations[b.reservationOf[in.OrderID]]; ok {
		return held.Reservation, nil
	}
	for _, item := range in.Items {
		if available := b.available(item.SKU); available < item.Quantity {
			return Reservation{}, durablesaga.NonRetryable(fmt.Errorf(
				"insufficient stock for %s: want %d, have %d", item.SKU, item.Quantity, available))
		}
	}

	r := Reservation{
		ReservationID: uuid.NewString(),
		OrderID:       in.OrderID,
		Items:         in.Items,
	}
	b.reservations[r.ReservationID] = &reservationState{Reservation: r}
	b.reservationOf[in.OrderID] = r.ReservationID
	b.logger.Debug("inventory reserved", zap.String("order_id", in.OrderID), zap.String("reservation_id", r.ReservationID))
	return r, nil
}

// ReleaseInventory drops a reservation. Releasing an unknown reservation is
// a no-op.
func (b *Backend) ReleaseInventory(ctx context.Context, r Reservation) (Reservation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.begin(ReleaseInventory); err != nil {
		return Reservation{}, err
	}
	held, ok := b.reservations[r.ReservationID]
	if !ok {
		return r, nil
	}
	if held.committed {
		return Reservation{}, fmt.Errorf("reservation %s is committed and must be restored first", r.ReservationID)
	}
	delete(b.reservations, r.ReservationID)
	if b.reservationOf[held.OrderID] == r.ReservationID {
		delete(b.reservationOf, held.OrderID)
	}
	return r, nil
}

// RequestApproval approves orders within the approval limit.
func (b *Backend) RequestApproval(ctx context.Context, req ApprovalRequest) (Approval, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.begin(RequestApproval); err != nil {
		return Approval{}, err
	}
	if b.approvalLimit > 0 && req.Amount > b.approvalLimit {
		return Approval{}, durablesaga.NonRetryable(fmt.Errorf("%w: %d exceeds %d", ErrApprovalDenied, req.Amount, b.approvalLimit))
	}
	return Approval{OrderID: req.OrderID, Approved: true}, nil
}

// ProcessPayment charges the customer. An order is charged at most once;
// paying again returns the existing payment.
func (b *Backend) ProcessPayment(ctx context.Context, req PaymentRequest) (Payment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.begin(ProcessPayment); err != nil {
		return Payment{}, err
	}
	if p, ok := b.payments[b.paymentOf[req.OrderID]]; ok {
		return p, nil
	}
	p := Payment{PaymentID: uuid.NewString(), OrderID: req.OrderID, Amount: req.Amount}
	b.payments[p.PaymentID] = p
	b.paymentOf[req.OrderID] = p.PaymentID
	return p, nil
}

// RefundPayment refunds a payment. Refunding twice is a no-op.
func (b *Backend) RefundPayment(ctx context.Context, p Payment) (Payment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.begin(RefundPayment); err != nil {
		return Payment{}, err
	}
	if _, ok := b.payments[p.PaymentID]; !ok {
		return Payment{}, durablesaga.NonRetryable(fmt.Errorf("unknown payment %s", p.PaymentID))
	}
	b.refunds[p.PaymentID] = p
	return p, nil
}

// UpdateInventory commits a reservation, taking its items out of stock.
func (b *Backend) UpdateInventory(ctx context.Context, u InventoryUpdate) (InventoryUpdate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.begin(UpdateInventory); err != nil {
		return InventoryUpdate{}, err
	}
	held, ok := b.reservations[u.ReservationID]
	if !ok {
		return InventoryUpdate{}, durablesaga.NonRetryable(fmt.Errorf("unknown reservation %q", u.ReservationID))
	}
	if held.committed {
		return u, nil
	}
	for _, item := range held.Items {
		b.stock[item.SKU] -= item.Quantity
	}
	held.committed = true
	return u, nil
}

// RestoreInventory puts the items of a committed reservation back into
// stock. The reservation is held again until it is released.
func (b *Backend) RestoreInventory(ctx context.Context, u InventoryUpdate) (InventoryUpdate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.begin(RestoreInventory); err != nil {
		return InventoryUpdate{}, err
	}
	held, ok := b.reservations[u.ReservationID]
	if !ok || !held.committed {
		return u, nil
	}
	for _, item := range held.Items {
		b.stock[item.SKU] += item.Quantity
	}
	held.committed = false
	return u, nil
}

// Delivery schedules a shipment. An order has at most one shipment.
func (b *Backend) Delivery(ctx context.Context, req DeliveryRequest) (Shipment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.begin(Delivery); err != nil {
		return Shipment{}, err
	}
	if s, ok := b.shipments[b.shipmentOf[req.OrderID]]; ok {
		return s, nil
	}
	s := Shipment{TrackingID: uuid.NewString(), OrderID: req.OrderID}
	b.shipments[s.TrackingID] = s
	b.shipmentOf[req.OrderID] = s.TrackingID
	return s, nil
}

// CancelDelivery cancels a shipment.
func (b *Backend) CancelDelivery(ctx context.Context, s Shipment) (Shipment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.begin(CancelDelivery); err != nil {
		return Shipment{}, err
	}
	delete(b.shipments, s.TrackingID)
	if b.shipmentOf[s.OrderID] == s.TrackingID {
		delete(b.shipmentOf, s.OrderID)
	}
	return s, nil
}

// available is stock minus what uncommitted reservations hold. The caller
// must hold b.mu.
func (b *Backend) available(sku string) int {
	n := b.stock[sku]
	for _, r := range b.reservations {
		if r.committed {
			continue
		}
		for _, item := range r.Items {
			if item.SKU == sku {
				n -= item.Quantity
			}
		}
	}
	return n
}

// Stock returns the on-hand quantity of sku.
func (b *Backend) Stock(sku string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stock[sku]
}

// Available returns the quantity of sku that can still be reserved.
func (b *Backend) Available(sku string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available(sku)
}

// Charged returns the total captured and not refunded for orderID.
func (b *Backend) Charged(orderID string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	var total int64
	for id, p := range b.payments {
		if p.OrderID != orderID {
			continue
		}
		if _, refunded := b.refunds[id]; !refunded {
			total += p.Amount
		}
	}
	return total
}

// Shipments returns the number of scheduled shipments.
func (b *Backend) Shipments() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.shipments)
}

// Calls returns every activity invocation in the order it happened.
func (b *Backend) Calls() []durablesaga.ActivityName {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]durablesaga.ActivityName, len(b.calls))
	copy(out, b.calls)
	return out
}

// CallCount returns how many times activity was invoked.
func (b *Backend) CallCount(activity durablesaga.ActivityName) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, c := range b.calls {
		if c == activity {
			n++
		}
	}
	return n
}
