// Package order coordinates batch orders: creation with their billing, the
// release of paid orders into the work queues, and item execution.
package order

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"clinicflow/assignment"
	"clinicflow/billing"
	"clinicflow/clinic"
	"clinicflow/money"
)

// SettledHook runs inside the transaction that moves an order to COMPLETED
// or CANCELLED through item work or an order cancel. An error rolls that
// command back. Orders cancelled along with their visit do not settle.
type SettledHook interface {
	OrderSettled(ctx context.Context, tx clinic.Tx, o clinic.BatchOrder) error
}

type Coordinator struct {
	store   clinic.Store
	settled []SettledHook
	now     func() time.Time
	newID   func() uuid.UUID
}

func NewCoordinator(store clinic.Store) *Coordinator {
	return &Coordinator{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.New,
	}
}

func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

func (c *Coordinator) WithIDGenerator(gen func() uuid.UUID) *Coordinator {
	c.newID = gen
	return c
}

func (c *Coordinator) OnSettled(h SettledHook) *Coordinator {
	c.settled = append(c.settled, h)
	return c
}

func (c *Coordinator) settle(ctx context.Context, tx clinic.Tx, o clinic.BatchOrder) error {
	for _, h := range c.settled {
		if err := h.OrderSettled(ctx, tx, o); err != nil {
			return err
		}
	}
	return nil
}

type ItemParams struct {
	ServiceReferenceID string
	Kind               clinic.ServiceKind
	Quantity           int
	UnitPrice          money.Amount
}

type CreateParams struct {
	VisitID            uuid.UUID
	OrderingProviderID uuid.UUID
	Items              []ItemParams
}

func (p CreateParams) validate() error {
	if p.VisitID == uuid.Nil {
		return clinic.Errorf(clinic.ErrValidation, "order: visit id required")
	}
	if len(p.Items) == 0 {
		return clinic.Errorf(clinic.ErrValidation, "order: at least one item required")
	}
	for i, it := range p.Items {
		if strings.TrimSpace(it.ServiceReferenceID) == "" {
			return clinic.Errorf(clinic.ErrValidation, "order: item %d: service reference required", i)
		}
		if !it.Kind.Valid() {
			return clinic.Errorf(clinic.ErrValidation, "order: item %d: unknown kind %q", i, it.Kind)
		}
		if it.Quantity < 1 {
			return clinic.Errorf(clinic.ErrValidation, "order: item %d: quantity must be at least 1", i)
		}
		if it.UnitPrice.IsNegative() {
			return clinic.Errorf(clinic.ErrValidation, "order: item %d: negative unit price", i)
		}
	}
	return nil
}

// Total prices the items, rejecting overflow.
func (p CreateParams) Total() (money.Amount, error) {
	var total money.Amount
	for i, it := range p.Items {
		line, err := it.UnitPrice.Mul(it.Quantity)
		if err != nil {
			return 0, clinic.Errorf(clinic.ErrValidation, "order: item %d: %w", i, err)
		}
		if total, err = total.Add(line); err != nil {
			return 0, clinic.Errorf(clinic.ErrValidation, "order: total: %w", err)
		}
	}
	return total, nil
}

type Created struct {
	Order   clinic.BatchOrder
	Billing clinic.Billing
}

// Create stores an UNPAID order, its PENDING items and the ORDER billing
// that gates them. A zero-priced order is released immediately.
func (c *Coordinator) Create(ctx context.Context, actor clinic.Actor, params CreateParams) (Created, error) {
	if err := params.validate(); err != nil {
		return Created{}, err
	}
	total, err := params.Total()
	if err != nil {
		return Created{}, err
	}
	provider := params.OrderingProviderID
	if provider == uuid.Nil {
		provider = actor.ID
	}

	var out Created
	err = c.store.InTx(ctx, func(tx clinic.Tx) error {
		visit, err := tx.LockVisit(ctx, params.VisitID)
		if err != nil {
			return err
		}
		if visit.Status != clinic.VisitUnderDoctorReview && visit.Status != clinic.VisitAwaitingResultsReview {
			return clinic.Errorf(clinic.ErrGuardNotSatisfied, "order: visit %s is %s, orders need doctor review", visit.ID, visit.Status)
		}

		now := c.now()
		orderID := c.newID()
		bill := billing.NewBilling(c.newID(), visit, clinic.PurposeOrder, &orderID, total, now)

		kinds := make([]clinic.ServiceKind, len(params.Items))
		items := make([]clinic.ServiceOrderItem, len(params.Items))
		for i, it := range params.Items {
			kinds[i] = it.Kind
			items[i] = clinic.ServiceOrderItem{
				ID:                 c.newID(),
				BatchOrderID:       orderID,
				ServiceReferenceID: strings.TrimSpace(it.ServiceReferenceID),
				Kind:               it.Kind,
				Quantity:           it.Quantity,
				UnitPrice:          it.UnitPrice,
				Status:             clinic.ItemPending,
				UpdatedAt:          now,
			}
		}
		o := clinic.BatchOrder{
			ID:                 orderID,
			VisitID:            visit.ID,
			PatientID:          visit.PatientID,
			OrderingProviderID: provider,
			Kind:               clinic.KindFor(kinds),
			Status:             clinic.OrderUnpaid,
			BillingID:          bill.ID,
			Items:              items,
			CreatedAt:          now,
			UpdatedAt:          now,
		}

		if err := tx.InsertBilling(ctx, bill); err != nil {
			return err
		}
		if err := tx.InsertBatchOrder(ctx, o); err != nil {
			return err
		}
		if _, err := tx.AppendEvent(ctx, clinic.NewEvent(visit.ID, clinic.EventOrderCreated, actor, map[string]any{
			"order_id":   o.ID.String(),
			"billing_id": bill.ID.String(),
			"kind":       string(o.Kind),
			"items":      len(items),
			"total":      total.String(),
		}, now)); err != nil {
			return err
		}

		if bill.Status == clinic.BillingPaid {
			if o, err = c.release(ctx, tx, o, actor, now); err != nil {
				return err
			}
		}
		out = Created{Order: o, Billing: bill}
		return nil
	})
	return out, err
}

// BillingPaid releases the order gated by b. It satisfies billing.PaidHook.
func (c *Coordinator) BillingPaid(ctx context.Context, tx clinic.Tx, b clinic.Billing, actor clinic.Actor) error {
	if b.Purpose != clinic.PurposeOrder || b.BatchOrderID == nil {
		return nil
	}
	return c.OnBillingPaid(ctx, tx, b.ID, actor)
}

// OnBillingPaid moves the order gated by billingID from UNPAID to QUEUED.
// The billing is re-read inside tx; anything but PAID is refused, and the
// order must point back at the billing.
func (c *Coordinator) OnBillingPaid(ctx context.Context, tx clinic.Tx, billingID uuid.UUID, actor clinic.Actor) error {
	b, err := tx.GetBilling(ctx, billingID)
	if err != nil {
		return err
	}
	if b.Status != clinic.BillingPaid {
		return clinic.Errorf(clinic.ErrGuardNotSatisfied, "order: billing %s is %s", b.ID, b.Status)
	}
	peek, err := tx.BatchOrderByBilling(ctx, b.ID)
	switch {
	case errors.Is(err, clinic.ErrNotFound):
		return clinic.Errorf(clinic.ErrValidation, "order: billing %s gates no order", b.ID)
	case err != nil:
		return err
	}
	if b.BatchOrderID == nil || *b.BatchOrderID != peek.ID {
		return clinic.Errorf(clinic.ErrStorage, "order: billing %s and order %s are not linked both ways", b.ID, peek.ID)
	}
	o, err := tx.LockBatchOrder(ctx, peek.ID)
	if err != nil {
		return err
	}
	if o.Status != clinic.OrderUnpaid {
		return nil
	}
	_, err = c.release(ctx, tx, o, actor, c.now())
	return err
}

func (c *Coordinator) release(ctx context.Context, tx clinic.Tx, o clinic.BatchOrder, actor clinic.Actor, now time.Time) (clinic.BatchOrder, error) {
	return c.setStatus(ctx, tx, o, clinic.OrderQueued, actor, now, nil)
}

func (c *Coordinator) setStatus(ctx context.Context, tx clinic.Tx, o clinic.BatchOrder, status clinic.OrderStatus, actor clinic.Actor, now time.Time, extra map[string]any) (clinic.BatchOrder, error) {
	previous := o.Status
	o.Status = status
	o.UpdatedAt = now
	saved, err := tx.UpdateBatchOrder(ctx, o)
	if err != nil {
		return clinic.BatchOrder{}, err
	}
	saved.Items = o.Items

	payload := map[string]any{
		"order_id": o.ID.String(),
		"from":     string(previous),
		"to":       string(status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	if _, err := tx.AppendEvent(ctx, clinic.NewEvent(o.VisitID, clinic.EventOrderStatusChanged, actor, payload, now)); err != nil {
		return clinic.BatchOrder{}, err
	}
	return saved, nil
}

// Result is the outcome of an item operation. Changed is false when the call
// found the item already in the requested state.
type Result struct {
	Order   clinic.BatchOrder
	Item    clinic.ServiceOrderItem
	Changed bool
}

// StartItem moves a PENDING item to IN_PROGRESS.
func (c *Coordinator) StartItem(ctx context.Context, actor clinic.Actor, itemID uuid.UUID) (Result, error) {
	if itemID == uuid.Nil {
		return Result{}, clinic.Errorf(clinic.ErrValidation, "order: item id required")
	}
	var out Result
	err := c.store.InTx(ctx, func(tx clinic.Tx) error {
		o, item, err := c.lockItem(ctx, tx, actor, itemID)
		if err != nil {
			return err
		}
		switch item.Status {
		case clinic.ItemInProgress:
			out = Result{Order: o, Item: item}
			return nil
		case clinic.ItemCompleted, clinic.ItemCancelled:
			return clinic.Errorf(clinic.ErrInvalidTransition, "order: item %s is %s", item.ID, item.Status)
		}

		res, err := c.applyItem(ctx, tx, actor, o, item, clinic.ItemInProgress, nil)
		out = res
		return err
	})
	return out, err
}

type CompleteParams struct {
	ItemID          uuid.UUID
	Outcome         clinic.ItemStatus
	ResultReference string
}

func (p CompleteParams) validate() error {
	if p.ItemID == uuid.Nil {
		return clinic.Errorf(clinic.ErrValidation, "order: item id required")
	}
	if p.Outcome != clinic.ItemCompleted && p.Outcome != clinic.ItemCancelled {
		return clinic.Errorf(clinic.ErrValidation, "order: outcome must be COMPLETED or CANCELLED, got %q", p.Outcome)
	}
	return nil
}

// CompleteItem finishes an item and re-aggregates its order. Completing an
// item that is already terminal returns the current state unchanged. When
// the order settles the settled hooks run in the same transaction.
func (c *Coordinator) CompleteItem(ctx context.Context, actor clinic.Actor, params CompleteParams) (Result, error) {
	if params.Outcome == "" {
		params.Outcome = clinic.ItemCompleted
	}
	if err := params.validate(); err != nil {
		return Result{}, err
	}

	var out Result
	err := c.store.InTx(ctx, func(tx clinic.Tx) error {
		o, item, err := c.lockItem(ctx, tx, actor, params.ItemID)
		if err != nil {
			return err
		}
		if item.Status.Terminal() {
			out = Result{Order: o, Item: item}
			return nil
		}

		var ref *string
		if r := strings.TrimSpace(params.ResultReference); r != "" {
			ref = &r
		}
		res, err := c.applyItem(ctx, tx, actor, o, item, params.Outcome, ref)
		if err != nil {
			return err
		}
		if res.Order.Status.Terminal() && !o.Status.Terminal() {
			if err := c.settle(ctx, tx, res.Order); err != nil {
				return err
			}
		}
		out = res
		return nil
	})
	return out, err
}

// lockItem takes the visit lock and then the order lock, and refuses work on
// orders that have not been paid or by actors outside the item's department.
func (c *Coordinator) lockItem(ctx context.Context, tx clinic.Tx, actor clinic.Actor, itemID uuid.UUID) (clinic.BatchOrder, clinic.ServiceOrderItem, error) {
	peek, err := tx.GetItem(ctx, itemID)
	if err != nil {
		return clinic.BatchOrder{}, clinic.ServiceOrderItem{}, err
	}
	parent, err := tx.GetBatchOrder(ctx, peek.BatchOrderID)
	if err != nil {
		return clinic.BatchOrder{}, clinic.ServiceOrderItem{}, err
	}
	if _, err := tx.LockVisit(ctx, parent.VisitID); err != nil {
		return clinic.BatchOrder{}, clinic.ServiceOrderItem{}, err
	}
	o, err := tx.LockBatchOrder(ctx, parent.ID)
	if err != nil {
		return clinic.BatchOrder{}, clinic.ServiceOrderItem{}, err
	}
	item, ok := o.Item(itemID)
	if !ok {
		return clinic.BatchOrder{}, clinic.ServiceOrderItem{}, clinic.Errorf(clinic.ErrNotFound, "order: item %s", itemID)
	}
	if o.Status == clinic.OrderUnpaid {
		return clinic.BatchOrder{}, clinic.ServiceOrderItem{}, clinic.Errorf(clinic.ErrGuardNotSatisfied, "order: batch order %s is not paid", o.ID)
	}
	if err := mayWork(ctx, tx, actor, o.VisitID, item); err != nil {
		return clinic.BatchOrder{}, clinic.ServiceOrderItem{}, err
	}
	return o, item, nil
}

// mayWork checks that actor's department performs item. A nurse item held by
// an assignment belongs to the assigned nurse only.
func mayWork(ctx context.Context, tx clinic.Tx, actor clinic.Actor, visitID uuid.UUID, item clinic.ServiceOrderItem) error {
	if actor.Is(clinic.RoleAdmin, clinic.RoleSystem) {
		return nil
	}
	kind, ok := actor.Role.ServiceKind()
	if !ok || kind != item.Kind {
		return clinic.Errorf(clinic.ErrGuardNotSatisfied, "order: role %s does not perform %s item %s", actor.Role, item.Kind, item.ID)
	}
	if item.Kind != clinic.ServiceNurse {
		return nil
	}
	a, err := tx.ActiveAssignment(ctx, visitID, &item.ID)
	switch {
	case errors.Is(err, clinic.ErrNotFound):
		return nil
	case err != nil:
		return err
	case a.ProviderID != actor.ID:
		return clinic.Errorf(clinic.ErrGuardNotSatisfied, "order: item %s is assigned to another nurse", item.ID)
	}
	return nil
}

func (c *Coordinator) applyItem(ctx context.Context, tx clinic.Tx, actor clinic.Actor, o clinic.BatchOrder, item clinic.ServiceOrderItem, status clinic.ItemStatus, ref *string) (Result, error) {
	now := c.now()
	previous := item.Status
	item.Status = status
	item.UpdatedAt = now
	if status.Terminal() {
		item.ResultReference = ref
		item.CompletedBy = actor.Ref()
		done := now
		item.CompletedAt = &done
	}
	if err := tx.UpdateItem(ctx, item); err != nil {
		return Result{}, err
	}
	if status.Terminal() {
		if err := assignment.CloseItem(ctx, tx, o.VisitID, item.ID, now); err != nil {
			return Result{}, err
		}
	}
	for i := range o.Items {
		if o.Items[i].ID == item.ID {
			o.Items[i] = item
		}
	}

	payload := map[string]any{
		"order_id": o.ID.String(),
		"item_id":  item.ID.String(),
		"from":     string(previous),
		"to":       string(status),
	}
	if ref != nil {
		payload["result_reference"] = *ref
	}
	if _, err := tx.AppendEvent(ctx, clinic.NewEvent(o.VisitID, clinic.EventItemStatusChanged, actor, payload, now)); err != nil {
		return Result{}, err
	}

	if next := Aggregate(o.Status, o.Items); next != o.Status {
		saved, err := c.setStatus(ctx, tx, o, next, actor, now, nil)
		if err != nil {
			return Result{}, err
		}
		o = saved
	}
	return Result{Order: o, Item: item, Changed: true}, nil
}

// Cancel cancels a non-terminal order and its open items, then runs the
// settled hooks. Cancelling a cancelled order is a no-op; a completed one
// cannot be cancelled.
func (c *Coordinator) Cancel(ctx context.Context, actor clinic.Actor, orderID uuid.UUID, reason string) (clinic.BatchOrder, error) {
	var out clinic.BatchOrder
	err := c.store.InTx(ctx, func(tx clinic.Tx) error {
		peek, err := tx.GetBatchOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if _, err := tx.LockVisit(ctx, peek.VisitID); err != nil {
			return err
		}
		o, err := tx.LockBatchOrder(ctx, orderID)
		if err != nil {
			return err
		}
		switch o.Status {
		case clinic.OrderCancelled:
			out = o
			return nil
		case clinic.OrderCompleted:
			return clinic.Errorf(clinic.ErrInvalidTransition, "order: batch order %s is completed", o.ID)
		}
		if out, err = c.cancel(ctx, tx, o, actor, reason, c.now()); err != nil {
			return err
		}
		return c.settle(ctx, tx, out)
	})
	return out, err
}

// CancelOpenTx cancels every non-terminal order of a visit inside tx. The
// caller holds the visit lock. Settled hooks do not run.
func (c *Coordinator) CancelOpenTx(ctx context.Context, tx clinic.Tx, visitID uuid.UUID, actor clinic.Actor, reason string) error {
	orders, err := tx.ListBatchOrdersByVisit(ctx, visitID)
	if err != nil {
		return err
	}
	now := c.now()
	for _, peek := range orders {
		if peek.Status.Terminal() {
			continue
		}
		o, err := tx.LockBatchOrder(ctx, peek.ID)
		if err != nil {
			return err
		}
		if o.Status.Terminal() {
			continue
		}
		if _, err := c.cancel(ctx, tx, o, actor, reason, now); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) cancel(ctx context.Context, tx clinic.Tx, o clinic.BatchOrder, actor clinic.Actor, reason string, now time.Time) (clinic.BatchOrder, error) {
	for i, it := range o.Items {
		if it.Status.Terminal() {
			continue
		}
		it.Status = clinic.ItemCancelled
		it.UpdatedAt = now
		done := now
		it.CompletedAt = &done
		it.CompletedBy = actor.Ref()
		if err := tx.UpdateItem(ctx, it); err != nil {
			return clinic.BatchOrder{}, err
		}
		if err := assignment.CloseItem(ctx, tx, o.VisitID, it.ID, now); err != nil {
			return clinic.BatchOrder{}, err
		}
		o.Items[i] = it
	}
	var extra map[string]any
	if reason = strings.TrimSpace(reason); reason != "" {
		extra = map[string]any{"reason": reason}
	}
	return c.setStatus(ctx, tx, o, clinic.OrderCancelled, actor, now, extra)
}

// Get returns an order with its items.
func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (clinic.BatchOrder, error) {
	var out clinic.BatchOrder
	err := c.store.View(ctx, func(tx clinic.Tx) error {
		o, err := tx.GetBatchOrder(ctx, id)
		out = o
		return err
	})
	return out, err
}
