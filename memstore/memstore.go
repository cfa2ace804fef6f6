// Package memstore provides an in-memory transactional clinic.Store. Each
// unit of work runs against a private copy of the state under a single
// writer lock; the copy replaces the live state only when the unit of work
// succeeds, so a failed command leaves no trace.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"clinicflow/clinic"
	"clinicflow/money"
)

var errReadOnly = errors.New("memstore: write attempted in read-only view")

type state struct {
	visits      map[uuid.UUID]clinic.Visit
	billings    map[uuid.UUID]clinic.Billing
	payments    map[uuid.UUID][]clinic.BillPayment
	paymentKeys map[string]clinic.BillPayment
	orders      map[uuid.UUID]clinic.BatchOrder
	orderItems  map[uuid.UUID][]uuid.UUID
	items       map[uuid.UUID]clinic.ServiceOrderItem
	assignments map[uuid.UUID]clinic.Assignment
	events      map[uuid.UUID][]clinic.Event
}

func newState() state {
	return state{
		visits:      map[uuid.UUID]clinic.Visit{},
		billings:    map[uuid.UUID]clinic.Billing{},
		payments:    map[uuid.UUID][]clinic.BillPayment{},
		paymentKeys: map[string]clinic.BillPayment{},
		orders:      map[uuid.UUID]clinic.BatchOrder{},
		orderItems:  map[uuid.UUID][]uuid.UUID{},
		items:       map[uuid.UUID]clinic.ServiceOrderItem{},
		assignments: map[uuid.UUID]clinic.Assignment{},
		events:      map[uuid.UUID][]clinic.Event{},
	}
}

func (s state) clone() state {
	c := newState()
	for k, v := range s.visits {
		c.visits[k] = v
	}
	for k, v := range s.billings {
		c.billings[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = append([]clinic.BillPayment(nil), v...)
	}
	for k, v := range s.paymentKeys {
		c.paymentKeys[k] = v
	}
	for k, v := range s.orders {
		v.Items = nil
		c.orders[k] = v
	}
	for k, v := range s.orderItems {
		c.orderItems[k] = append([]uuid.UUID(nil), v...)
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.assignments {
		c.assignments[k] = v
	}
	for k, v := range s.events {
		c.events[k] = append([]clinic.Event(nil), v...)
	}
	return c
}

// Store is safe for concurrent use. Units of work are serialised.
type Store struct {
	mu    sync.RWMutex
	state state
}

func New() *Store {
	return &Store{state: newState()}
}

func (s *Store) InTx(ctx context.Context, fn func(clinic.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return clinic.StorageError("memstore: begin", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &tx{st: s.state.clone(), writable: true}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return clinic.StorageError("memstore: commit", err)
	}
	s.state = tx.st
	return nil
}

func (s *Store) View(ctx context.Context, fn func(clinic.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return clinic.StorageError("memstore: begin view", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&tx{st: s.state})
}

type tx struct {
	st       state
	writable bool
}

func (t *tx) write(op string) error {
	if !t.writable {
		return clinic.StorageError(op, errReadOnly)
	}
	return nil
}

func (t *tx) InsertVisit(_ context.Context, v clinic.Visit) error {
	if err := t.write("memstore: insert visit"); err != nil {
		return err
	}
	if _, ok := t.st.visits[v.ID]; ok {
		return clinic.ErrDuplicateKey
	}
	t.st.visits[v.ID] = v
	return nil
}

func (t *tx) GetVisit(_ context.Context, id uuid.UUID) (clinic.Visit, error) {
	v, ok := t.st.visits[id]
	if !ok {
		return clinic.Visit{}, clinic.Errorf(clinic.ErrNotFound, "visit %s not found", id)
	}
	return v, nil
}

func (t *tx) LockVisit(ctx context.Context, id uuid.UUID) (clinic.Visit, error) {
	return t.GetVisit(ctx, id)
}

func (t *tx) UpdateVisit(_ context.Context, v clinic.Visit) (clinic.Visit, error) {
	if err := t.write("memstore: update visit"); err != nil {
		return clinic.Visit{}, err
	}
	cur, ok := t.st.visits[v.ID]
	if !ok {
		return clinic.Visit{}, clinic.Errorf(clinic.ErrNotFound, "visit %s not found", v.ID)
	}
	if cur.Version != v.Version {
		return clinic.Visit{}, clinic.Errorf(clinic.ErrConcurrencyConflict, "visit %s was modified concurrently", v.ID)
	}
	v.Version++
	t.st.visits[v.ID] = v
	return v, nil
}

func (t *tx) InsertBilling(_ context.Context, b clinic.Billing) error {
	if err := t.write("memstore: insert billing"); err != nil {
		return err
	}
	if _, ok := t.st.billings[b.ID]; ok {
		return clinic.ErrDuplicateKey
	}
	t.st.billings[b.ID] = b
	return nil
}

func (t *tx) GetBilling(_ context.Context, id uuid.UUID) (clinic.Billing, error) {
	b, ok := t.st.billings[id]
	if !ok {
		return clinic.Billing{}, clinic.Errorf(clinic.ErrNotFound, "billing %s not found", id)
	}
	return b, nil
}

func (t *tx) LockBilling(ctx context.Context, id uuid.UUID) (clinic.Billing, error) {
	return t.GetBilling(ctx, id)
}

func (t *tx) UpdateBilling(_ context.Context, b clinic.Billing) error {
	if err := t.write("memstore: update billing"); err != nil {
		return err
	}
	if _, ok := t.st.billings[b.ID]; !ok {
		return clinic.Errorf(clinic.ErrNotFound, "billing %s not found", b.ID)
	}
	t.st.billings[b.ID] = b
	return nil
}

func (t *tx) ListBillingsByVisit(_ context.Context, visitID uuid.UUID) ([]clinic.Billing, error) {
	var out []clinic.Billing
	for _, b := range t.st.billings {
		if b.VisitID == visitID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessByTime(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (t *tx) InsertPayment(_ context.Context, p clinic.BillPayment) error {
	if err := t.write("memstore: insert payment"); err != nil {
		return err
	}
	if p.IdempotencyKey != nil {
		if _, ok := t.st.paymentKeys[*p.IdempotencyKey]; ok {
			return clinic.ErrDuplicateKey
		}
		t.st.paymentKeys[*p.IdempotencyKey] = p
	}
	t.st.payments[p.BillingID] = append(t.st.payments[p.BillingID], p)
	return nil
}

func (t *tx) ListPayments(_ context.Context, billingID uuid.UUID) ([]clinic.BillPayment, error) {
	return append([]clinic.BillPayment(nil), t.st.payments[billingID]...), nil
}

func (t *tx) PaymentByIdempotencyKey(_ context.Context, key string) (clinic.BillPayment, error) {
	p, ok := t.st.paymentKeys[key]
	if !ok {
		return clinic.BillPayment{}, clinic.Errorf(clinic.ErrNotFound, "payment with key %q not found", key)
	}
	return p, nil
}

func (t *tx) InsertBatchOrder(_ context.Context, o clinic.BatchOrder) error {
	if err := t.write("memstore: insert batch order"); err != nil {
		return err
	}
	if _, ok := t.st.orders[o.ID]; ok {
		return clinic.ErrDuplicateKey
	}
	ids := make([]uuid.UUID, 0, len(o.Items))
	for _, it := range o.Items {
		if _, ok := t.st.items[it.ID]; ok {
			return clinic.ErrDuplicateKey
		}
		t.st.items[it.ID] = it
		ids = append(ids, it.ID)
	}
	o.Items = nil
	t.st.orders[o.ID] = o
	t.st.orderItems[o.ID] = ids
	return nil
}

func (t *tx) withItems(o clinic.BatchOrder) clinic.BatchOrder {
	ids := t.st.orderItems[o.ID]
	o.Items = make([]clinic.ServiceOrderItem, 0, len(ids))
	for _, id := range ids {
		o.Items = append(o.Items, t.st.items[id])
	}
	return o
}

func (t *tx) GetBatchOrder(_ context.Context, id uuid.UUID) (clinic.BatchOrder, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return clinic.BatchOrder{}, clinic.Errorf(clinic.ErrNotFound, "batch order %s not found", id)
	}
	return t.withItems(o), nil
}

func (t *tx) LockBatchOrder(ctx context.Context, id uuid.UUID) (clinic.BatchOrder, error) {
	return t.GetBatchOrder(ctx, id)
}

func (t *tx) BatchOrderByBilling(_ context.Context, billingID uuid.UUID) (clinic.BatchOrder, error) {
	for _, o := range t.st.orders {
		if o.BillingID == billingID {
			return t.withItems(o), nil
		}
	}
	return clinic.BatchOrder{}, clinic.Errorf(clinic.ErrNotFound, "no batch order for billing %s", billingID)
}

func (t *tx) UpdateBatchOrder(_ context.Context, o clinic.BatchOrder) (clinic.BatchOrder, error) {
	if err := t.write("memstore: update batch order"); err != nil {
		return clinic.BatchOrder{}, err
	}
	cur, ok := t.st.orders[o.ID]
	if !ok {
		return clinic.BatchOrder{}, clinic.Errorf(clinic.ErrNotFound, "batch order %s not found", o.ID)
	}
	if cur.Version != o.Version {
		return clinic.BatchOrder{}, clinic.Errorf(clinic.ErrConcurrencyConflict, "batch order %s was modified concurrently", o.ID)
	}
	o.Version++
	stored := o
	stored.Items = nil
	t.st.orders[o.ID] = stored
	return t.withItems(stored), nil
}

func (t *tx) ListBatchOrdersByVisit(_ context.Context, visitID uuid.UUID) ([]clinic.BatchOrder, error) {
	var out []clinic.BatchOrder
	for _, o := range t.st.orders {
		if o.VisitID == visitID {
			out = append(out, t.withItems(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessByTime(out[i].CreatedAt, out[j].CreatedAt, out[i].ID, out[j].ID) })
	return out, nil
}

func (t *tx) GetItem(_ context.Context, id uuid.UUID) (clinic.ServiceOrderItem, error) {
	it, ok := t.st.items[id]
	if !ok {
		return clinic.ServiceOrderItem{}, clinic.Errorf(clinic.ErrNotFound, "order item %s not found", id)
	}
	return it, nil
}

func (t *tx) UpdateItem(_ context.Context, item clinic.ServiceOrderItem) error {
	if err := t.write("memstore: update item"); err != nil {
		return err
	}
	if _, ok := t.st.items[item.ID]; !ok {
		return clinic.Errorf(clinic.ErrNotFound, "order item %s not found", item.ID)
	}
	t.st.items[item.ID] = item
	return nil
}

func (t *tx) InsertAssignment(_ context.Context, a clinic.Assignment) error {
	if err := t.write("memstore: insert assignment"); err != nil {
		return err
	}
	if a.Status == clinic.AssignmentActive {
		for _, cur := range t.st.assignments {
			if cur.Status == clinic.AssignmentActive && sameSubject(cur, a) {
				return clinic.ErrDuplicateKey
			}
		}
	}
	t.st.assignments[a.ID] = a
	return nil
}

func (t *tx) GetAssignment(_ context.Context, id uuid.UUID) (clinic.Assignment, error) {
	a, ok := t.st.assignments[id]
	if !ok {
		return clinic.Assignment{}, clinic.Errorf(clinic.ErrNotFound, "assignment %s not found", id)
	}
	return a, nil
}

func (t *tx) ActiveAssignment(_ context.Context, visitID uuid.UUID, itemID *uuid.UUID) (clinic.Assignment, error) {
	want := clinic.Assignment{VisitID: visitID, ItemID: itemID}
	for _, a := range t.st.assignments {
		if a.Status == clinic.AssignmentActive && sameSubject(a, want) {
			return a, nil
		}
	}
	return clinic.Assignment{}, clinic.Errorf(clinic.ErrNotFound, "no active assignment for visit %s", visitID)
}

func (t *tx) UpdateAssignment(_ context.Context, a clinic.Assignment) error {
	if err := t.write("memstore: update assignment"); err != nil {
		return err
	}
	if _, ok := t.st.assignments[a.ID]; !ok {
		return clinic.Errorf(clinic.ErrNotFound, "assignment %s not found", a.ID)
	}
	t.st.assignments[a.ID] = a
	return nil
}

func (t *tx) AppendEvent(_ context.Context, e clinic.Event) (clinic.Event, error) {
	if err := t.write("memstore: append event"); err != nil {
		return clinic.Event{}, err
	}
	e.Seq = int64(len(t.st.events[e.VisitID]) + 1)
	t.st.events[e.VisitID] = append(t.st.events[e.VisitID], e)
	return e, nil
}

func (t *tx) ListEvents(_ context.Context, visitID uuid.UUID, limit, offset int) ([]clinic.Event, int, error) {
	all := t.st.events[visitID]
	total := len(all)
	if offset >= total {
		return []clinic.Event{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return append([]clinic.Event(nil), all[offset:end]...), total, nil
}

func (t *tx) OpenWork(ctx context.Context) (clinic.Snapshot, error) {
	snap := clinic.Snapshot{
		Billings:    map[uuid.UUID][]clinic.Billing{},
		Orders:      map[uuid.UUID][]clinic.BatchOrder{},
		Assignments: map[uuid.UUID][]clinic.Assignment{},
		Paid:        map[uuid.UUID]money.Amount{},
	}
	for _, v := range t.st.visits {
		if !v.Status.Terminal() {
			snap.Visits = append(snap.Visits, v)
		}
	}
	sort.Slice(snap.Visits, func(i, j int) bool {
		return lessByTime(snap.Visits[i].CreatedAt, snap.Visits[j].CreatedAt, snap.Visits[i].ID, snap.Visits[j].ID)
	})
	for _, v := range snap.Visits {
		billings, _ := t.ListBillingsByVisit(ctx, v.ID)
		orders, _ := t.ListBatchOrdersByVisit(ctx, v.ID)
		snap.Billings[v.ID] = billings
		snap.Orders[v.ID] = orders
		for _, b := range billings {
			if b.Status == clinic.BillingPaid {
				continue
			}
			var paid money.Amount
			for _, p := range t.st.payments[b.ID] {
				paid += p.Amount
			}
			snap.Paid[b.ID] = paid
		}
	}
	for _, a := range t.st.assignments {
		if a.Status != clinic.AssignmentActive {
			continue
		}
		if _, open := snap.Billings[a.VisitID]; open {
			snap.Assignments[a.VisitID] = append(snap.Assignments[a.VisitID], a)
		}
	}
	return snap, nil
}

func sameSubject(a, b clinic.Assignment) bool {
	if a.VisitID != b.VisitID {
		return false
	}
	if a.ItemID == nil || b.ItemID == nil {
		return a.ItemID == nil && b.ItemID == nil
	}
	return *a.ItemID == *b.ItemID
}

func lessByTime(a, b time.Time, aID, bID uuid.UUID) bool {
	if !a.Equal(b) {
		return a.Before(b)
	}
	return aID.String() < bID.String()
}
