package clinic

import (
	"context"

	"github.com/google/uuid"

	"clinicflow/money"
)

// Store runs units of work. InTx commits when fn returns nil and rolls back
// otherwise; View runs fn against a consistent read-only snapshot.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}

// Tx is the repository surface available inside a unit of work. Lock*
// methods hold the row until the unit of work ends.
type Tx interface {
	VisitRepository
	BillingRepository
	OrderRepository
	AssignmentRepository
	EventRepository

	// OpenWork returns every non-terminal visit with its billings, orders
	// and active assignments.
	OpenWork(ctx context.Context) (Snapshot, error)
}

type VisitRepository interface {
	InsertVisit(ctx context.Context, v Visit) error
	GetVisit(ctx context.Context, id uuid.UUID) (Visit, error)
	LockVisit(ctx context.Context, id uuid.UUID) (Visit, error)
	// UpdateVisit writes v when the stored version equals v.Version and
	// returns the row with its version incremented.
	UpdateVisit(ctx context.Context, v Visit) (Visit, error)
}

type BillingRepository interface {
	InsertBilling(ctx context.Context, b Billing) error
	GetBilling(ctx context.Context, id uuid.UUID) (Billing, error)
	LockBilling(ctx context.Context, id uuid.UUID) (Billing, error)
	UpdateBilling(ctx context.Context, b Billing) error
	ListBillingsByVisit(ctx context.Context, visitID uuid.UUID) ([]Billing, error)

	// InsertPayment returns ErrDuplicateKey when the idempotency key is taken.
	InsertPayment(ctx context.Context, p BillPayment) error
	ListPayments(ctx context.Context, billingID uuid.UUID) ([]BillPayment, error)
	PaymentByIdempotencyKey(ctx context.Context, key string) (BillPayment, error)
}

type OrderRepository interface {
	// InsertBatchOrder stores the order together with its items.
	InsertBatchOrder(ctx context.Context, o BatchOrder) error
	GetBatchOrder(ctx context.Context, id uuid.UUID) (BatchOrder, error)
	LockBatchOrder(ctx context.Context, id uuid.UUID) (BatchOrder, error)
	BatchOrderByBilling(ctx context.Context, billingID uuid.UUID) (BatchOrder, error)
	// UpdateBatchOrder writes the order status under the same version rule
	// as UpdateVisit. Items are written with UpdateItem.
	UpdateBatchOrder(ctx context.Context, o BatchOrder) (BatchOrder, error)
	ListBatchOrdersByVisit(ctx context.Context, visitID uuid.UUID) ([]BatchOrder, error)

	GetItem(ctx context.Context, id uuid.UUID) (ServiceOrderItem, error)
	UpdateItem(ctx context.Context, item ServiceOrderItem) error
}

type AssignmentRepository interface {
	InsertAssignment(ctx context.Context, a Assignment) error
	GetAssignment(ctx context.Context, id uuid.UUID) (Assignment, error)
	// ActiveAssignment returns ErrNotFound when the subject has none.
	ActiveAssignment(ctx context.Context, visitID uuid.UUID, itemID *uuid.UUID) (Assignment, error)
	UpdateAssignment(ctx context.Context, a Assignment) error
}

type EventRepository interface {
	// AppendEvent assigns the next per-visit sequence number.
	AppendEvent(ctx context.Context, e Event) (Event, error)
	ListEvents(ctx context.Context, visitID uuid.UUID, limit, offset int) ([]Event, int, error)
}

// Snapshot is the read model queues are computed from.
type Snapshot struct {
	Visits      []Visit
	Billings    map[uuid.UUID][]Billing
	Orders      map[uuid.UUID][]BatchOrder
	Assignments map[uuid.UUID][]Assignment
	// Paid is the ledger sum of every billing in Billings that is not PAID.
	Paid map[uuid.UUID]money.Amount
}

// ActiveVisitAssignment returns the visit-level ACTIVE assignment of visitID.
func (s Snapshot) ActiveVisitAssignment(visitID uuid.UUID) (Assignment, bool) {
	for _, a := range s.Assignments[visitID] {
		if a.Status == AssignmentActive && a.VisitLevel() {
			return a, true
		}
	}
	return Assignment{}, false
}

// ActiveItemAssignment returns the ACTIVE assignment of one item.
func (s Snapshot) ActiveItemAssignment(visitID, itemID uuid.UUID) (Assignment, bool) {
	for _, a := range s.Assignments[visitID] {
		if a.Status == AssignmentActive && a.ItemID != nil && *a.ItemID == itemID {
			return a, true
		}
	}
	return Assignment{}, false
}
