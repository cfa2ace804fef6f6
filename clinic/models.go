// Package clinic holds the entities, status vocabularies and storage
// contracts shared by the visit, billing, order and queue packages.
//
// The types here mirror the database rows and carry no JSON annotations so
// they can be reused by different presentation layers.
package clinic

import (
	"time"

	"github.com/google/uuid"

	"clinicflow/money"
)

// Visit is one clinical episode of a patient.
type Visit struct {
	ID           uuid.UUID
	PatientID    uuid.UUID
	Status       VisitStatus
	QueueType    QueueType
	AssignmentID *uuid.UUID
	Version      int
	CancelReason *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// NewVisit returns a REGISTERED visit.
func NewVisit(id, patientID uuid.UUID, now time.Time) Visit {
	v := Visit{
		ID:        id,
		PatientID: patientID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	v.SetStatus(VisitRegistered, now)
	return v
}

// SetStatus is the only mutator of Status and QueueType; both move together.
func (v *Visit) SetStatus(s VisitStatus, now time.Time) {
	v.Status = s
	v.QueueType = DeriveQueueType(s)
	v.UpdatedAt = now
	if s == VisitCompleted {
		t := now
		v.CompletedAt = &t
	}
}

// Billing is a payable amount for a visit, an order, or a fee.
type Billing struct {
	ID           uuid.UUID
	VisitID      uuid.UUID
	PatientID    uuid.UUID
	Purpose      BillingPurpose
	BatchOrderID *uuid.UUID
	TotalAmount  money.Amount
	Status       BillingStatus
	PaidAt       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BillPayment is one append-only ledger entry against a Billing.
type BillPayment struct {
	ID             uuid.UUID
	BillingID      uuid.UUID
	Amount         money.Amount
	Method         PaymentMethod
	InsuranceRef   *string
	IdempotencyKey *string
	RecordedBy     uuid.UUID
	CreatedAt      time.Time
}

// BatchOrder groups service requests raised together into one billable unit.
type BatchOrder struct {
	ID                 uuid.UUID
	VisitID            uuid.UUID
	PatientID          uuid.UUID
	OrderingProviderID uuid.UUID
	Kind               OrderKind
	Status             OrderStatus
	BillingID          uuid.UUID
	Items              []ServiceOrderItem
	Version            int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Item returns the item with id, if present.
func (o BatchOrder) Item(id uuid.UUID) (ServiceOrderItem, bool) {
	for _, it := range o.Items {
		if it.ID == id {
			return it, true
		}
	}
	return ServiceOrderItem{}, false
}

// HasOpenItemsOf reports whether the order holds a non-terminal item of kind k.
func (o BatchOrder) HasOpenItemsOf(k ServiceKind) bool {
	for _, it := range o.Items {
		if it.Kind == k && !it.Status.Terminal() {
			return true
		}
	}
	return false
}

// ServiceOrderItem is one line of a BatchOrder.
type ServiceOrderItem struct {
	ID                 uuid.UUID
	BatchOrderID       uuid.UUID
	ServiceReferenceID string
	Kind               ServiceKind
	Quantity           int
	UnitPrice          money.Amount
	Status             ItemStatus
	ResultReference    *string
	CompletedBy        *uuid.UUID
	CompletedAt        *time.Time
	UpdatedAt          time.Time
}

// Assignment hands a visit, or a single item, to a provider.
type Assignment struct {
	ID           uuid.UUID
	VisitID      uuid.UUID
	ItemID       *uuid.UUID
	ProviderID   uuid.UUID
	ProviderRole ProviderRole
	Status       AssignmentStatus
	AssignedBy   uuid.UUID
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// VisitLevel reports whether the assignment targets the whole visit.
func (a Assignment) VisitLevel() bool {
	return a.ItemID == nil
}

// EventType names an audit timeline entry.
type EventType string

const (
	EventVisitCreated       EventType = "VISIT_CREATED"
	EventVisitStatusChanged EventType = "VISIT_STATUS_CHANGED"
	EventAssignmentChanged  EventType = "ASSIGNMENT_CHANGED"
	EventPaymentRecorded    EventType = "PAYMENT_RECORDED"
	EventBillingPaid        EventType = "BILLING_PAID"
	EventOrderCreated       EventType = "ORDER_CREATED"
	EventOrderStatusChanged EventType = "ORDER_STATUS_CHANGED"
	EventItemStatusChanged  EventType = "ITEM_STATUS_CHANGED"
)

// Event is an append-only timeline row written in the same transaction as
// the change it records. Seq is assigned by the store.
type Event struct {
	ID        uuid.UUID
	VisitID   uuid.UUID
	Seq       int64
	Type      EventType
	ActorID   *uuid.UUID
	Payload   map[string]any
	CreatedAt time.Time
}

// NewEvent builds a timeline entry attributed to actor.
func NewEvent(visitID uuid.UUID, typ EventType, actor Actor, payload map[string]any, now time.Time) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		ID:        uuid.New(),
		VisitID:   visitID,
		Type:      typ,
		ActorID:   actor.Ref(),
		Payload:   payload,
		CreatedAt: now,
	}
}
