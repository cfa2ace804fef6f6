// Package visit owns the visit state machine. Status and queue type are only
// written here, always together, inside a transaction that holds the visit
// row.
package visit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"clinicflow/assignment"
	"clinicflow/billing"
	"clinicflow/clinic"
	"clinicflow/money"
)

// OrderCanceller cancels a visit's open orders when the visit is cancelled.
type OrderCanceller interface {
	CancelOpenTx(ctx context.Context, tx clinic.Tx, visitID uuid.UUID, actor clinic.Actor, reason string) error
}

type Manager struct {
	store  clinic.Store
	orders OrderCanceller
	now    func() time.Time
	newID  func() uuid.UUID
}

func NewManager(store clinic.Store) *Manager {
	return &Manager{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.New,
	}
}

func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) WithIDGenerator(gen func() uuid.UUID) *Manager {
	m.newID = gen
	return m
}

func (m *Manager) WithOrderCanceller(c OrderCanceller) *Manager {
	m.orders = c
	return m
}

type CreateParams struct {
	PatientID       uuid.UUID
	EntryFee        money.Amount
	ConsultationFee money.Amount
}

func (p CreateParams) validate() error {
	if p.PatientID == uuid.Nil {
		return clinic.Errorf(clinic.ErrValidation, "visit: patient id required")
	}
	if p.EntryFee.IsNegative() || p.ConsultationFee.IsNegative() {
		return clinic.Errorf(clinic.ErrValidation, "visit: fees must not be negative")
	}
	return nil
}

type Created struct {
	Visit               clinic.Visit
	EntryBilling        clinic.Billing
	ConsultationBilling clinic.Billing
}

// Create registers a visit with its entry and consultation billings and
// places it in the triage queue.
func (m *Manager) Create(ctx context.Context, actor clinic.Actor, params CreateParams) (Created, error) {
	if err := params.validate(); err != nil {
		return Created{}, err
	}

	var out Created
	err := m.store.InTx(ctx, func(tx clinic.Tx) error {
		now := m.now()
		v := clinic.NewVisit(m.newID(), params.PatientID, now)
		if err := tx.InsertVisit(ctx, v); err != nil {
			return err
		}
		entry := billing.NewBilling(m.newID(), v, clinic.PurposeEntryFee, nil, params.EntryFee, now)
		consult := billing.NewBilling(m.newID(), v, clinic.PurposeConsultation, nil, params.ConsultationFee, now)
		for _, b := range []clinic.Billing{entry, consult} {
			if err := tx.InsertBilling(ctx, b); err != nil {
				return err
			}
		}
		if _, err := tx.AppendEvent(ctx, clinic.NewEvent(v.ID, clinic.EventVisitCreated, actor, map[string]any{
			"patient_id":              v.PatientID.String(),
			"entry_billing_id":        entry.ID.String(),
			"consultation_billing_id": consult.ID.String(),
			"entry_fee":               entry.TotalAmount.String(),
			"consultation_fee":        consult.TotalAmount.String(),
		}, now)); err != nil {
			return err
		}

		v, err := m.move(ctx, tx, actor, v, clinic.VisitWaitingForTriage, "")
		if err != nil {
			return err
		}
		out = Created{Visit: v, EntryBilling: entry, ConsultationBilling: consult}
		return nil
	})
	return out, err
}

type TransitionParams struct {
	VisitID uuid.UUID
	Target  clinic.VisitStatus
	// ExpectedVersion, when set, must match the stored version.
	ExpectedVersion *int
	Reason          string
}

// Transition moves a visit along one edge of the graph.
func (m *Manager) Transition(ctx context.Context, actor clinic.Actor, params TransitionParams) (clinic.Visit, error) {
	if params.VisitID == uuid.Nil {
		return clinic.Visit{}, clinic.Errorf(clinic.ErrValidation, "visit: visit id required")
	}
	if !params.Target.Valid() {
		return clinic.Visit{}, clinic.Errorf(clinic.ErrValidation, "visit: unknown target status %q", params.Target)
	}
	if actor.Role == clinic.RoleSystem {
		return clinic.Visit{}, clinic.Errorf(clinic.ErrValidation, "visit: system transitions are internal")
	}

	var out clinic.Visit
	err := m.store.InTx(ctx, func(tx clinic.Tx) error {
		v, err := m.transitionTx(ctx, tx, actor, params)
		out = v
		return err
	})
	return out, err
}

// TransitionTx takes an edge inside an open transaction on behalf of the
// engine. Guards still apply; role checks do not.
func (m *Manager) TransitionTx(ctx context.Context, tx clinic.Tx, visitID uuid.UUID, target clinic.VisitStatus) (clinic.Visit, error) {
	return m.transitionTx(ctx, tx, clinic.SystemActor, TransitionParams{VisitID: visitID, Target: target})
}

func (m *Manager) transitionTx(ctx context.Context, tx clinic.Tx, actor clinic.Actor, params TransitionParams) (clinic.Visit, error) {
	v, err := tx.LockVisit(ctx, params.VisitID)
	if err != nil {
		return clinic.Visit{}, err
	}
	if params.ExpectedVersion != nil && *params.ExpectedVersion != v.Version {
		return clinic.Visit{}, clinic.Errorf(clinic.ErrConcurrencyConflict, "visit: %s is at version %d, expected %d", v.ID, v.Version, *params.ExpectedVersion)
	}

	e, ok := lookup(v.Status, params.Target)
	if !ok {
		return clinic.Visit{}, clinic.Errorf(clinic.ErrInvalidTransition, "visit: %s -> %s", v.Status, params.Target)
	}
	if !e.permits(actor) {
		return clinic.Visit{}, clinic.Errorf(clinic.ErrGuardNotSatisfied, "visit: role %s may not move %s -> %s", actor.Role, v.Status, params.Target)
	}
	if e.guard != nil {
		if err := e.guard(ctx, tx, actor, v); err != nil {
			return clinic.Visit{}, err
		}
	}
	return m.move(ctx, tx, actor, v, params.Target, params.Reason)
}

// move writes the new status and its side effects. Edge checks are the
// caller's.
func (m *Manager) move(ctx context.Context, tx clinic.Tx, actor clinic.Actor, v clinic.Visit, target clinic.VisitStatus, reason string) (clinic.Visit, error) {
	now := m.now()
	reason = strings.TrimSpace(reason)

	switch target {
	case clinic.VisitCancelled:
		if m.orders != nil {
			if err := m.orders.CancelOpenTx(ctx, tx, v.ID, actor, reason); err != nil {
				return clinic.Visit{}, err
			}
		}
		if err := assignment.CloseVisit(ctx, tx, v.ID, now); err != nil {
			return clinic.Visit{}, err
		}
		if reason != "" {
			v.CancelReason = &reason
		}
	case clinic.VisitCompleted:
		if err := assignment.CloseVisit(ctx, tx, v.ID, now); err != nil {
			return clinic.Visit{}, err
		}
	}

	previous := v.Status
	v.SetStatus(target, now)
	saved, err := tx.UpdateVisit(ctx, v)
	if err != nil {
		return clinic.Visit{}, err
	}

	payload := map[string]any{
		"from":       string(previous),
		"to":         string(target),
		"queue_type": string(saved.QueueType),
	}
	if reason != "" {
		payload["reason"] = reason
	}
	if _, err := tx.AppendEvent(ctx, clinic.NewEvent(v.ID, clinic.EventVisitStatusChanged, actor, payload, now)); err != nil {
		return clinic.Visit{}, err
	}
	return saved, nil
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (clinic.Visit, error) {
	var out clinic.Visit
	err := m.store.View(ctx, func(tx clinic.Tx) error {
		v, err := tx.GetVisit(ctx, id)
		out = v
		return err
	})
	return out, err
}

// Detail is a visit together with everything hanging off it.
type Detail struct {
	Visit      clinic.Visit
	Billings   []clinic.Billing
	Orders     []clinic.BatchOrder
	Assignment *clinic.Assignment
}

func (m *Manager) Detail(ctx context.Context, id uuid.UUID) (Detail, error) {
	var out Detail
	err := m.store.View(ctx, func(tx clinic.Tx) error {
		v, err := tx.GetVisit(ctx, id)
		if err != nil {
			return err
		}
		billings, err := tx.ListBillingsByVisit(ctx, id)
		if err != nil {
			return err
		}
		orders, err := tx.ListBatchOrdersByVisit(ctx, id)
		if err != nil {
			return err
		}
		out = Detail{Visit: v, Billings: billings, Orders: orders}
		if v.AssignmentID != nil {
			a, err := tx.GetAssignment(ctx, *v.AssignmentID)
			if err != nil {
				return err
			}
			if a.Status == clinic.AssignmentActive {
				out.Assignment = &a
			}
		}
		return nil
	})
	return out, err
}

// Timeline returns one page of the visit's events in sequence order and the
// total number of events.
func (m *Manager) Timeline(ctx context.Context, id uuid.UUID, limit, offset int) ([]clinic.Event, int, error) {
	var (
		events []clinic.Event
		total  int
	)
	err := m.store.View(ctx, func(tx clinic.Tx) error {
		if _, err := tx.GetVisit(ctx, id); err != nil {
			return err
		}
		var err error
		events, total, err = tx.ListEvents(ctx, id, limit, offset)
		return err
	})
	return events, total, err
}
