// Package assignment links visits and individual order items to the provider
// responsible for them. At most one assignment per subject is ACTIVE.
package assignment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"clinicflow/clinic"
)

type Tracker struct {
	store clinic.Store
	now   func() time.Time
	newID func() uuid.UUID
}

func NewTracker(store clinic.Store) *Tracker {
	return &Tracker{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.New,
	}
}

func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

func (t *Tracker) WithIDGenerator(gen func() uuid.UUID) *Tracker {
	t.newID = gen
	return t
}

// AssignParams targets the whole visit when ItemID is nil.
type AssignParams struct {
	VisitID      uuid.UUID
	ItemID       *uuid.UUID
	ProviderID   uuid.UUID
	ProviderRole clinic.ProviderRole
}

func (p AssignParams) validate() error {
	if p.VisitID == uuid.Nil {
		return clinic.Errorf(clinic.ErrValidation, "assignment: visit id required")
	}
	if p.ProviderID == uuid.Nil {
		return clinic.Errorf(clinic.ErrValidation, "assignment: provider id required")
	}
	if !p.ProviderRole.Valid() {
		return clinic.Errorf(clinic.ErrValidation, "assignment: unknown provider role %q", p.ProviderRole)
	}
	if p.ItemID != nil && p.ProviderRole != clinic.ProviderNurse {
		return clinic.Errorf(clinic.ErrValidation, "assignment: only nurses take item assignments")
	}
	return nil
}

func (t *Tracker) Assign(ctx context.Context, actor clinic.Actor, params AssignParams) (clinic.Assignment, error) {
	if err := params.validate(); err != nil {
		return clinic.Assignment{}, err
	}
	var out clinic.Assignment
	err := t.store.InTx(ctx, func(tx clinic.Tx) error {
		a, err := t.AssignTx(ctx, tx, actor, params)
		out = a
		return err
	})
	return out, err
}

// AssignTx replaces the subject's ACTIVE assignment inside tx. Assigning the
// provider who already holds the subject is a no-op.
func (t *Tracker) AssignTx(ctx context.Context, tx clinic.Tx, actor clinic.Actor, params AssignParams) (clinic.Assignment, error) {
	if err := params.validate(); err != nil {
		return clinic.Assignment{}, err
	}

	visit, err := tx.LockVisit(ctx, params.VisitID)
	if err != nil {
		return clinic.Assignment{}, err
	}
	if visit.Status.Terminal() {
		return clinic.Assignment{}, clinic.Errorf(clinic.ErrGuardNotSatisfied, "assignment: visit %s is %s", visit.ID, visit.Status)
	}
	if params.ItemID != nil {
		if err := checkItem(ctx, tx, visit.ID, *params.ItemID); err != nil {
			return clinic.Assignment{}, err
		}
	}

	now := t.now()
	current, err := tx.ActiveAssignment(ctx, visit.ID, params.ItemID)
	switch {
	case err == nil:
		if current.ProviderID == params.ProviderID && current.ProviderRole == params.ProviderRole {
			return current, nil
		}
		if err := complete(ctx, tx, &current, now); err != nil {
			return clinic.Assignment{}, err
		}
	case !errors.Is(err, clinic.ErrNotFound):
		return clinic.Assignment{}, err
	}

	next := clinic.Assignment{
		ID:           t.newID(),
		VisitID:      visit.ID,
		ItemID:       params.ItemID,
		ProviderID:   params.ProviderID,
		ProviderRole: params.ProviderRole,
		Status:       clinic.AssignmentActive,
		AssignedBy:   actor.ID,
		CreatedAt:    now,
	}
	if err := tx.InsertAssignment(ctx, next); err != nil {
		if errors.Is(err, clinic.ErrDuplicateKey) {
			return clinic.Assignment{}, clinic.Errorf(clinic.ErrConcurrencyConflict, "assignment: subject reassigned concurrently")
		}
		return clinic.Assignment{}, err
	}

	if next.VisitLevel() {
		id := next.ID
		visit.AssignmentID = &id
		visit.UpdatedAt = now
		if _, err := tx.UpdateVisit(ctx, visit); err != nil {
			return clinic.Assignment{}, err
		}
	}

	payload := map[string]any{
		"assignment_id": next.ID.String(),
		"provider_id":   next.ProviderID.String(),
		"provider_role": string(next.ProviderRole),
	}
	if next.ItemID != nil {
		payload["item_id"] = next.ItemID.String()
	}
	if current.ID != uuid.Nil {
		payload["previous_assignment_id"] = current.ID.String()
	}
	if _, err := tx.AppendEvent(ctx, clinic.NewEvent(visit.ID, clinic.EventAssignmentChanged, actor, payload, now)); err != nil {
		return clinic.Assignment{}, err
	}
	return next, nil
}

// Release ends an ACTIVE assignment. Releasing an ended one is a no-op.
func (t *Tracker) Release(ctx context.Context, actor clinic.Actor, id uuid.UUID) (clinic.Assignment, error) {
	var out clinic.Assignment
	err := t.store.InTx(ctx, func(tx clinic.Tx) error {
		a, err := tx.GetAssignment(ctx, id)
		if err != nil {
			return err
		}
		visit, err := tx.LockVisit(ctx, a.VisitID)
		if err != nil {
			return err
		}
		if a, err = tx.GetAssignment(ctx, id); err != nil {
			return err
		}
		if a.Status != clinic.AssignmentActive {
			out = a
			return nil
		}
		now := t.now()
		if err := complete(ctx, tx, &a, now); err != nil {
			return err
		}
		if a.VisitLevel() && visit.AssignmentID != nil && *visit.AssignmentID == a.ID {
			visit.AssignmentID = nil
			visit.UpdatedAt = now
			if _, err := tx.UpdateVisit(ctx, visit); err != nil {
				return err
			}
		}
		if _, err := tx.AppendEvent(ctx, clinic.NewEvent(visit.ID, clinic.EventAssignmentChanged, actor, map[string]any{
			"assignment_id": a.ID.String(),
			"released":      true,
		}, now)); err != nil {
			return err
		}
		out = a
		return nil
	})
	return out, err
}

// Active returns the ACTIVE assignment for a visit or one of its items.
func (t *Tracker) Active(ctx context.Context, visitID uuid.UUID, itemID *uuid.UUID) (clinic.Assignment, error) {
	var out clinic.Assignment
	err := t.store.View(ctx, func(tx clinic.Tx) error {
		a, err := tx.ActiveAssignment(ctx, visitID, itemID)
		out = a
		return err
	})
	return out, err
}

// CloseVisit ends every ACTIVE assignment of a visit and its items. The
// visit row itself is left to the caller.
func CloseVisit(ctx context.Context, tx clinic.Tx, visitID uuid.UUID, now time.Time) error {
	subjects := []*uuid.UUID{nil}
	orders, err := tx.ListBatchOrdersByVisit(ctx, visitID)
	if err != nil {
		return err
	}
	for _, o := range orders {
		for _, it := range o.Items {
			id := it.ID
			subjects = append(subjects, &id)
		}
	}
	for _, itemID := range subjects {
		a, err := tx.ActiveAssignment(ctx, visitID, itemID)
		if errors.Is(err, clinic.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := complete(ctx, tx, &a, now); err != nil {
			return err
		}
	}
	return nil
}

// CloseItem ends the ACTIVE assignment of one item, if any.
func CloseItem(ctx context.Context, tx clinic.Tx, visitID, itemID uuid.UUID, now time.Time) error {
	a, err := tx.ActiveAssignment(ctx, visitID, &itemID)
	if errors.Is(err, clinic.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return complete(ctx, tx, &a, now)
}

func complete(ctx context.Context, tx clinic.Tx, a *clinic.Assignment, now time.Time) error {
	a.Status = clinic.AssignmentCompleted
	done := now
	a.CompletedAt = &done
	return tx.UpdateAssignment(ctx, *a)
}

func checkItem(ctx context.Context, tx clinic.Tx, visitID, itemID uuid.UUID) error {
	item, err := tx.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	order, err := tx.GetBatchOrder(ctx, item.BatchOrderID)
	if err != nil {
		return err
	}
	if order.VisitID != visitID {
		return clinic.Errorf(clinic.ErrValidation, "assignment: item %s does not belong to visit %s", itemID, visitID)
	}
	if item.Status.Terminal() {
		return clinic.Errorf(clinic.ErrGuardNotSatisfied, "assignment: item %s is %s", itemID, item.Status)
	}
	return nil
}
