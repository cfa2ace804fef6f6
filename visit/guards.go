package visit

import (
	"context"
	"errors"

	"clinicflow/clinic"
)

func billingPaid(purpose clinic.BillingPurpose) guard {
	return func(ctx context.Context, tx clinic.Tx, _ clinic.Actor, v clinic.Visit) error {
		billings, err := tx.ListBillingsByVisit(ctx, v.ID)
		if err != nil {
			return err
		}
		for _, b := range billings {
			if b.Purpose != purpose {
				continue
			}
			if b.Status == clinic.BillingPaid {
				return nil
			}
			return clinic.Errorf(clinic.ErrGuardNotSatisfied, "visit: %s billing %s is %s", purpose, b.ID, b.Status)
		}
		return clinic.Errorf(clinic.ErrGuardNotSatisfied, "visit: %s has no %s billing", v.ID, purpose)
	}
}

func activeAssignment(ctx context.Context, tx clinic.Tx, v clinic.Visit) (clinic.Assignment, error) {
	a, err := tx.ActiveAssignment(ctx, v.ID, nil)
	if errors.Is(err, clinic.ErrNotFound) {
		return clinic.Assignment{}, clinic.Errorf(clinic.ErrGuardNotSatisfied, "visit: %s has no active assignment", v.ID)
	}
	return a, err
}

func doctorAssigned(ctx context.Context, tx clinic.Tx, _ clinic.Actor, v clinic.Visit) error {
	a, err := activeAssignment(ctx, tx, v)
	if err != nil {
		return err
	}
	if a.ProviderRole != clinic.ProviderDoctor {
		return clinic.Errorf(clinic.ErrGuardNotSatisfied, "visit: %s is assigned to a %s, not a doctor", v.ID, a.ProviderRole)
	}
	return nil
}

// readyForDoctor guards entry into UNDER_DOCTOR_REVIEW. A doctor may only
// pick up visits assigned to them.
func readyForDoctor(ctx context.Context, tx clinic.Tx, actor clinic.Actor, v clinic.Visit) error {
	if err := billingPaid(clinic.PurposeConsultation)(ctx, tx, actor, v); err != nil {
		return err
	}
	if err := doctorAssigned(ctx, tx, actor, v); err != nil {
		return err
	}
	a, err := activeAssignment(ctx, tx, v)
	if err != nil {
		return err
	}
	if actor.Role == clinic.RoleDoctor && a.ProviderID != actor.ID {
		return clinic.Errorf(clinic.ErrGuardNotSatisfied, "visit: %s is assigned to another doctor", v.ID)
	}
	return nil
}

func resultsReady(ctx context.Context, tx clinic.Tx, actor clinic.Actor, v clinic.Visit) error {
	orders, err := tx.ListBatchOrdersByVisit(ctx, v.ID)
	if err != nil {
		return err
	}
	completed := 0
	for _, o := range orders {
		if !o.Status.Terminal() {
			return clinic.Errorf(clinic.ErrGuardNotSatisfied, "visit: batch order %s is still %s", o.ID, o.Status)
		}
		if o.Status == clinic.OrderCompleted {
			completed++
		}
	}
	if completed == 0 {
		return clinic.Errorf(clinic.ErrGuardNotSatisfied, "visit: %s has no completed orders to review", v.ID)
	}
	return doctorAssigned(ctx, tx, actor, v)
}

// nurseServicesDone looks at nurse items across all orders, MIXED included.
func nurseServicesDone(ctx context.Context, tx clinic.Tx, _ clinic.Actor, v clinic.Visit) error {
	orders, err := tx.ListBatchOrdersByVisit(ctx, v.ID)
	if err != nil {
		return err
	}
	var nurse, completed int
	for _, o := range orders {
		for _, it := range o.Items {
			if it.Kind != clinic.ServiceNurse {
				continue
			}
			nurse++
			if !it.Status.Terminal() {
				return clinic.Errorf(clinic.ErrGuardNotSatisfied, "visit: nurse item %s is still %s", it.ID, it.Status)
			}
			if it.Status == clinic.ItemCompleted {
				completed++
			}
		}
	}
	if nurse == 0 || completed == 0 {
		return clinic.Errorf(clinic.ErrGuardNotSatisfied, "visit: %s has no completed nurse services", v.ID)
	}
	return nil
}

func noOpenOrders(ctx context.Context, tx clinic.Tx, _ clinic.Actor, v clinic.Visit) error {
	orders, err := tx.ListBatchOrdersByVisit(ctx, v.ID)
	if err != nil {
		return err
	}
	for _, o := range orders {
		if !o.Status.Terminal() {
			return clinic.Errorf(clinic.ErrGuardNotSatisfied, "visit: batch order %s is still %s", o.ID, o.Status)
		}
	}
	return nil
}
