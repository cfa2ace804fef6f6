// Package actors drives the engine from concurrent goroutines the way clinic
// staff would, tolerating the refusals the engine is allowed to give under
// contention.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"clinicflow/assignment"
	"clinicflow/billing"
	"clinicflow/clinic"
	"clinicflow/engine"
	"clinicflow/money"
	"clinicflow/order"
	"clinicflow/visit"
)

// World is the shared set of subjects actors pick from.
type World struct {
	mu       sync.Mutex
	Visits   []uuid.UUID
	Billings []uuid.UUID
	Items    []uuid.UUID
	Doctor   clinic.Actor
}

func (w *World) pick(ids *[]uuid.UUID) uuid.UUID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return (*ids)[rand.Intn(len(*ids))]
}

var (
	reception = clinic.Actor{ID: uuid.New(), Role: clinic.RoleReceptionist}
	nurse     = clinic.Actor{ID: uuid.New(), Role: clinic.RoleNurse}
	admin     = clinic.Actor{ID: uuid.New(), Role: clinic.RoleAdmin}
)

// Seed walks n visits into consultation and gives each one unpaid order
// with lab, radiology and nurse items.
func Seed(ctx context.Context, eng *engine.Engine, n int) (*World, error) {
	w := &World{Doctor: clinic.Actor{ID: uuid.New(), Role: clinic.RoleDoctor}}
	for i := 0; i < n; i++ {
		created, err := eng.Visits.Create(ctx, reception, visit.CreateParams{
			PatientID:       uuid.New(),
			EntryFee:        money.FromMajor(20),
			ConsultationFee: money.FromMajor(30),
		})
		if err != nil {
			return nil, fmt.Errorf("seed visit: %w", err)
		}
		id := created.Visit.ID
		steps := []func() error{
			func() error { return settle(ctx, eng, created.EntryBilling) },
			func() error { return transition(ctx, eng, nurse, id, clinic.VisitTriaged) },
			func() error {
				_, err := eng.Assignments.Assign(ctx, nurse, assignment.AssignParams{VisitID: id, ProviderID: w.Doctor.ID, ProviderRole: clinic.ProviderDoctor})
				return err
			},
			func() error { return transition(ctx, eng, nurse, id, clinic.VisitWaitingForDoctor) },
			func() error { return settle(ctx, eng, created.ConsultationBilling) },
			func() error { return transition(ctx, eng, w.Doctor, id, clinic.VisitUnderDoctorReview) },
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return nil, fmt.Errorf("seed visit %s: %w", id, err)
			}
		}

		ordered, err := eng.Orders.Create(ctx, w.Doctor, order.CreateParams{
			VisitID: id,
			Items: []order.ItemParams{
				{ServiceReferenceID: "cbc", Kind: clinic.ServiceLab, Quantity: 1, UnitPrice: money.FromMajor(15)},
				{ServiceReferenceID: "chest-xray", Kind: clinic.ServiceRadiology, Quantity: 1, UnitPrice: money.FromMajor(40)},
				{ServiceReferenceID: "dressing", Kind: clinic.ServiceNurse, Quantity: 2, UnitPrice: money.FromMajor(5)},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("seed order: %w", err)
		}
		w.Visits = append(w.Visits, id)
		w.Billings = append(w.Billings, ordered.Billing.ID)
		for _, it := range ordered.Order.Items {
			w.Items = append(w.Items, it.ID)
		}
	}
	return w, nil
}

func settle(ctx context.Context, eng *engine.Engine, b clinic.Billing) error {
	if b.Status == clinic.BillingPaid {
		return nil
	}
	_, err := eng.Billing.RecordPayment(ctx, clinic.Actor{ID: uuid.New(), Role: clinic.RoleBillingOfficer}, billing.PaymentParams{
		BillingID: b.ID,
		Amount:    b.TotalAmount,
		Method:    clinic.PaymentCash,
	})
	return err
}

func transition(ctx context.Context, eng *engine.Engine, actor clinic.Actor, id uuid.UUID, target clinic.VisitStatus) error {
	_, err := eng.Visits.Transition(ctx, actor, visit.TransitionParams{VisitID: id, Target: target})
	return err
}

// tolerated reports whether err is a refusal the engine may legitimately
// return while other actors race on the same rows, or a storage failure
// injected by chaos.
func tolerated(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	switch clinic.KindOf(err) {
	case clinic.ErrGuardNotSatisfied, clinic.ErrInvalidTransition, clinic.ErrConcurrencyConflict, clinic.ErrStorage:
		return true
	}
	return false
}

func loop(ctx context.Context, stop <-chan struct{}, pause func() time.Duration, step func() error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := step(); !tolerated(err) {
			return err
		}
		time.Sleep(pause())
	}
}

func jitter(base, spread int) func() time.Duration {
	return func() time.Duration { return time.Duration(base+rand.Intn(spread)) * time.Millisecond }
}

// Cashier pays order billings in random instalments. Some payments reuse an
// idempotency key so retries race with first attempts.
func Cashier(ctx context.Context, eng *engine.Engine, w *World, stop <-chan struct{}) error {
	actor := clinic.Actor{ID: uuid.New(), Role: clinic.RoleBillingOfficer}
	return loop(ctx, stop, jitter(10, 20), func() error {
		params := billing.PaymentParams{
			BillingID: w.pick(&w.Billings),
			Amount:    money.FromMajor(int64(5 + rand.Intn(30))),
			Method:    clinic.PaymentCard,
		}
		if rand.Intn(3) == 0 {
			params.IdempotencyKey = fmt.Sprintf("retry-%s-%d", params.BillingID, rand.Intn(3))
		}
		_, err := eng.Billing.RecordPayment(ctx, actor, params)
		if errors.Is(err, clinic.ErrValidation) {
			// paid billings refuse further payments
			return nil
		}
		return err
	})
}

// Technician starts and completes random items, cancelling some.
func Technician(ctx context.Context, eng *engine.Engine, w *World, role clinic.Role, stop <-chan struct{}) error {
	actor := clinic.Actor{ID: uuid.New(), Role: role}
	return loop(ctx, stop, jitter(15, 30), func() error {
		id := w.pick(&w.Items)
		if rand.Intn(2) == 0 {
			_, err := eng.Orders.StartItem(ctx, actor, id)
			return err
		}
		outcome := clinic.ItemCompleted
		if rand.Intn(8) == 0 {
			outcome = clinic.ItemCancelled
		}
		_, err := eng.Orders.CompleteItem(ctx, actor, order.CompleteParams{
			ItemID:          id,
			Outcome:         outcome,
			ResultReference: "report://" + id.String(),
		})
		return err
	})
}

// Doctor keeps ordering follow-up work on visits still under review.
func Doctor(ctx context.Context, eng *engine.Engine, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(80, 80), func() error {
		id := w.pick(&w.Visits)
		created, err := eng.Orders.Create(ctx, w.Doctor, order.CreateParams{
			VisitID: id,
			Items: []order.ItemParams{
				{ServiceReferenceID: "follow-up-panel", Kind: clinic.ServiceLab, Quantity: 1, UnitPrice: money.FromMajor(10)},
			},
		})
		if err != nil {
			return err
		}
		w.mu.Lock()
		w.Billings = append(w.Billings, created.Billing.ID)
		for _, it := range created.Order.Items {
			w.Items = append(w.Items, it.ID)
		}
		w.mu.Unlock()
		return nil
	})
}

// Canceller occasionally cancels a whole visit while work is in flight.
func Canceller(ctx context.Context, eng *engine.Engine, w *World, stop <-chan struct{}) error {
	return loop(ctx, stop, jitter(400, 400), func() error {
		_, err := eng.Visits.Transition(ctx, admin, visit.TransitionParams{
			VisitID: w.pick(&w.Visits),
			Target:  clinic.VisitCancelled,
			Reason:  "stress cancellation",
		})
		return err
	})
}

// QueueReader polls every role's queue.
func QueueReader(ctx context.Context, eng *engine.Engine, w *World, stop <-chan struct{}) error {
	roles := []clinic.Role{
		clinic.RoleBillingOfficer,
		clinic.RoleNurse,
		clinic.RoleDoctor,
		clinic.RoleLabTechnician,
		clinic.RoleRadiologyTechnician,
		clinic.RoleAdmin,
	}
	return loop(ctx, stop, jitter(50, 50), func() error {
		role := roles[rand.Intn(len(roles))]
		actorID := uuid.New()
		if role == clinic.RoleDoctor {
			actorID = w.Doctor.ID
		}
		_, _, err := eng.Queues.ListFor(ctx, role, actorID, 50, 0)
		return err
	})
}
