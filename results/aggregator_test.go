package results

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"clinicflow/clinic"
	"clinicflow/memstore"
)

type fakeTransitioner struct {
	calls []clinic.VisitStatus
	err   error
}

func (f *fakeTransitioner) TransitionTx(ctx context.Context, tx clinic.Tx, visitID uuid.UUID, target clinic.VisitStatus) (clinic.Visit, error) {
	f.calls = append(f.calls, target)
	if f.err != nil {
		return clinic.Visit{}, f.err
	}
	v, err := tx.LockVisit(ctx, visitID)
	if err != nil {
		return clinic.Visit{}, err
	}
	v.SetStatus(target, time.Now())
	return tx.UpdateVisit(ctx, v)
}

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store *memstore.Store
	visit clinic.Visit
}

// newFixture seeds a visit in status with one order per entry of orders. An
// empty assignee leaves the visit unassigned.
func newFixture(t *testing.T, status clinic.VisitStatus, assignee clinic.ProviderRole, orders ...clinic.OrderStatus) (fixture, []clinic.BatchOrder) {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	v := clinic.NewVisit(uuid.New(), uuid.New(), now)
	v.SetStatus(status, now)

	var created []clinic.BatchOrder
	err := store.InTx(ctx, func(tx clinic.Tx) error {
		if err := tx.InsertVisit(ctx, v); err != nil {
			return err
		}
		if assignee != "" {
			a := clinic.Assignment{
				ID:           uuid.New(),
				VisitID:      v.ID,
				ProviderID:   uuid.New(),
				ProviderRole: assignee,
				Status:       clinic.AssignmentActive,
				CreatedAt:    now,
			}
			if err := tx.InsertAssignment(ctx, a); err != nil {
				return err
			}
		}
		for _, s := range orders {
			o := clinic.BatchOrder{
				ID:        uuid.New(),
				VisitID:   v.ID,
				PatientID: v.PatientID,
				Kind:      clinic.OrderKindLab,
				Status:    s,
				BillingID: uuid.New(),
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.InsertBatchOrder(ctx, o); err != nil {
				return err
			}
			created = append(created, o)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return fixture{store: store, visit: v}, created
}

func (f fixture) settle(t *testing.T, agg *Aggregator, o clinic.BatchOrder, status clinic.OrderStatus) error {
	t.Helper()
	o.Status = status
	return f.store.InTx(context.Background(), func(tx clinic.Tx) error {
		return agg.OrderSettled(context.Background(), tx, o)
	})
}

func (f fixture) complete(t *testing.T, agg *Aggregator, o clinic.BatchOrder) error {
	t.Helper()
	return f.settle(t, agg, o, clinic.OrderCompleted)
}

func TestOrderCompletedRoutesVisitToReview(t *testing.T) {
	f, orders := newFixture(t, clinic.VisitUnderDoctorReview, clinic.ProviderDoctor, clinic.OrderInProgress)
	tr := &fakeTransitioner{}

	if err := f.complete(t, NewAggregator(tr), orders[0]); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(tr.calls) != 1 || tr.calls[0] != clinic.VisitAwaitingResultsReview {
		t.Fatalf("expected one move to AWAITING_RESULTS_REVIEW, got %v", tr.calls)
	}
}

func TestOrderCompletedWaitsForOtherOpenOrders(t *testing.T) {
	f, orders := newFixture(t, clinic.VisitUnderDoctorReview, clinic.ProviderDoctor, clinic.OrderInProgress, clinic.OrderQueued)
	tr := &fakeTransitioner{}

	if err := f.complete(t, NewAggregator(tr), orders[0]); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(tr.calls) != 0 {
		t.Fatalf("expected no transition while another order is open, got %v", tr.calls)
	}
}

func TestOrderCompletedIgnoresTerminalSiblings(t *testing.T) {
	f, orders := newFixture(t, clinic.VisitUnderDoctorReview, clinic.ProviderDoctor,
		clinic.OrderInProgress, clinic.OrderCancelled, clinic.OrderCompleted)
	tr := &fakeTransitioner{}

	if err := f.complete(t, NewAggregator(tr), orders[0]); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(tr.calls) != 1 {
		t.Fatalf("expected one transition, got %v", tr.calls)
	}
}

func TestOrderCompletedAlreadyInReview(t *testing.T) {
	f, orders := newFixture(t, clinic.VisitAwaitingResultsReview, clinic.ProviderDoctor, clinic.OrderInProgress)
	tr := &fakeTransitioner{}

	if err := f.complete(t, NewAggregator(tr), orders[0]); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(tr.calls) != 0 {
		t.Fatalf("expected no transition, got %v", tr.calls)
	}
}

func TestOrderCompletedWithoutAssignment(t *testing.T) {
	f, orders := newFixture(t, clinic.VisitUnderDoctorReview, "", clinic.OrderInProgress)
	tr := &fakeTransitioner{}

	err := f.complete(t, NewAggregator(tr), orders[0])
	if !errors.Is(err, clinic.ErrGuardNotSatisfied) {
		t.Fatalf("expected guard error, got %v", err)
	}
	if len(tr.calls) != 0 {
		t.Fatalf("expected no transition, got %v", tr.calls)
	}
}

func TestOrderCompletedPropagatesTransitionError(t *testing.T) {
	f, orders := newFixture(t, clinic.VisitUnderDoctorReview, clinic.ProviderDoctor, clinic.OrderInProgress)
	boom := clinic.Errorf(clinic.ErrInvalidTransition, "visit: nope")
	tr := &fakeTransitioner{err: boom}

	err := f.complete(t, NewAggregator(tr), orders[0])
	if !errors.Is(err, clinic.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	var got clinic.Visit
	_ = f.store.View(context.Background(), func(tx clinic.Tx) error {
		var err error
		got, err = tx.GetVisit(context.Background(), f.visit.ID)
		return err
	})
	if got.Status != clinic.VisitUnderDoctorReview {
		t.Fatalf("expected visit unchanged, got %s", got.Status)
	}
}

func TestCancelledLastOrderRoutesCompletedResults(t *testing.T) {
	f, orders := newFixture(t, clinic.VisitUnderDoctorReview, clinic.ProviderDoctor, clinic.OrderCompleted, clinic.OrderQueued)
	tr := &fakeTransitioner{}

	if err := f.settle(t, NewAggregator(tr), orders[1], clinic.OrderCancelled); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(tr.calls) != 1 || tr.calls[0] != clinic.VisitAwaitingResultsReview {
		t.Fatalf("expected one move to AWAITING_RESULTS_REVIEW, got %v", tr.calls)
	}
}

func TestNothingToReviewWhenEveryOrderCancelled(t *testing.T) {
	f, orders := newFixture(t, clinic.VisitUnderDoctorReview, clinic.ProviderDoctor, clinic.OrderCancelled, clinic.OrderQueued)
	tr := &fakeTransitioner{}

	if err := f.settle(t, NewAggregator(tr), orders[1], clinic.OrderCancelled); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(tr.calls) != 0 {
		t.Fatalf("expected no transition, got %v", tr.calls)
	}
}

func TestResultsNeedAnAssignedDoctor(t *testing.T) {
	f, orders := newFixture(t, clinic.VisitUnderDoctorReview, clinic.ProviderNurse, clinic.OrderInProgress)
	tr := &fakeTransitioner{}

	err := f.complete(t, NewAggregator(tr), orders[0])
	if !errors.Is(err, clinic.ErrGuardNotSatisfied) {
		t.Fatalf("expected guard error for a nurse assignee, got %v", err)
	}
	if len(tr.calls) != 0 {
		t.Fatalf("expected no transition, got %v", tr.calls)
	}
}
