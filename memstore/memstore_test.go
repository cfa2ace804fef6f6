package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"clinicflow/clinic"
	"clinicflow/money"
)

var now = time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)

func seedVisit(t *testing.T, s *Store) clinic.Visit {
	t.Helper()
	v := clinic.NewVisit(uuid.New(), uuid.New(), now)
	if err := s.InTx(context.Background(), func(tx clinic.Tx) error {
		return tx.InsertVisit(context.Background(), v)
	}); err != nil {
		t.Fatalf("seed visit: %v", err)
	}
	return v
}

func TestFailedUnitOfWorkLeavesNoTrace(t *testing.T) {
	s := New()
	ctx := context.Background()
	v := seedVisit(t, s)
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx clinic.Tx) error {
		cur, err := tx.LockVisit(ctx, v.ID)
		if err != nil {
			return err
		}
		cur.SetStatus(clinic.VisitTriaged, now)
		if _, err := tx.UpdateVisit(ctx, cur); err != nil {
			return err
		}
		if _, err := tx.AppendEvent(ctx, clinic.NewEvent(v.ID, clinic.EventVisitStatusChanged, clinic.Actor{}, nil, now)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	_ = s.View(ctx, func(tx clinic.Tx) error {
		got, err := tx.GetVisit(ctx, v.ID)
		if err != nil {
			t.Fatalf("expected visit, got %v", err)
		}
		if got.Status != clinic.VisitRegistered || got.Version != 0 {
			t.Fatalf("expected untouched visit, got %s v%d", got.Status, got.Version)
		}
		events, total, _ := tx.ListEvents(ctx, v.ID, 10, 0)
		if total != 0 || len(events) != 0 {
			t.Fatalf("expected no events, got %d", total)
		}
		return nil
	})
}

func TestUpdateVisitChecksVersion(t *testing.T) {
	s := New()
	ctx := context.Background()
	v := seedVisit(t, s)

	err := s.InTx(ctx, func(tx clinic.Tx) error {
		updated, err := tx.UpdateVisit(ctx, v)
		if err != nil {
			return err
		}
		if updated.Version != 1 {
			t.Fatalf("expected version 1, got %d", updated.Version)
		}
		_, err = tx.UpdateVisit(ctx, v)
		return err
	})
	if !errors.Is(err, clinic.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict for stale version, got %v", err)
	}
}

func TestViewIsReadOnly(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.View(ctx, func(tx clinic.Tx) error {
		return tx.InsertVisit(ctx, clinic.NewVisit(uuid.New(), uuid.New(), now))
	})
	if !errors.Is(err, clinic.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestCancelledContextIsStorageError(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.InTx(ctx, func(clinic.Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, clinic.ErrStorage) || called {
		t.Fatalf("expected storage error before running, got %v (called=%v)", err, called)
	}
}

func TestPaymentIdempotencyKeyIsUnique(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := "desk-7"
	billingID := uuid.New()

	err := s.InTx(ctx, func(tx clinic.Tx) error {
		p := clinic.BillPayment{ID: uuid.New(), BillingID: billingID, Amount: money.Cents(500), IdempotencyKey: &key}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		p.ID = uuid.New()
		return tx.InsertPayment(ctx, p)
	})
	if !errors.Is(err, clinic.ErrDuplicateKey) {
		t.Fatalf("expected duplicate key, got %v", err)
	}

	_ = s.View(ctx, func(tx clinic.Tx) error {
		if _, err := tx.PaymentByIdempotencyKey(ctx, key); !errors.Is(err, clinic.ErrNotFound) {
			t.Fatalf("expected rolled back key, got %v", err)
		}
		return nil
	})
}

func TestOneActiveAssignmentPerSubject(t *testing.T) {
	s := New()
	ctx := context.Background()
	v := seedVisit(t, s)
	item := uuid.New()

	active := func(itemID *uuid.UUID) clinic.Assignment {
		return clinic.Assignment{
			ID:           uuid.New(),
			VisitID:      v.ID,
			ItemID:       itemID,
			ProviderID:   uuid.New(),
			ProviderRole: clinic.ProviderNurse,
			Status:       clinic.AssignmentActive,
		}
	}

	err := s.InTx(ctx, func(tx clinic.Tx) error {
		if err := tx.InsertAssignment(ctx, active(nil)); err != nil {
			return err
		}
		// an item assignment is a different subject
		return tx.InsertAssignment(ctx, active(&item))
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	err = s.InTx(ctx, func(tx clinic.Tx) error {
		return tx.InsertAssignment(ctx, active(&item))
	})
	if !errors.Is(err, clinic.ErrDuplicateKey) {
		t.Fatalf("expected duplicate key, got %v", err)
	}
}

func TestEventsSequenceAndPaging(t *testing.T) {
	s := New()
	ctx := context.Background()
	v := seedVisit(t, s)

	err := s.InTx(ctx, func(tx clinic.Tx) error {
		for i := 0; i < 5; i++ {
			e, err := tx.AppendEvent(ctx, clinic.NewEvent(v.ID, clinic.EventVisitStatusChanged, clinic.Actor{}, nil, now))
			if err != nil {
				return err
			}
			if e.Seq != int64(i+1) {
				t.Fatalf("expected seq %d, got %d", i+1, e.Seq)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	_ = s.View(ctx, func(tx clinic.Tx) error {
		page, total, err := tx.ListEvents(ctx, v.ID, 2, 3)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if total != 5 || len(page) != 2 || page[0].Seq != 4 {
			t.Fatalf("expected seq 4..5 of 5, got %d items of %d", len(page), total)
		}
		page, _, _ = tx.ListEvents(ctx, v.ID, 10, 9)
		if len(page) != 0 {
			t.Fatalf("expected empty page past the end, got %d", len(page))
		}
		return nil
	})
}

func TestOpenWorkSkipsTerminalVisits(t *testing.T) {
	s := New()
	ctx := context.Background()
	open := seedVisit(t, s)
	done := seedVisit(t, s)

	entry := clinic.Billing{
		ID:          uuid.New(),
		VisitID:     open.ID,
		Purpose:     clinic.PurposeEntryFee,
		TotalAmount: money.Cents(1000),
		Status:      clinic.BillingPartial,
		CreatedAt:   now,
	}
	err := s.InTx(ctx, func(tx clinic.Tx) error {
		v, _ := tx.LockVisit(ctx, done.ID)
		v.SetStatus(clinic.VisitCancelled, now)
		if _, err := tx.UpdateVisit(ctx, v); err != nil {
			return err
		}
		if err := tx.InsertBilling(ctx, entry); err != nil {
			return err
		}
		return tx.InsertPayment(ctx, clinic.BillPayment{ID: uuid.New(), BillingID: entry.ID, Amount: money.Cents(400)})
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	_ = s.View(ctx, func(tx clinic.Tx) error {
		snap, err := tx.OpenWork(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(snap.Visits) != 1 || snap.Visits[0].ID != open.ID {
			t.Fatalf("expected only the open visit, got %d", len(snap.Visits))
		}
		if snap.Paid[entry.ID] != money.Cents(400) {
			t.Fatalf("expected 4.00 paid, got %s", snap.Paid[entry.ID])
		}
		return nil
	})
}
