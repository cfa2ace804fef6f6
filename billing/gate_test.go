package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"clinicflow/clinic"
	"clinicflow/memstore"
	"clinicflow/money"
)

type recordingHook struct {
	paid []uuid.UUID
	err  error
}

func (h *recordingHook) BillingPaid(_ context.Context, _ clinic.Tx, b clinic.Billing, _ clinic.Actor) error {
	h.paid = append(h.paid, b.ID)
	return h.err
}

var cashier = clinic.Actor{ID: uuid.New(), Role: clinic.RoleBillingOfficer}

func seedBilling(t *testing.T, store *memstore.Store, total money.Amount) clinic.Billing {
	t.Helper()
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	v := clinic.NewVisit(uuid.New(), uuid.New(), now)
	b := NewBilling(uuid.New(), v, clinic.PurposeEntryFee, nil, total, now)
	err := store.InTx(context.Background(), func(tx clinic.Tx) error {
		if err := tx.InsertVisit(context.Background(), v); err != nil {
			return err
		}
		return tx.InsertBilling(context.Background(), b)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return b
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		total, paid money.Amount
		want        clinic.BillingStatus
	}{
		{1000, 0, clinic.BillingPending},
		{1000, 1, clinic.BillingPartial},
		{1000, 999, clinic.BillingPartial},
		{1000, 1000, clinic.BillingPaid},
		{1000, 1200, clinic.BillingPaid},
		{0, 0, clinic.BillingPaid},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.total, tc.paid); got != tc.want {
			t.Errorf("StatusFor(%s, %s): expected %s, got %s", tc.total, tc.paid, tc.want, got)
		}
	}
}

func TestRecordPaymentValidation(t *testing.T) {
	gate := NewGate(memstore.New())
	id := uuid.New()
	cases := map[string]PaymentParams{
		"zero amount":      {BillingID: id, Amount: 0, Method: clinic.PaymentCash},
		"negative amount":  {BillingID: id, Amount: -100, Method: clinic.PaymentCash},
		"unknown method":   {BillingID: id, Amount: 100, Method: "CHEQUE"},
		"insurance no ref": {BillingID: id, Amount: 100, Method: clinic.PaymentInsurance},
		"missing billing":  {Amount: 100, Method: clinic.PaymentCash},
	}
	for name, p := range cases {
		_, err := gate.RecordPayment(context.Background(), cashier, p)
		if !errors.Is(err, clinic.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}

	_, err := gate.RecordPayment(context.Background(), cashier, PaymentParams{BillingID: id, Amount: 100, Method: clinic.PaymentCash})
	if !errors.Is(err, clinic.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecordPaymentRunsHooksOnceOnPaidEdge(t *testing.T) {
	store := memstore.New()
	hook := &recordingHook{}
	gate := NewGate(store).OnPaid(hook)
	b := seedBilling(t, store, 10000)

	r, err := gate.RecordPayment(context.Background(), cashier, PaymentParams{BillingID: b.ID, Amount: 4000, Method: clinic.PaymentCard})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Billing.Status != clinic.BillingPartial || len(hook.paid) != 0 {
		t.Fatalf("expected PARTIAL without hook, got %s with %d hook calls", r.Billing.Status, len(hook.paid))
	}

	r, err = gate.RecordPayment(context.Background(), cashier, PaymentParams{BillingID: b.ID, Amount: 6000, Method: clinic.PaymentCash})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Billing.Status != clinic.BillingPaid || r.Billing.PaidAt == nil {
		t.Fatalf("expected PAID with paid_at, got %+v", r.Billing)
	}
	if len(hook.paid) != 1 || hook.paid[0] != b.ID {
		t.Fatalf("expected one hook call for %s, got %v", b.ID, hook.paid)
	}
}

func TestHookFailureRollsBackPayment(t *testing.T) {
	store := memstore.New()
	hook := &recordingHook{err: clinic.Errorf(clinic.ErrGuardNotSatisfied, "order: refused")}
	gate := NewGate(store).OnPaid(hook)
	b := seedBilling(t, store, 500)

	_, err := gate.RecordPayment(context.Background(), cashier, PaymentParams{BillingID: b.ID, Amount: 500, Method: clinic.PaymentCash})
	if !errors.Is(err, clinic.ErrGuardNotSatisfied) {
		t.Fatalf("expected hook error, got %v", err)
	}

	st, err := gate.Get(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Billing.Status != clinic.BillingPending || len(st.Payments) != 0 {
		t.Fatalf("expected untouched billing, got %s with %d payments", st.Billing.Status, len(st.Payments))
	}
	if st.Outstanding != 500 {
		t.Fatalf("expected 500 outstanding, got %s", st.Outstanding)
	}
}

func TestZeroTotalIsBornPaid(t *testing.T) {
	now := time.Now()
	b := NewBilling(uuid.New(), clinic.Visit{ID: uuid.New()}, clinic.PurposeConsultation, nil, 0, now)
	if b.Status != clinic.BillingPaid || b.PaidAt == nil {
		t.Fatalf("expected zero billing to be PAID, got %+v", b)
	}

	store := memstore.New()
	gate := NewGate(store)
	seeded := seedBilling(t, store, 0)
	payable, err := gate.IsPayable(context.Background(), seeded.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payable {
		t.Fatalf("a paid billing is not payable")
	}
}
