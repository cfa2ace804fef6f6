package pgstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"clinicflow/assignment"
	"clinicflow/billing"
	"clinicflow/clinic"
	"clinicflow/engine"
	"clinicflow/money"
	"clinicflow/order"
	"clinicflow/pgstore"
	"clinicflow/test/infra"
	"clinicflow/test/oracles"
	"clinicflow/visit"
)

var (
	reception = clinic.Actor{ID: uuid.New(), Role: clinic.RoleReceptionist}
	cashier   = clinic.Actor{ID: uuid.New(), Role: clinic.RoleBillingOfficer}
	nurse     = clinic.Actor{ID: uuid.New(), Role: clinic.RoleNurse}
	doctor    = clinic.Actor{ID: uuid.New(), Role: clinic.RoleDoctor}
	lab       = clinic.Actor{ID: uuid.New(), Role: clinic.RoleLabTechnician}
)

func newStore(t *testing.T) (*pgstore.Store, *infra.Harness) {
	t.Helper()
	h := infra.Open(t)
	return pgstore.New(h.Pool()), h
}

func TestFullVisitOverPostgres(t *testing.T) {
	store, h := newStore(t)
	ctx := context.Background()
	eng := engine.New(store)

	created, err := eng.Visits.Create(ctx, reception, visit.CreateParams{
		PatientID:       uuid.New(),
		EntryFee:        money.FromMajor(200),
		ConsultationFee: money.FromMajor(300),
	})
	require.NoError(t, err)
	id := created.Visit.ID

	pay := func(b uuid.UUID, amount money.Amount) billing.Receipt {
		r, err := eng.Billing.RecordPayment(ctx, cashier, billing.PaymentParams{BillingID: b, Amount: amount, Method: clinic.PaymentCash})
		require.NoError(t, err)
		return r
	}
	move := func(actor clinic.Actor, target clinic.VisitStatus) {
		_, err := eng.Visits.Transition(ctx, actor, visit.TransitionParams{VisitID: id, Target: target})
		require.NoError(t, err)
	}

	pay(created.EntryBilling.ID, money.FromMajor(200))
	move(nurse, clinic.VisitTriaged)
	_, err = eng.Assignments.Assign(ctx, nurse, assignment.AssignParams{VisitID: id, ProviderID: doctor.ID, ProviderRole: clinic.ProviderDoctor})
	require.NoError(t, err)
	move(nurse, clinic.VisitWaitingForDoctor)
	pay(created.ConsultationBilling.ID, money.FromMajor(300))
	move(doctor, clinic.VisitUnderDoctorReview)

	ordered, err := eng.Orders.Create(ctx, doctor, order.CreateParams{
		VisitID: id,
		Items: []order.ItemParams{
			{ServiceReferenceID: "cbc", Kind: clinic.ServiceLab, Quantity: 1, UnitPrice: money.FromMajor(100)},
			{ServiceReferenceID: "lipid", Kind: clinic.ServiceLab, Quantity: 1, UnitPrice: money.FromMajor(150)},
			{ServiceReferenceID: "glucose", Kind: clinic.ServiceLab, Quantity: 2, UnitPrice: money.FromMajor(25)},
		},
	})
	require.NoError(t, err)
	require.Equal(t, clinic.OrderUnpaid, ordered.Order.Status)

	partial := pay(ordered.Billing.ID, money.FromMajor(100))
	assert.Equal(t, clinic.BillingPartial, partial.Billing.Status)
	o, err := eng.Orders.Get(ctx, ordered.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, clinic.OrderUnpaid, o.Status)

	pay(ordered.Billing.ID, money.FromMajor(200))
	o, err = eng.Orders.Get(ctx, ordered.Order.ID)
	require.NoError(t, err)
	require.Equal(t, clinic.OrderQueued, o.Status)
	require.Len(t, o.Items, 3)
	assert.Equal(t, "cbc", o.Items[0].ServiceReferenceID)

	var g errgroup.Group
	for _, it := range o.Items {
		g.Go(func() error {
			_, err := eng.Orders.CompleteItem(ctx, lab, order.CompleteParams{ItemID: it.ID, ResultReference: "report://" + it.ID.String()})
			return err
		})
	}
	require.NoError(t, g.Wait())

	o, err = eng.Orders.Get(ctx, ordered.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, clinic.OrderCompleted, o.Status)
	v, err := eng.Visits.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, clinic.VisitAwaitingResultsReview, v.Status)
	assert.Equal(t, clinic.QueueResultsReview, v.QueueType)

	events, total, err := eng.Visits.Timeline(ctx, id, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, total)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Seq)
	}
	page, _, err := eng.Visits.Timeline(ctx, id, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].Seq)

	name, row, err := oracles.Run(ctx, h.Pool())
	require.NoError(t, err)
	assert.Empty(t, name, row)
}

func TestStaleVisitVersionConflicts(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	v := clinic.NewVisit(uuid.New(), uuid.New(), now)

	require.NoError(t, store.InTx(ctx, func(tx clinic.Tx) error { return tx.InsertVisit(ctx, v) }))

	var saved clinic.Visit
	require.NoError(t, store.InTx(ctx, func(tx clinic.Tx) error {
		cur, err := tx.LockVisit(ctx, v.ID)
		if err != nil {
			return err
		}
		cur.SetStatus(clinic.VisitWaitingForTriage, now)
		saved, err = tx.UpdateVisit(ctx, cur)
		return err
	}))
	assert.Equal(t, v.Version+1, saved.Version)
	assert.Equal(t, clinic.QueueTriage, saved.QueueType)

	err := store.InTx(ctx, func(tx clinic.Tx) error {
		stale := v
		stale.SetStatus(clinic.VisitCancelled, now)
		_, err := tx.UpdateVisit(ctx, stale)
		return err
	})
	require.ErrorIs(t, err, clinic.ErrConcurrencyConflict)

	err = store.View(ctx, func(tx clinic.Tx) error {
		_, err := tx.GetVisit(ctx, uuid.New())
		return err
	})
	require.ErrorIs(t, err, clinic.ErrNotFound)
}

func TestPaymentKeysAndOpenWork(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	v := clinic.NewVisit(uuid.New(), uuid.New(), now)
	b := billing.NewBilling(uuid.New(), v, clinic.PurposeEntryFee, nil, money.FromMajor(50), now)
	key := "desk-1"

	require.NoError(t, store.InTx(ctx, func(tx clinic.Tx) error {
		if err := tx.InsertVisit(ctx, v); err != nil {
			return err
		}
		if err := tx.InsertBilling(ctx, b); err != nil {
			return err
		}
		return tx.InsertPayment(ctx, clinic.BillPayment{
			ID: uuid.New(), BillingID: b.ID, Amount: money.FromMajor(20), Method: clinic.PaymentCash,
			IdempotencyKey: &key, RecordedBy: cashier.ID, CreatedAt: now,
		})
	}))

	err := store.InTx(ctx, func(tx clinic.Tx) error {
		return tx.InsertPayment(ctx, clinic.BillPayment{
			ID: uuid.New(), BillingID: b.ID, Amount: money.FromMajor(5), Method: clinic.PaymentCash,
			IdempotencyKey: &key, RecordedBy: cashier.ID, CreatedAt: now,
		})
	})
	require.ErrorIs(t, err, clinic.ErrDuplicateKey)

	err = store.View(ctx, func(tx clinic.Tx) error {
		p, err := tx.PaymentByIdempotencyKey(ctx, key)
		if err != nil {
			return err
		}
		assert.Equal(t, money.FromMajor(20), p.Amount)

		snap, err := tx.OpenWork(ctx)
		if err != nil {
			return err
		}
		require.Len(t, snap.Visits, 1)
		assert.Equal(t, money.FromMajor(20), snap.Paid[b.ID])
		assert.Len(t, snap.Billings[v.ID], 1)
		return nil
	})
	require.NoError(t, err)

	err = store.View(ctx, func(tx clinic.Tx) error {
		return tx.InsertVisit(ctx, clinic.NewVisit(uuid.New(), uuid.New(), now))
	})
	require.ErrorIs(t, err, clinic.ErrStorage)
}
