// Package billing records payments against billings and releases the work a
// billing gates once it is fully paid.
package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"clinicflow/clinic"
	"clinicflow/money"
)

// PaidHook is notified, inside the payment's transaction, when a billing
// becomes PAID. An error rolls the payment back.
type PaidHook interface {
	BillingPaid(ctx context.Context, tx clinic.Tx, b clinic.Billing, actor clinic.Actor) error
}

// Gate is the only writer of billing status and the payment ledger.
type Gate struct {
	store clinic.Store
	hooks []PaidHook
	now   func() time.Time
	newID func() uuid.UUID
}

func NewGate(store clinic.Store) *Gate {
	return &Gate{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.New,
	}
}

func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

func (g *Gate) WithIDGenerator(gen func() uuid.UUID) *Gate {
	g.newID = gen
	return g
}

// OnPaid registers a hook run when a billing reaches PAID.
func (g *Gate) OnPaid(h PaidHook) *Gate {
	g.hooks = append(g.hooks, h)
	return g
}

type PaymentParams struct {
	BillingID      uuid.UUID
	Amount         money.Amount
	Method         clinic.PaymentMethod
	InsuranceRef   string
	IdempotencyKey string
}

func (p PaymentParams) validate() error {
	if p.BillingID == uuid.Nil {
		return clinic.Errorf(clinic.ErrValidation, "billing: billing id required")
	}
	if !p.Amount.IsPositive() {
		return clinic.Errorf(clinic.ErrValidation, "billing: amount must be positive, got %s", p.Amount)
	}
	if !p.Method.Valid() {
		return clinic.Errorf(clinic.ErrValidation, "billing: unknown payment method %q", p.Method)
	}
	if p.Method == clinic.PaymentInsurance && strings.TrimSpace(p.InsuranceRef) == "" {
		return clinic.Errorf(clinic.ErrValidation, "billing: insurance payments need an insurance reference")
	}
	return nil
}

// Receipt is the outcome of RecordPayment.
type Receipt struct {
	Billing  clinic.Billing
	Payment  clinic.BillPayment
	Paid     money.Amount
	Replayed bool
}

// Statement is a billing with its ledger.
type Statement struct {
	Billing     clinic.Billing
	Payments    []clinic.BillPayment
	Paid        money.Amount
	Outstanding money.Amount
}

// RecordPayment appends a ledger entry and recomputes the billing status.
// When the billing becomes PAID every registered hook runs in the same
// transaction. A repeated idempotency key returns the original payment.
func (g *Gate) RecordPayment(ctx context.Context, actor clinic.Actor, params PaymentParams) (Receipt, error) {
	if err := params.validate(); err != nil {
		return Receipt{}, err
	}

	var receipt Receipt
	err := g.store.InTx(ctx, func(tx clinic.Tx) error {
		if params.IdempotencyKey != "" {
			prior, err := tx.PaymentByIdempotencyKey(ctx, params.IdempotencyKey)
			switch {
			case err == nil:
				if prior.BillingID != params.BillingID {
					return clinic.Errorf(clinic.ErrValidation, "billing: idempotency key %q already used for billing %s", params.IdempotencyKey, prior.BillingID)
				}
				r, err := g.replay(ctx, tx, prior)
				receipt = r
				return err
			case !errors.Is(err, clinic.ErrNotFound):
				return err
			}
		}

		r, err := g.record(ctx, tx, actor, params)
		receipt = r
		return err
	})
	if err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

func (g *Gate) record(ctx context.Context, tx clinic.Tx, actor clinic.Actor, params PaymentParams) (Receipt, error) {
	peek, err := tx.GetBilling(ctx, params.BillingID)
	if err != nil {
		return Receipt{}, err
	}
	visit, err := tx.LockVisit(ctx, peek.VisitID)
	if err != nil {
		return Receipt{}, err
	}
	b, err := tx.LockBilling(ctx, params.BillingID)
	if err != nil {
		return Receipt{}, err
	}

	if b.Status == clinic.BillingPaid {
		return Receipt{}, clinic.Errorf(clinic.ErrValidation, "billing: billing %s is already paid", b.ID)
	}
	if visit.Status == clinic.VisitCancelled {
		return Receipt{}, clinic.Errorf(clinic.ErrGuardNotSatisfied, "billing: visit %s is cancelled", visit.ID)
	}
	if b.BatchOrderID != nil {
		order, err := tx.GetBatchOrder(ctx, *b.BatchOrderID)
		if err != nil {
			return Receipt{}, err
		}
		if order.Status == clinic.OrderCancelled {
			return Receipt{}, clinic.Errorf(clinic.ErrGuardNotSatisfied, "billing: batch order %s is cancelled", order.ID)
		}
	}

	payments, err := tx.ListPayments(ctx, b.ID)
	if err != nil {
		return Receipt{}, err
	}
	paid, err := LedgerSum(payments)
	if err != nil {
		return Receipt{}, clinic.Errorf(clinic.ErrValidation, "billing: ledger sum: %w", err)
	}
	paid, err = paid.Add(params.Amount)
	if err != nil {
		return Receipt{}, clinic.Errorf(clinic.ErrValidation, "billing: payment amount: %w", err)
	}

	now := g.now()
	payment := clinic.BillPayment{
		ID:         g.newID(),
		BillingID:  b.ID,
		Amount:     params.Amount,
		Method:     params.Method,
		RecordedBy: actor.ID,
		CreatedAt:  now,
	}
	if ref := strings.TrimSpace(params.InsuranceRef); ref != "" {
		payment.InsuranceRef = &ref
	}
	if params.IdempotencyKey != "" {
		key := params.IdempotencyKey
		payment.IdempotencyKey = &key
	}
	if err := tx.InsertPayment(ctx, payment); err != nil {
		if errors.Is(err, clinic.ErrDuplicateKey) {
			return Receipt{}, clinic.Errorf(clinic.ErrConcurrencyConflict, "billing: idempotency key %q recorded concurrently", params.IdempotencyKey)
		}
		return Receipt{}, err
	}

	previous := b.Status
	b.Status = StatusFor(b.TotalAmount, paid)
	b.UpdatedAt = now
	if b.Status == clinic.BillingPaid {
		paidAt := now
		b.PaidAt = &paidAt
	}
	if err := tx.UpdateBilling(ctx, b); err != nil {
		return Receipt{}, err
	}

	if _, err := tx.AppendEvent(ctx, clinic.NewEvent(b.VisitID, clinic.EventPaymentRecorded, actor, map[string]any{
		"billing_id":      b.ID.String(),
		"payment_id":      payment.ID.String(),
		"amount":          payment.Amount.String(),
		"method":          string(payment.Method),
		"previous_status": string(previous),
		"status":          string(b.Status),
	}, now)); err != nil {
		return Receipt{}, err
	}

	if b.Status == clinic.BillingPaid {
		if _, err := tx.AppendEvent(ctx, clinic.NewEvent(b.VisitID, clinic.EventBillingPaid, actor, map[string]any{
			"billing_id": b.ID.String(),
			"purpose":    string(b.Purpose),
			"total":      b.TotalAmount.String(),
		}, now)); err != nil {
			return Receipt{}, err
		}
		for _, h := range g.hooks {
			if err := h.BillingPaid(ctx, tx, b, actor); err != nil {
				return Receipt{}, err
			}
		}
	}

	return Receipt{Billing: b, Payment: payment, Paid: paid}, nil
}

func (g *Gate) replay(ctx context.Context, tx clinic.Tx, prior clinic.BillPayment) (Receipt, error) {
	b, err := tx.GetBilling(ctx, prior.BillingID)
	if err != nil {
		return Receipt{}, err
	}
	payments, err := tx.ListPayments(ctx, b.ID)
	if err != nil {
		return Receipt{}, err
	}
	paid, err := LedgerSum(payments)
	if err != nil {
		return Receipt{}, clinic.Errorf(clinic.ErrValidation, "billing: ledger sum: %w", err)
	}
	return Receipt{Billing: b, Payment: prior, Paid: paid, Replayed: true}, nil
}

// Get returns the billing with its ledger.
func (g *Gate) Get(ctx context.Context, id uuid.UUID) (Statement, error) {
	var st Statement
	err := g.store.View(ctx, func(tx clinic.Tx) error {
		b, err := tx.GetBilling(ctx, id)
		if err != nil {
			return err
		}
		payments, err := tx.ListPayments(ctx, id)
		if err != nil {
			return err
		}
		paid, err := LedgerSum(payments)
		if err != nil {
			return clinic.Errorf(clinic.ErrValidation, "billing: ledger sum: %w", err)
		}
		st = Statement{
			Billing:     b,
			Payments:    payments,
			Paid:        paid,
			Outstanding: Outstanding(b.TotalAmount, paid),
		}
		return nil
	})
	return st, err
}

func (g *Gate) Status(ctx context.Context, id uuid.UUID) (clinic.BillingStatus, error) {
	var status clinic.BillingStatus
	err := g.store.View(ctx, func(tx clinic.Tx) error {
		b, err := tx.GetBilling(ctx, id)
		if err != nil {
			return err
		}
		status = b.Status
		return nil
	})
	return status, err
}

// IsPayable reports whether a payment against id would be accepted.
func (g *Gate) IsPayable(ctx context.Context, id uuid.UUID) (bool, error) {
	var payable bool
	err := g.store.View(ctx, func(tx clinic.Tx) error {
		b, err := tx.GetBilling(ctx, id)
		if err != nil {
			return err
		}
		if b.Status == clinic.BillingPaid {
			return nil
		}
		visit, err := tx.GetVisit(ctx, b.VisitID)
		if err != nil {
			return err
		}
		if visit.Status == clinic.VisitCancelled {
			return nil
		}
		if b.BatchOrderID != nil {
			order, err := tx.GetBatchOrder(ctx, *b.BatchOrderID)
			if err != nil {
				return err
			}
			if order.Status == clinic.OrderCancelled {
				return nil
			}
		}
		payable = true
		return nil
	})
	return payable, err
}
