package pgstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"clinicflow/clinic"
)

const billingCols = `id, visit_id, patient_id, purpose, batch_order_id, total_amount, status, paid_at, created_at, updated_at`

const paymentCols = `id, billing_id, amount, method, insurance_ref, idempotency_key, recorded_by, created_at`

func (r *repo) InsertBilling(ctx context.Context, b clinic.Billing) error {
	const query = `
		INSERT INTO billings (id, visit_id, patient_id, purpose, batch_order_id, total_amount, status, paid_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.tx.Exec(ctx, query,
		b.ID,
		b.VisitID,
		b.PatientID,
		b.Purpose,
		b.BatchOrderID,
		b.TotalAmount,
		b.Status,
		b.PaidAt,
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		return mapErr("pgstore: insert billing", err)
	}
	return nil
}

func (r *repo) GetBilling(ctx context.Context, id uuid.UUID) (clinic.Billing, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+billingCols+` FROM billings WHERE id = $1`, id)
	b, err := scanBilling(row)
	if err != nil {
		return clinic.Billing{}, mapErr(fmt.Sprintf("pgstore: billing %s", id), err)
	}
	return b, nil
}

func (r *repo) LockBilling(ctx context.Context, id uuid.UUID) (clinic.Billing, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+billingCols+` FROM billings WHERE id = $1 FOR UPDATE`, id)
	b, err := scanBilling(row)
	if err != nil {
		return clinic.Billing{}, mapErr(fmt.Sprintf("pgstore: lock billing %s", id), err)
	}
	return b, nil
}

func (r *repo) UpdateBilling(ctx context.Context, b clinic.Billing) error {
	const query = `
		UPDATE billings
		SET status = $2, paid_at = $3, updated_at = $4
		WHERE id = $1
	`
	tag, err := r.tx.Exec(ctx, query, b.ID, b.Status, b.PaidAt, b.UpdatedAt)
	if err != nil {
		return mapErr("pgstore: update billing", err)
	}
	if tag.RowsAffected() == 0 {
		return clinic.Errorf(clinic.ErrNotFound, "pgstore: billing %s not found", b.ID)
	}
	return nil
}

func (r *repo) ListBillingsByVisit(ctx context.Context, visitID uuid.UUID) ([]clinic.Billing, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+billingCols+` FROM billings WHERE visit_id = $1 ORDER BY created_at, id`, visitID)
	if err != nil {
		return nil, mapErr("pgstore: list billings", err)
	}
	return collectBillings(rows)
}

func collectBillings(rows pgx.Rows) ([]clinic.Billing, error) {
	defer rows.Close()
	var out []clinic.Billing
	for rows.Next() {
		b, err := scanBilling(rows)
		if err != nil {
			return nil, mapErr("pgstore: scan billing", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("pgstore: list billings", err)
	}
	return out, nil
}

func (r *repo) InsertPayment(ctx context.Context, p clinic.BillPayment) error {
	const query = `
		INSERT INTO bill_payments (id, billing_id, amount, method, insurance_ref, idempotency_key, recorded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.tx.Exec(ctx, query,
		p.ID,
		p.BillingID,
		p.Amount,
		p.Method,
		p.InsuranceRef,
		p.IdempotencyKey,
		p.RecordedBy,
		p.CreatedAt,
	)
	if err != nil {
		return mapErr("pgstore: insert payment", err)
	}
	return nil
}

func (r *repo) ListPayments(ctx context.Context, billingID uuid.UUID) ([]clinic.BillPayment, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+paymentCols+` FROM bill_payments WHERE billing_id = $1 ORDER BY created_at, id`, billingID)
	if err != nil {
		return nil, mapErr("pgstore: list payments", err)
	}
	defer rows.Close()

	var out []clinic.BillPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, mapErr("pgstore: scan payment", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("pgstore: list payments", err)
	}
	return out, nil
}

func (r *repo) PaymentByIdempotencyKey(ctx context.Context, key string) (clinic.BillPayment, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+paymentCols+` FROM bill_payments WHERE idempotency_key = $1`, key)
	p, err := scanPayment(row)
	if err != nil {
		return clinic.BillPayment{}, mapErr(fmt.Sprintf("pgstore: payment with key %q", key), err)
	}
	return p, nil
}

func scanBilling(row pgx.Row) (clinic.Billing, error) {
	var b clinic.Billing
	err := row.Scan(
		&b.ID,
		&b.VisitID,
		&b.PatientID,
		&b.Purpose,
		&b.BatchOrderID,
		&b.TotalAmount,
		&b.Status,
		&b.PaidAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	return b, err
}

func scanPayment(row pgx.Row) (clinic.BillPayment, error) {
	var p clinic.BillPayment
	err := row.Scan(
		&p.ID,
		&p.BillingID,
		&p.Amount,
		&p.Method,
		&p.InsuranceRef,
		&p.IdempotencyKey,
		&p.RecordedBy,
		&p.CreatedAt,
	)
	return p, err
}
