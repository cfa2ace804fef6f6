package pgstore

import (
	"context"

	"github.com/google/uuid"

	"clinicflow/clinic"
	"clinicflow/money"
)

// OpenWork should run inside View so every query sees the same snapshot.
func (r *repo) OpenWork(ctx context.Context) (clinic.Snapshot, error) {
	snap := clinic.Snapshot{
		Billings:    map[uuid.UUID][]clinic.Billing{},
		Orders:      map[uuid.UUID][]clinic.BatchOrder{},
		Assignments: map[uuid.UUID][]clinic.Assignment{},
		Paid:        map[uuid.UUID]money.Amount{},
	}

	rows, err := r.tx.Query(ctx, `SELECT `+visitCols+` FROM visits WHERE `+openVisit+` ORDER BY created_at, id`)
	if err != nil {
		return clinic.Snapshot{}, mapErr("pgstore: open visits", err)
	}
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			rows.Close()
			return clinic.Snapshot{}, mapErr("pgstore: scan visit", err)
		}
		snap.Visits = append(snap.Visits, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return clinic.Snapshot{}, mapErr("pgstore: open visits", err)
	}

	rows, err = r.tx.Query(ctx, `
		SELECT `+qualify("b", billingCols)+`
		FROM billings b JOIN visits v ON v.id = b.visit_id
		WHERE v.`+openVisit+`
		ORDER BY b.created_at, b.id`)
	if err != nil {
		return clinic.Snapshot{}, mapErr("pgstore: open billings", err)
	}
	billings, err := collectBillings(rows)
	if err != nil {
		return clinic.Snapshot{}, err
	}
	for _, b := range billings {
		snap.Billings[b.VisitID] = append(snap.Billings[b.VisitID], b)
		if b.Status != clinic.BillingPaid {
			snap.Paid[b.ID] = 0
		}
	}

	rows, err = r.tx.Query(ctx, `
		SELECT p.billing_id, SUM(p.amount)::bigint
		FROM bill_payments p
		JOIN billings b ON b.id = p.billing_id
		JOIN visits v ON v.id = b.visit_id
		WHERE b.status <> 'PAID' AND v.`+openVisit+`
		GROUP BY p.billing_id`)
	if err != nil {
		return clinic.Snapshot{}, mapErr("pgstore: paid sums", err)
	}
	for rows.Next() {
		var id uuid.UUID
		var sum money.Amount
		if err := rows.Scan(&id, &sum); err != nil {
			rows.Close()
			return clinic.Snapshot{}, mapErr("pgstore: scan paid sum", err)
		}
		snap.Paid[id] = sum
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return clinic.Snapshot{}, mapErr("pgstore: paid sums", err)
	}

	rows, err = r.tx.Query(ctx, `
		SELECT `+qualify("o", orderCols)+`
		FROM batch_orders o JOIN visits v ON v.id = o.visit_id
		WHERE v.`+openVisit+`
		ORDER BY o.created_at, o.id`)
	if err != nil {
		return clinic.Snapshot{}, mapErr("pgstore: open orders", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return clinic.Snapshot{}, err
	}
	rows, err = r.tx.Query(ctx, `
		SELECT `+qualify("i", itemCols)+`
		FROM service_order_items i
		JOIN batch_orders o ON o.id = i.batch_order_id
		JOIN visits v ON v.id = o.visit_id
		WHERE v.`+openVisit+`
		ORDER BY i.batch_order_id, i.position`)
	if err != nil {
		return clinic.Snapshot{}, mapErr("pgstore: open order items", err)
	}
	items, err := collectItems(rows)
	if err != nil {
		return clinic.Snapshot{}, err
	}
	for _, o := range orders {
		o.Items = items[o.ID]
		snap.Orders[o.VisitID] = append(snap.Orders[o.VisitID], o)
	}

	rows, err = r.tx.Query(ctx, `
		SELECT `+qualify("a", assignmentCols)+`
		FROM assignments a JOIN visits v ON v.id = a.visit_id
		WHERE a.status = 'ACTIVE' AND v.`+openVisit+`
		ORDER BY a.created_at, a.id`)
	if err != nil {
		return clinic.Snapshot{}, mapErr("pgstore: active assignments", err)
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return clinic.Snapshot{}, mapErr("pgstore: scan assignment", err)
		}
		snap.Assignments[a.VisitID] = append(snap.Assignments[a.VisitID], a)
	}
	if err := rows.Err(); err != nil {
		return clinic.Snapshot{}, mapErr("pgstore: active assignments", err)
	}
	return snap, nil
}
