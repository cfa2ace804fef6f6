package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"clinicflow/clinic"
)

const orderCols = `id, visit_id, patient_id, ordering_provider_id, kind, status, billing_id, version, created_at, updated_at`

const itemCols = `id, batch_order_id, service_reference_id, kind, quantity, unit_price, status, result_reference, completed_by, completed_at, updated_at`

func (r *repo) InsertBatchOrder(ctx context.Context, o clinic.BatchOrder) error {
	const orderQuery = `
		INSERT INTO batch_orders (id, visit_id, patient_id, ordering_provider_id, kind, status, billing_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	const itemQuery = `
		INSERT INTO service_order_items (id, batch_order_id, position, service_reference_id, kind, quantity, unit_price, status, result_reference, completed_by, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	batch := &pgx.Batch{}
	batch.Queue(orderQuery,
		o.ID,
		o.VisitID,
		o.PatientID,
		o.OrderingProviderID,
		o.Kind,
		o.Status,
		o.BillingID,
		o.Version,
		o.CreatedAt,
		o.UpdatedAt,
	)
	for i, it := range o.Items {
		batch.Queue(itemQuery,
			it.ID,
			o.ID,
			i,
			it.ServiceReferenceID,
			it.Kind,
			it.Quantity,
			it.UnitPrice,
			it.Status,
			it.ResultReference,
			it.CompletedBy,
			it.CompletedAt,
			it.UpdatedAt,
		)
	}

	results := r.tx.SendBatch(ctx, batch)
	for range batch.Len() {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return mapErr("pgstore: insert batch order", err)
		}
	}
	if err := results.Close(); err != nil {
		return mapErr("pgstore: insert batch order", err)
	}
	return nil
}

func (r *repo) GetBatchOrder(ctx context.Context, id uuid.UUID) (clinic.BatchOrder, error) {
	return r.oneOrder(ctx, fmt.Sprintf("pgstore: batch order %s", id), `SELECT `+orderCols+` FROM batch_orders WHERE id = $1`, id)
}

func (r *repo) LockBatchOrder(ctx context.Context, id uuid.UUID) (clinic.BatchOrder, error) {
	return r.oneOrder(ctx, fmt.Sprintf("pgstore: lock batch order %s", id), `SELECT `+orderCols+` FROM batch_orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *repo) BatchOrderByBilling(ctx context.Context, billingID uuid.UUID) (clinic.BatchOrder, error) {
	return r.oneOrder(ctx, fmt.Sprintf("pgstore: batch order for billing %s", billingID), `SELECT `+orderCols+` FROM batch_orders WHERE billing_id = $1`, billingID)
}

func (r *repo) oneOrder(ctx context.Context, op, query string, arg uuid.UUID) (clinic.BatchOrder, error) {
	o, err := scanOrder(r.tx.QueryRow(ctx, query, arg))
	if err != nil {
		return clinic.BatchOrder{}, mapErr(op, err)
	}
	items, err := r.itemsWhere(ctx, `batch_order_id = $1`, o.ID)
	if err != nil {
		return clinic.BatchOrder{}, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (r *repo) UpdateBatchOrder(ctx context.Context, o clinic.BatchOrder) (clinic.BatchOrder, error) {
	const query = `
		UPDATE batch_orders
		SET status = $2, updated_at = $3, version = version + 1
		WHERE id = $1 AND version = $4
		RETURNING ` + orderCols

	saved, err := scanOrder(r.tx.QueryRow(ctx, query, o.ID, o.Status, o.UpdatedAt, o.Version))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetBatchOrder(ctx, o.ID); getErr != nil {
			return clinic.BatchOrder{}, getErr
		}
		return clinic.BatchOrder{}, clinic.Errorf(clinic.ErrConcurrencyConflict, "pgstore: batch order %s was modified concurrently", o.ID)
	}
	if err != nil {
		return clinic.BatchOrder{}, mapErr("pgstore: update batch order", err)
	}
	items, err := r.itemsWhere(ctx, `batch_order_id = $1`, o.ID)
	if err != nil {
		return clinic.BatchOrder{}, err
	}
	saved.Items = items[o.ID]
	return saved, nil
}

func (r *repo) ListBatchOrdersByVisit(ctx context.Context, visitID uuid.UUID) ([]clinic.BatchOrder, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+orderCols+` FROM batch_orders WHERE visit_id = $1 ORDER BY created_at, id`, visitID)
	if err != nil {
		return nil, mapErr("pgstore: list batch orders", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}
	items, err := r.itemsWhere(ctx, `batch_order_id IN (SELECT id FROM batch_orders WHERE visit_id = $1)`, visitID)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (r *repo) GetItem(ctx context.Context, id uuid.UUID) (clinic.ServiceOrderItem, error) {
	it, err := scanItem(r.tx.QueryRow(ctx, `SELECT `+itemCols+` FROM service_order_items WHERE id = $1`, id))
	if err != nil {
		return clinic.ServiceOrderItem{}, mapErr(fmt.Sprintf("pgstore: order item %s", id), err)
	}
	return it, nil
}

func (r *repo) UpdateItem(ctx context.Context, item clinic.ServiceOrderItem) error {
	const query = `
		UPDATE service_order_items
		SET status = $2, result_reference = $3, completed_by = $4, completed_at = $5, updated_at = $6
		WHERE id = $1
	`
	tag, err := r.tx.Exec(ctx, query,
		item.ID,
		item.Status,
		item.ResultReference,
		item.CompletedBy,
		item.CompletedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return mapErr("pgstore: update item", err)
	}
	if tag.RowsAffected() == 0 {
		return clinic.Errorf(clinic.ErrNotFound, "pgstore: order item %s not found", item.ID)
	}
	return nil
}

// itemsWhere loads items matching cond grouped by batch order, each group
// in creation position.
func (r *repo) itemsWhere(ctx context.Context, cond string, arg uuid.UUID) (map[uuid.UUID][]clinic.ServiceOrderItem, error) {
	query := `SELECT ` + itemCols + ` FROM service_order_items WHERE ` + cond + ` ORDER BY batch_order_id, position`
	rows, err := r.tx.Query(ctx, query, arg)
	if err != nil {
		return nil, mapErr("pgstore: list order items", err)
	}
	return collectItems(rows)
}

func collectOrders(rows pgx.Rows) ([]clinic.BatchOrder, error) {
	defer rows.Close()
	var out []clinic.BatchOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, mapErr("pgstore: scan batch order", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("pgstore: list batch orders", err)
	}
	return out, nil
}

func collectItems(rows pgx.Rows) (map[uuid.UUID][]clinic.ServiceOrderItem, error) {
	defer rows.Close()
	out := map[uuid.UUID][]clinic.ServiceOrderItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, mapErr("pgstore: scan order item", err)
		}
		out[it.BatchOrderID] = append(out[it.BatchOrderID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("pgstore: list order items", err)
	}
	return out, nil
}

func scanOrder(row pgx.Row) (clinic.BatchOrder, error) {
	var o clinic.BatchOrder
	err := row.Scan(
		&o.ID,
		&o.VisitID,
		&o.PatientID,
		&o.OrderingProviderID,
		&o.Kind,
		&o.Status,
		&o.BillingID,
		&o.Version,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	return o, err
}

func scanItem(row pgx.Row) (clinic.ServiceOrderItem, error) {
	var it clinic.ServiceOrderItem
	err := row.Scan(
		&it.ID,
		&it.BatchOrderID,
		&it.ServiceReferenceID,
		&it.Kind,
		&it.Quantity,
		&it.UnitPrice,
		&it.Status,
		&it.ResultReference,
		&it.CompletedBy,
		&it.CompletedAt,
		&it.UpdatedAt,
	)
	return it, err
}
