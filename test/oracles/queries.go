package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Oracle is a query that returns rows only when the stored state is inconsistent.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_order_released_before_paid",
			SQL: `SELECT o.id, o.status, b.status FROM batch_orders o
                  JOIN billings b ON b.id = o.billing_id
                  WHERE o.status NOT IN ('UNPAID', 'CANCELLED') AND b.status <> 'PAID'`,
		},
		{
			Name: "O2_billing_status_matches_ledger",
			SQL: `WITH ledger AS (
                      SELECT b.id, b.status, b.total_amount, COALESCE(SUM(p.amount), 0) AS paid
                      FROM billings b LEFT JOIN bill_payments p ON p.billing_id = b.id
                      GROUP BY b.id)
                  SELECT * FROM ledger
                  WHERE (status = 'PAID' AND paid < total_amount)
                     OR (status = 'PARTIAL' AND (paid = 0 OR paid >= total_amount))
                     OR (status = 'PENDING' AND paid > 0)`,
		},
		{
			Name: "O3_completed_order_items",
			SQL: `SELECT o.id FROM batch_orders o
                  WHERE o.status = 'COMPLETED'
                    AND (EXISTS (SELECT 1 FROM service_order_items i
                                 WHERE i.batch_order_id = o.id AND i.status NOT IN ('COMPLETED', 'CANCELLED'))
                      OR NOT EXISTS (SELECT 1 FROM service_order_items i
                                     WHERE i.batch_order_id = o.id AND i.status = 'COMPLETED'))`,
		},
		{
			Name: "O4_cancelled_work_left_open",
			SQL: `SELECT o.id FROM batch_orders o
                  JOIN visits v ON v.id = o.visit_id
                  WHERE (o.status = 'CANCELLED' AND EXISTS (
                             SELECT 1 FROM service_order_items i
                             WHERE i.batch_order_id = o.id AND i.status NOT IN ('COMPLETED', 'CANCELLED')))
                     OR (v.status = 'CANCELLED' AND o.status NOT IN ('COMPLETED', 'CANCELLED'))`,
		},
		{
			Name: "O5_work_on_unpaid_order",
			SQL: `SELECT i.id FROM service_order_items i
                  JOIN batch_orders o ON o.id = i.batch_order_id
                  WHERE o.status = 'UNPAID' AND i.status <> 'PENDING'`,
		},
		{
			Name: "O6_event_seq_gapless",
			SQL: `SELECT visit_id, seq, rn FROM (
                      SELECT visit_id, seq, ROW_NUMBER() OVER (PARTITION BY visit_id ORDER BY seq) AS rn
                      FROM visit_events) s
                  WHERE seq <> rn`,
		},
		{
			Name: "O7_open_visit_assignment_pointer",
			SQL: `SELECT v.id FROM visits v
                  JOIN assignments a ON a.id = v.assignment_id
                  WHERE v.status NOT IN ('COMPLETED', 'CANCELLED')
                    AND (a.status <> 'ACTIVE' OR a.visit_id <> v.id OR a.item_id IS NOT NULL)`,
		},
		{
			Name: "O8_results_review_without_results",
			SQL: `SELECT v.id FROM visits v
                  WHERE v.status = 'AWAITING_RESULTS_REVIEW'
                    AND NOT EXISTS (SELECT 1 FROM batch_orders o
                                    WHERE o.visit_id = v.id AND o.status = 'COMPLETED')`,
		},
		{
			Name: "O9_payments_append_only",
			SQL: `SELECT 'missing_append_only_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'bill_payments_no_update')`,
		},
	}
}

// Run executes every oracle and returns the first failure with a sample row,
// or an empty name when all pass.
func Run(ctx context.Context, q Querier) (string, string, error) {
	for _, o := range All() {
		rows, err := q.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
