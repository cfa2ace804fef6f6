package infra

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Harness owns a migrated, schema-isolated pool for integration tests.
type Harness struct {
	pool     *pgxpool.Pool
	teardown func(context.Context) error
}

// Open migrates a fresh schema in DATABASE_URL and registers its cleanup.
// The test is skipped when DATABASE_URL is not set.
func Open(t *testing.T) *Harness {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, teardown, err := ApplyMigrations(ctx, dsn, true)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	h := &Harness{pool: pool, teardown: teardown}
	t.Cleanup(func() { h.Close(context.Background()) })
	return h
}

func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
	}
	if h.teardown != nil {
		_ = h.teardown(ctx)
	}
}

// Reset empties every clinic table.
func (h *Harness) Reset(ctx context.Context) error {
	const stmt = `TRUNCATE TABLE visit_events, assignments, service_order_items, bill_payments, batch_orders, billings, visits CASCADE`
	if _, err := h.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}
