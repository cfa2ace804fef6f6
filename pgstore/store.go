// Package pgstore implements clinic.Store on PostgreSQL with pgx. Commands
// run in READ COMMITTED transactions and take row locks with SELECT ... FOR
// UPDATE in the order visit, billing, batch order. Views run in REPEATABLE
// READ READ ONLY transactions so a queue is computed from one snapshot.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"clinicflow/clinic"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

type Store struct {
	pool TxBeginner
}

func New(pool TxBeginner) *Store {
	return &Store{pool: pool}
}

func (s *Store) InTx(ctx context.Context, fn func(clinic.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

func (s *Store) View(ctx context.Context, fn func(clinic.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, fn func(clinic.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return mapErr("pgstore: begin", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&repo{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapErr("pgstore: commit", err)
	}
	return nil
}

// repo implements clinic.Tx over one pgx transaction.
type repo struct {
	tx pgx.Tx
}

const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// mapErr classifies a driver error. Missing rows become ErrNotFound, unique
// violations ErrDuplicateKey, serialization failures and deadlocks
// ErrConcurrencyConflict; anything else is a storage error.
func mapErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return clinic.Errorf(clinic.ErrNotFound, "%s: not found", op)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w", op, clinic.ErrDuplicateKey)
		case codeSerializationFailure, codeDeadlockDetected:
			return clinic.Errorf(clinic.ErrConcurrencyConflict, "%s: %s", op, pgErr.Message)
		}
	}
	return clinic.StorageError(op, err)
}

// qualify prefixes every column in cols with alias.
func qualify(alias, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

const openVisit = `status NOT IN ('COMPLETED', 'CANCELLED')`
