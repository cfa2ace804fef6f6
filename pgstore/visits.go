package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"clinicflow/clinic"
)

const visitCols = `id, patient_id, status, queue_type, assignment_id, version, cancel_reason, created_at, updated_at, completed_at`

func (r *repo) InsertVisit(ctx context.Context, v clinic.Visit) error {
	const query = `
		INSERT INTO visits (id, patient_id, status, queue_type, assignment_id, version, cancel_reason, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.tx.Exec(ctx, query,
		v.ID,
		v.PatientID,
		v.Status,
		v.QueueType,
		v.AssignmentID,
		v.Version,
		v.CancelReason,
		v.CreatedAt,
		v.UpdatedAt,
		v.CompletedAt,
	)
	if err != nil {
		return mapErr("pgstore: insert visit", err)
	}
	return nil
}

func (r *repo) GetVisit(ctx context.Context, id uuid.UUID) (clinic.Visit, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+visitCols+` FROM visits WHERE id = $1`, id)
	v, err := scanVisit(row)
	if err != nil {
		return clinic.Visit{}, mapErr(fmt.Sprintf("pgstore: visit %s", id), err)
	}
	return v, nil
}

func (r *repo) LockVisit(ctx context.Context, id uuid.UUID) (clinic.Visit, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+visitCols+` FROM visits WHERE id = $1 FOR UPDATE`, id)
	v, err := scanVisit(row)
	if err != nil {
		return clinic.Visit{}, mapErr(fmt.Sprintf("pgstore: lock visit %s", id), err)
	}
	return v, nil
}

func (r *repo) UpdateVisit(ctx context.Context, v clinic.Visit) (clinic.Visit, error) {
	const query = `
		UPDATE visits
		SET status = $2,
		    queue_type = $3,
		    assignment_id = $4,
		    cancel_reason = $5,
		    updated_at = $6,
		    completed_at = $7,
		    version = version + 1
		WHERE id = $1 AND version = $8
		RETURNING ` + visitCols

	row := r.tx.QueryRow(ctx, query,
		v.ID,
		v.Status,
		v.QueueType,
		v.AssignmentID,
		v.CancelReason,
		v.UpdatedAt,
		v.CompletedAt,
		v.Version,
	)
	saved, err := scanVisit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetVisit(ctx, v.ID); getErr != nil {
			return clinic.Visit{}, getErr
		}
		return clinic.Visit{}, clinic.Errorf(clinic.ErrConcurrencyConflict, "pgstore: visit %s was modified concurrently", v.ID)
	}
	if err != nil {
		return clinic.Visit{}, mapErr("pgstore: update visit", err)
	}
	return saved, nil
}

func scanVisit(row pgx.Row) (clinic.Visit, error) {
	var v clinic.Visit
	err := row.Scan(
		&v.ID,
		&v.PatientID,
		&v.Status,
		&v.QueueType,
		&v.AssignmentID,
		&v.Version,
		&v.CancelReason,
		&v.CreatedAt,
		&v.UpdatedAt,
		&v.CompletedAt,
	)
	return v, err
}
