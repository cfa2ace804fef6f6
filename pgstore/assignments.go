package pgstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"clinicflow/clinic"
)

const assignmentCols = `id, visit_id, item_id, provider_id, provider_role, status, assigned_by, created_at, completed_at`

func (r *repo) InsertAssignment(ctx context.Context, a clinic.Assignment) error {
	const query = `
		INSERT INTO assignments (id, visit_id, item_id, provider_id, provider_role, status, assigned_by, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.tx.Exec(ctx, query,
		a.ID,
		a.VisitID,
		a.ItemID,
		a.ProviderID,
		a.ProviderRole,
		a.Status,
		a.AssignedBy,
		a.CreatedAt,
		a.CompletedAt,
	)
	if err != nil {
		return mapErr("pgstore: insert assignment", err)
	}
	return nil
}

func (r *repo) GetAssignment(ctx context.Context, id uuid.UUID) (clinic.Assignment, error) {
	a, err := scanAssignment(r.tx.QueryRow(ctx, `SELECT `+assignmentCols+` FROM assignments WHERE id = $1`, id))
	if err != nil {
		return clinic.Assignment{}, mapErr(fmt.Sprintf("pgstore: assignment %s", id), err)
	}
	return a, nil
}

func (r *repo) ActiveAssignment(ctx context.Context, visitID uuid.UUID, itemID *uuid.UUID) (clinic.Assignment, error) {
	const query = `
		SELECT ` + assignmentCols + `
		FROM assignments
		WHERE visit_id = $1 AND status = 'ACTIVE' AND item_id IS NOT DISTINCT FROM $2::uuid
	`
	a, err := scanAssignment(r.tx.QueryRow(ctx, query, visitID, itemID))
	if err != nil {
		return clinic.Assignment{}, mapErr(fmt.Sprintf("pgstore: active assignment for visit %s", visitID), err)
	}
	return a, nil
}

func (r *repo) UpdateAssignment(ctx context.Context, a clinic.Assignment) error {
	const query = `
		UPDATE assignments
		SET status = $2, completed_at = $3
		WHERE id = $1
	`
	tag, err := r.tx.Exec(ctx, query, a.ID, a.Status, a.CompletedAt)
	if err != nil {
		return mapErr("pgstore: update assignment", err)
	}
	if tag.RowsAffected() == 0 {
		return clinic.Errorf(clinic.ErrNotFound, "pgstore: assignment %s not found", a.ID)
	}
	return nil
}

func scanAssignment(row pgx.Row) (clinic.Assignment, error) {
	var a clinic.Assignment
	err := row.Scan(
		&a.ID,
		&a.VisitID,
		&a.ItemID,
		&a.ProviderID,
		&a.ProviderRole,
		&a.Status,
		&a.AssignedBy,
		&a.CreatedAt,
		&a.CompletedAt,
	)
	return a, err
}
