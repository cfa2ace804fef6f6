package pgstore

import (
	"context"

	"github.com/google/uuid"

	"clinicflow/clinic"
)

const eventCols = `id, visit_id, seq, type, actor_id, payload, created_at`

// AppendEvent relies on the caller holding the visit lock so the next
// sequence number cannot be taken concurrently.
func (r *repo) AppendEvent(ctx context.Context, e clinic.Event) (clinic.Event, error) {
	const query = `
		INSERT INTO visit_events (id, visit_id, seq, type, actor_id, payload, created_at)
		VALUES ($1, $2, (SELECT COALESCE(MAX(seq), 0) + 1 FROM visit_events WHERE visit_id = $2), $3, $4, $5, $6)
		RETURNING seq
	`
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if err := r.tx.QueryRow(ctx, query, e.ID, e.VisitID, e.Type, e.ActorID, payload, e.CreatedAt).Scan(&e.Seq); err != nil {
		return clinic.Event{}, mapErr("pgstore: append event", err)
	}
	return e, nil
}

func (r *repo) ListEvents(ctx context.Context, visitID uuid.UUID, limit, offset int) ([]clinic.Event, int, error) {
	var total int
	if err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM visit_events WHERE visit_id = $1`, visitID).Scan(&total); err != nil {
		return nil, 0, mapErr("pgstore: count events", err)
	}

	const query = `
		SELECT ` + eventCols + `
		FROM visit_events
		WHERE visit_id = $1
		ORDER BY seq
		LIMIT NULLIF($2::int, 0) OFFSET $3
	`
	rows, err := r.tx.Query(ctx, query, visitID, limit, offset)
	if err != nil {
		return nil, 0, mapErr("pgstore: list events", err)
	}
	defer rows.Close()

	events := []clinic.Event{}
	for rows.Next() {
		var e clinic.Event
		if err := rows.Scan(&e.ID, &e.VisitID, &e.Seq, &e.Type, &e.ActorID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, 0, mapErr("pgstore: scan event", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapErr("pgstore: list events", err)
	}
	return events, total, nil
}
