package queue

import (
	"context"

	"github.com/google/uuid"

	"clinicflow/clinic"
)

type Router struct {
	store clinic.Store
}

func NewRouter(store clinic.Store) *Router {
	return &Router{store: store}
}

// ListFor reads the open work in one consistent view and returns one page
// of role's queue for actorID plus the queue length.
func (r *Router) ListFor(ctx context.Context, role clinic.Role, actorID uuid.UUID, limit, offset int) ([]VisitSummary, int, error) {
	if !role.Valid() {
		return nil, 0, clinic.Errorf(clinic.ErrValidation, "queue: unknown role %q", role)
	}
	if limit < 0 || offset < 0 {
		return nil, 0, clinic.Errorf(clinic.ErrValidation, "queue: limit and offset must not be negative")
	}

	var snap clinic.Snapshot
	if err := r.store.View(ctx, func(tx clinic.Tx) error {
		var err error
		snap, err = tx.OpenWork(ctx)
		return err
	}); err != nil {
		return nil, 0, err
	}

	all := Route(role, actorID, snap)
	total := len(all)
	if offset >= total {
		return []VisitSummary{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return all[offset:end], total, nil
}
