// Package results sends a visit back to its doctor once every order raised
// during the consultation has finished.
package results

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"clinicflow/clinic"
)

// Transitioner takes a visit edge on the engine's behalf inside tx.
type Transitioner interface {
	TransitionTx(ctx context.Context, tx clinic.Tx, visitID uuid.UUID, target clinic.VisitStatus) (clinic.Visit, error)
}

type Aggregator struct {
	visits Transitioner
	log    zerolog.Logger
}

func NewAggregator(visits Transitioner) *Aggregator {
	return &Aggregator{visits: visits, log: zerolog.Nop()}
}

func (a *Aggregator) WithLogger(l zerolog.Logger) *Aggregator {
	a.log = l.With().Str("component", "results").Logger()
	return a
}

// OrderSettled runs in the transaction that moved o to COMPLETED or
// CANCELLED. Once no order of the visit is open and at least one completed,
// the visit goes to AWAITING_RESULTS_REVIEW for its assigned doctor. A visit
// whose active assignment is not a doctor fails the whole transaction.
func (a *Aggregator) OrderSettled(ctx context.Context, tx clinic.Tx, o clinic.BatchOrder) error {
	v, err := tx.LockVisit(ctx, o.VisitID)
	if err != nil {
		return err
	}
	if v.Status == clinic.VisitAwaitingResultsReview || v.Status.Terminal() {
		return nil
	}

	orders, err := tx.ListBatchOrdersByVisit(ctx, v.ID)
	if err != nil {
		return err
	}
	completed := 0
	for _, other := range orders {
		status := other.Status
		if other.ID == o.ID {
			status = o.Status
		}
		if !status.Terminal() {
			return nil
		}
		if status == clinic.OrderCompleted {
			completed++
		}
	}
	if completed == 0 {
		return nil
	}

	assigned, err := tx.ActiveAssignment(ctx, v.ID, nil)
	if errors.Is(err, clinic.ErrNotFound) {
		return clinic.Errorf(clinic.ErrGuardNotSatisfied, "results: visit %s has no active assignment to route results to", v.ID)
	}
	if err != nil {
		return err
	}
	if assigned.ProviderRole != clinic.ProviderDoctor {
		return clinic.Errorf(clinic.ErrGuardNotSatisfied, "results: visit %s is assigned to a %s, results need a doctor", v.ID, assigned.ProviderRole)
	}

	moved, err := a.visits.TransitionTx(ctx, tx, v.ID, clinic.VisitAwaitingResultsReview)
	if err != nil {
		return err
	}
	a.log.Debug().
		Str("visit_id", v.ID.String()).
		Str("order_id", o.ID.String()).
		Str("order_status", string(o.Status)).
		Str("from", string(v.Status)).
		Str("doctor_id", assigned.ProviderID.String()).
		Int("version", moved.Version).
		Msg("results ready for review")
	return nil
}
