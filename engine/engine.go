// Package engine wires the visit, billing, order, results, assignment and
// queue components over one store.
package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"clinicflow/assignment"
	"clinicflow/billing"
	"clinicflow/clinic"
	"clinicflow/order"
	"clinicflow/queue"
	"clinicflow/results"
	"clinicflow/visit"
)

type Engine struct {
	Visits      *visit.Manager
	Billing     *billing.Gate
	Orders      *order.Coordinator
	Assignments *assignment.Tracker
	Queues      *queue.Router
}

type options struct {
	now    func() time.Time
	newID  func() uuid.UUID
	logger zerolog.Logger
}

type Option func(*options)

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithIDGenerator(gen func() uuid.UUID) Option {
	return func(o *options) { o.newID = gen }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func New(store clinic.Store, opts ...Option) *Engine {
	o := options{
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.New,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	orders := order.NewCoordinator(store).WithClock(o.now).WithIDGenerator(o.newID)
	visits := visit.NewManager(store).WithClock(o.now).WithIDGenerator(o.newID).WithOrderCanceller(orders)
	orders.OnSettled(results.NewAggregator(visits).WithLogger(o.logger))
	gate := billing.NewGate(store).WithClock(o.now).WithIDGenerator(o.newID).OnPaid(orders)

	return &Engine{
		Visits:      visits,
		Billing:     gate,
		Orders:      orders,
		Assignments: assignment.NewTracker(store).WithClock(o.now).WithIDGenerator(o.newID),
		Queues:      queue.NewRouter(store),
	}
}
