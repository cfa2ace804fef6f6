package visit

import (
	"context"

	"clinicflow/clinic"
)

type guard func(ctx context.Context, tx clinic.Tx, actor clinic.Actor, v clinic.Visit) error

type edge struct {
	roles []clinic.Role
	guard guard
}

var graph = map[clinic.VisitStatus]map[clinic.VisitStatus]edge{
	clinic.VisitRegistered: {
		clinic.VisitWaitingForTriage: {roles: []clinic.Role{clinic.RoleReceptionist}},
	},
	clinic.VisitWaitingForTriage: {
		clinic.VisitTriaged: {roles: []clinic.Role{clinic.RoleNurse}, guard: billingPaid(clinic.PurposeEntryFee)},
	},
	clinic.VisitTriaged: {
		clinic.VisitWaitingForDoctor: {roles: []clinic.Role{clinic.RoleNurse}, guard: doctorAssigned},
	},
	clinic.VisitWaitingForDoctor: {
		clinic.VisitUnderDoctorReview: {roles: []clinic.Role{clinic.RoleDoctor}, guard: readyForDoctor},
	},
	clinic.VisitUnderDoctorReview: {
		clinic.VisitAwaitingResultsReview:  {roles: []clinic.Role{clinic.RoleDoctor}, guard: resultsReady},
		clinic.VisitNurseServicesCompleted: {roles: []clinic.Role{clinic.RoleNurse}, guard: nurseServicesDone},
		clinic.VisitCompleted:              {roles: []clinic.Role{clinic.RoleDoctor, clinic.RoleNurse}, guard: noOpenOrders},
	},
	clinic.VisitAwaitingResultsReview: {
		clinic.VisitUnderDoctorReview:      {roles: []clinic.Role{clinic.RoleDoctor}, guard: readyForDoctor},
		clinic.VisitNurseServicesCompleted: {roles: []clinic.Role{clinic.RoleNurse}, guard: nurseServicesDone},
		clinic.VisitCompleted:              {roles: []clinic.Role{clinic.RoleDoctor, clinic.RoleNurse}, guard: noOpenOrders},
	},
	clinic.VisitNurseServicesCompleted: {
		clinic.VisitAwaitingResultsReview: {roles: []clinic.Role{clinic.RoleDoctor}, guard: resultsReady},
		clinic.VisitCompleted:             {roles: []clinic.Role{clinic.RoleDoctor, clinic.RoleNurse}, guard: noOpenOrders},
	},
}

var cancelEdge = edge{roles: []clinic.Role{clinic.RoleReceptionist, clinic.RoleDoctor, clinic.RoleNurse}}

// lookup returns the edge from -> to. Every non-terminal state may be
// cancelled.
func lookup(from, to clinic.VisitStatus) (edge, bool) {
	if from.Terminal() || from == to {
		return edge{}, false
	}
	if to == clinic.VisitCancelled {
		return cancelEdge, true
	}
	e, ok := graph[from][to]
	return e, ok
}

// CanTransition reports whether from -> to is an edge of the visit graph.
func CanTransition(from, to clinic.VisitStatus) bool {
	_, ok := lookup(from, to)
	return ok
}

func (e edge) permits(actor clinic.Actor) bool {
	if actor.Is(clinic.RoleAdmin, clinic.RoleSystem) {
		return true
	}
	return actor.Is(e.roles...)
}
