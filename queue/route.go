// Package queue answers "what needs this role's attention right now". Queues
// are computed from the current rows on every read and never stored.
package queue

import (
	"sort"

	"github.com/google/uuid"

	"clinicflow/clinic"
	"clinicflow/money"
)

// Reason says why a visit is in a queue.
type Reason string

const (
	ReasonAwaitingPayment Reason = "AWAITING_PAYMENT"
	ReasonRegistration    Reason = "REGISTRATION"
	ReasonReadyForTriage  Reason = "READY_FOR_TRIAGE"
	ReasonDoctorHandoff   Reason = "DOCTOR_HANDOFF"
	ReasonNurseServices   Reason = "NURSE_SERVICES"
	ReasonConsultation    Reason = "CONSULTATION"
	ReasonResultsReview   Reason = "RESULTS_REVIEW"
	ReasonDischarge       Reason = "DISCHARGE"
	ReasonServiceWork     Reason = "SERVICE_WORK"
)

// VisitSummary is one queue row.
type VisitSummary struct {
	Visit   clinic.Visit
	Reasons []Reason
	// Billings holds the outstanding billings, for the billing desk.
	Billings  []clinic.Billing
	AmountDue money.Amount
	// Orders holds the orders with work for the caller.
	Orders []clinic.BatchOrder
}

// Route computes the queue of role for the provider actorID. The actor id
// only matters for roles whose queue is personal (doctors, nurses).
func Route(role clinic.Role, actorID uuid.UUID, snap clinic.Snapshot) []VisitSummary {
	var out []VisitSummary
	for _, v := range snap.Visits {
		if v.Status.Terminal() {
			continue
		}
		var (
			s  VisitSummary
			ok bool
		)
		if role == clinic.RoleAdmin {
			s, ok = adminEntry(v, snap)
		} else {
			s, ok = entryFor(role, actorID, v, snap)
		}
		if ok {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Visit, out[j].Visit
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return out
}

var staffRoles = []clinic.Role{
	clinic.RoleBillingOfficer,
	clinic.RoleReceptionist,
	clinic.RoleNurse,
	clinic.RoleDoctor,
	clinic.RoleLabTechnician,
	clinic.RoleRadiologyTechnician,
	clinic.RolePharmacist,
}

// adminEntry merges every other queue. The doctor queue is checked against
// the visit's own doctor; nurse work is shown whoever holds it.
func adminEntry(v clinic.Visit, snap clinic.Snapshot) (VisitSummary, bool) {
	merged := VisitSummary{Visit: v}
	seenOrder := map[uuid.UUID]bool{}
	found := false
	for _, role := range staffRoles {
		actorID := uuid.Nil
		if role == clinic.RoleDoctor {
			if a, ok := snap.ActiveVisitAssignment(v.ID); ok {
				actorID = a.ProviderID
			}
		}
		s, ok := entryFor(role, actorID, v, snap)
		if !ok {
			continue
		}
		found = true
		merged.Reasons = appendReasons(merged.Reasons, s.Reasons...)
		if role == clinic.RoleBillingOfficer {
			merged.Billings = s.Billings
			merged.AmountDue = s.AmountDue
		}
		for _, o := range s.Orders {
			if !seenOrder[o.ID] {
				seenOrder[o.ID] = true
				merged.Orders = append(merged.Orders, o)
			}
		}
	}
	return merged, found
}

func entryFor(role clinic.Role, actorID uuid.UUID, v clinic.Visit, snap clinic.Snapshot) (VisitSummary, bool) {
	s := VisitSummary{Visit: v}
	switch role {
	case clinic.RoleBillingOfficer:
		billingDesk(&s, snap)
	case clinic.RoleReceptionist:
		if v.Status == clinic.VisitRegistered {
			s.Reasons = append(s.Reasons, ReasonRegistration)
		}
	case clinic.RoleNurse:
		nurseStation(&s, actorID, snap)
	case clinic.RoleDoctor:
		doctorDesk(&s, actorID, snap)
	case clinic.RoleLabTechnician, clinic.RoleRadiologyTechnician, clinic.RolePharmacist:
		kind, _ := role.ServiceKind()
		for _, o := range snap.Orders[v.ID] {
			if (o.Status == clinic.OrderQueued || o.Status == clinic.OrderInProgress) && o.HasOpenItemsOf(kind) {
				s.Orders = append(s.Orders, o)
			}
		}
		if len(s.Orders) > 0 {
			s.Reasons = append(s.Reasons, ReasonServiceWork)
		}
	}
	return s, len(s.Reasons) > 0
}

func billingDesk(s *VisitSummary, snap clinic.Snapshot) {
	cancelled := map[uuid.UUID]bool{}
	for _, o := range snap.Orders[s.Visit.ID] {
		if o.Status == clinic.OrderCancelled {
			cancelled[o.ID] = true
		}
	}
	for _, b := range snap.Billings[s.Visit.ID] {
		if b.Status == clinic.BillingPaid {
			continue
		}
		if b.BatchOrderID != nil && cancelled[*b.BatchOrderID] {
			continue
		}
		s.Billings = append(s.Billings, b)
		if due := b.TotalAmount - snap.Paid[b.ID]; due > 0 {
			s.AmountDue += due
		}
	}
	if len(s.Billings) > 0 {
		s.Reasons = append(s.Reasons, ReasonAwaitingPayment)
	}
}

func nurseStation(s *VisitSummary, nurseID uuid.UUID, snap clinic.Snapshot) {
	v := s.Visit
	switch v.Status {
	case clinic.VisitWaitingForTriage:
		if purposePaid(snap.Billings[v.ID], clinic.PurposeEntryFee) {
			s.Reasons = append(s.Reasons, ReasonReadyForTriage)
		}
	case clinic.VisitTriaged:
		s.Reasons = append(s.Reasons, ReasonDoctorHandoff)
	}

	for _, o := range snap.Orders[v.ID] {
		if o.Status != clinic.OrderQueued && o.Status != clinic.OrderInProgress {
			continue
		}
		for _, it := range o.Items {
			if it.Kind != clinic.ServiceNurse || it.Status.Terminal() {
				continue
			}
			a, assigned := snap.ActiveItemAssignment(v.ID, it.ID)
			if assigned && nurseID != uuid.Nil && a.ProviderID != nurseID {
				continue
			}
			s.Orders = append(s.Orders, o)
			break
		}
	}
	if len(s.Orders) > 0 {
		s.Reasons = append(s.Reasons, ReasonNurseServices)
	}
}

func doctorDesk(s *VisitSummary, doctorID uuid.UUID, snap clinic.Snapshot) {
	a, ok := snap.ActiveVisitAssignment(s.Visit.ID)
	if !ok || a.ProviderRole != clinic.ProviderDoctor || a.ProviderID != doctorID {
		return
	}
	switch s.Visit.Status {
	case clinic.VisitWaitingForDoctor:
		s.Reasons = append(s.Reasons, ReasonConsultation)
	case clinic.VisitAwaitingResultsReview:
		s.Reasons = append(s.Reasons, ReasonResultsReview)
	case clinic.VisitNurseServicesCompleted:
		s.Reasons = append(s.Reasons, ReasonDischarge)
	}
}

func purposePaid(billings []clinic.Billing, purpose clinic.BillingPurpose) bool {
	for _, b := range billings {
		if b.Purpose == purpose && b.Status == clinic.BillingPaid {
			return true
		}
	}
	return false
}

func appendReasons(dst []Reason, rs ...Reason) []Reason {
	for _, r := range rs {
		dup := false
		for _, d := range dst {
			if d == r {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, r)
		}
	}
	return dst
}
