package clinic

// VisitStatus is the lifecycle state of a Visit.
type VisitStatus string

const (
	VisitRegistered             VisitStatus = "REGISTERED"
	VisitWaitingForTriage       VisitStatus = "WAITING_FOR_TRIAGE"
	VisitTriaged                VisitStatus = "TRIAGED"
	VisitWaitingForDoctor       VisitStatus = "WAITING_FOR_DOCTOR"
	VisitUnderDoctorReview      VisitStatus = "UNDER_DOCTOR_REVIEW"
	VisitAwaitingResultsReview  VisitStatus = "AWAITING_RESULTS_REVIEW"
	VisitNurseServicesCompleted VisitStatus = "NURSE_SERVICES_COMPLETED"
	VisitCompleted              VisitStatus = "COMPLETED"
	VisitCancelled              VisitStatus = "CANCELLED"
)

var visitStatuses = []VisitStatus{
	VisitRegistered,
	VisitWaitingForTriage,
	VisitTriaged,
	VisitWaitingForDoctor,
	VisitUnderDoctorReview,
	VisitAwaitingResultsReview,
	VisitNurseServicesCompleted,
	VisitCompleted,
	VisitCancelled,
}

// VisitStatuses lists every visit status in lifecycle order.
func VisitStatuses() []VisitStatus {
	out := make([]VisitStatus, len(visitStatuses))
	copy(out, visitStatuses)
	return out
}

func (s VisitStatus) Valid() bool {
	for _, v := range visitStatuses {
		if s == v {
			return true
		}
	}
	return false
}

func (s VisitStatus) Terminal() bool {
	return s == VisitCompleted || s == VisitCancelled
}

func ParseVisitStatus(s string) (VisitStatus, error) {
	v := VisitStatus(s)
	if !v.Valid() {
		return "", Errorf(ErrValidation, "unknown visit status %q", s)
	}
	return v, nil
}

// QueueType names the work queue a Visit currently sits in. It is never set
// on its own; see DeriveQueueType.
type QueueType string

const (
	QueueRegistration   QueueType = "REGISTRATION"
	QueueTriage         QueueType = "TRIAGE"
	QueueDoctorHandoff  QueueType = "DOCTOR_HANDOFF"
	QueueConsultation   QueueType = "CONSULTATION"
	QueueInConsultation QueueType = "IN_CONSULTATION"
	QueueResultsReview  QueueType = "RESULTS_REVIEW"
	QueueDischarge      QueueType = "DISCHARGE"
	QueueClosed         QueueType = "CLOSED"
)

// DeriveQueueType is the total mapping from visit status to queue type.
// Unknown statuses map to QueueClosed so the function never fails.
func DeriveQueueType(s VisitStatus) QueueType {
	switch s {
	case VisitRegistered:
		return QueueRegistration
	case VisitWaitingForTriage:
		return QueueTriage
	case VisitTriaged:
		return QueueDoctorHandoff
	case VisitWaitingForDoctor:
		return QueueConsultation
	case VisitUnderDoctorReview:
		return QueueInConsultation
	case VisitAwaitingResultsReview:
		return QueueResultsReview
	case VisitNurseServicesCompleted:
		return QueueDischarge
	default:
		return QueueClosed
	}
}

// OrderStatus is the aggregate status of a BatchOrder.
type OrderStatus string

const (
	OrderUnpaid     OrderStatus = "UNPAID"
	OrderPaid       OrderStatus = "PAID"
	OrderQueued     OrderStatus = "QUEUED"
	OrderInProgress OrderStatus = "IN_PROGRESS"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderCancelled  OrderStatus = "CANCELLED"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

// Executable reports whether work may happen on the order's items.
func (s OrderStatus) Executable() bool {
	return s == OrderPaid || s == OrderQueued || s == OrderInProgress
}

// ServiceKind is the department that performs an item.
type ServiceKind string

const (
	ServiceLab       ServiceKind = "LAB"
	ServiceRadiology ServiceKind = "RADIOLOGY"
	ServiceNurse     ServiceKind = "NURSE"
	ServicePharmacy  ServiceKind = "PHARMACY"
)

func (k ServiceKind) Valid() bool {
	switch k {
	case ServiceLab, ServiceRadiology, ServiceNurse, ServicePharmacy:
		return true
	}
	return false
}

// OrderKind is the kind of a BatchOrder: a ServiceKind, or MIXED.
type OrderKind string

const (
	OrderKindLab       OrderKind = "LAB"
	OrderKindRadiology OrderKind = "RADIOLOGY"
	OrderKindNurse     OrderKind = "NURSE"
	OrderKindPharmacy  OrderKind = "PHARMACY"
	OrderKindMixed     OrderKind = "MIXED"
)

// KindFor returns the order kind for a set of item kinds.
func KindFor(kinds []ServiceKind) OrderKind {
	if len(kinds) == 0 {
		return OrderKindMixed
	}
	first := kinds[0]
	for _, k := range kinds[1:] {
		if k != first {
			return OrderKindMixed
		}
	}
	return OrderKind(first)
}

type ItemStatus string

const (
	ItemPending    ItemStatus = "PENDING"
	ItemInProgress ItemStatus = "IN_PROGRESS"
	ItemCompleted  ItemStatus = "COMPLETED"
	ItemCancelled  ItemStatus = "CANCELLED"
)

func (s ItemStatus) Terminal() bool {
	return s == ItemCompleted || s == ItemCancelled
}

type BillingStatus string

const (
	BillingPending BillingStatus = "PENDING"
	BillingPartial BillingStatus = "PARTIAL"
	BillingPaid    BillingStatus = "PAID"
)

// BillingPurpose says what a Billing pays for.
type BillingPurpose string

const (
	PurposeEntryFee     BillingPurpose = "ENTRY_FEE"
	PurposeConsultation BillingPurpose = "CONSULTATION"
	PurposeOrder        BillingPurpose = "ORDER"
)

type PaymentMethod string

const (
	PaymentCash      PaymentMethod = "CASH"
	PaymentCard      PaymentMethod = "CARD"
	PaymentMobile    PaymentMethod = "MOBILE"
	PaymentInsurance PaymentMethod = "INSURANCE"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentMobile, PaymentInsurance:
		return true
	}
	return false
}

type AssignmentStatus string

const (
	AssignmentActive    AssignmentStatus = "ACTIVE"
	AssignmentCompleted AssignmentStatus = "COMPLETED"
)

// ProviderRole is the clinical role an assignment hands work to.
type ProviderRole string

const (
	ProviderDoctor ProviderRole = "DOCTOR"
	ProviderNurse  ProviderRole = "NURSE"
)

func (r ProviderRole) Valid() bool {
	return r == ProviderDoctor || r == ProviderNurse
}
