package httpapi

import (
	"time"

	"github.com/google/uuid"

	"clinicflow/clinic"
	"clinicflow/money"
	"clinicflow/queue"
	"clinicflow/visit"
)

// Requests.

type createVisitRequest struct {
	PatientID       uuid.UUID    `json:"patient_id"`
	EntryFee        money.Amount `json:"entry_fee"`
	ConsultationFee money.Amount `json:"consultation_fee"`
}

type transitionRequest struct {
	Target          string `json:"target"`
	ExpectedVersion *int   `json:"expected_version,omitempty"`
	Reason          string `json:"reason"`
}

type assignRequest struct {
	ProviderID   uuid.UUID           `json:"provider_id"`
	ProviderRole clinic.ProviderRole `json:"provider_role"`
}

type orderItemRequest struct {
	ServiceReferenceID string             `json:"service_reference_id"`
	Kind               clinic.ServiceKind `json:"kind"`
	Quantity           int                `json:"quantity"`
	UnitPrice          money.Amount       `json:"unit_price"`
}

type createOrderRequest struct {
	VisitID            uuid.UUID          `json:"visit_id"`
	OrderingProviderID uuid.UUID          `json:"ordering_provider_id"`
	Items              []orderItemRequest `json:"items"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type completeItemRequest struct {
	Outcome         clinic.ItemStatus `json:"outcome"`
	ResultReference string            `json:"result_reference"`
}

type paymentRequest struct {
	Amount       money.Amount         `json:"amount"`
	Method       clinic.PaymentMethod `json:"method"`
	InsuranceRef string               `json:"insurance_ref"`
}

// Responses.

type visitResponse struct {
	ID           uuid.UUID          `json:"id"`
	PatientID    uuid.UUID          `json:"patient_id"`
	Status       clinic.VisitStatus `json:"status"`
	QueueType    clinic.QueueType   `json:"queue_type"`
	AssignmentID *uuid.UUID         `json:"assignment_id,omitempty"`
	Version      int                `json:"version"`
	CancelReason *string            `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
}

func newVisitResponse(v clinic.Visit) visitResponse {
	return visitResponse{
		ID:           v.ID,
		PatientID:    v.PatientID,
		Status:       v.Status,
		QueueType:    v.QueueType,
		AssignmentID: v.AssignmentID,
		Version:      v.Version,
		CancelReason: v.CancelReason,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
		CompletedAt:  v.CompletedAt,
	}
}

type billingResponse struct {
	ID           uuid.UUID             `json:"id"`
	VisitID      uuid.UUID             `json:"visit_id"`
	PatientID    uuid.UUID             `json:"patient_id"`
	Purpose      clinic.BillingPurpose `json:"purpose"`
	BatchOrderID *uuid.UUID            `json:"batch_order_id,omitempty"`
	TotalAmount  money.Amount          `json:"total_amount"`
	Status       clinic.BillingStatus  `json:"status"`
	PaidAt       *time.Time            `json:"paid_at,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

func newBillingResponse(b clinic.Billing) billingResponse {
	return billingResponse{
		ID:           b.ID,
		VisitID:      b.VisitID,
		PatientID:    b.PatientID,
		Purpose:      b.Purpose,
		BatchOrderID: b.BatchOrderID,
		TotalAmount:  b.TotalAmount,
		Status:       b.Status,
		PaidAt:       b.PaidAt,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

func newBillingResponses(bs []clinic.Billing) []billingResponse {
	out := make([]billingResponse, 0, len(bs))
	for _, b := range bs {
		out = append(out, newBillingResponse(b))
	}
	return out
}

type paymentResponse struct {
	ID             uuid.UUID            `json:"id"`
	BillingID      uuid.UUID            `json:"billing_id"`
	Amount         money.Amount         `json:"amount"`
	Method         clinic.PaymentMethod `json:"method"`
	InsuranceRef   *string              `json:"insurance_ref,omitempty"`
	IdempotencyKey *string              `json:"idempotency_key,omitempty"`
	RecordedBy     uuid.UUID            `json:"recorded_by"`
	CreatedAt      time.Time            `json:"created_at"`
}

func newPaymentResponse(p clinic.BillPayment) paymentResponse {
	return paymentResponse{
		ID:             p.ID,
		BillingID:      p.BillingID,
		Amount:         p.Amount,
		Method:         p.Method,
		InsuranceRef:   p.InsuranceRef,
		IdempotencyKey: p.IdempotencyKey,
		RecordedBy:     p.RecordedBy,
		CreatedAt:      p.CreatedAt,
	}
}

type receiptResponse struct {
	Billing  billingResponse `json:"billing"`
	Payment  paymentResponse `json:"payment"`
	Paid     money.Amount    `json:"paid"`
	Currency string          `json:"currency,omitempty"`
	Replayed bool            `json:"replayed"`
}

type statementResponse struct {
	Billing     billingResponse   `json:"billing"`
	Payments    []paymentResponse `json:"payments"`
	Paid        money.Amount      `json:"paid"`
	Outstanding money.Amount      `json:"outstanding"`
	Currency    string            `json:"currency,omitempty"`
}

type itemResponse struct {
	ID                 uuid.UUID          `json:"id"`
	BatchOrderID       uuid.UUID          `json:"batch_order_id"`
	ServiceReferenceID string             `json:"service_reference_id"`
	Kind               clinic.ServiceKind `json:"kind"`
	Quantity           int                `json:"quantity"`
	UnitPrice          money.Amount       `json:"unit_price"`
	Status             clinic.ItemStatus  `json:"status"`
	ResultReference    *string            `json:"result_reference,omitempty"`
	CompletedBy        *uuid.UUID         `json:"completed_by,omitempty"`
	CompletedAt        *time.Time         `json:"completed_at,omitempty"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

func newItemResponse(it clinic.ServiceOrderItem) itemResponse {
	return itemResponse{
		ID:                 it.ID,
		BatchOrderID:       it.BatchOrderID,
		ServiceReferenceID: it.ServiceReferenceID,
		Kind:               it.Kind,
		Quantity:           it.Quantity,
		UnitPrice:          it.UnitPrice,
		Status:             it.Status,
		ResultReference:    it.ResultReference,
		CompletedBy:        it.CompletedBy,
		CompletedAt:        it.CompletedAt,
		UpdatedAt:          it.UpdatedAt,
	}
}

type orderResponse struct {
	ID                 uuid.UUID          `json:"id"`
	VisitID            uuid.UUID          `json:"visit_id"`
	PatientID          uuid.UUID          `json:"patient_id"`
	OrderingProviderID uuid.UUID          `json:"ordering_provider_id"`
	Kind               clinic.OrderKind   `json:"kind"`
	Status             clinic.OrderStatus `json:"status"`
	BillingID          uuid.UUID          `json:"billing_id"`
	Items              []itemResponse     `json:"items"`
	Version            int                `json:"version"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

func newOrderResponse(o clinic.BatchOrder) orderResponse {
	items := make([]itemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, newItemResponse(it))
	}
	return orderResponse{
		ID:                 o.ID,
		VisitID:            o.VisitID,
		PatientID:          o.PatientID,
		OrderingProviderID: o.OrderingProviderID,
		Kind:               o.Kind,
		Status:             o.Status,
		BillingID:          o.BillingID,
		Items:              items,
		Version:            o.Version,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

func newOrderResponses(os []clinic.BatchOrder) []orderResponse {
	out := make([]orderResponse, 0, len(os))
	for _, o := range os {
		out = append(out, newOrderResponse(o))
	}
	return out
}

type createdOrderResponse struct {
	Order   orderResponse   `json:"order"`
	Billing billingResponse `json:"billing"`
}

type itemResultResponse struct {
	Order   orderResponse `json:"order"`
	Item    itemResponse  `json:"item"`
	Changed bool          `json:"changed"`
}

type assignmentResponse struct {
	ID           uuid.UUID               `json:"id"`
	VisitID      uuid.UUID               `json:"visit_id"`
	ItemID       *uuid.UUID              `json:"item_id,omitempty"`
	ProviderID   uuid.UUID               `json:"provider_id"`
	ProviderRole clinic.ProviderRole     `json:"provider_role"`
	Status       clinic.AssignmentStatus `json:"status"`
	AssignedBy   uuid.UUID               `json:"assigned_by"`
	CreatedAt    time.Time               `json:"created_at"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
}

func newAssignmentResponse(a clinic.Assignment) assignmentResponse {
	return assignmentResponse{
		ID:           a.ID,
		VisitID:      a.VisitID,
		ItemID:       a.ItemID,
		ProviderID:   a.ProviderID,
		ProviderRole: a.ProviderRole,
		Status:       a.Status,
		AssignedBy:   a.AssignedBy,
		CreatedAt:    a.CreatedAt,
		CompletedAt:  a.CompletedAt,
	}
}

type createdVisitResponse struct {
	Visit               visitResponse   `json:"visit"`
	EntryBilling        billingResponse `json:"entry_billing"`
	ConsultationBilling billingResponse `json:"consultation_billing"`
}

type visitDetailResponse struct {
	visitResponse
	Billings   []billingResponse   `json:"billings"`
	Orders     []orderResponse     `json:"orders"`
	Assignment *assignmentResponse `json:"assignment,omitempty"`
}

func newVisitDetailResponse(d visit.Detail) visitDetailResponse {
	out := visitDetailResponse{
		visitResponse: newVisitResponse(d.Visit),
		Billings:      newBillingResponses(d.Billings),
		Orders:        newOrderResponses(d.Orders),
	}
	if d.Assignment != nil {
		a := newAssignmentResponse(*d.Assignment)
		out.Assignment = &a
	}
	return out
}

type eventResponse struct {
	Seq       int64            `json:"seq"`
	Type      clinic.EventType `json:"type"`
	ActorID   *uuid.UUID       `json:"actor_id,omitempty"`
	Payload   map[string]any   `json:"payload"`
	CreatedAt time.Time        `json:"created_at"`
}

func newEventResponses(events []clinic.Event) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, eventResponse{
			Seq:       e.Seq,
			Type:      e.Type,
			ActorID:   e.ActorID,
			Payload:   e.Payload,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}

type queueEntryResponse struct {
	Visit     visitResponse     `json:"visit"`
	Reasons   []queue.Reason    `json:"reasons"`
	Billings  []billingResponse `json:"billings,omitempty"`
	AmountDue money.Amount      `json:"amount_due"`
	Orders    []orderResponse   `json:"orders,omitempty"`
}

func newQueueResponses(entries []queue.VisitSummary) []queueEntryResponse {
	out := make([]queueEntryResponse, 0, len(entries))
	for _, s := range entries {
		e := queueEntryResponse{
			Visit:     newVisitResponse(s.Visit),
			Reasons:   s.Reasons,
			AmountDue: s.AmountDue,
		}
		if len(s.Billings) > 0 {
			e.Billings = newBillingResponses(s.Billings)
		}
		if len(s.Orders) > 0 {
			e.Orders = newOrderResponses(s.Orders)
		}
		out = append(out, e)
	}
	return out
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}
