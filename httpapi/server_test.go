package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"clinicflow/auth"
	"clinicflow/clinic"
	"clinicflow/engine"
	"clinicflow/memstore"
)

type harness struct {
	t *testing.T
	e *echo.Echo

	reception clinic.Actor
	cashier   clinic.Actor
	nurse     clinic.Actor
	doctor    clinic.Actor
	lab       clinic.Actor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tokens, err := auth.NewService("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	srv := NewServer(engine.New(memstore.New()), zerolog.Nop())
	return &harness{
		t:         t,
		e:         srv.Handler(Options{Auth: auth.DevMiddleware(tokens), Currency: "ETB"}),
		reception: clinic.Actor{ID: uuid.New(), Role: clinic.RoleReceptionist},
		cashier:   clinic.Actor{ID: uuid.New(), Role: clinic.RoleBillingOfficer},
		nurse:     clinic.Actor{ID: uuid.New(), Role: clinic.RoleNurse},
		doctor:    clinic.Actor{ID: uuid.New(), Role: clinic.RoleDoctor},
		lab:       clinic.Actor{ID: uuid.New(), Role: clinic.RoleLabTechnician},
	}
}

func (h *harness) do(actor *clinic.Actor, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if actor != nil {
		req.Header.Set(auth.HeaderActorID, actor.ID.String())
		req.Header.Set(auth.HeaderActorRole, string(actor.Role))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	return rec
}

// call performs the request, expects status and decodes the body into out.
func (h *harness) call(actor *clinic.Actor, method, path, body string, status int, out any, headers ...string) {
	h.t.Helper()
	rec := h.do(actor, method, path, body, headers...)
	if rec.Code != status {
		h.t.Fatalf("%s %s: expected status %d, got %d: %s", method, path, status, rec.Code, rec.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			h.t.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
}

func (h *harness) expectError(rec *httptest.ResponseRecorder, status int, code string) {
	h.t.Helper()
	if rec.Code != status {
		h.t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		h.t.Fatalf("decode error body: %v", err)
	}
	if resp.Error.Code != code {
		h.t.Fatalf("expected error code %s, got %s (%s)", code, resp.Error.Code, resp.Error.Message)
	}
}

// reviewVisit walks a new visit into UNDER_DOCTOR_REVIEW with h.doctor assigned.
func (h *harness) reviewVisit() createdVisitResponse {
	h.t.Helper()
	var created createdVisitResponse
	h.call(&h.reception, http.MethodPost, "/api/v1/visits",
		fmt.Sprintf(`{"patient_id":%q,"entry_fee":"200.00","consultation_fee":"300.00"}`, uuid.New()),
		http.StatusCreated, &created)
	id := created.Visit.ID

	h.call(&h.cashier, http.MethodPost, "/api/v1/billing/"+created.EntryBilling.ID.String()+"/payments",
		`{"amount":"200.00","method":"CASH"}`, http.StatusCreated, nil)
	h.call(&h.nurse, http.MethodPost, "/api/v1/visits/"+id.String()+"/transition",
		`{"target":"TRIAGED"}`, http.StatusOK, nil)
	h.call(&h.nurse, http.MethodPost, "/api/v1/visits/"+id.String()+"/assignments",
		fmt.Sprintf(`{"provider_id":%q,"provider_role":"DOCTOR"}`, h.doctor.ID), http.StatusCreated, nil)
	h.call(&h.nurse, http.MethodPost, "/api/v1/visits/"+id.String()+"/transition",
		`{"target":"WAITING_FOR_DOCTOR"}`, http.StatusOK, nil)
	h.call(&h.cashier, http.MethodPost, "/api/v1/billing/"+created.ConsultationBilling.ID.String()+"/payments",
		`{"amount":"300.00","method":"CARD"}`, http.StatusCreated, nil)
	h.call(&h.doctor, http.MethodPost, "/api/v1/visits/"+id.String()+"/transition",
		`{"target":"UNDER_DOCTOR_REVIEW"}`, http.StatusOK, nil)
	return created
}

type pageOf[T any] struct {
	Data    []T  `json:"data"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

func TestVisitThroughLabOrder(t *testing.T) {
	h := newHarness(t)
	created := h.reviewVisit()
	visitID := created.Visit.ID.String()

	if created.Visit.Status != clinic.VisitWaitingForTriage {
		t.Fatalf("expected a new visit to wait for triage, got %s", created.Visit.Status)
	}

	var ordered createdOrderResponse
	h.call(&h.doctor, http.MethodPost, "/api/v1/batch-orders", fmt.Sprintf(`{
		"visit_id": %q,
		"items": [
			{"service_reference_id": "cbc", "kind": "LAB", "quantity": 1, "unit_price": "120.00"},
			{"service_reference_id": "glucose", "kind": "LAB", "quantity": 2, "unit_price": "15.50"}
		]}`, visitID), http.StatusCreated, &ordered)
	if ordered.Order.Status != clinic.OrderUnpaid {
		t.Fatalf("expected UNPAID order, got %s", ordered.Order.Status)
	}
	if ordered.Billing.TotalAmount.String() != "151.00" {
		t.Fatalf("expected order total 151.00, got %s", ordered.Billing.TotalAmount)
	}
	if ordered.Order.OrderingProviderID != h.doctor.ID {
		t.Fatalf("expected the calling doctor as ordering provider, got %s", ordered.Order.OrderingProviderID)
	}

	orderPath := "/api/v1/batch-orders/" + ordered.Order.ID.String()
	itemPath := orderPath + "/items/" + ordered.Order.Items[0].ID.String()
	h.expectError(h.do(&h.lab, http.MethodPost, itemPath+"/start", ""), http.StatusConflict, "GUARD_NOT_SATISFIED")

	payPath := "/api/v1/billing/" + ordered.Billing.ID.String() + "/payments"
	var receipt receiptResponse
	h.call(&h.cashier, http.MethodPost, payPath, `{"amount":"100.00","method":"CASH"}`, http.StatusCreated, &receipt,
		IdempotencyKeyHeader, "desk-1")
	if receipt.Billing.Status != clinic.BillingPartial {
		t.Fatalf("expected PARTIAL billing, got %s", receipt.Billing.Status)
	}
	h.call(&h.cashier, http.MethodPost, payPath, `{"amount":"100.00","method":"CASH"}`, http.StatusOK, &receipt,
		IdempotencyKeyHeader, "desk-1")
	if !receipt.Replayed || receipt.Paid.String() != "100.00" {
		t.Fatalf("expected a replayed receipt with 100.00 paid, got %+v", receipt)
	}
	h.call(&h.cashier, http.MethodPost, payPath, `{"amount":"51.00","method":"MOBILE"}`, http.StatusCreated, &receipt)
	if receipt.Billing.Status != clinic.BillingPaid {
		t.Fatalf("expected PAID billing, got %s", receipt.Billing.Status)
	}

	var o orderResponse
	h.call(&h.lab, http.MethodGet, orderPath, "", http.StatusOK, &o)
	if o.Status != clinic.OrderQueued {
		t.Fatalf("expected QUEUED order after payment, got %s", o.Status)
	}

	var labQueue pageOf[queueEntryResponse]
	h.call(&h.lab, http.MethodGet, "/api/v1/queues/lab_technician", "", http.StatusOK, &labQueue)
	if labQueue.Total != 1 || labQueue.Data[0].Visit.ID != created.Visit.ID {
		t.Fatalf("expected the visit in the lab queue, got %+v", labQueue)
	}

	var res itemResultResponse
	for _, it := range o.Items {
		path := orderPath + "/items/" + it.ID.String() + "/complete"
		h.call(&h.lab, http.MethodPost, path, `{"result_reference":"report://`+it.ID.String()+`"}`, http.StatusOK, &res)
	}
	if res.Order.Status != clinic.OrderCompleted {
		t.Fatalf("expected COMPLETED order, got %s", res.Order.Status)
	}
	h.call(&h.lab, http.MethodPost, orderPath+"/items/"+o.Items[0].ID.String()+"/complete", `{}`, http.StatusOK, &res)
	if res.Changed {
		t.Fatal("expected completing a finished item to change nothing")
	}

	var detail visitDetailResponse
	h.call(&h.doctor, http.MethodGet, "/api/v1/visits/"+visitID, "", http.StatusOK, &detail)
	if detail.Status != clinic.VisitAwaitingResultsReview {
		t.Fatalf("expected AWAITING_RESULTS_REVIEW, got %s", detail.Status)
	}
	if len(detail.Billings) != 3 || len(detail.Orders) != 1 || detail.Assignment == nil {
		t.Fatalf("unexpected visit detail: %d billings, %d orders, assignment %v",
			len(detail.Billings), len(detail.Orders), detail.Assignment)
	}

	var doctorQueue pageOf[queueEntryResponse]
	h.call(&h.doctor, http.MethodGet, "/api/v1/queues/DOCTOR", "", http.StatusOK, &doctorQueue)
	if doctorQueue.Total != 1 {
		t.Fatalf("expected the visit back in the doctor's queue, got %d entries", doctorQueue.Total)
	}

	var timeline pageOf[eventResponse]
	h.call(&h.doctor, http.MethodGet, "/api/v1/visits/"+visitID+"/timeline?limit=3&offset=1", "", http.StatusOK, &timeline)
	if len(timeline.Data) != 3 || timeline.Data[0].Seq != 2 || !timeline.HasMore {
		t.Fatalf("unexpected timeline page: %+v", timeline)
	}
}

func TestErrorResponses(t *testing.T) {
	h := newHarness(t)
	created := h.reviewVisit()
	visitPath := "/api/v1/visits/" + created.Visit.ID.String()

	h.expectError(h.do(nil, http.MethodGet, visitPath, ""), http.StatusUnauthorized, "UNAUTHORIZED")
	h.expectError(h.do(&h.nurse, http.MethodGet, "/api/v1/visits/"+uuid.NewString(), ""), http.StatusNotFound, "NOT_FOUND")
	h.expectError(h.do(&h.nurse, http.MethodGet, "/api/v1/visits/not-a-uuid", ""), http.StatusBadRequest, "VALIDATION_ERROR")
	h.expectError(h.do(&h.doctor, http.MethodPost, visitPath+"/transition", `{"target":"TRIAGED"}`),
		http.StatusUnprocessableEntity, "INVALID_TRANSITION")
	h.expectError(h.do(&h.doctor, http.MethodPost, visitPath+"/transition", `{"target":"DISCHARGED"}`),
		http.StatusBadRequest, "VALIDATION_ERROR")
	h.expectError(h.do(&h.doctor, http.MethodPost, visitPath+"/transition", `{"target":"COMPLETED","expected_version":1}`),
		http.StatusConflict, "CONCURRENCY_CONFLICT")
	h.expectError(h.do(&h.lab, http.MethodPost, visitPath+"/transition", `{"target":"CANCELLED"}`),
		http.StatusConflict, "GUARD_NOT_SATISFIED")
	h.expectError(h.do(&h.nurse, http.MethodGet, "/api/v1/queues/DOCTOR", ""), http.StatusForbidden, "FORBIDDEN")
	h.expectError(h.do(&h.nurse, http.MethodPost, "/api/v1/batch-orders", `{}`), http.StatusForbidden, "FORBIDDEN")
	h.expectError(h.do(&h.cashier, http.MethodPost, "/api/v1/billing/"+created.EntryBilling.ID.String()+"/payments",
		`{"amount":"1.005","method":"CASH"}`), http.StatusBadRequest, "VALIDATION_ERROR")
	h.expectError(h.do(&h.cashier, http.MethodPost, "/api/v1/billing/"+created.EntryBilling.ID.String()+"/payments",
		`{"amount":"5.00","method":"CASH"}`), http.StatusBadRequest, "VALIDATION_ERROR")

	var ordered createdOrderResponse
	h.call(&h.doctor, http.MethodPost, "/api/v1/batch-orders",
		fmt.Sprintf(`{"visit_id":%q,"items":[{"service_reference_id":"xray","kind":"RADIOLOGY","quantity":1,"unit_price":"80"}]}`, created.Visit.ID),
		http.StatusCreated, &ordered)
	foreign := "/api/v1/batch-orders/" + ordered.Order.ID.String() + "/items/" + uuid.NewString() + "/start"
	h.expectError(h.do(&h.lab, http.MethodPost, foreign, ""), http.StatusNotFound, "NOT_FOUND")

	var cancelled orderResponse
	h.call(&h.doctor, http.MethodPost, "/api/v1/batch-orders/"+ordered.Order.ID.String()+"/cancel",
		`{"reason":"patient declined"}`, http.StatusOK, &cancelled)
	if cancelled.Status != clinic.OrderCancelled {
		t.Fatalf("expected CANCELLED order, got %s", cancelled.Status)
	}
	h.expectError(h.do(&h.cashier, http.MethodPost, "/api/v1/billing/"+ordered.Billing.ID.String()+"/payments",
		`{"amount":"80.00","method":"CASH"}`), http.StatusConflict, "GUARD_NOT_SATISFIED")
}

func TestBillingStatement(t *testing.T) {
	h := newHarness(t)
	var created createdVisitResponse
	h.call(&h.reception, http.MethodPost, "/api/v1/visits",
		fmt.Sprintf(`{"patient_id":%q,"entry_fee":"50","consultation_fee":"0"}`, uuid.New()),
		http.StatusCreated, &created)
	if created.ConsultationBilling.Status != clinic.BillingPaid {
		t.Fatalf("expected a zero consultation fee to be born PAID, got %s", created.ConsultationBilling.Status)
	}

	path := "/api/v1/billing/" + created.EntryBilling.ID.String()
	h.call(&h.cashier, http.MethodPost, path+"/payments",
		`{"amount":"20.00","method":"INSURANCE","insurance_ref":"POL-7"}`, http.StatusCreated, nil)

	var st statementResponse
	h.call(&h.reception, http.MethodGet, path, "", http.StatusOK, &st)
	if st.Billing.Status != clinic.BillingPartial || st.Paid.String() != "20.00" || st.Outstanding.String() != "30.00" || st.Currency != "ETB" {
		t.Fatalf("unexpected statement: %+v", st)
	}
	if len(st.Payments) != 1 || st.Payments[0].InsuranceRef == nil || *st.Payments[0].InsuranceRef != "POL-7" {
		t.Fatalf("unexpected ledger: %+v", st.Payments)
	}

	var billingQueue pageOf[queueEntryResponse]
	h.call(&h.cashier, http.MethodGet, "/api/v1/queues/BILLING_OFFICER", "", http.StatusOK, &billingQueue)
	if billingQueue.Total != 1 || billingQueue.Data[0].AmountDue.String() != "30.00" {
		t.Fatalf("unexpected billing queue: %+v", billingQueue)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{clinic.Errorf(clinic.ErrValidation, "x"), http.StatusBadRequest},
		{clinic.Errorf(clinic.ErrNotFound, "x"), http.StatusNotFound},
		{clinic.Errorf(clinic.ErrInvalidTransition, "x"), http.StatusUnprocessableEntity},
		{clinic.Errorf(clinic.ErrGuardNotSatisfied, "x"), http.StatusConflict},
		{clinic.Errorf(clinic.ErrConcurrencyConflict, "x"), http.StatusConflict},
		{clinic.StorageError("insert", errors.New("conn reset")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

func TestRecoveryAndRequestID(t *testing.T) {
	srv := NewServer(engine.New(memstore.New()), zerolog.Nop())
	e := srv.Handler(Options{})
	e.GET("/panic", func(c echo.Context) error { panic("kaboom") })

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if rec.Header().Get(RequestIDHeader) != "req-42" {
		t.Fatalf("expected the request id to be echoed, got %q", rec.Header().Get(RequestIDHeader))
	}
	if strings.Contains(rec.Body.String(), "kaboom") {
		t.Fatalf("panic value leaked to the client: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected default health to answer 200, got %d", rec.Code)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected a generated request id")
	}
}
