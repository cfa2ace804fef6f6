package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"clinicflow/billing"
)

const IdempotencyKeyHeader = "Idempotency-Key"

func (s *Server) recordPayment(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req paymentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	r, err := s.eng.Billing.RecordPayment(c.Request().Context(), actor, billing.PaymentParams{
		BillingID:      id,
		Amount:         req.Amount,
		Method:         req.Method,
		InsuranceRef:   req.InsuranceRef,
		IdempotencyKey: strings.TrimSpace(c.Request().Header.Get(IdempotencyKeyHeader)),
	})
	if err != nil {
		return err
	}

	status := http.StatusCreated
	if r.Replayed {
		status = http.StatusOK
	}
	return c.JSON(status, receiptResponse{
		Billing:  newBillingResponse(r.Billing),
		Payment:  newPaymentResponse(r.Payment),
		Paid:     r.Paid,
		Currency: s.currency,
		Replayed: r.Replayed,
	})
}

func (s *Server) getBilling(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	st, err := s.eng.Billing.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	payments := make([]paymentResponse, 0, len(st.Payments))
	for _, p := range st.Payments {
		payments = append(payments, newPaymentResponse(p))
	}
	return c.JSON(http.StatusOK, statementResponse{
		Billing:     newBillingResponse(st.Billing),
		Payments:    payments,
		Paid:        st.Paid,
		Outstanding: st.Outstanding,
		Currency:    s.currency,
	})
}
