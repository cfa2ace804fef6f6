package billing

import (
	"time"

	"github.com/google/uuid"

	"clinicflow/clinic"
	"clinicflow/money"
)

// StatusFor derives a billing status from its total and ledger sum.
func StatusFor(total, paid money.Amount) clinic.BillingStatus {
	switch {
	case paid >= total:
		return clinic.BillingPaid
	case paid > 0:
		return clinic.BillingPartial
	default:
		return clinic.BillingPending
	}
}

// LedgerSum adds up the payments of one billing.
func LedgerSum(payments []clinic.BillPayment) (money.Amount, error) {
	amounts := make([]money.Amount, len(payments))
	for i, p := range payments {
		amounts[i] = p.Amount
	}
	return money.Sum(amounts...)
}

// Outstanding is what remains to be paid, never negative.
func Outstanding(total, paid money.Amount) money.Amount {
	if paid >= total {
		return 0
	}
	return total - paid
}

// NewBilling returns a billing with no payments. A zero total is born PAID.
func NewBilling(id uuid.UUID, visit clinic.Visit, purpose clinic.BillingPurpose, orderID *uuid.UUID, total money.Amount, now time.Time) clinic.Billing {
	b := clinic.Billing{
		ID:           id,
		VisitID:      visit.ID,
		PatientID:    visit.PatientID,
		Purpose:      purpose,
		BatchOrderID: orderID,
		TotalAmount:  total,
		Status:       StatusFor(total, 0),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if b.Status == clinic.BillingPaid {
		paidAt := now
		b.PaidAt = &paidAt
	}
	return b
}
