package clinic

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDeriveQueueTypeIsTotal(t *testing.T) {
	seen := map[QueueType]bool{}
	for _, s := range VisitStatuses() {
		q := DeriveQueueType(s)
		if q == "" {
			t.Fatalf("status %s mapped to empty queue type", s)
		}
		seen[q] = true
	}
	if DeriveQueueType(VisitCompleted) != QueueClosed || DeriveQueueType(VisitCancelled) != QueueClosed {
		t.Fatalf("terminal statuses must map to %s", QueueClosed)
	}
	if DeriveQueueType(VisitStatus("BOGUS")) != QueueClosed {
		t.Fatalf("unknown status must still map to a queue type")
	}
	if len(seen) != 8 {
		t.Fatalf("expected 8 distinct queue types, got %d", len(seen))
	}
}

func TestVisitSetStatusKeepsQueueTypeInStep(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	v := NewVisit(uuid.New(), uuid.New(), now)
	if v.Status != VisitRegistered || v.QueueType != QueueRegistration {
		t.Fatalf("new visit: got %s/%s", v.Status, v.QueueType)
	}

	for _, s := range VisitStatuses() {
		v.SetStatus(s, now)
		if v.QueueType != DeriveQueueType(s) {
			t.Fatalf("status %s carried queue type %s", s, v.QueueType)
		}
	}
	if v.CompletedAt == nil {
		t.Fatalf("expected completedAt once the visit passed through %s", VisitCompleted)
	}
}

func TestKindFor(t *testing.T) {
	cases := []struct {
		in   []ServiceKind
		want OrderKind
	}{
		{[]ServiceKind{ServiceLab}, OrderKindLab},
		{[]ServiceKind{ServiceLab, ServiceLab}, OrderKindLab},
		{[]ServiceKind{ServiceNurse, ServicePharmacy}, OrderKindMixed},
		{[]ServiceKind{ServiceRadiology, ServiceRadiology, ServiceLab}, OrderKindMixed},
	}
	for _, c := range cases {
		if got := KindFor(c.in); got != c.want {
			t.Errorf("KindFor(%v) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestErrorfKeepsKindAndCause(t *testing.T) {
	cause := errors.New("boom")
	err := Errorf(ErrGuardNotSatisfied, "visit: entry fee unpaid: %w", cause)

	if !errors.Is(err, ErrGuardNotSatisfied) {
		t.Fatalf("expected guard kind, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable")
	}
	if errors.Is(err, ErrValidation) {
		t.Fatalf("error matched a second kind")
	}
	if Code(err) != "GUARD_NOT_SATISFIED" {
		t.Fatalf("unexpected code %s", Code(err))
	}
	if err.Error() != "visit: entry fee unpaid: boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestStorageErrorClassifies(t *testing.T) {
	err := StorageError("pgstore: insert visit", errors.New("connection reset"))
	if KindOf(err) != ErrStorage {
		t.Fatalf("expected storage kind, got %v", KindOf(err))
	}
	if Code(errors.New("plain")) != "INTERNAL" {
		t.Fatalf("unclassified errors must map to INTERNAL")
	}
}
