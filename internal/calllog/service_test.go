package calllog

import (
	"context"
	"testing"
)

func TestRecordRequiresCallAndType(t *testing.T) {
	svc := NewService(NewMemoryRepo())

	if err := svc.Record(context.Background(), Event{Type: EventTypeCallStarted}); err == nil {
		t.Fatalf("expected error for missing call sid")
	}
	if err := svc.Record(context.Background(), Event{CallSID: "CA1"}); err == nil {
		t.Fatalf("expected error for missing type")
	}
}

func TestRecordFillsIDAndTimestamp(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	err := svc.Record(context.Background(), Event{
		CallSID: "CA1",
		Type:    EventTypeTranscriptIn,
		Text:    "hello",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("id/timestamp not filled: %+v", evs[0])
	}
}

func TestByCallFiltersOtherCalls(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	_ = svc.Record(context.Background(), Event{CallSID: "CA1", Type: EventTypeCallStarted})
	_ = svc.Record(context.Background(), Event{CallSID: "CA2", Type: EventTypeCallStarted})
	_ = svc.Record(context.Background(), Event{CallSID: "CA1", Type: EventTypeCallEnded})

	evs, err := svc.ByCall(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected 2 events for CA1, got %d", len(evs))
	}
	for _, e := range evs {
		if e.CallSID != "CA1" {
			t.Fatalf("wrong call: %+v", e)
		}
	}
}
