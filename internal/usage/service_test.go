package usage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBillableMinutesRoundsUp(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int64
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Second, 1},
		{59 * time.Second, 1},
		{60 * time.Second, 1},
		{61 * time.Second, 2},
		{60*time.Second + time.Millisecond, 2},
		{5 * time.Minute, 5},
	}
	for _, c := range cases {
		if got := BillableMinutes(c.d); got != c.want {
			t.Errorf("BillableMinutes(%v) = %d, want %d", c.d, got, c.want)
		}
	}
}

func TestCreditMinutesValidatesInput(t *testing.T) {
	svc := NewService(nil)

	if _, _, err := svc.CreditMinutes(context.Background(), "", 10, "k"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("missing user: %v", err)
	}
	if _, _, err := svc.CreditMinutes(context.Background(), "u", 0, "k"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("zero minutes: %v", err)
	}
	if _, _, err := svc.CreditMinutes(context.Background(), "u", 10, ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("missing key: %v", err)
	}
}

func TestRecordCallValidatesInput(t *testing.T) {
	svc := NewService(nil)

	if err := svc.RecordCall(context.Background(), "", "CA1", time.Minute); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("missing user: %v", err)
	}
	if err := svc.RecordCall(context.Background(), "u", "", time.Minute); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("missing call sid: %v", err)
	}
}

func TestRecordCallZeroDurationIsNoop(t *testing.T) {
	// A zero-length call posts nothing, so the nil db is never touched.
	svc := NewService(nil)
	if err := svc.RecordCall(context.Background(), "u", "CA1", 0); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
}
