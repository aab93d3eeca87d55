package reporting

import (
	"context"
	"testing"
	"time"

	"callcenter-platform/internal/leads"
	"callcenter-platform/internal/usage"
)

func TestReporting_CampaignReportAggregates(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Leads = []leads.Lead{
		{ID: "l1", CampaignID: "camp", Status: leads.StatusCompleted},
		{ID: "l2", CampaignID: "camp", Status: leads.StatusPending},
		{ID: "l3", CampaignID: "camp", Status: leads.StatusFailed},
		{ID: "l4", CampaignID: "other", Status: leads.StatusPending},
	}
	repo.Outcomes["camp"] = []CallOutcome{
		{CallSID: "CA1", Status: "completed", DurationSeconds: 30, EndedAt: now},
		{CallSID: "CA2", Status: "completed", DurationSeconds: 50, EndedAt: now},
		{CallSID: "CA3", Status: "no_answer", DurationSeconds: 0, EndedAt: now},
	}
	svc := NewService(repo)

	out, err := svc.CampaignReport(context.Background(), CampaignReportRequest{
		CampaignID: "camp",
		Range:      TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.LeadsTotal != 3 {
		t.Fatalf("expected 3 leads, got %d", out.LeadsTotal)
	}
	if out.LeadsCompleted != 1 || out.LeadsPending != 1 || out.LeadsFailed != 1 {
		t.Fatalf("unexpected lead breakdown: %+v", out)
	}
	if out.CallsTotal != 3 || out.CallsCompleted != 2 || out.CallsNoAnswer != 1 {
		t.Fatalf("unexpected call breakdown: %+v", out)
	}
	if out.TotalDurationSeconds != 80 {
		t.Fatalf("expected total duration 80, got %d", out.TotalDurationSeconds)
	}
	if out.AverageDurationSeconds != 26 {
		t.Fatalf("expected average duration 26, got %d", out.AverageDurationSeconds)
	}
}

func TestReporting_CampaignReportRangeFilter(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Outcomes["camp"] = []CallOutcome{
		{CallSID: "CA1", Status: "completed", EndedAt: now},
		{CallSID: "CA2", Status: "completed", EndedAt: now.Add(-48 * time.Hour)},
	}
	svc := NewService(repo)

	out, err := svc.CampaignReport(context.Background(), CampaignReportRequest{
		CampaignID: "camp",
		Range:      TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.CallsTotal != 1 {
		t.Fatalf("expected 1 call in range, got %d", out.CallsTotal)
	}
}

func TestReporting_UsageSummaryAggregates(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Entries = []usage.Entry{
		{ID: "e1", UserID: "u1", Type: usage.EntryTypeCredit, Minutes: 500, CreatedAt: now},
		{ID: "e2", UserID: "u1", Type: usage.EntryTypeDebit, Minutes: -3, CallSID: "CA1", CreatedAt: now},
		{ID: "e3", UserID: "u1", Type: usage.EntryTypeDebit, Minutes: -2, CallSID: "CA2", CreatedAt: now},
		{ID: "e4", UserID: "u2", Type: usage.EntryTypeCredit, Minutes: 100, CreatedAt: now},
	}
	svc := NewService(repo)

	out, err := svc.UsageSummary(context.Background(), UsageSummaryRequest{
		UserID: "u1",
		Range:  TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.MinutesCredited != 500 {
		t.Fatalf("expected 500 credited, got %d", out.MinutesCredited)
	}
	if out.MinutesDebited != 5 {
		t.Fatalf("expected 5 debited, got %d", out.MinutesDebited)
	}
	if out.NetMinutes != 495 {
		t.Fatalf("expected net 495, got %d", out.NetMinutes)
	}
	if out.BilledCalls != 2 {
		t.Fatalf("expected 2 billed calls, got %d", out.BilledCalls)
	}
}

func TestReporting_RejectsInvalidRange(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	now := time.Unix(1700000000, 0).UTC()

	_, err := svc.CampaignReport(context.Background(), CampaignReportRequest{
		CampaignID: "camp",
		Range:      TimeRange{From: now, To: now},
	})
	if err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}

	_, err = svc.UsageSummary(context.Background(), UsageSummaryRequest{
		Range: TimeRange{From: now.Add(-time.Hour), To: now},
	})
	if err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
