package reporting

import (
	"context"
	"errors"
	"time"

	"callcenter-platform/internal/leads"
	"callcenter-platform/internal/telephony"
	"callcenter-platform/internal/usage"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting. Implementations read
// immutable sources where possible: the call event log and the usage
// ledger, never the mutable lead rows for call outcomes.
type Repository interface {
	LeadCounts(ctx context.Context, campaignID string) (map[leads.Status]int, error)
	CallOutcomes(ctx context.Context, campaignID string, from, to time.Time) ([]CallOutcome, error)
	UsageEntries(ctx context.Context, userID string, from, to time.Time) ([]usage.Entry, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CampaignReport(ctx context.Context, req CampaignReportRequest) (CampaignReport, error) {
	if req.CampaignID == "" {
		return CampaignReport{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CampaignReport{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CampaignReport{}, errors.New("reporting: repository not configured")
	}

	counts, err := s.repo.LeadCounts(ctx, req.CampaignID)
	if err != nil {
		return CampaignReport{}, err
	}

	out := CampaignReport{CampaignID: req.CampaignID}
	for status, n := range counts {
		out.LeadsTotal += n
		switch status {
		case leads.StatusPending:
			out.LeadsPending += n
		case leads.StatusCalling, leads.StatusCalled:
			out.LeadsCalling += n
		case leads.StatusCompleted:
			out.LeadsCompleted += n
		case leads.StatusFailed:
			out.LeadsFailed += n
		case leads.StatusDNC:
			out.LeadsDNC += n
		}
	}

	outcomes, err := s.repo.CallOutcomes(ctx, req.CampaignID, req.Range.From, req.Range.To)
	if err != nil {
		return CampaignReport{}, err
	}
	for _, o := range outcomes {
		out.CallsTotal++
		out.TotalDurationSeconds += o.DurationSeconds
		switch telephony.CallStatus(o.Status) {
		case telephony.CallStatusCompleted:
			out.CallsCompleted++
		case telephony.CallStatusFailed:
			out.CallsFailed++
		case telephony.CallStatusNoAnswer:
			out.CallsNoAnswer++
		case telephony.CallStatusBusy:
			out.CallsBusy++
		}
	}
	if out.CallsTotal > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.CallsTotal
	}
	return out, nil
}

func (s *Service) UsageSummary(ctx context.Context, req UsageSummaryRequest) (UsageSummary, error) {
	if req.UserID == "" {
		return UsageSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return UsageSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return UsageSummary{}, errors.New("reporting: repository not configured")
	}

	entries, err := s.repo.UsageEntries(ctx, req.UserID, req.Range.From, req.Range.To)
	if err != nil {
		return UsageSummary{}, err
	}

	out := UsageSummary{UserID: req.UserID}
	for _, e := range entries {
		switch e.Type {
		case usage.EntryTypeCredit:
			out.MinutesCredited += e.Minutes
		case usage.EntryTypeDebit:
			// Debit entries carry negative minutes.
			out.MinutesDebited += -e.Minutes
			if e.CallSID != "" {
				out.BilledCalls++
			}
		}
	}
	out.NetMinutes = out.MinutesCredited - out.MinutesDebited
	return out, nil
}
