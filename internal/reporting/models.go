package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CampaignReportRequest requests aggregated campaign metrics.

type CampaignReportRequest struct {
	CampaignID string    `json:"campaign_id"`
	Range      TimeRange `json:"range"`
}

type CampaignReport struct {
	CampaignID string `json:"campaign_id"`

	// Lead pool breakdown at report time.
	LeadsTotal     int `json:"leads_total"`
	LeadsPending   int `json:"leads_pending"`
	LeadsCalling   int `json:"leads_calling"`
	LeadsCompleted int `json:"leads_completed"`
	LeadsFailed    int `json:"leads_failed"`
	LeadsDNC       int `json:"leads_dnc"`

	// Call outcomes within the requested range.
	CallsTotal     int `json:"calls_total"`
	CallsCompleted int `json:"calls_completed"`
	CallsFailed    int `json:"calls_failed"`
	CallsNoAnswer  int `json:"calls_no_answer"`
	CallsBusy      int `json:"calls_busy"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
}

// CallOutcome is one settled call, as recorded in the call event log.
type CallOutcome struct {
	CallSID         string    `json:"call_sid"`
	Status          string    `json:"status"`
	DurationSeconds int       `json:"duration_seconds"`
	EndedAt         time.Time `json:"ended_at"`
}

// UsageSummaryRequest requests minute consumption for one account.
// Usage is derived from immutable ledger entries.

type UsageSummaryRequest struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`
}

type UsageSummary struct {
	UserID string `json:"user_id"`

	MinutesCredited int64 `json:"minutes_credited"`
	MinutesDebited  int64 `json:"minutes_debited"`
	NetMinutes      int64 `json:"net_minutes"`

	// BilledCalls counts distinct debit entries, i.e. calls that
	// consumed at least one minute.
	BilledCalls int `json:"billed_calls"`
}
