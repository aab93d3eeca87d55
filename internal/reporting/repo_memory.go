package reporting

import (
	"context"
	"sync"
	"time"

	"callcenter-platform/internal/leads"
	"callcenter-platform/internal/usage"
)

// MemoryRepo is a simple in-memory reporting repository for tests and
// early development.
type MemoryRepo struct {
	mu sync.Mutex

	Leads    []leads.Lead
	Outcomes map[string][]CallOutcome // keyed by campaign id
	Entries  []usage.Entry
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{Outcomes: map[string][]CallOutcome{}}
}

func (r *MemoryRepo) LeadCounts(ctx context.Context, campaignID string) (map[leads.Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[leads.Status]int{}
	for _, l := range r.Leads {
		if l.CampaignID != campaignID {
			continue
		}
		out[l.Status]++
	}
	return out, nil
}

func (r *MemoryRepo) CallOutcomes(ctx context.Context, campaignID string, from, to time.Time) ([]CallOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallOutcome, 0)
	for _, o := range r.Outcomes[campaignID] {
		if !o.EndedAt.IsZero() {
			if o.EndedAt.Before(from) || !o.EndedAt.Before(to) {
				continue
			}
		}
		out = append(out, o)
	}
	return out, nil
}

func (r *MemoryRepo) UsageEntries(ctx context.Context, userID string, from, to time.Time) ([]usage.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]usage.Entry, 0)
	for _, e := range r.Entries {
		if e.UserID != userID {
			continue
		}
		if !e.CreatedAt.IsZero() {
			if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
				continue
			}
		}
		out = append(out, e)
	}
	return out, nil
}
