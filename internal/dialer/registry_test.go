package dialer

import (
	"context"
	"sync"
	"testing"
	"time"

	"callcenter-platform/internal/campaigns"
	"callcenter-platform/internal/leads"
	"callcenter-platform/internal/telephony"
)

func newTestRegistry() (*Registry, *stubDialer, *leads.MemoryStore, *campaigns.MemoryStore) {
	ls := leads.NewMemoryStore()
	cs := campaigns.NewMemoryStore()
	d := &stubDialer{}
	r := NewRegistry(Config{TickInterval: time.Hour, DrainTimeout: 300 * time.Millisecond}, Deps{
		Leads:     ls,
		Campaigns: cs,
		Dialer:    d,
	})
	return r, d, ls, cs
}

func TestRegistrySingletonPerCampaign(t *testing.T) {
	r, _, _, _ := newTestRegistry()

	var wg sync.WaitGroup
	engines := make([]*Engine, 16)
	for i := range engines {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			engines[i] = r.Engine("camp1")
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(engines); i++ {
		if engines[i] != engines[0] {
			t.Fatal("registry returned two engines for one campaign")
		}
	}
	if other := r.Engine("camp2"); other == engines[0] {
		t.Fatal("distinct campaigns share an engine")
	}
}

func TestRegistryLookupDoesNotCreate(t *testing.T) {
	r, _, _, _ := newTestRegistry()
	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("lookup created an engine")
	}
	r.Engine("camp1")
	if _, ok := r.Lookup("camp1"); !ok {
		t.Fatal("lookup missed an existing engine")
	}
}

func TestRegistryRoutesStatusToOwningEngine(t *testing.T) {
	r, d, ls, cs := newTestRegistry()
	ctx := context.Background()

	cs.Put(testCampaign(1, 1, 0))
	ls.Put(pendingLead("lead1", time.Now().UTC()))

	e := r.Engine("camp1")
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop(ctx)
	e.Tick(ctx)

	// An unrelated engine exists too; the event must land on camp1's.
	r.Engine("camp2")

	r.HandleStatus(ctx, telephony.StatusEvent{
		ProviderCallID: d.lastSID(),
		Status:         telephony.CallStatusCompleted,
		Duration:       20 * time.Second,
	})
	if st := e.Status(); st.CompletedCalls != 1 {
		t.Fatalf("status event not routed: %+v", st)
	}

	// Unknown call sids are dropped without effect.
	r.HandleStatus(ctx, telephony.StatusEvent{ProviderCallID: "CAunknown", Status: telephony.CallStatusCompleted})
}

func TestRegistryReportOutcome(t *testing.T) {
	r, d, ls, cs := newTestRegistry()
	ctx := context.Background()

	cs.Put(testCampaign(1, 1, 0))
	ls.Put(pendingLead("lead1", time.Now().UTC()))

	e := r.Engine("camp1")
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Stop(ctx)
	e.Tick(ctx)

	// No campaign id: inbound call, nothing to do.
	r.ReportOutcome(ctx, "", d.lastSID(), telephony.CallStatusCompleted, time.Minute)
	if st := e.Status(); st.CompletedCalls != 0 {
		t.Fatal("outcome without campaign id should be ignored")
	}

	r.ReportOutcome(ctx, "camp1", d.lastSID(), telephony.CallStatusCompleted, time.Minute)
	if st := e.Status(); st.CompletedCalls != 1 {
		t.Fatalf("outcome not applied: %+v", st)
	}
}
