package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketsync/models"
	"marketsync/reader"
)

const hourMs = int64(3600000)

// fakeFundingSource serves settlements at fixed times through windows of
// Limit hours, the way the bybit and okx adapters page funding history.
type fakeFundingSource struct {
	*fakeSource
	events    []int64
	exhausted bool
	failAt    int
	requests  []reader.PageRequest
}

func (f *fakeFundingSource) FundingPageLimit() int { return 10 }

func (f *fakeFundingSource) FetchFundingPage(_ context.Context, req reader.PageRequest) (reader.FundingPage, error) {
	f.requests = append(f.requests, req)
	if f.failAt > 0 && len(f.requests) == f.failAt {
		return reader.FundingPage{}, reader.Unavailable(f.Key().String(), "funding", errors.New("timeout"))
	}
	end := reader.FundingWindowEnd(req, req.Limit)
	if f.exhausted {
		end = req.End
	}
	var page reader.FundingPage
	for _, ts := range f.events {
		if ts >= req.Start && ts < end {
			page.Records = append(page.Records, reader.RawFunding{Time: ts, Rate: "0.0001"})
		}
	}
	if f.exhausted {
		page.Exhausted = true
	} else {
		page.WindowEnd = end
	}
	return page, nil
}

func (s *fakeStore) LastFundingTime(_ context.Context, key models.SymbolKey) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rates := s.funding[key.Symbol]
	if len(rates) == 0 {
		return 0, false, nil
	}
	return rates[len(rates)-1].FundingTime, true, nil
}

func (s *fakeStore) UpsertFundingRates(_ context.Context, rates []models.FundingRate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rates {
		s.funding[r.Symbol] = append(s.funding[r.Symbol], r)
	}
	return len(rates), nil
}

func every8h(from, to int64) []int64 {
	var out []int64
	for ts := from; ts < to; ts += 8 * hourMs {
		out = append(out, ts)
	}
	return out
}

func TestFundingSyncStepsOverEmptyWindowsAndResumes(t *testing.T) {
	perp := &fakeFundingSource{
		fakeSource: newFakeSource("bybit", models.InstPerp, 3),
		events:     every8h(epoch+40*hourMs, epoch+100*hourMs),
	}
	spot := newFakeSource("bybit", models.InstSpot, 3)
	noFunding := newFakeSource("gate", models.InstPerp, 6)
	store := newFakeStore()
	store.active = []models.ActiveSymbol{
		active("bybit", models.InstPerp, 3, "BTCUSDT"),
		active("bybit", models.InstSpot, 3, "BTCUSDT"),
		active("gate", models.InstPerp, 6, "BTC_USDT"),
	}

	f := NewFundingSync(syncConfig(), fakeSources{list: []reader.Source{perp, spot, noFunding}}, store, store, store)
	f.now = func() time.Time { return time.UnixMilli(epoch + 100*hourMs) }

	report, err := f.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Groups != 1 || report.Symbols != 1 || report.Unsupported != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	got := store.funding["BTCUSDT"]
	if len(got) != 8 || report.Rates != 8 {
		t.Fatalf("stored %d rates, report %d, want 8", len(got), report.Rates)
	}
	if got[0].FundingTime != epoch+40*hourMs || got[0].InstType != models.InstPerp {
		t.Errorf("first rate %+v", got[0])
	}
	if first := perp.requests[0]; first.Start != epoch || first.Limit != 10 {
		t.Errorf("first request %+v", first)
	}

	// resume one millisecond after the newest stored settlement
	perp.requests = nil
	if _, err := f.Run(context.Background(), ""); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(perp.requests) != 1 || perp.requests[0].Start != epoch+96*hourMs+1 {
		t.Errorf("unexpected resume requests %+v", perp.requests)
	}
	if len(store.funding["BTCUSDT"]) != 8 {
		t.Errorf("rerun stored duplicates: %d", len(store.funding["BTCUSDT"]))
	}
}

func TestFundingSyncExhaustedPageEndsSymbol(t *testing.T) {
	perp := &fakeFundingSource{
		fakeSource: newFakeSource("bitget", models.InstPerp, 5),
		events:     every8h(epoch, epoch+48*hourMs),
		exhausted:  true,
	}
	store := newFakeStore()
	store.active = []models.ActiveSymbol{active("bitget", models.InstPerp, 5, "ETHUSDT")}

	f := NewFundingSync(syncConfig(), fakeSources{list: []reader.Source{perp}}, store, store, store)
	f.now = func() time.Time { return time.UnixMilli(epoch + 48*hourMs) }

	report, err := f.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Rates != 6 || len(perp.requests) != 1 {
		t.Fatalf("rates=%d requests=%d", report.Rates, len(perp.requests))
	}
}

func TestFundingSyncRetriesFailedSymbol(t *testing.T) {
	perp := &fakeFundingSource{
		fakeSource: newFakeSource("okx", models.InstPerp, 7),
		events:     every8h(epoch, epoch+24*hourMs),
		failAt:     1,
	}
	store := newFakeStore()
	store.active = []models.ActiveSymbol{active("okx", models.InstPerp, 7, "BTC-USDT-SWAP")}

	f := NewFundingSync(syncConfig(), fakeSources{list: []reader.Source{perp}}, store, store, store)
	f.now = func() time.Time { return time.UnixMilli(epoch + 24*hourMs) }

	report, err := f.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Failed != 0 || report.Rates != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
}
