package backfill

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"marketsync/models"
	"marketsync/reader"
)

const t0 = int64(1735689600000)

// fakeSource serves 1m candles from a fixed set of available open times and
// records every request it receives.
type fakeSource struct {
	reader.Base
	available []int64
	requests  []reader.PageRequest
	failAt    int
	windowed  bool
}

func newFake(limit int, available []int64) *fakeSource {
	return &fakeSource{
		Base: reader.NewBase(reader.Key{Exchange: "fake", InstType: models.InstSpot}, reader.Options{ExchangeID: 1}, "http://fake",
			reader.Pagination{PageLimit: limit, Unit: reader.Millis}),
		available: available,
	}
}

func (f *fakeSource) ListSymbols(context.Context) ([]models.SymbolMeta, error) { return nil, nil }

func (f *fakeSource) FetchCandlePage(_ context.Context, req reader.PageRequest) (reader.Page, error) {
	f.requests = append(f.requests, req)
	if f.failAt > 0 && len(f.requests) == f.failAt {
		return reader.Page{}, reader.Unavailable("fake_spot", "candles", errors.New("boom"))
	}
	var page reader.Page
	end := req.End
	if f.windowed {
		end = reader.WindowEnd(req, req.Limit)
		page.WindowEnd = end
	}
	for _, ts := range f.available {
		if ts < req.Start || (end > 0 && ts >= end) {
			continue
		}
		page.Records = append(page.Records, reader.RawCandle{
			Time: ts, Open: "1", High: "1", Low: "1", Close: "1", Volume: strconv.FormatInt(ts, 10),
		})
		if len(page.Records) == req.Limit {
			break
		}
	}
	return page, nil
}

func minutes(start int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = start + int64(i)*60000
	}
	return out
}

func drain(t *testing.T, c *Cursor) [][]models.Candle {
	t.Helper()
	var batches [][]models.Candle
	for c.Next(context.Background()) {
		batches = append(batches, c.Batch())
	}
	if err := c.Err(); err != nil {
		t.Fatalf("cursor error: %v", err)
	}
	return batches
}

func TestFullThenShortPage(t *testing.T) {
	src := newFake(1000, minutes(t0, 1400))
	c := New(src, Request{Symbol: "BTCUSDT", Interval: models.Interval1m, Start: t0})
	batches := drain(t, c)

	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	if len(batches[0]) != 1000 || len(batches[1]) != 400 {
		t.Fatalf("batch sizes %d, %d", len(batches[0]), len(batches[1]))
	}
	if src.requests[1].Start != t0+1000*60000 {
		t.Errorf("second page starts at %d", src.requests[1].Start)
	}
	if len(src.requests) != 2 {
		t.Errorf("short page must end the stream, got %d requests", len(src.requests))
	}

	prev := t0 - 60000
	for _, b := range batches {
		for _, candle := range b {
			if candle.Timestamp != prev+60000 {
				t.Fatalf("gap or duplicate at %d after %d", candle.Timestamp, prev)
			}
			prev = candle.Timestamp
		}
	}
	if c.Total() != 1400 {
		t.Errorf("total = %d", c.Total())
	}
}

func TestZeroRecordsEndsStream(t *testing.T) {
	src := newFake(1000, nil)
	c := New(src, Request{Symbol: "BTCUSDT", Interval: models.Interval1m, Start: t0})
	if batches := drain(t, c); len(batches) != 0 {
		t.Fatalf("expected no batches, got %d", len(batches))
	}
	if len(src.requests) != 1 {
		t.Errorf("expected one request, got %d", len(src.requests))
	}
}

func TestEndBoundStopsWithoutExtraRequest(t *testing.T) {
	src := newFake(10, minutes(t0, 100))
	end := t0 + 20*60000
	c := New(src, Request{Symbol: "BTCUSDT", Interval: models.Interval1m, Start: t0, End: end})
	batches := drain(t, c)
	if len(batches) != 2 || len(src.requests) != 2 {
		t.Fatalf("batches=%d requests=%d", len(batches), len(src.requests))
	}
	if c.Position() != end {
		t.Errorf("position = %d", c.Position())
	}
}

func TestDuplicatesFromInclusiveEndAreDropped(t *testing.T) {
	src := newFake(3, []int64{t0, t0, t0 + 60000, t0 + 120000})
	c := New(src, Request{Symbol: "BTCUSDT", Interval: models.Interval1m, Start: t0})
	if !c.Next(context.Background()) {
		t.Fatalf("expected a batch: %v", c.Err())
	}
	if got := len(c.Batch()); got != 2 {
		t.Fatalf("expected duplicate to be dropped, got %d candles", got)
	}
}

func TestErrorPropagates(t *testing.T) {
	src := newFake(10, minutes(t0, 30))
	src.failAt = 2
	c := New(src, Request{Symbol: "BTCUSDT", Interval: models.Interval1m, Start: t0})
	n := 0
	for c.Next(context.Background()) {
		n++
	}
	if n != 1 {
		t.Fatalf("expected 1 batch before failure, got %d", n)
	}
	if !reader.IsUnavailable(c.Err()) {
		t.Fatalf("expected source error, got %v", c.Err())
	}
	if c.Next(context.Background()) {
		t.Fatal("cursor must not resume after an error")
	}
}

func TestPacing(t *testing.T) {
	src := newFake(1, minutes(t0, 3))
	c := New(src, Request{Symbol: "BTCUSDT", Interval: models.Interval1m, Start: t0, Pace: 20 * time.Millisecond})
	start := time.Now()
	drain(t, c)
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("expected paced requests, took %s", elapsed)
	}
}

func TestCancelledContext(t *testing.T) {
	src := newFake(1, minutes(t0, 3))
	c := New(src, Request{Symbol: "BTCUSDT", Interval: models.Interval1m, Start: t0, Pace: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	if !c.Next(ctx) {
		t.Fatalf("first page should not wait: %v", c.Err())
	}
	cancel()
	if c.Next(ctx) {
		t.Fatal("expected Next to stop on cancelled context")
	}
	if c.Err() == nil {
		t.Fatal("expected context error")
	}
}

func TestWindowedGapIsSteppedOver(t *testing.T) {
	src := newFake(100, minutes(t0+120*60000, 480))
	src.windowed = true
	end := t0 + 600*60000
	c := New(src, Request{Symbol: "BTC-USDT", Interval: models.Interval1m, Start: t0, End: end})
	batches := drain(t, c)

	if c.Total() != 480 {
		t.Fatalf("total = %d, want 480", c.Total())
	}
	if c.Skipped() != 1 {
		t.Errorf("skipped = %d, want 1", c.Skipped())
	}
	if c.Position() != end {
		t.Errorf("position = %d, want %d", c.Position(), end)
	}
	if first := batches[0][0].Timestamp; first != t0+120*60000 {
		t.Errorf("first bar at %d", first)
	}
	// [t0+100m, t0+200m) is short but must not end the stream.
	if len(batches[0]) != 80 || len(batches) != 5 {
		t.Errorf("batches=%d first=%d", len(batches), len(batches[0]))
	}
}

func TestWindowedTrailingGapEndsAtRequestEnd(t *testing.T) {
	src := newFake(100, minutes(t0, 50))
	src.windowed = true
	end := t0 + 400*60000
	c := New(src, Request{Symbol: "BTC-USDT", Interval: models.Interval1m, Start: t0, End: end})
	drain(t, c)

	if c.Total() != 50 {
		t.Fatalf("total = %d", c.Total())
	}
	// one page with data, then three empty windows up to end
	if len(src.requests) != 4 {
		t.Errorf("requests = %d, want 4", len(src.requests))
	}
	if c.Position() != end {
		t.Errorf("position = %d", c.Position())
	}
}

func TestWindowedOpenEndedStopsOnEmptyWindow(t *testing.T) {
	src := newFake(100, minutes(t0+300*60000, 10))
	src.windowed = true
	c := New(src, Request{Symbol: "BTC-USDT", Interval: models.Interval1m, Start: t0})
	if batches := drain(t, c); len(batches) != 0 {
		t.Fatalf("expected no batches, got %d", len(batches))
	}
	if len(src.requests) != 1 {
		t.Errorf("requests = %d", len(src.requests))
	}
}
