package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"marketsync/config"
	"marketsync/logger"
	"marketsync/models"
	"marketsync/reader"
)

const epoch = int64(1735689600000)

type fakeSource struct {
	reader.Base
	mu        sync.Mutex
	symbols   []models.SymbolMeta
	listErr   error
	listCalls int
	failFetch map[string]bool
	empty     map[string]bool
	fetches   map[string]int
	starts    map[string][]int64
}

func newFakeSource(exchange string, inst models.InstType, id int) *fakeSource {
	return &fakeSource{
		Base: reader.NewBase(reader.Key{Exchange: exchange, InstType: inst}, reader.Options{ExchangeID: id}, "http://fake",
			reader.Pagination{PageLimit: 100, Unit: reader.Millis}),
		failFetch: map[string]bool{},
		empty:     map[string]bool{},
		fetches:   map[string]int{},
		starts:    map[string][]int64{},
	}
}

func (f *fakeSource) ListSymbols(context.Context) ([]models.SymbolMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.symbols, nil
}

func (f *fakeSource) FetchCandlePage(_ context.Context, req reader.PageRequest) (reader.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[req.Symbol]++
	f.starts[req.Symbol] = append(f.starts[req.Symbol], req.Start)
	if f.failFetch[req.Symbol] {
		return reader.Page{}, reader.Unavailable(f.Key().String(), "candles", errors.New("connection reset"))
	}
	var page reader.Page
	if f.empty[req.Symbol] {
		return page, nil
	}
	step := req.Interval.Millis()
	for ts := req.Start; (req.End == 0 || ts < req.End) && len(page.Records) < req.Limit; ts += step {
		page.Records = append(page.Records, reader.RawCandle{Time: ts, Open: "1", High: "1", Low: "1", Close: "1", Volume: "1"})
	}
	return page, nil
}

type fakeSources struct {
	list []reader.Source
}

func (f fakeSources) Sources() []reader.Source { return f.list }

func (f fakeSources) Get(key reader.Key) (reader.Source, bool) {
	for _, s := range f.list {
		if s.Key() == key {
			return s, true
		}
	}
	return nil, false
}

type fakeStore struct {
	mu       sync.Mutex
	upserted []models.SymbolMeta
	active   []models.ActiveSymbol
	last     map[string]int64
	candles  map[string][]models.Candle
	funding  map[string][]models.FundingRate
}

func newFakeStore() *fakeStore {
	return &fakeStore{last: map[string]int64{}, candles: map[string][]models.Candle{}, funding: map[string][]models.FundingRate{}}
}

func (s *fakeStore) UpsertSymbols(_ context.Context, metas []models.SymbolMeta) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserted = append(s.upserted, metas...)
	return int64(len(metas)), nil
}

func (s *fakeStore) ActiveSymbols(_ context.Context, symbol string) ([]models.ActiveSymbol, error) {
	if symbol == "" {
		return s.active, nil
	}
	var out []models.ActiveSymbol
	for _, a := range s.active {
		if a.Symbol == symbol {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) LastTimestamp(_ context.Context, _ models.Interval, key models.SymbolKey) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.last[key.Symbol]
	return ts, ok, nil
}

func (s *fakeStore) UpsertCandles(_ context.Context, _ models.Interval, candles []models.Candle) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range candles {
		s.candles[c.Symbol] = append(s.candles[c.Symbol], c)
		s.last[c.Symbol] = c.Timestamp
	}
	return len(candles), nil
}

func syncConfig() config.SyncConfig {
	return config.SyncConfig{
		DefaultStartMs: epoch,
		Retry:          config.RetryConfig{Attempts: 2, Delay: time.Millisecond},
		Cooldown:       time.Millisecond,
	}
}

func active(exchange string, inst models.InstType, id int, symbol string) models.ActiveSymbol {
	return models.ActiveSymbol{
		SymbolKey: models.SymbolKey{ExchangeID: id, Symbol: symbol, InstType: inst},
		Exchange:  exchange,
	}
}

func TestSymbolSyncIsolatesFailingSource(t *testing.T) {
	good := newFakeSource("binance", models.InstSpot, 1)
	good.symbols = []models.SymbolMeta{{ExchangeID: 1, Symbol: "BTCUSDT"}, {ExchangeID: 1, Symbol: "ETHUSDT"}}
	bad := newFakeSource("okx", models.InstSpot, 2)
	bad.listErr = reader.Unavailable("okx_spot", "instruments", errors.New("timeout"))

	store := newFakeStore()
	results := NewSymbolSync(syncConfig(), fakeSources{list: []reader.Source{good, bad}}, store).Run(context.Background())

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err != nil || results[0].Symbols != 2 {
		t.Errorf("unexpected good result %+v", results[0])
	}
	if !reader.IsUnavailable(results[1].Err) {
		t.Errorf("expected source error, got %v", results[1].Err)
	}
	if bad.listCalls != 3 {
		t.Errorf("expected 1 try plus 2 retries, got %d", bad.listCalls)
	}
	if len(store.upserted) != 2 {
		t.Errorf("upserted %d symbols", len(store.upserted))
	}
}

func TestKlineSyncIsolatesFailingSymbol(t *testing.T) {
	src := newFakeSource("binance", models.InstSpot, 1)
	src.failFetch["BADUSDT"] = true
	store := newFakeStore()
	store.active = []models.ActiveSymbol{
		active("binance", models.InstSpot, 1, "AAAUSDT"),
		active("binance", models.InstSpot, 1, "BADUSDT"),
		active("binance", models.InstSpot, 1, "ZZZUSDT"),
	}

	k := NewKlineSync(syncConfig(), fakeSources{list: []reader.Source{src}}, store, store, store)
	k.now = func() time.Time { return time.UnixMilli(epoch + 5*3600000 + 1234) }

	report, err := k.Run(context.Background(), models.Interval1h, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Symbols != 3 || report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if src.fetches["BADUSDT"] != 3 {
		t.Errorf("expected 3 attempts for failing symbol, got %d", src.fetches["BADUSDT"])
	}
	for _, sym := range []string{"AAAUSDT", "ZZZUSDT"} {
		got := store.candles[sym]
		if len(got) != 5 {
			t.Fatalf("%s: expected 5 closed bars, got %d", sym, len(got))
		}
		for i, c := range got {
			if c.Timestamp != epoch+int64(i)*3600000 {
				t.Errorf("%s bar %d at %d", sym, i, c.Timestamp)
			}
		}
	}
	if report.Candles != 10 {
		t.Errorf("candles = %d", report.Candles)
	}
}

func TestKlineSyncWarnsWhenPendingRangeIsEmpty(t *testing.T) {
	src := newFakeSource("okx", models.InstSpot, 7)
	src.empty["GHOST-USDT"] = true
	store := newFakeStore()
	store.active = []models.ActiveSymbol{
		active("okx", models.InstSpot, 7, "GHOST-USDT"),
		active("okx", models.InstSpot, 7, "BTC-USDT"),
	}

	k := NewKlineSync(syncConfig(), fakeSources{list: []reader.Source{src}}, store, store, store)
	k.now = func() time.Time { return time.UnixMilli(epoch + 10*60000) }
	base, hook := logtest.NewNullLogger()
	k.log = &logger.Log{Logger: base}

	report, err := k.Run(context.Background(), models.Interval1m, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Failed != 0 || report.Candles != 10 {
		t.Fatalf("unexpected report %+v", report)
	}
	var warned []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "source returned no candles for a pending range" {
			warned = append(warned, e.Data["symbol"].(string))
		}
	}
	if len(warned) != 1 || warned[0] != "GHOST-USDT" {
		t.Errorf("expected one warning for GHOST-USDT, got %v", warned)
	}
}

func TestKlineSyncResumesAfterLastStored(t *testing.T) {
	src := newFakeSource("bybit", models.InstPerp, 3)
	store := newFakeStore()
	store.active = []models.ActiveSymbol{active("bybit", models.InstPerp, 3, "BTCUSDT")}
	store.last["BTCUSDT"] = epoch + 2*60000

	k := NewKlineSync(syncConfig(), fakeSources{list: []reader.Source{src}}, store, store, store)
	k.now = func() time.Time { return time.UnixMilli(epoch + 10*60000) }

	if _, err := k.Run(context.Background(), models.Interval1m, ""); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if first := src.starts["BTCUSDT"][0]; first != epoch+3*60000 {
		t.Errorf("resumed at %d", first)
	}
	if got := len(store.candles["BTCUSDT"]); got != 7 {
		t.Errorf("expected 7 new bars, got %d", got)
	}

	// caught up: the next run issues no request
	before := src.fetches["BTCUSDT"]
	if _, err := k.Run(context.Background(), models.Interval1m, ""); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if src.fetches["BTCUSDT"] != before {
		t.Errorf("caught up symbol should not be fetched again")
	}
}

func TestStartForUsesOnboardTime(t *testing.T) {
	store := newFakeStore()
	k := NewKlineSync(syncConfig(), fakeSources{}, store, store, store)

	sym := active("gate", models.InstPerp, 4, "NEW_USDT")
	start, err := k.StartFor(context.Background(), models.Interval1h, sym)
	if err != nil || start != epoch {
		t.Fatalf("start=%d err=%v", start, err)
	}

	onboard := epoch + 90*60000
	sym.OnboardTime = &onboard
	start, _ = k.StartFor(context.Background(), models.Interval1h, sym)
	if start != epoch+2*3600000 {
		t.Errorf("expected onboard aligned up to the hour, got %d", start)
	}

	early := epoch - 3600000
	sym.OnboardTime = &early
	if start, _ = k.StartFor(context.Background(), models.Interval1h, sym); start != epoch {
		t.Errorf("earlier onboard must not move start before the default, got %d", start)
	}
}

func TestKlineSyncSkipsUnregisteredGroups(t *testing.T) {
	store := newFakeStore()
	store.active = []models.ActiveSymbol{active("kraken", models.InstSpot, 9, "XBTUSD")}
	k := NewKlineSync(syncConfig(), fakeSources{}, store, store, store)

	report, err := k.Run(context.Background(), models.Interval1d, "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.SkippedGroups != 1 || report.Groups != 0 || report.Symbols != 0 {
		t.Errorf("unexpected report %+v", report)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retry(ctx, config.RetryConfig{Attempts: 5, Delay: time.Hour}, func(int) error {
		calls++
		cancel()
		return errors.New("fail")
	})
	if err == nil || calls != 1 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
}
