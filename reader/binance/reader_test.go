package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketsync/config"
	"marketsync/models"
	"marketsync/reader"
)

const spotExchangeInfo = `{"timezone":"UTC","serverTime":1,"symbols":[
{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT","filters":[
 {"filterType":"PRICE_FILTER","minPrice":"0.01000000","maxPrice":"1000000.00000000","tickSize":"0.01000000"},
 {"filterType":"LOT_SIZE","minQty":"0.00001000","maxQty":"9000.00000000","stepSize":"0.00001000"}]},
{"symbol":"OLDUSDT","status":"BREAK","baseAsset":"OLD","quoteAsset":"USDT","filters":[]}]}`

const spotKlines = `[
[1735689600000,"100.0","101.0","99.0","100.5","10.0",1735689659999,"1005.0",7,"5","500","0"],
[1735689660000,"100.5","102.0","100.0","101.0","12.0",1735689719999,"1212.0",9,"6","600","0"]]`

func newSpotForTest(t *testing.T, handler http.HandlerFunc) *Spot {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	src := NewSpot(reader.Options{ExchangeID: 1, HTTPClient: srv.Client()})
	spot := src.(*Spot)
	spot.client.BaseURL = srv.URL
	return spot
}

func TestSpotListSymbols(t *testing.T) {
	spot := newSpotForTest(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/exchangeInfo" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(spotExchangeInfo))
	})

	syms, err := spot.ListSymbols(context.Background())
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(syms) != 2 {
		t.Fatalf("expected 2 symbols, got %d", len(syms))
	}
	btc := syms[0]
	if btc.TickSize != "0.01" || btc.StepSize != "0.00001" {
		t.Errorf("unexpected tick/step %s/%s", btc.TickSize, btc.StepSize)
	}
	if btc.PricePrecision != 2 || btc.QuantityPrecision != 5 {
		t.Errorf("unexpected precision %d/%d", btc.PricePrecision, btc.QuantityPrecision)
	}
	if btc.Status != models.StatusActive || btc.ExchangeID != 1 || btc.InstType != models.InstSpot {
		t.Errorf("unexpected meta %+v", btc)
	}
	if syms[1].Status != models.StatusHalted {
		t.Errorf("BREAK should map to halted, got %v", syms[1].Status)
	}
}

func TestSpotFetchCandlePage(t *testing.T) {
	spot := newSpotForTest(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if q.Get("startTime") != "1735689600000" || q.Get("endTime") != "1735689719999" || q.Get("limit") != "1000" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(spotKlines))
	})

	page, err := spot.FetchCandlePage(context.Background(), reader.PageRequest{
		Symbol:   "BTCUSDT",
		Interval: models.Interval1m,
		Start:    1735689600000,
		End:      1735689720000,
		Limit:    1000,
	})
	if err != nil {
		t.Fatalf("FetchCandlePage: %v", err)
	}
	if len(page.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(page.Records))
	}
	c, err := spot.FormatRecord("BTCUSDT", page.Records[1])
	if err != nil {
		t.Fatalf("FormatRecord: %v", err)
	}
	if c.Timestamp != 1735689660000 || c.Close.String() != "101" || c.QuoteVolume.String() != "1212" {
		t.Errorf("unexpected candle %+v", c)
	}
	if c.Count == nil || *c.Count != 9 {
		t.Errorf("unexpected count %v", c.Count)
	}
}

func TestSpotErrorsAreSourceUnavailable(t *testing.T) {
	spot := newSpotForTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"code":-1003,"msg":"Too many requests"}`))
	})
	_, err := spot.FetchCandlePage(context.Background(), reader.PageRequest{Symbol: "BTCUSDT", Interval: models.Interval1m, Limit: 10})
	if !errors.Is(err, reader.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestPerpStatusMap(t *testing.T) {
	cases := map[string]models.SymbolStatus{
		"TRADING":         models.StatusActive,
		"PENDING_TRADING": models.StatusPending,
		"SETTLING":        models.StatusClosed,
		"PRE_DELIVERING":  models.StatusHalted,
	}
	for code, want := range cases {
		if got := perpStatus.Resolve(code); got != want {
			t.Errorf("perpStatus(%s) = %v, want %v", code, got, want)
		}
	}
}

func TestPerpFetchFundingPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/fapi/v1/fundingRate" || q.Get("startTime") != "1735689600000" || q.Get("endTime") != "1735747199999" {
			t.Errorf("unexpected request %s?%s", r.URL.Path, r.URL.RawQuery)
		}
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","fundingRate":"0.00010000","fundingTime":1735689600000,"markPrice":"93500.1"},
			{"symbol":"BTCUSDT","fundingRate":"-0.00002500","fundingTime":1735718400000,"markPrice":"94100.0"}]`))
	}))
	defer srv.Close()

	src := NewPerp(reader.Options{ExchangeID: 2, HTTPClient: srv.Client(), Source: config.SourceConfig{BaseURL: srv.URL}}).(reader.FundingSource)
	page, err := src.FetchFundingPage(context.Background(), reader.PageRequest{
		Symbol: "BTCUSDT", Start: 1735689600000, End: 1735747200000, Limit: src.FundingPageLimit(),
	})
	if err != nil {
		t.Fatalf("FetchFundingPage: %v", err)
	}
	if len(page.Records) != 2 || page.WindowEnd != 0 || page.Records[1].Rate != "-0.00002500" {
		t.Fatalf("unexpected page %+v", page)
	}
}
