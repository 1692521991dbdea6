package bitmart

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketsync/config"
	"marketsync/models"
	"marketsync/reader"
)

func options(t *testing.T, handler http.HandlerFunc) reader.Options {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return reader.Options{ExchangeID: 7, HTTPClient: srv.Client(), Source: config.SourceConfig{BaseURL: srv.URL}}
}

func TestPerpStepUsesExactMultiplication(t *testing.T) {
	p := NewPerp(reader.Options{ExchangeID: 7}).(*Perp)
	meta := p.toMeta(contract{
		Symbol: "BTCUSDT", Status: "Trading", PricePrecision: "0.1", VolPrecision: "1", ContractSize: "0.001",
	})
	if meta.StepSize != "0.001" || meta.QuantityPrecision != 3 {
		t.Errorf("step = %s precision = %d", meta.StepSize, meta.QuantityPrecision)
	}
	if meta.TickSize != "0.1" || meta.PricePrecision != 1 || meta.Status != models.StatusActive {
		t.Errorf("unexpected meta %+v", meta)
	}
	if got := p.toMeta(contract{Status: "Delisted"}).Status; got != models.StatusPending {
		t.Errorf("Delisted resolved to %s", got)
	}
}

func TestSpotAPIErrorIsUnavailable(t *testing.T) {
	s := NewSpot(options(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":30000,"message":"Not found","data":{}}`))
	}))
	_, err := s.ListSymbols(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !reader.IsUnavailable(err) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestSpotFetchCandlePage(t *testing.T) {
	s := NewSpot(options(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("step") != "60" || q.Get("after") != "1735689599" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"code":1000,"message":"OK","data":[
			["1735693200","2","3","1","2.5","5","12.5"],
			["1735689600","1","2","0.5","2","4","8"]]}`))
	}))
	page, err := s.FetchCandlePage(context.Background(), reader.PageRequest{
		Symbol: "BTC_USDT", Interval: models.Interval1h, Start: 1735689600000, Limit: 200,
	})
	if err != nil {
		t.Fatalf("FetchCandlePage: %v", err)
	}
	if len(page.Records) != 2 || page.Records[0].Time != 1735689600 {
		t.Fatalf("records not ascending: %+v", page.Records)
	}
}
