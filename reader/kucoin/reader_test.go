package kucoin

import (
	"testing"
	"time"

	"marketsync/config"
	"marketsync/models"
	"marketsync/reader"
)

func newTestPerp() *Perp {
	rc := config.ReaderConfig{Timeout: time.Second}
	return NewPerp(rc, reader.Options{ExchangeID: 5}).(*Perp)
}

func TestToMeta(t *testing.T) {
	p := newTestPerp()
	meta := p.toMeta(contract{
		Symbol: "XBTUSDTM", Type: perpetual, BaseCurrency: "XBT", QuoteCurrency: "USDT",
		Status: "Open", TickSize: 0.1, LotSize: 1, Multiplier: 0.001, FirstOpenDate: 1585555200000,
	})
	if meta.TickSize != "0.1" || meta.StepSize != "0.001" || meta.QuantityPrecision != 3 {
		t.Errorf("unexpected meta %+v", meta)
	}
	if meta.Status != models.StatusActive || meta.OnboardTime == nil {
		t.Errorf("unexpected status/onboard %+v", meta)
	}

	inverse := p.toMeta(contract{Symbol: "XBTUSDM", Status: "BeingSettled", TickSize: 0.5, LotSize: 1, Multiplier: -1})
	if inverse.StepSize != "1" || inverse.Status != models.StatusClosed {
		t.Errorf("unexpected inverse meta %+v", inverse)
	}
}

func TestExtract(t *testing.T) {
	records, err := extract([][]float64{{1735689600000, 1.5, 2, 1, 1.75, 100, 175.5}})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	r := records[0]
	if r.Time != 1735689600000 || r.Close != "1.75" || r.QuoteVolume != "175.5" {
		t.Errorf("unexpected record %+v", r)
	}
	if _, err := extract([][]float64{{1, 2}}); err == nil {
		t.Error("expected short row error")
	}
}

func TestBaseURLOverride(t *testing.T) {
	p := NewPerp(config.ReaderConfig{Timeout: time.Second}, reader.Options{Source: config.SourceConfig{BaseURL: "http://localhost:9/"}})
	if got := p.(*Perp).BaseURL(); got != "http://localhost:9" {
		t.Errorf("BaseURL = %s", got)
	}
}
