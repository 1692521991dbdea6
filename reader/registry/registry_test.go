package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketsync/config"
	"marketsync/models"
	"marketsync/reader"
)

type fakeResolver struct {
	ids   map[string]int
	calls map[string]int
}

func (f *fakeResolver) ExchangeID(_ context.Context, exchange string) (int, error) {
	f.calls[exchange]++
	id, ok := f.ids[exchange]
	if !ok {
		return 0, errors.New("unknown exchange")
	}
	return id, nil
}

func newResolver(ids map[string]int) *fakeResolver {
	return &fakeResolver{ids: ids, calls: map[string]int{}}
}

func readerConfig() config.ReaderConfig {
	return config.ReaderConfig{Timeout: time.Second}
}

func TestNewResolvesEachExchangeOnce(t *testing.T) {
	ids := map[string]int{}
	for i, k := range Keys() {
		ids[k.Exchange] = i + 1
	}
	res := newResolver(ids)
	reg, err := New(context.Background(), readerConfig(), res)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for exchange, n := range res.calls {
		if n != 1 {
			t.Errorf("%s resolved %d times", exchange, n)
		}
	}
	if len(reg.Sources()) != len(factories) {
		t.Fatalf("expected %d sources, got %d", len(factories), len(reg.Sources()))
	}

	spot, ok := reg.Get(reader.Key{Exchange: "binance", InstType: models.InstSpot})
	if !ok {
		t.Fatal("binance spot missing")
	}
	perp, _ := reg.Get(reader.Key{Exchange: "binance", InstType: models.InstPerp})
	if spot.ExchangeID() != ids["binance"] || perp.ExchangeID() != ids["binance"] {
		t.Errorf("spot and perp must share the exchange id")
	}
}

func TestNewSkipsDisabledAndUnknown(t *testing.T) {
	rc := readerConfig()
	rc.Sources = map[string]config.SourceConfig{"okx_spot": {Disabled: true}}
	res := newResolver(map[string]int{"okx": 3, "binance": 1})

	reg, err := New(context.Background(), rc, res)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := reg.Get(reader.Key{Exchange: "okx", InstType: models.InstSpot}); ok {
		t.Error("disabled source must not be built")
	}
	if _, ok := reg.Get(reader.Key{Exchange: "okx", InstType: models.InstPerp}); !ok {
		t.Error("okx perp should be built")
	}
	if _, ok := reg.Get(reader.Key{Exchange: "bybit", InstType: models.InstSpot}); ok {
		t.Error("unresolved exchange must be skipped")
	}
	if res.calls["bybit"] != 1 {
		t.Errorf("failed exchange should be tried once, got %d", res.calls["bybit"])
	}
	if got := len(reg.ByExchange()["binance"]); got != 2 {
		t.Errorf("binance sources = %d", got)
	}
}

func TestNewFailsWithoutSources(t *testing.T) {
	if _, err := New(context.Background(), readerConfig(), newResolver(nil)); err == nil {
		t.Fatal("expected error when nothing resolves")
	}
}

func TestSourcesAreOrdered(t *testing.T) {
	keys := Keys()
	for i := 1; i < len(keys); i++ {
		if keys[i-1].String() >= keys[i].String() {
			t.Fatalf("keys not ordered: %s before %s", keys[i-1], keys[i])
		}
	}
}
