package bitget

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"marketsync/models"
	"marketsync/precision"
	"marketsync/reader"
)

var spotStatus = models.StatusMap{
	"online":  models.StatusActive,
	"halt":    models.StatusHalted,
	"gray":    models.StatusPending,
	"offline": models.StatusClosed,
}

var spotGranularity = map[models.Interval]string{
	models.Interval1m: "1min",
	models.Interval1h: "1h",
	models.Interval1d: "1day",
}

type Spot struct {
	reader.Base
}

func NewSpot(opts reader.Options) reader.Source {
	return &Spot{Base: reader.NewBase(reader.Key{Exchange: Exchange, InstType: models.InstSpot}, opts, defaultURL, reader.Pagination{
		PageLimit: 1000,
		Unit:      reader.Millis,
		StartKey:  "startTime",
		EndKey:    "endTime",
	})}
}

type spotSymbol struct {
	Symbol            string `json:"symbol"`
	BaseCoin          string `json:"baseCoin"`
	QuoteCoin         string `json:"quoteCoin"`
	Status            string `json:"status"`
	PricePrecision    string `json:"pricePrecision"`
	QuantityPrecision string `json:"quantityPrecision"`
}

func (s *Spot) ListSymbols(ctx context.Context) ([]models.SymbolMeta, error) {
	syms, err := get[[]spotSymbol](ctx, s.Base, "/api/v2/spot/public/symbols", nil)
	if err != nil {
		return nil, s.Unavailable("symbols", err)
	}
	out := make([]models.SymbolMeta, 0, len(syms))
	for _, sym := range syms {
		pp, err := strconv.Atoi(sym.PricePrecision)
		if err != nil {
			return nil, s.Unavailable("symbols", fmt.Errorf("%s pricePrecision %q: %w", sym.Symbol, sym.PricePrecision, err))
		}
		qp, err := strconv.Atoi(sym.QuantityPrecision)
		if err != nil {
			return nil, s.Unavailable("symbols", fmt.Errorf("%s quantityPrecision %q: %w", sym.Symbol, sym.QuantityPrecision, err))
		}
		out = append(out, models.SymbolMeta{
			ExchangeID:        s.ExchangeID(),
			Symbol:            sym.Symbol,
			InstType:          models.InstSpot,
			BaseAsset:         sym.BaseCoin,
			QuoteAsset:        sym.QuoteCoin,
			Status:            spotStatus.Resolve(sym.Status),
			TickSize:          precision.TickFromPrecision(pp),
			StepSize:          precision.TickFromPrecision(qp),
			PricePrecision:    pp,
			QuantityPrecision: qp,
		})
	}
	return out, nil
}

func (s *Spot) FetchCandlePage(ctx context.Context, req reader.PageRequest) (reader.Page, error) {
	g, ok := spotGranularity[req.Interval]
	if !ok {
		return reader.Page{}, s.Unavailable("candles", fmt.Errorf("unsupported interval %s", req.Interval))
	}
	return candlePage(ctx, s.Base, "/api/v2/spot/market/candles", url.Values{"granularity": {g}}, req)
}
