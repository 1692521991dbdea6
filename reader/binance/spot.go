// Package binance adapts Binance spot and USDT-M perpetual market data.
package binance

import (
	"context"

	binance "github.com/adshao/go-binance/v2"

	"marketsync/models"
	"marketsync/precision"
	"marketsync/reader"
)

const (
	Exchange       = "binance"
	spotDefaultURL = "https://api.binance.com"
)

var spotStatus = models.StatusMap{
	"TRADING":       models.StatusActive,
	"PRE_TRADING":   models.StatusPending,
	"POST_TRADING":  models.StatusClosed,
	"END_OF_DAY":    models.StatusClosed,
	"HALT":          models.StatusHalted,
	"AUCTION_MATCH": models.StatusHalted,
	"BREAK":         models.StatusHalted,
}

// Spot reads symbols and klines from the Binance spot REST API.
type Spot struct {
	reader.Base
	client *binance.Client
}

func NewSpot(opts reader.Options) reader.Source {
	base := reader.NewBase(reader.Key{Exchange: Exchange, InstType: models.InstSpot}, opts, spotDefaultURL, reader.Pagination{
		PageLimit: 1000,
		Unit:      reader.Millis,
		StartKey:  "startTime",
		EndKey:    "endTime",
	})

	client := binance.NewClient("", "")
	client.HTTPClient = base.HTTPClient()
	client.BaseURL = base.BaseURL()

	return &Spot{Base: base, client: client}
}

func (s *Spot) ListSymbols(ctx context.Context) ([]models.SymbolMeta, error) {
	info, err := s.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, s.Unavailable("exchange_info", err)
	}

	out := make([]models.SymbolMeta, 0, len(info.Symbols))
	for _, sym := range info.Symbols {
		var tick, step string
		if f := sym.PriceFilter(); f != nil {
			tick = precision.Normalize(f.TickSize)
		}
		if f := sym.LotSizeFilter(); f != nil {
			step = precision.Normalize(f.StepSize)
		}
		out = append(out, models.SymbolMeta{
			ExchangeID:        s.ExchangeID(),
			Symbol:            sym.Symbol,
			InstType:          models.InstSpot,
			BaseAsset:         sym.BaseAsset,
			QuoteAsset:        sym.QuoteAsset,
			Status:            spotStatus.Resolve(sym.Status),
			TickSize:          tick,
			StepSize:          step,
			PricePrecision:    precision.Of(tick),
			QuantityPrecision: precision.Of(step),
		})
	}
	return out, nil
}

func (s *Spot) FetchCandlePage(ctx context.Context, req reader.PageRequest) (reader.Page, error) {
	svc := s.client.NewKlinesService().
		Symbol(req.Symbol).
		Interval(string(req.Interval)).
		StartTime(req.Start).
		Limit(req.Limit)
	if req.End > 0 {
		// endTime is inclusive on Binance
		svc = svc.EndTime(req.End - 1)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return reader.Page{}, s.Unavailable("klines", err)
	}

	records := make([]reader.RawCandle, 0, len(klines))
	for _, k := range klines {
		records = append(records, rawFromKline(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume, k.QuoteAssetVolume, k.TradeNum))
	}
	return reader.Page{Records: records}, nil
}

func rawFromKline(openTime int64, open, high, low, close, volume, quoteVolume string, trades int64) reader.RawCandle {
	count := trades
	return reader.RawCandle{
		Time:        openTime,
		Open:        open,
		High:        high,
		Low:         low,
		Close:       close,
		Volume:      volume,
		QuoteVolume: quoteVolume,
		Count:       &count,
	}
}

func onboardTime(ms int64) *int64 {
	if ms <= 0 {
		return nil
	}
	return &ms
}
