package binance

import (
	"context"

	futures "github.com/adshao/go-binance/v2/futures"

	"marketsync/models"
	"marketsync/precision"
	"marketsync/reader"
)

const perpDefaultURL = "https://fapi.binance.com"

var perpStatus = models.StatusMap{
	"TRADING":         models.StatusActive,
	"PENDING_TRADING": models.StatusPending,
	"PRE_SETTLE":      models.StatusHalted,
	"PRE_DELIVERING":  models.StatusHalted,
	"SETTLING":        models.StatusClosed,
	"DELIVERING":      models.StatusClosed,
	"DELIVERED":       models.StatusClosed,
	"CLOSE":           models.StatusClosed,
}

// Perp reads USDT-M perpetual contracts from the Binance futures API.
type Perp struct {
	reader.Base
	client *futures.Client
}

func NewPerp(opts reader.Options) reader.Source {
	base := reader.NewBase(reader.Key{Exchange: Exchange, InstType: models.InstPerp}, opts, perpDefaultURL, reader.Pagination{
		PageLimit: 1000,
		Unit:      reader.Millis,
		StartKey:  "startTime",
		EndKey:    "endTime",
	})

	client := futures.NewClient("", "")
	client.HTTPClient = base.HTTPClient()
	client.BaseURL = base.BaseURL()

	return &Perp{Base: base, client: client}
}

func (p *Perp) ListSymbols(ctx context.Context) ([]models.SymbolMeta, error) {
	info, err := p.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, p.Unavailable("exchange_info", err)
	}

	out := make([]models.SymbolMeta, 0, len(info.Symbols))
	for _, sym := range info.Symbols {
		if sym.ContractType != futures.ContractTypePerpetual {
			continue
		}
		tick := precision.TickFromPrecision(sym.PricePrecision)
		if f := sym.PriceFilter(); f != nil && f.TickSize != "" {
			tick = precision.Normalize(f.TickSize)
		}
		step := precision.TickFromPrecision(sym.QuantityPrecision)
		if f := sym.LotSizeFilter(); f != nil && f.StepSize != "" {
			step = precision.Normalize(f.StepSize)
		}
		out = append(out, models.SymbolMeta{
			ExchangeID:        p.ExchangeID(),
			Symbol:            sym.Symbol,
			InstType:          models.InstPerp,
			BaseAsset:         sym.BaseAsset,
			QuoteAsset:        sym.QuoteAsset,
			Status:            perpStatus.Resolve(sym.Status),
			TickSize:          tick,
			StepSize:          step,
			PricePrecision:    sym.PricePrecision,
			QuantityPrecision: sym.QuantityPrecision,
			OnboardTime:       onboardTime(sym.OnboardDate),
		})
	}
	return out, nil
}

func (p *Perp) FetchCandlePage(ctx context.Context, req reader.PageRequest) (reader.Page, error) {
	svc := p.client.NewKlinesService().
		Symbol(req.Symbol).
		Interval(string(req.Interval)).
		StartTime(req.Start).
		Limit(req.Limit)
	if req.End > 0 {
		svc = svc.EndTime(req.End - 1)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return reader.Page{}, p.Unavailable("klines", err)
	}

	records := make([]reader.RawCandle, 0, len(klines))
	for _, k := range klines {
		records = append(records, rawFromKline(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume, k.QuoteAssetVolume, k.TradeNum))
	}
	return reader.Page{Records: records}, nil
}

func (p *Perp) FundingPageLimit() int { return 1000 }

// FetchFundingPage returns the oldest settlements at or after req.Start.
func (p *Perp) FetchFundingPage(ctx context.Context, req reader.PageRequest) (reader.FundingPage, error) {
	svc := p.client.NewFundingRateService().
		Symbol(req.Symbol).
		StartTime(req.Start).
		Limit(req.Limit)
	if req.End > 0 {
		svc = svc.EndTime(req.End - 1)
	}
	rates, err := svc.Do(ctx)
	if err != nil {
		return reader.FundingPage{}, p.Unavailable("funding_rate", err)
	}

	records := make([]reader.RawFunding, 0, len(rates))
	for _, r := range rates {
		records = append(records, reader.RawFunding{Time: r.FundingTime, Rate: r.FundingRate})
	}
	return reader.FundingPage{Records: reader.AscendingFunding(records)}, nil
}
