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

var perpStatus = models.StatusMap{
	"normal":        models.StatusActive,
	"listed":        models.StatusPending,
	"maintain":      models.StatusHalted,
	"limit_open":    models.StatusHalted,
	"restrictedAPI": models.StatusHalted,
	"off":           models.StatusClosed,
}

var perpGranularity = map[models.Interval]string{
	models.Interval1m: "1m",
	models.Interval1h: "1H",
	models.Interval1d: "1D",
}

type Perp struct {
	reader.Base
}

func NewPerp(opts reader.Options) reader.Source {
	return &Perp{Base: reader.NewBase(reader.Key{Exchange: Exchange, InstType: models.InstPerp}, opts, defaultURL, reader.Pagination{
		PageLimit: 1000,
		Unit:      reader.Millis,
		StartKey:  "startTime",
		EndKey:    "endTime",
	})}
}

type contract struct {
	Symbol         string `json:"symbol"`
	BaseCoin       string `json:"baseCoin"`
	QuoteCoin      string `json:"quoteCoin"`
	SymbolStatus   string `json:"symbolStatus"`
	PricePlace     string `json:"pricePlace"`
	VolumePlace    string `json:"volumePlace"`
	SizeMultiplier string `json:"sizeMultiplier"`
	LaunchTime     string `json:"launchTime"`
}

func (p *Perp) ListSymbols(ctx context.Context) ([]models.SymbolMeta, error) {
	contracts, err := get[[]contract](ctx, p.Base, "/api/v2/mix/market/contracts", url.Values{"productType": {productType}})
	if err != nil {
		return nil, p.Unavailable("contracts", err)
	}
	out := make([]models.SymbolMeta, 0, len(contracts))
	for _, c := range contracts {
		meta, err := p.toMeta(c)
		if err != nil {
			return nil, p.Unavailable("contracts", err)
		}
		out = append(out, meta)
	}
	return out, nil
}

func (p *Perp) toMeta(c contract) (models.SymbolMeta, error) {
	place, err := strconv.Atoi(c.PricePlace)
	if err != nil {
		return models.SymbolMeta{}, fmt.Errorf("%s pricePlace %q: %w", c.Symbol, c.PricePlace, err)
	}
	volPlace, err := strconv.Atoi(c.VolumePlace)
	if err != nil {
		return models.SymbolMeta{}, fmt.Errorf("%s volumePlace %q: %w", c.Symbol, c.VolumePlace, err)
	}
	meta := models.SymbolMeta{
		ExchangeID:        p.ExchangeID(),
		Symbol:            c.Symbol,
		InstType:          models.InstPerp,
		BaseAsset:         c.BaseCoin,
		QuoteAsset:        c.QuoteCoin,
		Status:            perpStatus.Resolve(c.SymbolStatus),
		TickSize:          precision.TickFromPrecision(place),
		StepSize:          precision.Normalize(c.SizeMultiplier),
		PricePrecision:    place,
		QuantityPrecision: volPlace,
	}
	if ms, err := strconv.ParseInt(c.LaunchTime, 10, 64); err == nil && ms > 0 {
		meta.OnboardTime = &ms
	}
	return meta, nil
}

func (p *Perp) FetchCandlePage(ctx context.Context, req reader.PageRequest) (reader.Page, error) {
	g, ok := perpGranularity[req.Interval]
	if !ok {
		return reader.Page{}, p.Unavailable("candles", fmt.Errorf("unsupported interval %s", req.Interval))
	}
	params := url.Values{"granularity": {g}, "productType": {productType}}
	return candlePage(ctx, p.Base, "/api/v2/mix/market/candles", params, req)
}

type fundingEvent struct {
	Symbol      string `json:"symbol"`
	FundingRate string `json:"fundingRate"`
	FundingTime string `json:"fundingTime"`
}

func (p *Perp) FundingPageLimit() int { return 100 }

// FetchFundingPage pages history-fund-rate newest first until it reaches
// req.Start. The endpoint takes no time bounds, so the whole pending range
// is returned at once and the page is marked exhausted.
func (p *Perp) FetchFundingPage(ctx context.Context, req reader.PageRequest) (reader.FundingPage, error) {
	var records []reader.RawFunding
	for pageNo := 1; ; pageNo++ {
		events, err := get[[]fundingEvent](ctx, p.Base, "/api/v2/mix/market/history-fund-rate", url.Values{
			"symbol":      {req.Symbol},
			"productType": {productType},
			"pageSize":    {strconv.Itoa(req.Limit)},
			"pageNo":      {strconv.Itoa(pageNo)},
		})
		if err != nil {
			return reader.FundingPage{}, p.Unavailable("history_fund_rate", err)
		}
		oldest := int64(-1)
		for _, e := range events {
			ts, err := strconv.ParseInt(e.FundingTime, 10, 64)
			if err != nil {
				return reader.FundingPage{}, p.Unavailable("history_fund_rate", fmt.Errorf("parse funding time %q: %w", e.FundingTime, err))
			}
			records = append(records, reader.RawFunding{Time: ts, Rate: e.FundingRate})
			oldest = ts
		}
		if len(events) < req.Limit || oldest <= req.Start {
			break
		}
	}
	records = reader.ClipFunding(reader.AscendingFunding(records), req.Start, req.End)
	return reader.FundingPage{Records: records, Exhausted: true}, nil
}
