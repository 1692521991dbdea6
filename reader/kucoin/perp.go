// Package kucoin adapts KuCoin USDT-margined perpetual contracts through the
// universal SDK's futures market API.
package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	api "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/api"
	futuresmarket "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/generate/futures/market"
	sdktype "github.com/Kucoin/kucoin-universal-sdk/sdk/golang/pkg/types"

	"marketsync/config"
	"marketsync/models"
	"marketsync/precision"
	"marketsync/reader"
)

const (
	Exchange   = "kucoin"
	defaultURL = "https://api-futures.kucoin.com"
	perpetual  = "FFWCSX"
)

var status = models.StatusMap{
	"Open":           models.StatusActive,
	"Paused":         models.StatusHalted,
	"PrepareSettled": models.StatusHalted,
	"BeingSettled":   models.StatusClosed,
}

// granularity is the bar size in minutes.
var granularity = map[models.Interval]int64{
	models.Interval1m: 1,
	models.Interval1h: 60,
	models.Interval1d: 1440,
}

type Perp struct {
	reader.Base
	marketAPI futuresmarket.MarketAPI
}

// NewPerp builds the SDK client with the same pooling limits the plain HTTP
// adapters get from reader.NewHTTPClient.
func NewPerp(rc config.ReaderConfig, opts reader.Options) reader.Source {
	base := reader.NewBase(reader.Key{Exchange: Exchange, InstType: models.InstPerp}, opts, defaultURL, reader.Pagination{
		PageLimit: 500,
		Unit:      reader.Millis,
		StartKey:  "from",
		EndKey:    "to",
	})

	transportOpt := sdktype.NewTransportOptionBuilder().
		SetMaxIdleConns(rc.ConnectionPool.MaxIdleConns).
		SetMaxIdleConnsPerHost(rc.ConnectionPool.MaxIdleConns).
		SetMaxConnsPerHost(rc.ConnectionPool.MaxConnsPerHost).
		SetIdleConnTimeout(rc.ConnectionPool.IdleConnTimeout).
		SetTimeout(rc.Timeout).
		Build()

	option := sdktype.NewClientOptionBuilder().
		WithFuturesEndpoint(base.BaseURL()).
		WithTransportOption(transportOpt).
		Build()

	client := api.NewClient(option)
	return &Perp{Base: base, marketAPI: client.RestService().GetFuturesService().GetMarketAPI()}
}

type contract struct {
	Symbol        string  `json:"symbol"`
	Type          string  `json:"type"`
	BaseCurrency  string  `json:"baseCurrency"`
	QuoteCurrency string  `json:"quoteCurrency"`
	Status        string  `json:"status"`
	TickSize      float64 `json:"tickSize"`
	LotSize       float64 `json:"lotSize"`
	Multiplier    float64 `json:"multiplier"`
	FirstOpenDate int64   `json:"firstOpenDate"`
}

func (p *Perp) ListSymbols(ctx context.Context) ([]models.SymbolMeta, error) {
	resp, err := p.marketAPI.GetAllSymbols(ctx)
	if err != nil {
		return nil, p.Unavailable("contracts", err)
	}
	var contracts []contract
	if err := remarshal(resp.Data, &contracts); err != nil {
		return nil, p.Unavailable("contracts", err)
	}
	out := make([]models.SymbolMeta, 0, len(contracts))
	for _, c := range contracts {
		if c.Type != "" && c.Type != perpetual {
			continue
		}
		out = append(out, p.toMeta(c))
	}
	return out, nil
}

// toMeta sizes the step as lotSize contracts of multiplier base units each.
// Multiplier is negative for inverse contracts; its magnitude is used.
func (p *Perp) toMeta(c contract) models.SymbolMeta {
	tick := precision.Normalize(formatFloat(c.TickSize))
	mult := c.Multiplier
	if mult < 0 {
		mult = -mult
	}
	step, _ := precision.StepFromMultiplier(formatFloat(c.LotSize), formatFloat(mult))
	meta := models.SymbolMeta{
		ExchangeID:        p.ExchangeID(),
		Symbol:            c.Symbol,
		InstType:          models.InstPerp,
		BaseAsset:         c.BaseCurrency,
		QuoteAsset:        c.QuoteCurrency,
		Status:            status.Resolve(c.Status),
		TickSize:          tick,
		StepSize:          step,
		PricePrecision:    precision.Of(tick),
		QuantityPrecision: precision.Of(step),
	}
	if c.FirstOpenDate > 0 {
		ms := c.FirstOpenDate
		meta.OnboardTime = &ms
	}
	return meta
}

func (p *Perp) FetchCandlePage(ctx context.Context, req reader.PageRequest) (reader.Page, error) {
	g, ok := granularity[req.Interval]
	if !ok {
		return reader.Page{}, p.Unavailable("klines", fmt.Errorf("unsupported interval %s", req.Interval))
	}
	end := reader.WindowEnd(req, req.Limit)
	sdkReq := futuresmarket.NewGetKlinesReqBuilder().
		SetSymbol(strings.ToUpper(req.Symbol)).
		SetGranularity(g).
		SetFrom(req.Start).
		SetTo(end - 1).
		Build()
	resp, err := p.marketAPI.GetKlines(sdkReq, ctx)
	if err != nil {
		return reader.Page{}, p.Unavailable("klines", err)
	}
	var rows [][]float64
	if err := remarshal(resp.Data, &rows); err != nil {
		return reader.Page{}, p.Unavailable("klines", err)
	}
	records, err := extract(rows)
	if err != nil {
		return reader.Page{}, p.Unavailable("klines", err)
	}
	return reader.Page{Records: reader.Clip(reader.Ascending(records), reader.Millis, req.Start, end), WindowEnd: end}, nil
}

// extract maps [time, open, high, low, close, volume, turnover] rows.
func extract(rows [][]float64) ([]reader.RawCandle, error) {
	out := make([]reader.RawCandle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("short kline row %v", row)
		}
		rec := reader.RawCandle{
			Time:   int64(row[0]),
			Open:   formatFloat(row[1]),
			High:   formatFloat(row[2]),
			Low:    formatFloat(row[3]),
			Close:  formatFloat(row[4]),
			Volume: formatFloat(row[5]),
		}
		if len(row) > 6 {
			rec.QuoteVolume = formatFloat(row[6])
		}
		out = append(out, rec)
	}
	return out, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func remarshal(in, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode sdk payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode sdk payload: %w", err)
	}
	return nil
}
