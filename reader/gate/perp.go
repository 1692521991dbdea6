// Package gate adapts Gate.io USDT-settled perpetual contracts.
package gate

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"marketsync/models"
	"marketsync/precision"
	"marketsync/reader"
)

const (
	Exchange   = "gate"
	defaultURL = "https://api.gateio.ws"
)

var status = models.StatusMap{
	"prelaunch":       models.StatusPending,
	"trading":         models.StatusActive,
	"delisting":       models.StatusHalted,
	"circuit_breaker": models.StatusHalted,
	"delisted":        models.StatusClosed,
}

var intervals = map[models.Interval]string{
	models.Interval1m: "1m",
	models.Interval1h: "1h",
	models.Interval1d: "1d",
}

type Perp struct {
	reader.Base
}

func NewPerp(opts reader.Options) reader.Source {
	return &Perp{Base: reader.NewBase(reader.Key{Exchange: Exchange, InstType: models.InstPerp}, opts, defaultURL, reader.Pagination{
		PageLimit: 1000,
		Unit:      reader.Seconds,
		StartKey:  "from",
	})}
}

type contract struct {
	Name            string `json:"name"`
	Status          string `json:"status"`
	OrderPriceRound string `json:"order_price_round"`
	LaunchTime      int64  `json:"launch_time"`
	InDelisting     bool   `json:"in_delisting"`
}

type candlestick struct {
	T   int64  `json:"t"`
	V   int64  `json:"v"`
	C   string `json:"c"`
	H   string `json:"h"`
	L   string `json:"l"`
	O   string `json:"o"`
	Sum string `json:"sum"`
}

func (p *Perp) ListSymbols(ctx context.Context) ([]models.SymbolMeta, error) {
	var contracts []contract
	if err := reader.GetJSON(ctx, p.HTTPClient(), p.BaseURL(), "/api/v4/futures/usdt/contracts", nil, &contracts); err != nil {
		return nil, p.Unavailable("contracts", err)
	}
	out := make([]models.SymbolMeta, 0, len(contracts))
	for _, c := range contracts {
		out = append(out, p.toMeta(c))
	}
	return out, nil
}

// toMeta maps a contract. Orders are sized in whole contracts, so the step
// is always 1.
func (p *Perp) toMeta(c contract) models.SymbolMeta {
	baseAsset, quoteAsset := c.Name, ""
	if parts := strings.SplitN(c.Name, "_", 2); len(parts) == 2 {
		baseAsset, quoteAsset = parts[0], parts[1]
	}
	st := c.Status
	if st == "" && c.InDelisting {
		st = "delisting"
	}
	tick := precision.Normalize(c.OrderPriceRound)
	meta := models.SymbolMeta{
		ExchangeID:        p.ExchangeID(),
		Symbol:            c.Name,
		InstType:          models.InstPerp,
		BaseAsset:         baseAsset,
		QuoteAsset:        quoteAsset,
		Status:            status.Resolve(st),
		TickSize:          tick,
		StepSize:          "1",
		PricePrecision:    precision.Of(tick),
		QuantityPrecision: 0,
	}
	if c.LaunchTime > 0 {
		ms := c.LaunchTime * 1000
		meta.OnboardTime = &ms
	}
	return meta
}

// FetchCandlePage pages forward with from+limit in seconds. The endpoint
// rejects from/to/limit together, so the end bound is applied by Clip.
func (p *Perp) FetchCandlePage(ctx context.Context, req reader.PageRequest) (reader.Page, error) {
	iv, ok := intervals[req.Interval]
	if !ok {
		return reader.Page{}, p.Unavailable("candlesticks", fmt.Errorf("unsupported interval %s", req.Interval))
	}
	params := url.Values{
		"contract": {req.Symbol},
		"interval": {iv},
		"from":     {strconv.FormatInt(reader.Seconds.FromMillis(req.Start), 10)},
		"limit":    {strconv.Itoa(req.Limit)},
	}
	var sticks []candlestick
	if err := reader.GetJSON(ctx, p.HTTPClient(), p.BaseURL(), "/api/v4/futures/usdt/candlesticks", params, &sticks); err != nil {
		return reader.Page{}, p.Unavailable("candlesticks", err)
	}

	records := make([]reader.RawCandle, 0, len(sticks))
	for _, s := range sticks {
		records = append(records, reader.RawCandle{
			Time:        s.T,
			Open:        s.O,
			High:        s.H,
			Low:         s.L,
			Close:       s.C,
			Volume:      strconv.FormatInt(s.V, 10),
			QuoteVolume: s.Sum,
		})
	}
	return reader.Page{Records: reader.Clip(reader.Ascending(records), reader.Seconds, req.Start, req.End)}, nil
}
