package bitmart

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
	"Trading":  models.StatusActive,
	"Delisted": models.StatusPending,
}

type Perp struct {
	reader.Base
}

func NewPerp(opts reader.Options) reader.Source {
	return &Perp{Base: reader.NewBase(reader.Key{Exchange: Exchange, InstType: models.InstPerp}, opts, contractURL, reader.Pagination{
		PageLimit: defaultLimit,
		Unit:      reader.Seconds,
		StartKey:  startKeyFuture,
		EndKey:    endKeyFuture,
	})}
}

type contract struct {
	Symbol         string `json:"symbol"`
	ProductType    int    `json:"product_type"`
	BaseCurrency   string `json:"base_currency"`
	QuoteCurrency  string `json:"quote_currency"`
	Status         string `json:"status"`
	PricePrecision string `json:"price_precision"`
	VolPrecision   string `json:"vol_precision"`
	ContractSize   string `json:"contract_size"`
	OpenTimestamp  int64  `json:"open_timestamp"`
}

type kline struct {
	Timestamp  int64  `json:"timestamp"`
	OpenPrice  string `json:"open_price"`
	HighPrice  string `json:"high_price"`
	LowPrice   string `json:"low_price"`
	ClosePrice string `json:"close_price"`
	Volume     string `json:"volume"`
}

func (p *Perp) ListSymbols(ctx context.Context) ([]models.SymbolMeta, error) {
	data, err := get[struct {
		Symbols []contract `json:"symbols"`
	}](ctx, p.Base, "/contract/public/details", nil)
	if err != nil {
		return nil, p.Unavailable("details", err)
	}
	out := make([]models.SymbolMeta, 0, len(data.Symbols))
	for _, c := range data.Symbols {
		// product_type 1 is perpetual, 2 is dated futures
		if c.ProductType != 0 && c.ProductType != 1 {
			continue
		}
		out = append(out, p.toMeta(c))
	}
	return out, nil
}

// toMeta derives the step from vol_precision times contract_size, since
// contract quantities are quoted in contracts.
func (p *Perp) toMeta(c contract) models.SymbolMeta {
	tick := precision.Normalize(c.PricePrecision)
	step, _ := precision.StepFromMultiplier(c.VolPrecision, c.ContractSize)
	meta := models.SymbolMeta{
		ExchangeID:        p.ExchangeID(),
		Symbol:            c.Symbol,
		InstType:          models.InstPerp,
		BaseAsset:         c.BaseCurrency,
		QuoteAsset:        c.QuoteCurrency,
		Status:            perpStatus.Resolve(c.Status),
		TickSize:          tick,
		StepSize:          step,
		PricePrecision:    precision.Of(tick),
		QuantityPrecision: precision.Of(step),
	}
	if c.OpenTimestamp > 0 {
		ms := c.OpenTimestamp
		meta.OnboardTime = &ms
	}
	return meta
}

func (p *Perp) FetchCandlePage(ctx context.Context, req reader.PageRequest) (reader.Page, error) {
	step, ok := steps[req.Interval]
	if !ok {
		return reader.Page{}, p.Unavailable("kline", fmt.Errorf("unsupported interval %s", req.Interval))
	}
	end := reader.WindowEnd(req, req.Limit)
	params := url.Values{
		"symbol":       {req.Symbol},
		"step":         {step},
		startKeyFuture: {strconv.FormatInt(reader.Seconds.FromMillis(req.Start), 10)},
		endKeyFuture:   {strconv.FormatInt(reader.Seconds.FromMillis(end-1), 10)},
	}
	klines, err := get[[]kline](ctx, p.Base, "/contract/public/kline", params)
	if err != nil {
		return reader.Page{}, p.Unavailable("kline", err)
	}
	records := make([]reader.RawCandle, 0, len(klines))
	for _, k := range klines {
		records = append(records, reader.RawCandle{
			Time: k.Timestamp, Open: k.OpenPrice, High: k.HighPrice, Low: k.LowPrice, Close: k.ClosePrice, Volume: k.Volume,
		})
	}
	return reader.Page{Records: reader.Clip(reader.Ascending(records), reader.Seconds, req.Start, end), WindowEnd: end}, nil
}
