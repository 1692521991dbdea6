// Package okx adapts OKX v5 spot and swap market data over plain REST.
package okx

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
	Exchange   = "okx"
	defaultURL = "https://www.okx.com"
)

var status = models.StatusMap{
	"live":    models.StatusActive,
	"suspend": models.StatusHalted,
	"preopen": models.StatusPending,
	"test":    models.StatusPending,
}

var bars = map[models.Interval]string{
	models.Interval1m: "1m",
	models.Interval1h: "1H",
	models.Interval1d: "1Dutc",
}

type Source struct {
	reader.Base
	instType string
}

func NewSpot(opts reader.Options) reader.Source {
	return newSource(models.InstSpot, "SPOT", opts)
}

func NewPerp(opts reader.Options) reader.Source {
	return newSource(models.InstPerp, "SWAP", opts)
}

func newSource(inst models.InstType, instType string, opts reader.Options) *Source {
	base := reader.NewBase(reader.Key{Exchange: Exchange, InstType: inst}, opts, defaultURL, reader.Pagination{
		PageLimit: 100,
		Unit:      reader.Millis,
		StartKey:  "before",
		EndKey:    "after",
	})
	return &Source{Base: base, instType: instType}
}

type envelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

func (e envelope[T]) err() error {
	if e.Code != "0" {
		return &reader.APIError{Code: e.Code, Message: e.Msg}
	}
	return nil
}

type instrument struct {
	InstID     string `json:"instId"`
	BaseCcy    string `json:"baseCcy"`
	QuoteCcy   string `json:"quoteCcy"`
	SettleCcy  string `json:"settleCcy"`
	InstFamily string `json:"instFamily"`
	State      string `json:"state"`
	TickSz     string `json:"tickSz"`
	LotSz      string `json:"lotSz"`
	ListTime   string `json:"listTime"`
}

func (s *Source) ListSymbols(ctx context.Context) ([]models.SymbolMeta, error) {
	var resp envelope[[]instrument]
	params := url.Values{"instType": {s.instType}}
	if err := reader.GetJSON(ctx, s.HTTPClient(), s.BaseURL(), "/api/v5/public/instruments", params, &resp); err != nil {
		return nil, s.Unavailable("instruments", err)
	}
	if err := resp.err(); err != nil {
		return nil, s.Unavailable("instruments", err)
	}

	out := make([]models.SymbolMeta, 0, len(resp.Data))
	for _, inst := range resp.Data {
		out = append(out, s.toMeta(inst))
	}
	return out, nil
}

func (s *Source) toMeta(inst instrument) models.SymbolMeta {
	baseAsset, quoteAsset := inst.BaseCcy, inst.QuoteCcy
	if s.InstType() == models.InstPerp {
		if parts := strings.SplitN(inst.InstFamily, "-", 2); len(parts) == 2 {
			baseAsset, quoteAsset = parts[0], parts[1]
		}
	}
	tick := precision.Normalize(inst.TickSz)
	step := precision.Normalize(inst.LotSz)
	meta := models.SymbolMeta{
		ExchangeID:        s.ExchangeID(),
		Symbol:            inst.InstID,
		InstType:          s.InstType(),
		BaseAsset:         baseAsset,
		QuoteAsset:        quoteAsset,
		Status:            status.Resolve(inst.State),
		TickSize:          tick,
		StepSize:          step,
		PricePrecision:    precision.Of(tick),
		QuantityPrecision: precision.Of(step),
	}
	if ms, err := strconv.ParseInt(inst.ListTime, 10, 64); err == nil && ms > 0 {
		meta.OnboardTime = &ms
	}
	return meta
}

// FetchCandlePage walks history-candles with before/after bounds, both
// exclusive, sized so the window holds at most req.Limit bars.
func (s *Source) FetchCandlePage(ctx context.Context, req reader.PageRequest) (reader.Page, error) {
	bar, ok := bars[req.Interval]
	if !ok {
		return reader.Page{}, s.Unavailable("history_candles", fmt.Errorf("unsupported interval %s", req.Interval))
	}
	end := reader.WindowEnd(req, req.Limit)
	params := url.Values{
		"instId": {req.Symbol},
		"bar":    {bar},
		"before": {strconv.FormatInt(req.Start-1, 10)},
		"after":  {strconv.FormatInt(end, 10)},
		"limit":  {strconv.Itoa(req.Limit)},
	}
	var resp envelope[[][]string]
	if err := reader.GetJSON(ctx, s.HTTPClient(), s.BaseURL(), "/api/v5/market/history-candles", params, &resp); err != nil {
		return reader.Page{}, s.Unavailable("history_candles", err)
	}
	if err := resp.err(); err != nil {
		return reader.Page{}, s.Unavailable("history_candles", err)
	}

	records, err := s.extract(resp.Data)
	if err != nil {
		return reader.Page{}, s.Unavailable("history_candles", err)
	}
	records = reader.Clip(reader.Ascending(records), reader.Millis, req.Start, end)
	return reader.Page{Records: records, WindowEnd: end}, nil
}

// extract maps [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm] rows and
// drops bars that are still forming. Swap volume is reported in contracts,
// so base and quote volume come from volCcy and volCcyQuote instead.
func (s *Source) extract(rows [][]string) ([]reader.RawCandle, error) {
	out := make([]reader.RawCandle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 9 {
			return nil, fmt.Errorf("short candle row %v", row)
		}
		if row[8] != "1" {
			continue
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse candle ts %q: %w", row[0], err)
		}
		rec := reader.RawCandle{Time: ts, Open: row[1], High: row[2], Low: row[3], Close: row[4]}
		if s.InstType() == models.InstPerp {
			rec.Volume, rec.QuoteVolume = row[6], row[7]
		} else {
			rec.Volume, rec.QuoteVolume = row[5], row[6]
		}
		out = append(out, rec)
	}
	return out, nil
}

type fundingEvent struct {
	InstID       string `json:"instId"`
	FundingRate  string `json:"fundingRate"`
	RealizedRate string `json:"realizedRate"`
	FundingTime  string `json:"fundingTime"`
}

func (s *Source) FundingPageLimit() int { return 400 }

// FetchFundingPage walks funding-rate-history with the same exclusive
// before/after window as candles. OKX serves about three months of it;
// older windows come back empty and are stepped over.
func (s *Source) FetchFundingPage(ctx context.Context, req reader.PageRequest) (reader.FundingPage, error) {
	if s.InstType() != models.InstPerp {
		return reader.FundingPage{}, s.Unavailable("funding_rate_history", fmt.Errorf("no funding for %s", s.instType))
	}
	end := reader.FundingWindowEnd(req, req.Limit)
	params := url.Values{
		"instId": {req.Symbol},
		"before": {strconv.FormatInt(req.Start-1, 10)},
		"after":  {strconv.FormatInt(end, 10)},
		"limit":  {strconv.Itoa(req.Limit)},
	}
	var resp envelope[[]fundingEvent]
	if err := reader.GetJSON(ctx, s.HTTPClient(), s.BaseURL(), "/api/v5/public/funding-rate-history", params, &resp); err != nil {
		return reader.FundingPage{}, s.Unavailable("funding_rate_history", err)
	}
	if err := resp.err(); err != nil {
		return reader.FundingPage{}, s.Unavailable("funding_rate_history", err)
	}

	records := make([]reader.RawFunding, 0, len(resp.Data))
	for _, e := range resp.Data {
		ts, err := strconv.ParseInt(e.FundingTime, 10, 64)
		if err != nil {
			return reader.FundingPage{}, s.Unavailable("funding_rate_history", fmt.Errorf("parse funding time %q: %w", e.FundingTime, err))
		}
		rate := e.RealizedRate
		if rate == "" {
			rate = e.FundingRate
		}
		records = append(records, reader.RawFunding{Time: ts, Rate: rate})
	}
	records = reader.ClipFunding(reader.AscendingFunding(records), req.Start, end)
	return reader.FundingPage{Records: records, WindowEnd: end}, nil
}
