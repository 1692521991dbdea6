// Package bybit adapts Bybit v5 spot and linear perpetual market data.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	bybit "github.com/bybit-exchange/bybit.go.api"

	"marketsync/models"
	"marketsync/precision"
	"marketsync/reader"
)

const (
	Exchange   = "bybit"
	defaultURL = "https://api.bybit.com"
)

var status = models.StatusMap{
	"Trading":    models.StatusActive,
	"PreLaunch":  models.StatusPending,
	"Delivering": models.StatusHalted,
	"Closed":     models.StatusClosed,
}

var intervals = map[models.Interval]string{
	models.Interval1m: "1",
	models.Interval1h: "60",
	models.Interval1d: "D",
}

// Source serves one Bybit category: "spot" or "linear".
type Source struct {
	reader.Base
	category string
	client   *bybit.Client
}

func NewSpot(opts reader.Options) reader.Source {
	return newSource(models.InstSpot, "spot", opts)
}

func NewPerp(opts reader.Options) reader.Source {
	return newSource(models.InstPerp, "linear", opts)
}

func newSource(inst models.InstType, category string, opts reader.Options) *Source {
	base := reader.NewBase(reader.Key{Exchange: Exchange, InstType: inst}, opts, defaultURL, reader.Pagination{
		PageLimit: 1000,
		Unit:      reader.Millis,
		StartKey:  "start",
		EndKey:    "end",
	})
	client := bybit.NewBybitHttpClient("", "", bybit.WithBaseURL(base.BaseURL()))
	client.HTTPClient = base.HTTPClient()
	return &Source{Base: base, category: category, client: client}
}

type instrument struct {
	Symbol        string `json:"symbol"`
	BaseCoin      string `json:"baseCoin"`
	QuoteCoin     string `json:"quoteCoin"`
	Status        string `json:"status"`
	ContractType  string `json:"contractType"`
	PriceScale    string `json:"priceScale"`
	LaunchTime    string `json:"launchTime"`
	LotSizeFilter struct {
		BasePrecision string `json:"basePrecision"`
		QtyStep       string `json:"qtyStep"`
	} `json:"lotSizeFilter"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
}

type instrumentsResult struct {
	List           []instrument `json:"list"`
	NextPageCursor string       `json:"nextPageCursor"`
}

type klineResult struct {
	List [][]string `json:"list"`
}

// decodeResult checks the envelope and re-decodes Result into out.
func decodeResult(resp *bybit.ServerResponse, out any) error {
	if resp == nil {
		return fmt.Errorf("empty response")
	}
	if resp.RetCode != 0 {
		return &reader.APIError{Code: strconv.Itoa(resp.RetCode), Message: resp.RetMsg}
	}
	payload, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	return json.Unmarshal(payload, out)
}

func (s *Source) ListSymbols(ctx context.Context) ([]models.SymbolMeta, error) {
	var out []models.SymbolMeta
	cursor := ""
	for {
		params := map[string]interface{}{"category": s.category, "limit": 1000}
		if cursor != "" {
			params["cursor"] = cursor
		}
		resp, err := s.client.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
		if err != nil {
			return nil, s.Unavailable("instruments_info", err)
		}
		var res instrumentsResult
		if err := decodeResult(resp, &res); err != nil {
			return nil, s.Unavailable("instruments_info", err)
		}
		for _, inst := range res.List {
			if s.category == "linear" && inst.ContractType != "" && inst.ContractType != "LinearPerpetual" {
				continue
			}
			out = append(out, s.toMeta(inst))
		}
		if res.NextPageCursor == "" || res.NextPageCursor == cursor {
			return out, nil
		}
		cursor = res.NextPageCursor
	}
}

func (s *Source) toMeta(inst instrument) models.SymbolMeta {
	tick := precision.Normalize(inst.PriceFilter.TickSize)
	step := inst.LotSizeFilter.BasePrecision
	if step == "" {
		step = inst.LotSizeFilter.QtyStep
	}
	step = precision.Normalize(step)

	meta := models.SymbolMeta{
		ExchangeID:        s.ExchangeID(),
		Symbol:            inst.Symbol,
		InstType:          s.InstType(),
		BaseAsset:         inst.BaseCoin,
		QuoteAsset:        inst.QuoteCoin,
		Status:            status.Resolve(inst.Status),
		TickSize:          tick,
		StepSize:          step,
		PricePrecision:    precision.Of(tick),
		QuantityPrecision: precision.Of(step),
	}
	if scale, err := strconv.Atoi(inst.PriceScale); err == nil && s.InstType() == models.InstPerp {
		meta.PricePrecision = scale
	}
	if ms, err := strconv.ParseInt(inst.LaunchTime, 10, 64); err == nil && ms > 0 {
		meta.OnboardTime = &ms
	}
	return meta
}

func (s *Source) FetchCandlePage(ctx context.Context, req reader.PageRequest) (reader.Page, error) {
	iv, ok := intervals[req.Interval]
	if !ok {
		return reader.Page{}, s.Unavailable("kline", fmt.Errorf("unsupported interval %s", req.Interval))
	}
	end := reader.WindowEnd(req, req.Limit)
	params := map[string]interface{}{
		"category": s.category,
		"symbol":   req.Symbol,
		"interval": iv,
		"start":    req.Start,
		"end":      end - 1,
		"limit":    req.Limit,
	}
	resp, err := s.client.NewUtaBybitServiceWithParams(params).GetMarketKline(ctx)
	if err != nil {
		return reader.Page{}, s.Unavailable("kline", err)
	}
	var res klineResult
	if err := decodeResult(resp, &res); err != nil {
		return reader.Page{}, s.Unavailable("kline", err)
	}

	records, err := extract(res.List)
	if err != nil {
		return reader.Page{}, s.Unavailable("kline", err)
	}
	records = reader.Clip(reader.Ascending(records), reader.Millis, req.Start, end)
	return reader.Page{Records: records, WindowEnd: end}, nil
}

// extract maps [start, open, high, low, close, volume, turnover] rows.
func extract(rows [][]string) ([]reader.RawCandle, error) {
	out := make([]reader.RawCandle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			return nil, fmt.Errorf("short kline row %v", row)
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse kline start %q: %w", row[0], err)
		}
		out = append(out, reader.RawCandle{
			Time:        ts,
			Open:        row[1],
			High:        row[2],
			Low:         row[3],
			Close:       row[4],
			Volume:      row[5],
			QuoteVolume: row[6],
		})
	}
	return out, nil
}

type fundingResult struct {
	List []struct {
		Symbol               string `json:"symbol"`
		FundingRate          string `json:"fundingRate"`
		FundingRateTimestamp string `json:"fundingRateTimestamp"`
	} `json:"list"`
}

func (s *Source) FundingPageLimit() int { return 200 }

// FetchFundingPage reads one funding window. Bybit answers with the newest
// events of the range, so the window is sized to hold at most req.Limit.
func (s *Source) FetchFundingPage(ctx context.Context, req reader.PageRequest) (reader.FundingPage, error) {
	if s.InstType() != models.InstPerp {
		return reader.FundingPage{}, s.Unavailable("funding_history", fmt.Errorf("no funding for category %s", s.category))
	}
	end := reader.FundingWindowEnd(req, req.Limit)
	params := map[string]interface{}{
		"category":  s.category,
		"symbol":    req.Symbol,
		"startTime": req.Start,
		"endTime":   end - 1,
		"limit":     req.Limit,
	}
	resp, err := s.client.NewUtaBybitServiceWithParams(params).GetFundingRateHistory(ctx)
	if err != nil {
		return reader.FundingPage{}, s.Unavailable("funding_history", err)
	}
	var res fundingResult
	if err := decodeResult(resp, &res); err != nil {
		return reader.FundingPage{}, s.Unavailable("funding_history", err)
	}

	records := make([]reader.RawFunding, 0, len(res.List))
	for _, e := range res.List {
		ts, err := strconv.ParseInt(e.FundingRateTimestamp, 10, 64)
		if err != nil {
			return reader.FundingPage{}, s.Unavailable("funding_history", fmt.Errorf("parse funding time %q: %w", e.FundingRateTimestamp, err))
		}
		records = append(records, reader.RawFunding{Time: ts, Rate: e.FundingRate})
	}
	records = reader.ClipFunding(reader.AscendingFunding(records), req.Start, end)
	return reader.FundingPage{Records: records, WindowEnd: end}, nil
}
