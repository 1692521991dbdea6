// Package mexc adapts MEXC spot market data. The v3 API mirrors Binance's
// shape but reports status codes and precisions differently.
package mexc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"marketsync/models"
	"marketsync/precision"
	"marketsync/reader"
)

const (
	Exchange   = "mexc"
	defaultURL = "https://api.mexc.com"
)

var status = models.StatusMap{
	"1": models.StatusActive,
	"2": models.StatusHalted,
	"3": models.StatusClosed,
}

var intervals = map[models.Interval]string{
	models.Interval1m: "1m",
	models.Interval1h: "60m",
	models.Interval1d: "1d",
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

type symbolInfo struct {
	Symbol              string      `json:"symbol"`
	Status              json.Number `json:"status"`
	BaseAsset           string      `json:"baseAsset"`
	QuoteAsset          string      `json:"quoteAsset"`
	BaseAssetPrecision  int         `json:"baseAssetPrecision"`
	QuoteAssetPrecision int         `json:"quoteAssetPrecision"`
	BaseSizePrecision   string      `json:"baseSizePrecision"`
}

// toMeta uses baseSizePrecision as the step when it is set; it is "0" for
// symbols that only expose the asset precision.
func (s *Spot) toMeta(info symbolInfo) models.SymbolMeta {
	step := precision.Normalize(info.BaseSizePrecision)
	if step == "" || step == "0" {
		step = precision.TickFromPrecision(info.BaseAssetPrecision)
	}
	return models.SymbolMeta{
		ExchangeID:        s.ExchangeID(),
		Symbol:            info.Symbol,
		InstType:          models.InstSpot,
		BaseAsset:         info.BaseAsset,
		QuoteAsset:        info.QuoteAsset,
		Status:            status.Resolve(info.Status.String()),
		TickSize:          precision.TickFromPrecision(info.QuoteAssetPrecision),
		StepSize:          step,
		PricePrecision:    info.QuoteAssetPrecision,
		QuantityPrecision: info.BaseAssetPrecision,
	}
}

func (s *Spot) ListSymbols(ctx context.Context) ([]models.SymbolMeta, error) {
	var resp struct {
		Symbols []symbolInfo `json:"symbols"`
	}
	if err := reader.GetJSON(ctx, s.HTTPClient(), s.BaseURL(), "/api/v3/exchangeInfo", nil, &resp); err != nil {
		return nil, s.Unavailable("exchange_info", err)
	}
	out := make([]models.SymbolMeta, 0, len(resp.Symbols))
	for _, info := range resp.Symbols {
		out = append(out, s.toMeta(info))
	}
	return out, nil
}

// FetchCandlePage reads [openTime, o, h, l, c, v, closeTime, quoteVolume]
// rows where prices are strings and times are numbers.
func (s *Spot) FetchCandlePage(ctx context.Context, req reader.PageRequest) (reader.Page, error) {
	iv, ok := intervals[req.Interval]
	if !ok {
		return reader.Page{}, s.Unavailable("klines", fmt.Errorf("unsupported interval %s", req.Interval))
	}
	params := url.Values{
		"symbol":    {req.Symbol},
		"interval":  {iv},
		"startTime": {strconv.FormatInt(req.Start, 10)},
		"limit":     {strconv.Itoa(req.Limit)},
	}
	if req.End > 0 {
		params.Set("endTime", strconv.FormatInt(req.End-1, 10))
	}
	var rows [][]json.RawMessage
	if err := reader.GetJSON(ctx, s.HTTPClient(), s.BaseURL(), "/api/v3/klines", params, &rows); err != nil {
		return reader.Page{}, s.Unavailable("klines", err)
	}
	records, err := extract(rows)
	if err != nil {
		return reader.Page{}, s.Unavailable("klines", err)
	}
	return reader.Page{Records: reader.Clip(records, reader.Millis, req.Start, req.End)}, nil
}

func extract(rows [][]json.RawMessage) ([]reader.RawCandle, error) {
	out := make([]reader.RawCandle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 8 {
			return nil, fmt.Errorf("short kline row of %d fields", len(row))
		}
		var rec reader.RawCandle
		if err := json.Unmarshal(row[0], &rec.Time); err != nil {
			return nil, fmt.Errorf("parse kline open time: %w", err)
		}
		fields := []*string{&rec.Open, &rec.High, &rec.Low, &rec.Close, &rec.Volume}
		for i, f := range fields {
			if err := json.Unmarshal(row[i+1], f); err != nil {
				return nil, fmt.Errorf("parse kline field %d: %w", i+1, err)
			}
		}
		if err := json.Unmarshal(row[7], &rec.QuoteVolume); err != nil {
			return nil, fmt.Errorf("parse kline quote volume: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
