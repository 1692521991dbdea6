// Package bitget adapts Bitget v2 spot and USDT-M futures market data.
package bitget

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"marketsync/reader"
)

const (
	Exchange    = "bitget"
	defaultURL  = "https://api.bitget.com"
	productType = "usdt-futures"
	okCode      = "00000"
)

type envelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

func (e envelope[T]) err() error {
	if e.Code != okCode {
		return &reader.APIError{Code: e.Code, Message: e.Msg}
	}
	return nil
}

func get[T any](ctx context.Context, b reader.Base, path string, params url.Values) (T, error) {
	var resp envelope[T]
	if err := reader.GetJSON(ctx, b.HTTPClient(), b.BaseURL(), path, params, &resp); err != nil {
		return resp.Data, err
	}
	return resp.Data, resp.err()
}

// candlePage fetches one start/end window and maps rows whose first seven
// columns are [ts, open, high, low, close, baseVol, quoteVol].
func candlePage(ctx context.Context, b reader.Base, path string, params url.Values, req reader.PageRequest) (reader.Page, error) {
	end := reader.WindowEnd(req, req.Limit)
	params.Set("symbol", req.Symbol)
	params.Set("startTime", strconv.FormatInt(req.Start, 10))
	params.Set("endTime", strconv.FormatInt(end-1, 10))
	params.Set("limit", strconv.Itoa(req.Limit))

	rows, err := get[[][]string](ctx, b, path, params)
	if err != nil {
		return reader.Page{}, b.Unavailable("candles", err)
	}
	records := make([]reader.RawCandle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			return reader.Page{}, b.Unavailable("candles", fmt.Errorf("short candle row %v", row))
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return reader.Page{}, b.Unavailable("candles", fmt.Errorf("parse candle ts %q: %w", row[0], err))
		}
		records = append(records, reader.RawCandle{
			Time:        ts,
			Open:        row[1],
			High:        row[2],
			Low:         row[3],
			Close:       row[4],
			Volume:      row[5],
			QuoteVolume: row[6],
		})
	}
	return reader.Page{Records: reader.Clip(reader.Ascending(records), reader.Millis, req.Start, end), WindowEnd: end}, nil
}
