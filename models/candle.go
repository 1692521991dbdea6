package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Interval is a candle duration supported by the kline tables.
type Interval string

const (
	Interval1m Interval = "1m"
	Interval1h Interval = "1h"
	Interval1d Interval = "1d"
)

// Intervals lists the supported intervals in ascending duration.
var Intervals = []Interval{Interval1m, Interval1h, Interval1d}

func ParseInterval(s string) (Interval, error) {
	for _, iv := range Intervals {
		if string(iv) == s {
			return iv, nil
		}
	}
	return "", fmt.Errorf("unsupported interval %q", s)
}

func (i Interval) Duration() time.Duration {
	switch i {
	case Interval1m:
		return time.Minute
	case Interval1h:
		return time.Hour
	case Interval1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Millis returns the interval duration in epoch milliseconds.
func (i Interval) Millis() int64 {
	return i.Duration().Milliseconds()
}

// Table returns the kline table name for the interval, e.g. kline_1m.
func (i Interval) Table() string {
	return "kline_" + string(i)
}

// Candle is one canonical OHLCV bar. Timestamp is the interval-aligned open
// time in epoch milliseconds.
type Candle struct {
	ExchangeID  int             `json:"exchange_id"`
	InstType    InstType        `json:"inst_type"`
	Symbol      string          `json:"symbol"`
	Timestamp   int64           `json:"timestamp"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
	Count       *int64          `json:"count,omitempty"`
}

// Time returns the candle open time in UTC.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.Timestamp).UTC()
}

// Row renders the candle as a stream-load row keyed by column name.
func (c Candle) Row() map[string]any {
	row := map[string]any{
		"exchange_id":  c.ExchangeID,
		"inst_type":    int(c.InstType),
		"symbol":       c.Symbol,
		"timestamp":    c.Timestamp,
		"dt":           c.Time().Format(time.DateTime),
		"open":         c.Open.String(),
		"high":         c.High.String(),
		"low":          c.Low.String(),
		"close":        c.Close.String(),
		"volume":       c.Volume.String(),
		"quote_volume": c.QuoteVolume.String(),
	}
	if c.Count != nil {
		row["count"] = *c.Count
	}
	return row
}

// CandleColumns is the column order used when loading candles.
var CandleColumns = []string{
	"exchange_id", "inst_type", "symbol", "timestamp", "dt",
	"open", "high", "low", "close", "volume", "quote_volume", "count",
}
