// Package reader defines the contract every exchange adapter implements and
// the helpers they share for talking to REST market-data endpoints.
package reader

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketsync/config"
	"marketsync/models"
)

// Key identifies one (exchange, inst_type) source.
type Key struct {
	Exchange string
	InstType models.InstType
}

// String renders the key the way sources are named in configuration,
// e.g. "binance_spot".
func (k Key) String() string {
	return k.Exchange + "_" + k.InstType.String()
}

// TimeUnit is the multiplier that turns a source timestamp into epoch ms.
type TimeUnit int64

const (
	Millis  TimeUnit = 1
	Seconds TimeUnit = 1000
)

func (u TimeUnit) ToMillis(v int64) int64   { return v * int64(u) }
func (u TimeUnit) FromMillis(ms int64) int64 { return ms / int64(u) }

// Pagination describes how a source pages candles.
type Pagination struct {
	PageLimit int
	Pace      time.Duration
	Unit      TimeUnit
	StartKey  string
	EndKey    string
}

// PageRequest asks for at most Limit candles opening in [Start, End).
// End == 0 means open ended. Cursor carries the opaque continuation token
// returned by the previous page, if the source uses one.
type PageRequest struct {
	Symbol   string
	Interval models.Interval
	Start    int64
	End      int64
	Limit    int
	Cursor   string
}

// RawCandle is a candle as published by a source: Time is in the source's
// TimeUnit and prices are left as the decimal strings the source sent.
type RawCandle struct {
	Time        int64
	Open        string
	High        string
	Low         string
	Close       string
	Volume      string
	QuoteVolume string
	Count       *int64
}

// Page is one response worth of candles in ascending time order.
//
// Sources that query a bounded time window set WindowEnd to the exclusive
// end of that window in epoch ms. Every bar opening inside the window is in
// Records, so an empty or short windowed page only means the window holds
// no more data and the stream continues from WindowEnd.
type Page struct {
	Records    []RawCandle
	NextCursor string
	Exhausted  bool
	WindowEnd  int64
}

// Source is implemented by every exchange adapter. Implementations never
// retry; errors are returned wrapped in ErrSourceUnavailable.
type Source interface {
	Key() Key
	ExchangeID() int
	InstType() models.InstType
	Pagination() Pagination
	ListSymbols(ctx context.Context) ([]models.SymbolMeta, error)
	FetchCandlePage(ctx context.Context, req PageRequest) (Page, error)
	FormatRecord(symbol string, raw RawCandle) (models.Candle, error)
}

// Options are the constructor dependencies handed to every adapter.
type Options struct {
	ExchangeID int
	HTTPClient *http.Client
	Source     config.SourceConfig
}

// Base carries the state common to all adapters and implements the
// identity, pagination and record formatting parts of Source.
type Base struct {
	key        Key
	exchangeID int
	pagination Pagination
	baseURL    string
	client     *http.Client
}

// NewBase merges the adapter defaults with the per-source overrides in opts.
func NewBase(key Key, opts Options, defaultURL string, p Pagination) Base {
	if opts.Source.PageLimit > 0 {
		p.PageLimit = opts.Source.PageLimit
	}
	if opts.Source.Pace > 0 {
		p.Pace = opts.Source.Pace
	}
	if p.Unit == 0 {
		p.Unit = Millis
	}
	base := defaultURL
	if opts.Source.BaseURL != "" {
		base = strings.TrimRight(opts.Source.BaseURL, "/")
	}
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return Base{key: key, exchangeID: opts.ExchangeID, pagination: p, baseURL: base, client: client}
}

func (b Base) Key() Key                  { return b.key }
func (b Base) ExchangeID() int           { return b.exchangeID }
func (b Base) InstType() models.InstType { return b.key.InstType }
func (b Base) Pagination() Pagination    { return b.pagination }
func (b Base) BaseURL() string           { return b.baseURL }
func (b Base) HTTPClient() *http.Client  { return b.client }

// Unavailable wraps err as a SourceError for this adapter.
func (b Base) Unavailable(op string, err error) error {
	return Unavailable(b.key.String(), op, err)
}

// FormatRecord converts a raw candle into the canonical record, scaling the
// timestamp by the source's TimeUnit.
func (b Base) FormatRecord(symbol string, raw RawCandle) (models.Candle, error) {
	c := models.Candle{
		ExchangeID: b.exchangeID,
		InstType:   b.key.InstType,
		Symbol:     symbol,
		Timestamp:  b.pagination.Unit.ToMillis(raw.Time),
		Count:      raw.Count,
	}
	fields := []struct {
		name string
		in   string
		out  *decimal.Decimal
	}{
		{"open", raw.Open, &c.Open},
		{"high", raw.High, &c.High},
		{"low", raw.Low, &c.Low},
		{"close", raw.Close, &c.Close},
		{"volume", raw.Volume, &c.Volume},
		{"quote_volume", raw.QuoteVolume, &c.QuoteVolume},
	}
	for _, f := range fields {
		if f.in == "" {
			continue
		}
		d, err := decimal.NewFromString(f.in)
		if err != nil {
			return models.Candle{}, fmt.Errorf("%s %s: parse %s %q: %w", b.key, symbol, f.name, f.in, err)
		}
		*f.out = d
	}
	return c, nil
}

// WindowEnd returns the exclusive end of a page that can hold at most limit
// bars starting at req.Start, capped by req.End when set. Sources that return
// the newest bars of an over-wide range use it to keep pages contiguous.
func WindowEnd(req PageRequest, limit int) int64 {
	end := req.Start + int64(limit)*req.Interval.Millis()
	if req.End > 0 && req.End < end {
		end = req.End
	}
	return end
}

// Ascending reverses records in place when they arrive newest first.
func Ascending(records []RawCandle) []RawCandle {
	if len(records) < 2 || records[0].Time <= records[len(records)-1].Time {
		return records
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records
}

// Clip drops records opening before start or at/after end (end 0 = open).
func Clip(records []RawCandle, unit TimeUnit, start, end int64) []RawCandle {
	out := records[:0]
	for _, r := range records {
		ts := unit.ToMillis(r.Time)
		if ts < start || (end > 0 && ts >= end) {
			continue
		}
		out = append(out, r)
	}
	return out
}
