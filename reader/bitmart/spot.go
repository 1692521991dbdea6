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

var spotStatus = models.StatusMap{
	"trading":   models.StatusActive,
	"pre-trade": models.StatusPending,
}

type Spot struct {
	reader.Base
}

func NewSpot(opts reader.Options) reader.Source {
	return &Spot{Base: reader.NewBase(reader.Key{Exchange: Exchange, InstType: models.InstSpot}, opts, spotURL, reader.Pagination{
		PageLimit: defaultLimit,
		Unit:      reader.Seconds,
		StartKey:  startKeySpot,
		EndKey:    endKeySpot,
	})}
}

type spotSymbol struct {
	Symbol            string `json:"symbol"`
	BaseCurrency      string `json:"base_currency"`
	QuoteCurrency     string `json:"quote_currency"`
	TradeStatus       string `json:"trade_status"`
	PriceMaxPrecision int    `json:"price_max_precision"`
	BaseMinSize       string `json:"base_min_size"`
}

func (s *Spot) ListSymbols(ctx context.Context) ([]models.SymbolMeta, error) {
	data, err := get[struct {
		Symbols []spotSymbol `json:"symbols"`
	}](ctx, s.Base, "/spot/v1/symbols/details", nil)
	if err != nil {
		return nil, s.Unavailable("symbols", err)
	}
	out := make([]models.SymbolMeta, 0, len(data.Symbols))
	for _, sym := range data.Symbols {
		step := precision.Normalize(sym.BaseMinSize)
		out = append(out, models.SymbolMeta{
			ExchangeID:        s.ExchangeID(),
			Symbol:            sym.Symbol,
			InstType:          models.InstSpot,
			BaseAsset:         sym.BaseCurrency,
			QuoteAsset:        sym.QuoteCurrency,
			Status:            spotStatus.Resolve(sym.TradeStatus),
			TickSize:          precision.TickFromPrecision(sym.PriceMaxPrecision),
			StepSize:          step,
			PricePrecision:    sym.PriceMaxPrecision,
			QuantityPrecision: precision.Of(step),
		})
	}
	return out, nil
}

// FetchCandlePage reads [t, o, h, l, c, v, qv] rows. after and before are
// exclusive second bounds.
func (s *Spot) FetchCandlePage(ctx context.Context, req reader.PageRequest) (reader.Page, error) {
	step, ok := steps[req.Interval]
	if !ok {
		return reader.Page{}, s.Unavailable("klines", fmt.Errorf("unsupported interval %s", req.Interval))
	}
	end := reader.WindowEnd(req, req.Limit)
	params := url.Values{
		"symbol":     {req.Symbol},
		"step":       {step},
		startKeySpot: {strconv.FormatInt(reader.Seconds.FromMillis(req.Start)-1, 10)},
		endKeySpot:   {strconv.FormatInt(reader.Seconds.FromMillis(end), 10)},
		"limit":      {strconv.Itoa(req.Limit)},
	}
	rows, err := get[[][]string](ctx, s.Base, "/spot/quotation/v3/klines", params)
	if err != nil {
		return reader.Page{}, s.Unavailable("klines", err)
	}
	records := make([]reader.RawCandle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			return reader.Page{}, s.Unavailable("klines", fmt.Errorf("short kline row %v", row))
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return reader.Page{}, s.Unavailable("klines", fmt.Errorf("parse kline ts %q: %w", row[0], err))
		}
		records = append(records, reader.RawCandle{
			Time: ts, Open: row[1], High: row[2], Low: row[3], Close: row[4], Volume: row[5], QuoteVolume: row[6],
		})
	}
	return reader.Page{Records: reader.Clip(reader.Ascending(records), reader.Seconds, req.Start, end), WindowEnd: end}, nil
}
