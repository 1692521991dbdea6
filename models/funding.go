package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FundingTable holds settled funding rates of perpetual contracts.
const FundingTable = "funding_rate"

// FundingRate is one settled funding event. FundingTime is the settlement
// time in epoch milliseconds.
type FundingRate struct {
	ExchangeID  int             `json:"exchange_id"`
	InstType    InstType        `json:"inst_type"`
	Symbol      string          `json:"symbol"`
	FundingTime int64           `json:"funding_time"`
	Rate        decimal.Decimal `json:"rate"`
}

func (f FundingRate) Time() time.Time {
	return time.UnixMilli(f.FundingTime).UTC()
}

func (f FundingRate) Row() map[string]any {
	return map[string]any{
		"exchange_id":  f.ExchangeID,
		"inst_type":    int(f.InstType),
		"symbol":       f.Symbol,
		"funding_time": f.FundingTime,
		"dt":           f.Time().Format(time.DateTime),
		"funding_rate": f.Rate.String(),
	}
}

// FundingColumns is the column order used when loading funding rates.
var FundingColumns = []string{"exchange_id", "inst_type", "symbol", "funding_time", "dt", "funding_rate"}
