package reader

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"marketsync/models"
)

// FundingStep is the shortest settlement cycle any venue uses. Windowed
// funding requests are sized with it so a window never holds more events
// than fit in one page.
const FundingStep = time.Hour

// RawFunding is one settled funding event: Time in epoch ms and the rate as
// the decimal string the source sent.
type RawFunding struct {
	Time int64
	Rate string
}

// FundingPage is one response of funding history in ascending time order.
// WindowEnd and Exhausted mean the same as on Page.
type FundingPage struct {
	Records   []RawFunding
	WindowEnd int64
	Exhausted bool
}

// FundingSource is implemented by perpetual adapters that publish settled
// funding history. Requests carry Symbol, Start, End and Limit; Interval is
// not used.
type FundingSource interface {
	Source
	FundingPageLimit() int
	FetchFundingPage(ctx context.Context, req PageRequest) (FundingPage, error)
	FormatFunding(symbol string, raw RawFunding) (models.FundingRate, error)
}

// FundingWindowEnd is WindowEnd for funding requests.
func FundingWindowEnd(req PageRequest, limit int) int64 {
	end := req.Start + int64(limit)*FundingStep.Milliseconds()
	if req.End > 0 && req.End < end {
		end = req.End
	}
	return end
}

// AscendingFunding reverses records in place when they arrive newest first.
func AscendingFunding(records []RawFunding) []RawFunding {
	if len(records) < 2 || records[0].Time <= records[len(records)-1].Time {
		return records
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records
}

// ClipFunding drops events before start or at/after end (end 0 = open).
func ClipFunding(records []RawFunding, start, end int64) []RawFunding {
	out := records[:0]
	for _, r := range records {
		if r.Time < start || (end > 0 && r.Time >= end) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// FormatFunding converts a raw funding event into the canonical record.
func (b Base) FormatFunding(symbol string, raw RawFunding) (models.FundingRate, error) {
	rate, err := decimal.NewFromString(raw.Rate)
	if err != nil {
		return models.FundingRate{}, fmt.Errorf("%s %s: parse funding rate %q: %w", b.key, symbol, raw.Rate, err)
	}
	return models.FundingRate{
		ExchangeID:  b.exchangeID,
		InstType:    b.key.InstType,
		Symbol:      symbol,
		FundingTime: raw.Time,
		Rate:        rate,
	}, nil
}
