// Package processor runs the sync tasks: symbol metadata refresh and
// incremental kline and funding-rate backfill. Work fans out one goroutine per
// (exchange, inst_type) group; symbols inside a group run one at a time so
// a source's pacing is never exceeded.
package processor

import (
	"context"
	"time"

	"marketsync/config"
	"marketsync/models"
	"marketsync/reader"
)

// Sources is the set of adapters a sync runs against.
type Sources interface {
	Sources() []reader.Source
	Get(key reader.Key) (reader.Source, bool)
}

type SymbolStore interface {
	UpsertSymbols(ctx context.Context, metas []models.SymbolMeta) (int64, error)
}

type ActiveSymbols interface {
	ActiveSymbols(ctx context.Context, symbol string) ([]models.ActiveSymbol, error)
}

// ResumeStore reports the newest stored candle for a symbol.
type ResumeStore interface {
	LastTimestamp(ctx context.Context, iv models.Interval, key models.SymbolKey) (int64, bool, error)
}

type CandleSink interface {
	UpsertCandles(ctx context.Context, iv models.Interval, candles []models.Candle) (int, error)
}

// retry runs fn once plus up to policy.Attempts more times, sleeping
// policy.Delay between tries. It gives up early when ctx is done.
func retry(ctx context.Context, policy config.RetryConfig, fn func(attempt int) error) error {
	var err error
	for attempt := 0; attempt <= policy.Attempts; attempt++ {
		if attempt > 0 {
			if !sleep(ctx, policy.Delay) {
				return ctx.Err()
			}
		}
		if err = fn(attempt); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
