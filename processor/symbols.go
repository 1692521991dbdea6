package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketsync/config"
	"marketsync/internal/metrics/rate"
	"marketsync/logger"
	"marketsync/reader"
)

// SymbolSync refreshes exchange_symbol from every source's instrument list.
type SymbolSync struct {
	sources Sources
	store   SymbolStore
	retry   config.RetryConfig
	log     *logger.Log
}

func NewSymbolSync(cfg config.SyncConfig, sources Sources, store SymbolStore) *SymbolSync {
	return &SymbolSync{sources: sources, store: store, retry: cfg.Retry, log: logger.GetLogger()}
}

// GroupResult is the outcome for one source.
type GroupResult struct {
	Source  string
	Symbols int
	Err     error
}

// Run syncs all sources concurrently and waits for every one of them. A
// failing source never stops the others; its error is in its GroupResult.
func (s *SymbolSync) Run(ctx context.Context) []GroupResult {
	srcs := s.sources.Sources()
	results := make([]GroupResult, len(srcs))

	var wg sync.WaitGroup
	for i, src := range srcs {
		wg.Add(1)
		go func(i int, src reader.Source) {
			defer wg.Done()
			results[i] = s.syncSource(ctx, src)
		}(i, src)
	}
	wg.Wait()

	total := 0
	for _, r := range results {
		total += r.Symbols
	}
	s.log.WithComponent("symbol_sync").LogMetric("symbol_sync", "symbols_upserted", int64(total), "counter", logger.Fields{})
	return results
}

func (s *SymbolSync) syncSource(ctx context.Context, src reader.Source) GroupResult {
	key := src.Key()
	log := s.log.WithComponent("symbol_sync").WithFields(logger.Fields{
		"source":      key.String(),
		"exchange_id": src.ExchangeID(),
	})
	start := time.Now()

	var n int
	err := retry(ctx, s.retry, func(attempt int) error {
		metas, err := src.ListSymbols(ctx)
		if err != nil {
			rate.ReportLimit(s.log, key.Exchange, "", "symbols", err)
			log.WithError(err).WithFields(logger.Fields{"attempt": attempt + 1}).Warn("list symbols failed")
			return err
		}
		if _, err := s.store.UpsertSymbols(ctx, metas); err != nil {
			log.WithError(err).WithFields(logger.Fields{"attempt": attempt + 1}).Warn("upsert symbols failed")
			return err
		}
		n = len(metas)
		return nil
	})
	if err != nil {
		log.WithError(err).Error("symbol sync failed")
		return GroupResult{Source: key.String(), Err: fmt.Errorf("%s: %w", key, err)}
	}

	logger.LogPerformanceEntry(log, "symbol_sync", "sync_source", time.Since(start), logger.Fields{"symbols": n})
	log.WithFields(logger.Fields{"symbols": n}).Info("symbols synced")
	return GroupResult{Source: key.String(), Symbols: n}
}
