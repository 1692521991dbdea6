package processor

import (
	"context"
	"fmt"
	"time"

	"marketsync/backfill"
	"marketsync/config"
	"marketsync/logger"
	"marketsync/models"
	"marketsync/reader"
)

// KlineSync backfills candles for every active symbol.
type KlineSync struct {
	sources      Sources
	active       ActiveSymbols
	resume       ResumeStore
	sink         CandleSink
	defaultStart int64
	retry        config.RetryConfig
	cooldown     time.Duration
	now          func() time.Time
	log          *logger.Log
}

func NewKlineSync(cfg config.SyncConfig, sources Sources, active ActiveSymbols, resume ResumeStore, sink CandleSink) *KlineSync {
	return &KlineSync{
		sources:      sources,
		active:       active,
		resume:       resume,
		sink:         sink,
		defaultStart: cfg.DefaultStartMs,
		retry:        cfg.Retry,
		cooldown:     cfg.Cooldown,
		now:          time.Now,
		log:          logger.GetLogger(),
	}
}

// KlineReport summarises one Run.
type KlineReport struct {
	Interval      models.Interval
	Groups        int
	SkippedGroups int
	Symbols       int
	Failed        int
	Candles       int64
}

// Run backfills iv for all active symbols. Active symbols whose
// (exchange, inst_type) has no source are skipped with a warning.
func (k *KlineSync) Run(ctx context.Context, iv models.Interval, symbol string) (KlineReport, error) {
	report := KlineReport{Interval: iv}
	log := k.log.WithComponent("kline_sync").WithFields(logger.Fields{"interval": string(iv)})

	active, err := k.active.ActiveSymbols(ctx, symbol)
	if err != nil {
		return report, fmt.Errorf("load active symbols: %w", err)
	}

	end := k.closedUntil(iv)
	runner := groupRunner{
		component: "kline_sync",
		task:      "klines",
		fields:    logger.Fields{"interval": string(iv)},
		retry:     k.retry,
		cooldown:  k.cooldown,
		log:       k.log,
	}
	groups := runner.run(ctx, active, k.sources.Get, func(ctx context.Context, src reader.Source, sym models.ActiveSymbol, log *logger.Entry) (int64, error) {
		return k.syncSymbol(ctx, src, iv, end, sym, log)
	})
	report.Groups = groups.Groups
	report.SkippedGroups = groups.SkippedGroups
	report.Symbols = groups.Symbols
	report.Failed = groups.Failed
	report.Candles = groups.Rows

	log.LogMetric("kline_sync", "candles_upserted", report.Candles, "counter", logger.Fields{"interval": string(iv)})
	log.WithFields(logger.Fields{
		"groups":         report.Groups,
		"skipped_groups": report.SkippedGroups,
		"symbols":        report.Symbols,
		"failed":         report.Failed,
		"candles":        report.Candles,
	}).Info("kline sync finished")
	return report, ctx.Err()
}

// closedUntil is the open time of the bar still forming now. Backfill stops
// before it so a partial bar is never stored as final.
func (k *KlineSync) closedUntil(iv models.Interval) int64 {
	ms := k.now().UnixMilli()
	step := iv.Millis()
	return ms - ms%step
}

// StartFor returns where backfill resumes for sym: one interval after the
// newest stored bar, or the default epoch for an empty symbol. A known
// listing time later than the default is used instead, aligned up to the
// interval, so windowed sources do not page through empty history.
func (k *KlineSync) StartFor(ctx context.Context, iv models.Interval, sym models.ActiveSymbol) (int64, error) {
	last, ok, err := k.resume.LastTimestamp(ctx, iv, sym.SymbolKey)
	if err != nil {
		return 0, err
	}
	if ok {
		return last + iv.Millis(), nil
	}
	start := k.defaultStart
	if sym.OnboardTime != nil {
		step := iv.Millis()
		onboard := (*sym.OnboardTime + step - 1) / step * step
		if onboard > start {
			start = onboard
		}
	}
	return start, nil
}

func (k *KlineSync) syncSymbol(ctx context.Context, src reader.Source, iv models.Interval, end int64, sym models.ActiveSymbol, log *logger.Entry) (int64, error) {
	start, err := k.StartFor(ctx, iv, sym)
	if err != nil {
		return 0, fmt.Errorf("resume point: %w", err)
	}
	if start >= end {
		return 0, nil
	}

	cursor := backfill.New(src, backfill.Request{
		Symbol:   sym.Symbol,
		Interval: iv,
		Start:    start,
		End:      end,
	})
	var total int64
	for cursor.Next(ctx) {
		batch := cursor.Batch()
		n, err := k.sink.UpsertCandles(ctx, iv, batch)
		if err != nil {
			return total, fmt.Errorf("store %d candles from %s: %w", len(batch), batch[0].Time().Format(time.DateTime), err)
		}
		total += int64(n)
	}
	if err := cursor.Err(); err != nil {
		return total, err
	}
	if cursor.Total() == 0 {
		log.WithFields(logger.Fields{
			"start":           start,
			"end":             end,
			"windows_skipped": cursor.Skipped(),
		}).Warn("source returned no candles for a pending range")
	}
	return total, nil
}
