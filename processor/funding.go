package processor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"marketsync/config"
	"marketsync/logger"
	"marketsync/models"
	"marketsync/reader"
)

// FundingStore reports the newest stored settlement for a symbol.
type FundingStore interface {
	LastFundingTime(ctx context.Context, key models.SymbolKey) (int64, bool, error)
}

type FundingSink interface {
	UpsertFundingRates(ctx context.Context, rates []models.FundingRate) (int, error)
}

// FundingSync backfills settled funding rates for active perpetual symbols
// whose source publishes funding history. It shares the kline sync's
// grouping, retry and cooldown.
type FundingSync struct {
	sources      Sources
	active       ActiveSymbols
	resume       FundingStore
	sink         FundingSink
	defaultStart int64
	retry        config.RetryConfig
	cooldown     time.Duration
	now          func() time.Time
	log          *logger.Log
}

func NewFundingSync(cfg config.SyncConfig, sources Sources, active ActiveSymbols, resume FundingStore, sink FundingSink) *FundingSync {
	return &FundingSync{
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

// FundingReport summarises one Run. Unsupported counts active perpetual
// symbols whose source has no funding history.
type FundingReport struct {
	Groups      int
	Symbols     int
	Unsupported int
	Failed      int
	Rates       int64
}

func (f *FundingSync) lookup(key reader.Key) (reader.Source, bool) {
	if key.InstType != models.InstPerp {
		return nil, false
	}
	src, ok := f.sources.Get(key)
	if !ok {
		return nil, false
	}
	if _, ok := src.(reader.FundingSource); !ok {
		return nil, false
	}
	return src, true
}

func (f *FundingSync) Run(ctx context.Context, symbol string) (FundingReport, error) {
	var report FundingReport
	log := f.log.WithComponent("funding_sync")

	active, err := f.active.ActiveSymbols(ctx, symbol)
	if err != nil {
		return report, fmt.Errorf("load active symbols: %w", err)
	}
	perps := make([]models.ActiveSymbol, 0, len(active))
	for _, a := range active {
		if a.InstType != models.InstPerp {
			continue
		}
		if _, ok := f.lookup(reader.Key{Exchange: a.Exchange, InstType: a.InstType}); !ok {
			report.Unsupported++
			continue
		}
		perps = append(perps, a)
	}

	end := f.now().UnixMilli()
	runner := groupRunner{
		component: "funding_sync",
		task:      "funding",
		retry:     f.retry,
		cooldown:  f.cooldown,
		log:       f.log,
	}
	groups := runner.run(ctx, perps, f.lookup, func(ctx context.Context, src reader.Source, sym models.ActiveSymbol, log *logger.Entry) (int64, error) {
		return f.syncSymbol(ctx, src.(reader.FundingSource), end, sym, log)
	})
	report.Groups = groups.Groups
	report.Symbols = groups.Symbols
	report.Failed = groups.Failed
	report.Rates = groups.Rows

	log.LogMetric("funding_sync", "funding_rates_upserted", report.Rates, "counter", logger.Fields{})
	log.WithFields(logger.Fields{
		"groups":      report.Groups,
		"symbols":     report.Symbols,
		"unsupported": report.Unsupported,
		"failed":      report.Failed,
		"rates":       report.Rates,
	}).Info("funding sync finished")
	return report, ctx.Err()
}

// StartFor returns 1ms after the newest stored settlement, or the default
// epoch (or a later listing time) for a symbol with none.
func (f *FundingSync) StartFor(ctx context.Context, sym models.ActiveSymbol) (int64, error) {
	last, ok, err := f.resume.LastFundingTime(ctx, sym.SymbolKey)
	if err != nil {
		return 0, err
	}
	if ok {
		return last + 1, nil
	}
	start := f.defaultStart
	if sym.OnboardTime != nil && *sym.OnboardTime > start {
		start = *sym.OnboardTime
	}
	return start, nil
}

func (f *FundingSync) syncSymbol(ctx context.Context, src reader.FundingSource, end int64, sym models.ActiveSymbol, log *logger.Entry) (int64, error) {
	start, err := f.StartFor(ctx, sym)
	if err != nil {
		return 0, fmt.Errorf("resume point: %w", err)
	}

	every := rate.Inf
	if pace := src.Pagination().Pace; pace > 0 {
		every = rate.Every(pace)
	}
	limiter := rate.NewLimiter(every, 1)
	limit := src.FundingPageLimit()

	var stored int64
	for start < end {
		if err := limiter.Wait(ctx); err != nil {
			return stored, err
		}
		page, err := src.FetchFundingPage(ctx, reader.PageRequest{Symbol: sym.Symbol, Start: start, End: end, Limit: limit})
		if err != nil {
			return stored, err
		}

		rates := make([]models.FundingRate, 0, len(page.Records))
		last := start - 1
		for _, raw := range page.Records {
			if raw.Time <= last || raw.Time >= end {
				continue
			}
			fr, err := src.FormatFunding(sym.Symbol, raw)
			if err != nil {
				return stored, reader.Unavailable(src.Key().String(), "format", err)
			}
			last = raw.Time
			rates = append(rates, fr)
		}
		next := start
		if len(rates) > 0 {
			n, err := f.sink.UpsertFundingRates(ctx, rates)
			if err != nil {
				return stored, fmt.Errorf("store %d funding rates from %s: %w", len(rates), rates[0].Time().Format(time.DateTime), err)
			}
			stored += int64(n)
			next = last + 1
		}

		switch {
		case page.Exhausted:
			return stored, nil
		case page.WindowEnd > 0:
			if page.WindowEnd > next {
				next = page.WindowEnd
			}
		case len(page.Records) < limit:
			return stored, nil
		}
		if next <= start {
			break
		}
		start = next
	}
	log.WithFields(logger.Fields{"rates": stored}).Debug("funding backfill finished")
	return stored, nil
}
