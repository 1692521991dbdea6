package processor

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"marketsync/config"
	"marketsync/internal/metrics/rate"
	"marketsync/logger"
	"marketsync/models"
	"marketsync/reader"
)

// symbolJob syncs one symbol from src and returns the rows it stored, also
// when it fails part way.
type symbolJob func(ctx context.Context, src reader.Source, sym models.ActiveSymbol, log *logger.Entry) (int64, error)

// groupRunner fans active symbols out by (exchange, inst_type). Groups run
// concurrently and are all awaited. Inside a group symbols run one at a
// time; a failed symbol is retried, then logged, then followed by the
// cooldown before the group moves on.
type groupRunner struct {
	component string
	task      string
	fields    logger.Fields
	retry     config.RetryConfig
	cooldown  time.Duration
	log       *logger.Log
}

type groupReport struct {
	Groups        int
	SkippedGroups int
	Symbols       int
	Failed        int
	Rows          int64
}

type groupCounters struct {
	symbols atomic.Int64
	failed  atomic.Int64
	rows    atomic.Int64
}

// run resolves each group's source with lookup. Groups without one are
// skipped with a warning.
func (g groupRunner) run(ctx context.Context, active []models.ActiveSymbol, lookup func(reader.Key) (reader.Source, bool), job symbolJob) groupReport {
	log := g.log.WithComponent(g.component).WithFields(g.fields)

	groups := make(map[reader.Key][]models.ActiveSymbol)
	for _, a := range active {
		key := reader.Key{Exchange: a.Exchange, InstType: a.InstType}
		groups[key] = append(groups[key], a)
	}
	keys := make([]reader.Key, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	var report groupReport
	var counters groupCounters
	var wg sync.WaitGroup
	for _, key := range keys {
		src, ok := lookup(key)
		if !ok {
			report.SkippedGroups++
			log.WithFields(logger.Fields{"group": key.String(), "symbols": len(groups[key])}).Warn("no source registered for group, skipping")
			continue
		}
		report.Groups++
		log.WithFields(logger.Fields{"group": key.String(), "symbols": len(groups[key])}).Info("starting group")

		wg.Add(1)
		go func(src reader.Source, symbols []models.ActiveSymbol) {
			defer wg.Done()
			g.runGroup(ctx, src, symbols, job, &counters)
		}(src, groups[key])
	}
	wg.Wait()

	report.Symbols = int(counters.symbols.Load())
	report.Failed = int(counters.failed.Load())
	report.Rows = counters.rows.Load()
	return report
}

func (g groupRunner) runGroup(ctx context.Context, src reader.Source, symbols []models.ActiveSymbol, job symbolJob, counters *groupCounters) {
	for _, sym := range symbols {
		if ctx.Err() != nil {
			return
		}
		counters.symbols.Add(1)
		log := g.log.WithComponent(g.component).WithFields(g.fields).WithFields(logger.Fields{
			"source":      src.Key().String(),
			"symbol":      sym.Symbol,
			"exchange_id": sym.ExchangeID,
			"inst_type":   sym.InstType.String(),
		})

		var stored int64
		err := retry(ctx, g.retry, func(attempt int) error {
			n, err := job(ctx, src, sym, log)
			stored += n
			if err != nil {
				rate.ReportLimit(g.log, src.Key().Exchange, sym.Symbol, g.task, err)
				log.WithError(err).WithFields(logger.Fields{"attempt": attempt + 1, "rows": n}).Warn(g.task + " backfill attempt failed")
			}
			return err
		})
		counters.rows.Add(stored)
		if err != nil {
			counters.failed.Add(1)
			log.WithError(err).WithFields(logger.Fields{"rows": stored}).Error(g.task + " backfill failed, moving on")
			sleep(ctx, g.cooldown)
			continue
		}
		log.WithFields(logger.Fields{"rows": stored}).Debug(g.task + " backfill finished")
	}
}
