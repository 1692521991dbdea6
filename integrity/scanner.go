// Package integrity audits hourly row coverage of the snapshot table and
// hands every under-covered bucket to a restorer.
package integrity

import (
	"context"
	"fmt"
	"time"

	"marketsync/archive"
	"marketsync/config"
	"marketsync/logger"
	"marketsync/models"
)

// Counter counts stored rows for one symbol in [start, end).
type Counter interface {
	CountRows(ctx context.Context, table string, key models.SymbolKey, start, end time.Time) (int64, error)
}

// ActiveSymbols lists the symbols to audit, optionally narrowed to one.
type ActiveSymbols interface {
	ActiveSymbols(ctx context.Context, symbol string) ([]models.ActiveSymbol, error)
}

// Restorer re-derives one hourly bucket from cold storage.
type Restorer interface {
	Restore(ctx context.Context, key models.SymbolKey, day time.Time, hour int) (archive.Result, error)
}

// Options narrow what Scan reports. They never narrow what is restored.
type Options struct {
	LookbackDays int
	OnlyEmpty    bool
	OnlyPartial  bool
	Symbol       string
}

// Report is the outcome of one Scan. RestoreEmpty counts buckets whose
// archive held no rows; they stay flagged and are not in Restored.
type Report struct {
	Findings      []models.IntegrityFinding
	Empty         int
	Partial       int
	Restored      int
	RestoreEmpty  int
	RestoreFailed int
	RowsRestored  int64
}

// Scanner audits hourly row counts and restores the buckets that fall short.
type Scanner struct {
	counter  Counter
	active   ActiveSymbols
	restorer Restorer
	table    string
	expected int64
	lookback int
	loc      *time.Location
	now      func() time.Time
	log      *logger.Log
}

func NewScanner(cfg config.IntegrityConfig, counter Counter, active ActiveSymbols, restorer Restorer) (*Scanner, error) {
	loc, err := time.LoadLocation(cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("integrity location %q: %w", cfg.Location, err)
	}
	return &Scanner{
		counter:  counter,
		active:   active,
		restorer: restorer,
		table:    cfg.Table,
		expected: cfg.ExpectedPerHour,
		lookback: cfg.LookbackDays,
		loc:      loc,
		now:      time.Now,
		log:      logger.GetLogger(),
	}, nil
}

// Days returns the calendar days to audit, newest first: yesterday back to
// lookback days ago. Today is still accumulating and is never included.
func (s *Scanner) Days(lookback int) []time.Time {
	now := s.now().In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	days := make([]time.Time, 0, lookback)
	for d := 1; d <= lookback; d++ {
		days = append(days, today.AddDate(0, 0, -d))
	}
	return days
}

// Scan walks every active symbol over 24 hourly buckets of each audited
// day, sequentially. Each EMPTY or PARTIAL bucket is restored right away.
// A failed count or restore is logged and the bucket stays flagged; the
// scan continues.
func (s *Scanner) Scan(ctx context.Context, opts Options) (Report, error) {
	var report Report
	log := s.log.WithComponent("integrity")

	lookback := opts.LookbackDays
	if lookback <= 0 {
		lookback = s.lookback
	}
	symbols, err := s.active.ActiveSymbols(ctx, opts.Symbol)
	if err != nil {
		return report, fmt.Errorf("load active symbols: %w", err)
	}

	for _, day := range s.Days(lookback) {
		log.WithFields(logger.Fields{"day": day.Format(time.DateOnly), "symbols": len(symbols)}).Info("checking day")
		for _, sym := range symbols {
			for h := 0; h < 24; h++ {
				if err := ctx.Err(); err != nil {
					return report, err
				}
				s.checkHour(ctx, log, &report, opts, sym.SymbolKey, day, h)
			}
		}
	}

	log.LogMetric("integrity", "integrity_findings", int64(report.Empty+report.Partial), "counter", logger.Fields{})
	log.LogMetric("integrity", "restored_rows", report.RowsRestored, "counter", logger.Fields{})
	log.LogMetric("integrity", "buckets_restore_failed", int64(report.RestoreFailed), "counter", logger.Fields{})
	log.LogMetric("integrity", "restore_empty", int64(report.RestoreEmpty), "counter", logger.Fields{})
	log.WithFields(logger.Fields{
		"empty":          report.Empty,
		"partial":        report.Partial,
		"restored":       report.Restored,
		"restore_empty":  report.RestoreEmpty,
		"restore_failed": report.RestoreFailed,
		"rows_restored":  report.RowsRestored,
	}).Info("integrity scan finished")
	return report, nil
}

func (s *Scanner) checkHour(ctx context.Context, log *logger.Entry, report *Report, opts Options, key models.SymbolKey, day time.Time, hour int) {
	start := day.Add(time.Duration(hour) * time.Hour)
	end := start.Add(time.Hour)
	fields := logger.Fields{
		"symbol":      key.Symbol,
		"exchange_id": key.ExchangeID,
		"inst_type":   int(key.InstType),
		"hour_start":  start.Format(time.DateTime),
	}

	observed, err := s.counter.CountRows(ctx, s.table, key, start, end)
	if err != nil {
		log.WithError(err).WithFields(fields).Warn("count failed, bucket skipped")
		return
	}
	status, flagged := models.Classify(observed, s.expected)
	if !flagged {
		return
	}
	fields["rows"] = observed

	finding := models.IntegrityFinding{
		Status:        status,
		Symbol:        key.Symbol,
		ExchangeID:    key.ExchangeID,
		InstType:      key.InstType,
		HourStart:     start,
		ObservedCount: observed,
	}
	switch status {
	case models.FindingEmpty:
		report.Empty++
		if !opts.OnlyPartial {
			log.WithFields(fields).Info("EMPTY bucket")
			report.Findings = append(report.Findings, finding)
		}
	case models.FindingPartial:
		report.Partial++
		if !opts.OnlyEmpty {
			log.WithFields(fields).Info("PARTIAL bucket")
			report.Findings = append(report.Findings, finding)
		}
	}

	if s.restorer == nil {
		return
	}
	log.WithFields(fields).Info("restoring bucket")
	res, err := s.restorer.Restore(ctx, key, day, hour)
	if err != nil {
		report.RestoreFailed++
		log.WithError(err).WithFields(fields).Error("restore failed, bucket left flagged")
		return
	}
	if res.Rows == 0 {
		report.RestoreEmpty++
		log.WithFields(fields).WithFields(logger.Fields{"archive": res.Archive}).Warn("archive holds no rows for bucket, left flagged")
		return
	}
	report.Restored++
	report.RowsRestored += int64(res.Rows)
	log.WithFields(fields).WithFields(logger.Fields{"restored_rows": res.Rows}).Info("bucket restored")
}
