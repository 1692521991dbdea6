package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"marketsync/archive"
	"marketsync/config"
	"marketsync/integrity"
	"marketsync/logger"
	"marketsync/models"
	"marketsync/partition"
	"marketsync/processor"
	"marketsync/reader/registry"
	"marketsync/writer"
)

const defaultConfigPath = "config/config.yml"

const (
	taskSyncSymbols    = "sync-symbols"
	taskSyncKlines     = "sync-klines"
	taskSyncFunding    = "sync-funding"
	taskVerify         = "verify"
	taskPartitionCheck = "partition-check"
)

type options struct {
	configPath   string
	task         string
	interval     string
	symbol       string
	lookbackDays int
	onlyEmpty    bool
	onlyPartial  bool
	database     string
	drop         bool
}

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	var opts options
	flag.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to configuration file")
	flag.StringVar(&opts.task, "task", "", "Task to run: sync-symbols, sync-klines, sync-funding, verify, partition-check")
	flag.StringVar(&opts.interval, "interval", "", "Kline interval (1m, 1h, 1d); empty runs every configured interval")
	flag.StringVar(&opts.symbol, "symbol", "", "Restrict sync-klines, sync-funding or verify to one symbol")
	flag.IntVar(&opts.lookbackDays, "lookback-days", 0, "Days to verify, ending yesterday; 0 uses the configured value")
	flag.BoolVar(&opts.onlyEmpty, "only-empty", false, "Report only EMPTY buckets")
	flag.BoolVar(&opts.onlyPartial, "only-partial", false, "Report only PARTIAL buckets")
	flag.StringVar(&opts.database, "database", "", "Database to probe; empty uses partition.database")
	flag.BoolVar(&opts.drop, "drop", false, "Force-drop corrupted partitions after the scan")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(opts.configPath, defaultConfigPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	if cfg.Metrics.CloudWatch {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Metrics.Dashboard)
	}

	runID := uuid.NewString()
	log.WithFields(logger.Fields{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
		"env":     config.AppEnvironment(),
		"task":    opts.task,
		"run_id":  runID,
	}).Info("starting marketsync")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	err = run(ctx, cfg, opts)
	logger.ReportSummary(log, opts.task)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"task": opts.task, "run_id": runID}).Error("task failed")
		os.Exit(1)
	}
	log.WithFields(logger.Fields{
		"task":     opts.task,
		"run_id":   runID,
		"duration": time.Since(start).String(),
	}).Info("task finished")
}

func run(ctx context.Context, cfg *config.Config, opts options) error {
	switch opts.task {
	case taskSyncSymbols:
		return runSyncSymbols(ctx, cfg)
	case taskSyncKlines:
		return runSyncKlines(ctx, cfg, opts)
	case taskSyncFunding:
		return runSyncFunding(ctx, cfg, opts)
	case taskVerify:
		return runVerify(ctx, cfg, opts)
	case taskPartitionCheck:
		return runPartitionCheck(ctx, cfg, opts)
	case "":
		return fmt.Errorf("-task is required")
	default:
		return fmt.Errorf("unknown task %q", opts.task)
	}
}

func runSyncSymbols(ctx context.Context, cfg *config.Config) error {
	store, err := writer.OpenMetadataStore(cfg.Metadata)
	if err != nil {
		return err
	}
	defer store.Close()

	reg, err := registry.New(ctx, cfg.Reader, store)
	if err != nil {
		return err
	}

	var failed []error
	for _, res := range processor.NewSymbolSync(cfg.Sync, reg, store).Run(ctx) {
		if res.Err != nil {
			failed = append(failed, res.Err)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d sources failed: %w", len(failed), len(reg.Sources()), errors.Join(failed...))
	}
	return nil
}

func runSyncKlines(ctx context.Context, cfg *config.Config, opts options) error {
	intervals := cfg.Sync.Intervals
	if opts.interval != "" {
		intervals = []string{opts.interval}
	}
	ivs := make([]models.Interval, 0, len(intervals))
	for _, s := range intervals {
		iv, err := models.ParseInterval(s)
		if err != nil {
			return err
		}
		ivs = append(ivs, iv)
	}

	store, err := writer.OpenMetadataStore(cfg.Metadata)
	if err != nil {
		return err
	}
	defer store.Close()

	sink, resume, closeSink, err := openCandleSink(cfg)
	if err != nil {
		return err
	}
	defer closeSink()

	reg, err := registry.New(ctx, cfg.Reader, store)
	if err != nil {
		return err
	}

	klines := processor.NewKlineSync(cfg.Sync, reg, store, resume, sink)
	failed := 0
	for _, iv := range ivs {
		report, err := klines.Run(ctx, iv, opts.symbol)
		if err != nil {
			return fmt.Errorf("kline sync %s: %w", iv, err)
		}
		failed += report.Failed
	}
	if failed > 0 {
		return fmt.Errorf("%d symbol backfills failed", failed)
	}
	return nil
}

// runSyncFunding keeps funding_rate in Doris regardless of the candle sink.
func runSyncFunding(ctx context.Context, cfg *config.Config, opts options) error {
	store, err := writer.OpenMetadataStore(cfg.Metadata)
	if err != nil {
		return err
	}
	defer store.Close()

	doris, err := writer.OpenDoris(cfg.Doris)
	if err != nil {
		return err
	}
	defer doris.Close()

	reg, err := registry.New(ctx, cfg.Reader, store)
	if err != nil {
		return err
	}

	funding := processor.NewFundingSync(cfg.Sync, reg, store, doris, writer.NewStreamLoader(cfg.Doris, nil))
	report, err := funding.Run(ctx, opts.symbol)
	if err != nil {
		return fmt.Errorf("funding sync: %w", err)
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d funding backfills failed", report.Failed)
	}
	return nil
}

// openCandleSink returns the configured candle sink and the store resume
// points are read from. Both always point at the same backend.
func openCandleSink(cfg *config.Config) (writer.CandleSink, processor.ResumeStore, func(), error) {
	switch cfg.Candles.Sink {
	case config.SinkClickHouse:
		ch, err := writer.OpenClickHouse(cfg.ClickHouse)
		if err != nil {
			return nil, nil, nil, err
		}
		return ch, ch, func() { ch.Close() }, nil
	default:
		doris, err := writer.OpenDoris(cfg.Doris)
		if err != nil {
			return nil, nil, nil, err
		}
		return writer.NewStreamLoader(cfg.Doris, nil), doris, func() { doris.Close() }, nil
	}
}

func runVerify(ctx context.Context, cfg *config.Config, opts options) error {
	store, err := writer.OpenMetadataStore(cfg.Metadata)
	if err != nil {
		return err
	}
	defer store.Close()

	doris, err := writer.OpenDoris(cfg.Doris)
	if err != nil {
		return err
	}
	defer doris.Close()

	fetcher, err := archive.NewS3Fetcher(ctx, cfg.Archive)
	if err != nil {
		return err
	}
	restorer := archive.NewRestorer(cfg.Archive, fetcher, writer.NewStreamLoader(cfg.Doris, nil))

	scanner, err := integrity.NewScanner(cfg.Integrity, doris, store, restorer)
	if err != nil {
		return err
	}
	report, err := scanner.Scan(ctx, integrity.Options{
		LookbackDays: opts.lookbackDays,
		OnlyEmpty:    opts.onlyEmpty,
		OnlyPartial:  opts.onlyPartial,
		Symbol:       opts.symbol,
	})
	if err != nil {
		return err
	}
	if report.RestoreFailed > 0 {
		return fmt.Errorf("%d buckets could not be restored", report.RestoreFailed)
	}
	return nil
}

func runPartitionCheck(ctx context.Context, cfg *config.Config, opts options) error {
	doris, err := writer.OpenDoris(cfg.Doris)
	if err != nil {
		return err
	}
	defer doris.Close()

	database := opts.database
	if database == "" {
		database = cfg.Partition.Database
	}
	if database != "" {
		doris = doris.WithDatabase(database)
	}
	if doris.Database() == "" {
		return fmt.Errorf("no database to probe: set -database or partition.database")
	}

	probe := partition.NewProbe(doris, partition.SignatureClassifier(cfg.Partition.Signatures))
	scan, err := probe.Scan(ctx)
	if err != nil {
		return err
	}
	if len(scan.Corrupted) == 0 || !(opts.drop || cfg.Partition.Drop) {
		return nil
	}

	repair, err := probe.Repair(ctx, scan.Corrupted)
	if err != nil {
		return err
	}
	if repair.Failed > 0 {
		return fmt.Errorf("%d partitions could not be dropped", repair.Failed)
	}
	return nil
}
