package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"marketsync/config"
	"marketsync/logger"
	"marketsync/models"
	"marketsync/writer"
)

// Loader bulk loads rows with explicit column names.
type Loader interface {
	Load(ctx context.Context, table string, columns []string, rows [][]any) (writer.LoadResult, error)
}

// Restorer heals hourly buckets from the daily archive tarballs in S3.
type Restorer struct {
	fetcher      Fetcher
	loader       Loader
	workDir      string
	prefix       string
	datasetTable string
	targetTable  string
	log          *logger.Log

	mu       sync.Mutex
	verified map[string]bool
}

func NewRestorer(cfg config.ArchiveConfig, fetcher Fetcher, loader Loader) *Restorer {
	target := cfg.TargetTable
	if target == "" {
		target = cfg.DatasetTable
	}
	return &Restorer{
		fetcher:      fetcher,
		loader:       loader,
		workDir:      cfg.WorkDir,
		prefix:       cfg.Prefix,
		datasetTable: cfg.DatasetTable,
		targetTable:  target,
		log:          logger.GetLogger(),
		verified:     make(map[string]bool),
	}
}

// Restore reloads the rows of key for [day+hour, day+hour+1h) from the
// archive of day. day is midnight in the location the bucket was scanned
// in; the window is compared as wall-clock DATETIME text, the way dt is
// stored in the dataset.
func (r *Restorer) Restore(ctx context.Context, key models.SymbolKey, day time.Time, hour int) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := day.Add(time.Duration(hour) * time.Hour)
	end := start.Add(time.Hour)
	log := r.log.WithComponent("archive").WithFields(logger.Fields{
		"symbol":      key.Symbol,
		"exchange_id": key.ExchangeID,
		"inst_type":   int(key.InstType),
		"hour_start":  start.Format(time.DateTime),
	})
	result := Result{Archive: TarballName(day)}

	if err := os.MkdirAll(r.workDir, 0o755); err != nil {
		return result, fmt.Errorf("create work dir: %w", err)
	}
	tarball, err := r.ensureVerified(ctx, log, day)
	if err != nil {
		return result, err
	}
	dir, err := r.ensureExtracted(log, day, tarball)
	if err != nil {
		return result, err
	}
	dataset, err := findDataset(dir)
	if err != nil {
		return result, err
	}
	result.Dataset = dataset

	columns, rows, err := r.query(ctx, dataset, key, start, end)
	if err != nil {
		return result, err
	}
	if len(rows) == 0 {
		log.Warn("archive has no rows for bucket")
		return result, nil
	}

	log.WithFields(logger.Fields{"rows": len(rows), "table": r.targetTable}).Info("loading restored rows")
	res, err := r.loader.Load(ctx, r.targetTable, columns, rows)
	if err != nil {
		return result, fmt.Errorf("%w: %s %s: %v", ErrLoadFailure, key, start.Format(time.DateTime), err)
	}
	result.Label = res.Label
	if res.Status != writer.LoadSuccess {
		return result, fmt.Errorf("%w: %s %s: status %q: %s", ErrLoadFailure, key, start.Format(time.DateTime), res.Status, res.Message)
	}
	result.Rows = len(rows)
	log.WithFields(logger.Fields{"rows": result.Rows, "label": res.Label}).Info("restore finished")
	return result, nil
}

// ensureVerified downloads the tarball and manifest of day unless they are
// cached, then checks the tarball hash once per day for this Restorer.
func (r *Restorer) ensureVerified(ctx context.Context, log *logger.Entry, day time.Time) (string, error) {
	tarName, manifestName := TarballName(day), ManifestName(day)
	tarball := filepath.Join(r.workDir, tarName)
	manifest := filepath.Join(r.workDir, manifestName)

	for _, f := range []struct{ name, path string }{{tarName, tarball}, {manifestName, manifest}} {
		if exists(f.path) {
			continue
		}
		key := ObjectKey(r.prefix, day, f.name)
		log.WithFields(logger.Fields{"key": key}).Info("downloading archive object")
		if err := r.download(ctx, key, f.path); err != nil {
			return "", err
		}
	}

	day0 := day.Format(time.DateOnly)
	if r.verified[day0] {
		return tarball, nil
	}
	if err := verifyChecksum(tarball, manifest); err != nil {
		log.WithError(err).Error("archive failed checksum verification")
		return "", err
	}
	r.verified[day0] = true
	return tarball, nil
}

// download writes to a temporary file first so an interrupted transfer is
// never mistaken for a cached archive.
func (r *Restorer) download(ctx context.Context, key, dst string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := r.fetcher.Fetch(ctx, key, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// ensureExtracted unpacks the tarball into {workdir}/{day} unless that
// directory already exists.
func (r *Restorer) ensureExtracted(log *logger.Entry, day time.Time, tarball string) (string, error) {
	dir := filepath.Join(r.workDir, day.Format(time.DateOnly))
	if exists(dir) {
		return dir, nil
	}

	staging := dir + ".partial"
	if err := os.RemoveAll(staging); err != nil {
		return "", err
	}
	log.WithFields(logger.Fields{"dir": dir}).Info("extracting archive")
	if err := extractTarGz(tarball, staging); err != nil {
		os.RemoveAll(staging)
		return "", err
	}
	if err := os.Rename(staging, dir); err != nil {
		return "", err
	}
	return dir, nil
}

func (r *Restorer) query(ctx context.Context, dataset string, key models.SymbolKey, start, end time.Time) ([]string, [][]any, error) {
	db, err := sql.Open("sqlite", dataset)
	if err != nil {
		return nil, nil, fmt.Errorf("open dataset: %w", err)
	}
	defer db.Close()

	stmt := `SELECT * FROM "` + r.datasetTable + `" WHERE symbol = ? AND exchange_id = ? AND inst_type = ? AND dt >= ? AND dt < ?`
	rows, err := db.QueryContext(ctx, stmt,
		key.Symbol, key.ExchangeID, int(key.InstType),
		start.Format(time.DateTime), end.Format(time.DateTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: query %s: %v", ErrArchiveFormat, filepath.Base(dataset), err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, fmt.Errorf("scan dataset row: %w", err)
		}
		for i, v := range values {
			values[i] = loadValue(v)
		}
		out = append(out, values)
	}
	return columns, out, rows.Err()
}

// loadValue converts a sqlite value into something the JSON stream load
// accepts for the same column.
func loadValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format("2006-01-02 15:04:05.999999")
	default:
		return v
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
