package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"marketsync/config"
	"marketsync/logger"
	"marketsync/models"
)

// LoadSuccess is the only stream load status treated as committed.
const LoadSuccess = "Success"

// ErrLoadRejected is returned by the candle path when Doris answers with a
// status other than LoadSuccess.
var ErrLoadRejected = errors.New("stream load rejected")

// LoadResult is the JSON body Doris returns for a stream load.
type LoadResult struct {
	TxnID              int64  `json:"TxnId"`
	Label              string `json:"Label"`
	Status             string `json:"Status"`
	Message            string `json:"Message"`
	NumberTotalRows    int64  `json:"NumberTotalRows"`
	NumberLoadedRows   int64  `json:"NumberLoadedRows"`
	NumberFilteredRows int64  `json:"NumberFilteredRows"`
	ErrorURL           string `json:"ErrorURL"`
}

// StreamLoader bulk loads JSON rows through the Doris HTTP stream load API.
// Loads into unique-key tables replace rows with the same key, so a batch
// can be re-sent safely.
type StreamLoader struct {
	client   *http.Client
	baseURL  string
	database string
	user     string
	password string
	log      *logger.Log
}

// NewStreamLoader builds a loader for cfg.StreamLoad. A nil client gets one
// with the configured timeout.
func NewStreamLoader(cfg config.DorisConfig, client *http.Client) *StreamLoader {
	if client == nil {
		client = &http.Client{Timeout: cfg.StreamLoad.Timeout}
	}
	l := &StreamLoader{
		baseURL:  strings.TrimRight(cfg.StreamLoad.URL, "/"),
		database: cfg.Database,
		user:     cfg.StreamLoad.User,
		password: cfg.StreamLoad.Password,
		log:      logger.GetLogger(),
	}
	// The frontend answers with a redirect to a backend node; Go drops the
	// Authorization header when the host changes.
	c := *client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 10 {
			return fmt.Errorf("stopped after %d redirects", len(via))
		}
		req.SetBasicAuth(l.user, l.password)
		return nil
	}
	l.client = &c
	return l
}

// Load sends rows to table. columns names the value order within each row
// and is passed to Doris verbatim. The returned error covers transport and
// decode failures only; callers decide what a non-success Status means.
func (l *StreamLoader) Load(ctx context.Context, table string, columns []string, rows [][]any) (LoadResult, error) {
	records := make([]map[string]any, 0, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return LoadResult{}, fmt.Errorf("row %d has %d values for %d columns", i, len(row), len(columns))
		}
		rec := make(map[string]any, len(columns))
		for j, col := range columns {
			rec[col] = row[j]
		}
		records = append(records, rec)
	}
	return l.send(ctx, table, columns, records)
}

func (l *StreamLoader) send(ctx context.Context, table string, columns []string, records []map[string]any) (LoadResult, error) {
	body, err := json.Marshal(records)
	if err != nil {
		return LoadResult{}, fmt.Errorf("encode %d rows for %s: %w", len(records), table, err)
	}

	endpoint := fmt.Sprintf("%s/api/%s/%s/_stream_load", l.baseURL, l.database, table)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return LoadResult{}, fmt.Errorf("build stream load request: %w", err)
	}
	label := table + "_" + uuid.NewString()
	req.SetBasicAuth(l.user, l.password)
	req.Header.Set("Expect", "100-continue")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("format", "json")
	req.Header.Set("strip_outer_array", "true")
	req.Header.Set("label", label)
	if len(columns) > 0 {
		req.Header.Set("columns", strings.Join(columns, ","))
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return LoadResult{}, fmt.Errorf("stream load %s: %w", table, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return LoadResult{}, fmt.Errorf("read stream load response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return LoadResult{}, fmt.Errorf("stream load %s: http %d: %s", table, resp.StatusCode, truncate(raw, 512))
	}
	var res LoadResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return LoadResult{}, fmt.Errorf("decode stream load response: %w", err)
	}

	l.log.WithComponent("stream_loader").WithFields(logger.Fields{
		"table":    table,
		"label":    label,
		"status":   res.Status,
		"rows":     len(records),
		"loaded":   res.NumberLoadedRows,
		"filtered": res.NumberFilteredRows,
	}).Debug("stream load finished")
	return res, nil
}

// UpsertCandles writes candles into the kline table for iv.
func (l *StreamLoader) UpsertCandles(ctx context.Context, iv models.Interval, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	records := make([]map[string]any, 0, len(candles))
	for _, c := range candles {
		records = append(records, c.Row())
	}
	res, err := l.send(ctx, iv.Table(), models.CandleColumns, records)
	if err != nil {
		return 0, err
	}
	if res.Status != LoadSuccess {
		return 0, fmt.Errorf("%w: %s status=%s message=%s", ErrLoadRejected, iv.Table(), res.Status, res.Message)
	}
	return len(candles), nil
}

// UpsertFundingRates stream-loads settled funding rates into funding_rate,
// which is keyed like the kline tables with funding_time as the time column.
func (l *StreamLoader) UpsertFundingRates(ctx context.Context, rates []models.FundingRate) (int, error) {
	if len(rates) == 0 {
		return 0, nil
	}
	records := make([]map[string]any, 0, len(rates))
	for _, r := range rates {
		records = append(records, r.Row())
	}
	res, err := l.send(ctx, models.FundingTable, models.FundingColumns, records)
	if err != nil {
		return 0, err
	}
	if res.Status != LoadSuccess {
		return 0, fmt.Errorf("%w: %s status=%s message=%s", ErrLoadRejected, models.FundingTable, res.Status, res.Message)
	}
	return len(rates), nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
