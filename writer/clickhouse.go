package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"marketsync/config"
	"marketsync/models"
)

// CandleSink stores candle batches. Implementations upsert by
// (exchange_id, inst_type, symbol, timestamp).
type CandleSink interface {
	UpsertCandles(ctx context.Context, iv models.Interval, candles []models.Candle) (int, error)
}

// ClickHouseCandles writes candles with native batch inserts. The kline
// tables are ReplacingMergeTree keyed like the Doris tables, so re-inserted
// bars replace older versions on merge.
type ClickHouseCandles struct {
	conn     driver.Conn
	database string
}

// OpenClickHouse parses the DSN, opens a connection and pings it.
func OpenClickHouse(cfg config.ClickHouseConfig) (*ClickHouseCandles, error) {
	opts, err := clickhouse.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return NewClickHouseCandles(conn, cfg.Database), nil
}

func NewClickHouseCandles(conn driver.Conn, database string) *ClickHouseCandles {
	return &ClickHouseCandles{conn: conn, database: database}
}

func (s *ClickHouseCandles) table(iv models.Interval) string {
	if s.database == "" {
		return iv.Table()
	}
	return s.database + "." + iv.Table()
}

func (s *ClickHouseCandles) insertStatement(iv models.Interval) string {
	return "INSERT INTO " + s.table(iv) + ` (
		exchange_id, inst_type, symbol, timestamp, datetime,
		open, high, low, close, volume, quote_volume, count,
		updated_at
	)`
}

func (s *ClickHouseCandles) UpsertCandles(ctx context.Context, iv models.Interval, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	batch, err := s.conn.PrepareBatch(ctx, s.insertStatement(iv))
	if err != nil {
		return 0, fmt.Errorf("prepare %s batch: %w", iv.Table(), err)
	}

	now := time.Now().UTC()
	for _, c := range candles {
		var count uint64
		if c.Count != nil && *c.Count > 0 {
			count = uint64(*c.Count)
		}
		err := batch.Append(
			uint16(c.ExchangeID),
			uint8(c.InstType),
			c.Symbol,
			c.Time(),
			c.Time().Format(time.DateTime),
			c.Open.InexactFloat64(),
			c.High.InexactFloat64(),
			c.Low.InexactFloat64(),
			c.Close.InexactFloat64(),
			c.Volume.InexactFloat64(),
			c.QuoteVolume.InexactFloat64(),
			count,
			now,
		)
		if err != nil {
			return 0, fmt.Errorf("append %s %s: %w", c.Symbol, c.Time().Format(time.DateTime), err)
		}
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("send %s batch: %w", iv.Table(), err)
	}
	return len(candles), nil
}

// lastTimestampQuery reads the newest open time in epoch ms together with
// the row count, since max over no rows yields the zero time rather than
// NULL. FINAL collapses versions that have not been merged yet.
func (s *ClickHouseCandles) lastTimestampQuery(iv models.Interval) string {
	return "SELECT toUnixTimestamp64Milli(toDateTime64(max(timestamp), 3)), count() FROM " + s.table(iv) +
		" FINAL WHERE exchange_id = ? AND inst_type = ? AND symbol = ?"
}

// LastTimestamp returns the newest stored open time for key, so backfill
// resumes from the store it writes to.
func (s *ClickHouseCandles) LastTimestamp(ctx context.Context, iv models.Interval, key models.SymbolKey) (int64, bool, error) {
	var (
		last  int64
		count uint64
	)
	row := s.conn.QueryRow(ctx, s.lastTimestampQuery(iv), uint16(key.ExchangeID), uint8(key.InstType), key.Symbol)
	if err := row.Scan(&last, &count); err != nil {
		return 0, false, fmt.Errorf("last timestamp %s %s: %w", iv.Table(), key, err)
	}
	if count == 0 {
		return 0, false, nil
	}
	return last, true, nil
}

func (s *ClickHouseCandles) Close() error {
	return s.conn.Close()
}
