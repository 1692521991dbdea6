package writer

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"marketsync/models"
)

// sqlite understands the backtick quoting and placeholder style used by the
// Doris queries, which is enough to exercise counting and resume lookups.
func openTestDoris(t *testing.T) *Doris {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		"CREATE TABLE market_snapshot (symbol TEXT, exchange_id INTEGER, inst_type INTEGER, dt TEXT)",
		"CREATE TABLE kline_1m (exchange_id INTEGER, inst_type INTEGER, symbol TEXT, `timestamp` INTEGER)",
		"CREATE TABLE funding_rate (exchange_id INTEGER, inst_type INTEGER, symbol TEXT, funding_time INTEGER, funding_rate TEXT)",
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("%s: %v", s, err)
		}
	}
	return NewDoris(db, "")
}

func TestCountRowsHalfOpenWindow(t *testing.T) {
	d := openTestDoris(t)
	rows := []string{"2025-01-01 02:59:59", "2025-01-01 03:00:00", "2025-01-01 03:59:59", "2025-01-01 04:00:00"}
	for _, dt := range rows {
		if _, err := d.db.Exec("INSERT INTO market_snapshot VALUES ('BTCUSDT', 1, 1, ?)", dt); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := d.db.Exec("INSERT INTO market_snapshot VALUES ('BTCUSDT', 2, 1, '2025-01-01 03:10:00')"); err != nil {
		t.Fatal(err)
	}

	start := time.Date(2025, 1, 1, 3, 0, 0, 0, time.UTC)
	key := models.SymbolKey{ExchangeID: 1, Symbol: "BTCUSDT", InstType: models.InstPerp}
	n, err := d.CountRows(context.Background(), "market_snapshot", key, start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows in [03:00, 04:00), got %d", n)
	}
}

func TestLastTimestamp(t *testing.T) {
	d := openTestDoris(t)
	key := models.SymbolKey{ExchangeID: 1, Symbol: "BTCUSDT", InstType: models.InstSpot}

	_, ok, err := d.LastTimestamp(context.Background(), models.Interval1m, key)
	if err != nil {
		t.Fatalf("LastTimestamp: %v", err)
	}
	if ok {
		t.Fatal("expected no timestamp for empty table")
	}

	for _, ts := range []int64{1735689600000, 1735689660000} {
		if _, err := d.db.Exec("INSERT INTO kline_1m VALUES (1, 0, 'BTCUSDT', ?)", ts); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := d.db.Exec("INSERT INTO kline_1m VALUES (1, 1, 'BTCUSDT', 1735689720000)"); err != nil {
		t.Fatal(err)
	}
	ts, ok, err := d.LastTimestamp(context.Background(), models.Interval1m, key)
	if err != nil || !ok {
		t.Fatalf("LastTimestamp: ok=%v err=%v", ok, err)
	}
	if ts != 1735689660000 {
		t.Errorf("last = %d", ts)
	}
}

func TestLastFundingTime(t *testing.T) {
	d := openTestDoris(t)
	key := models.SymbolKey{ExchangeID: 2, Symbol: "BTCUSDT", InstType: models.InstPerp}

	if _, ok, err := d.LastFundingTime(context.Background(), key); err != nil || ok {
		t.Fatalf("empty table: ok=%v err=%v", ok, err)
	}
	for _, ts := range []int64{1735689600000, 1735718400000} {
		if _, err := d.db.Exec("INSERT INTO funding_rate VALUES (2, 1, 'BTCUSDT', ?, '0.0001')", ts); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := d.db.Exec("INSERT INTO funding_rate VALUES (3, 1, 'BTCUSDT', 1735747200000, '0.0001')"); err != nil {
		t.Fatal(err)
	}
	ts, ok, err := d.LastFundingTime(context.Background(), key)
	if err != nil || !ok || ts != 1735718400000 {
		t.Fatalf("last = %d ok=%v err=%v", ts, ok, err)
	}
}

func TestQuoteIdent(t *testing.T) {
	if got := quoteIdent("a`b"); got != "`a``b`" {
		t.Errorf("quoteIdent = %s", got)
	}
	d := NewDoris(nil, "clx")
	if got := d.qualified("kline_1m"); got != "`clx`.`kline_1m`" {
		t.Errorf("qualified = %s", got)
	}
}
