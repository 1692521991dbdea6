package writer

import (
	"strings"
	"testing"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"marketsync/models"
)

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "user:pass@tcp(127.0.0.1:1)/meta",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DisableAutomaticPing: true, Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("open dry-run db: %v", err)
	}
	return db
}

func TestUpsertUpdatesOnlyMutableColumns(t *testing.T) {
	db := dryRunDB(t)
	onboard := int64(1735689600000)
	rows := []exchangeSymbol{symbolRow(models.SymbolMeta{
		ExchangeID: 1, Symbol: "BTCUSDT", InstType: models.InstPerp, BaseAsset: "BTC", QuoteAsset: "USDT",
		Status: models.StatusActive, TickSize: "0.1", StepSize: "0.001", PricePrecision: 1, QuantityPrecision: 3,
		OnboardTime: &onboard,
	})}

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		return tx.Clauses(upsertClause()).Create(&rows)
	})
	if !strings.Contains(sql, "INSERT INTO `exchange_symbol`") {
		t.Fatalf("unexpected insert: %s", sql)
	}
	if !strings.Contains(sql, "ON DUPLICATE KEY UPDATE") {
		t.Fatalf("expected upsert clause: %s", sql)
	}
	update := sql[strings.Index(sql, "ON DUPLICATE KEY UPDATE"):]
	for _, col := range SymbolUpdateColumns {
		if !strings.Contains(update, "`"+col+"`") {
			t.Errorf("update clause misses %s: %s", col, update)
		}
	}
	for _, col := range []string{"base_asset", "quote_asset", "onboard_time", "symbol`="} {
		if strings.Contains(update, "`"+col) {
			t.Errorf("update clause must not touch %s: %s", col, update)
		}
	}
}

func TestActiveQueryJoinsControlList(t *testing.T) {
	db := dryRunDB(t)
	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var rows []activeRow
		return activeQuery(tx, "ETHUSDT").Find(&rows)
	})
	for _, want := range []string{
		"JOIN clx_symbol AS cs ON cs.symbol_id = es.id",
		"JOIN exchange_info AS ei ON ei.id = es.exchange_id",
		"cs.is_active = 1",
		"es.symbol = 'ETHUSDT'",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("query missing %q: %s", want, sql)
		}
	}

	all := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var rows []activeRow
		return activeQuery(tx, "").Find(&rows)
	})
	if strings.Contains(all, "es.symbol =") {
		t.Errorf("empty filter must not restrict symbols: %s", all)
	}
}

func TestSymbolRowKeepsEnums(t *testing.T) {
	row := symbolRow(models.SymbolMeta{InstType: models.InstOption, Status: models.StatusClosed})
	if row.InstType != 3 || row.Status != 3 {
		t.Errorf("unexpected row %+v", row)
	}
}
