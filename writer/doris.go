// Package writer persists symbol metadata and time-series rows: MySQL via
// gorm for metadata, Doris over the MySQL protocol for queries and
// partition maintenance, Doris stream load for bulk writes, and an optional
// ClickHouse candle sink.
package writer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"marketsync/config"
	"marketsync/models"
)

// Doris runs read queries and partition DDL against a Doris frontend.
type Doris struct {
	db       *sql.DB
	database string
}

// OpenDoris connects to the Doris query port. Doris does not support
// server-side prepared statements for every statement kind, so arguments
// are interpolated client side.
func OpenDoris(cfg config.DorisConfig) (*Doris, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("doris dsn is empty")
	}
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse doris dsn: %w", err)
	}
	mc.InterpolateParams = true
	mc.ParseTime = false

	db, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open doris: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	database := cfg.Database
	if database == "" {
		database = mc.DBName
	}
	return NewDoris(db, database), nil
}

func NewDoris(db *sql.DB, database string) *Doris {
	return &Doris{db: db, database: database}
}

func (d *Doris) Database() string { return d.database }

// WithDatabase returns a Doris bound to another database on the same
// connection pool.
func (d *Doris) WithDatabase(database string) *Doris {
	return &Doris{db: d.db, database: database}
}

func (d *Doris) Close() error { return d.db.Close() }

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d *Doris) qualified(table string) string {
	if d.database == "" {
		return quoteIdent(table)
	}
	return quoteIdent(d.database) + "." + quoteIdent(table)
}

// CountRows counts rows of key in table whose dt lies in [start, end).
// Bounds are rendered as wall-clock DATETIME strings in their own location.
func (d *Doris) CountRows(ctx context.Context, table string, key models.SymbolKey, start, end time.Time) (int64, error) {
	query := "SELECT COUNT(*) FROM " + d.qualified(table) +
		" WHERE symbol = ? AND exchange_id = ? AND inst_type = ? AND dt >= ? AND dt < ?"
	var n sql.NullInt64
	err := d.db.QueryRowContext(ctx, query,
		key.Symbol, key.ExchangeID, int(key.InstType),
		start.Format(time.DateTime), end.Format(time.DateTime),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s %s [%s, %s): %w", table, key, start.Format(time.DateTime), end.Format(time.DateTime), err)
	}
	return n.Int64, nil
}

// LastTimestamp returns the newest stored candle open time for key, in
// epoch ms. ok is false when the table has no rows for key.
func (d *Doris) LastTimestamp(ctx context.Context, iv models.Interval, key models.SymbolKey) (ts int64, ok bool, err error) {
	query := "SELECT MAX(" + quoteIdent("timestamp") + ") FROM " + d.qualified(iv.Table()) +
		" WHERE exchange_id = ? AND inst_type = ? AND symbol = ?"
	var last sql.NullInt64
	if err := d.db.QueryRowContext(ctx, query, key.ExchangeID, int(key.InstType), key.Symbol).Scan(&last); err != nil {
		return 0, false, fmt.Errorf("last timestamp %s %s: %w", iv.Table(), key, err)
	}
	return last.Int64, last.Valid, nil
}

// LastFundingTime returns the newest stored settlement time for key.
func (d *Doris) LastFundingTime(ctx context.Context, key models.SymbolKey) (int64, bool, error) {
	query := "SELECT MAX(funding_time) FROM " + d.qualified(models.FundingTable) +
		" WHERE exchange_id = ? AND inst_type = ? AND symbol = ?"
	var last sql.NullInt64
	if err := d.db.QueryRowContext(ctx, query, key.ExchangeID, int(key.InstType), key.Symbol).Scan(&last); err != nil {
		return 0, false, fmt.Errorf("last funding time %s: %w", key, err)
	}
	return last.Int64, last.Valid, nil
}

// Tables lists the tables of the configured database.
func (d *Doris) Tables(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, "SHOW TABLES FROM "+quoteIdent(d.database))
	if err != nil {
		return nil, fmt.Errorf("show tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Partitions lists partition names of table. SHOW PARTITIONS returns a
// version dependent set of columns; the name is always the second one.
func (d *Doris) Partitions(ctx context.Context, table string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, "SHOW PARTITIONS FROM "+d.qualified(table))
	if err != nil {
		return nil, fmt.Errorf("show partitions %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if len(cols) < 2 {
		return nil, fmt.Errorf("show partitions %s: unexpected %d columns", table, len(cols))
	}
	var names []string
	for rows.Next() {
		values := make([]sql.RawBytes, len(cols))
		dest := make([]any, len(cols))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan partition row: %w", err)
		}
		names = append(names, string(values[1]))
	}
	return names, rows.Err()
}

// ProbePartition reads at most one row from a partition. The returned error
// is the raw driver error so its message can be classified.
func (d *Doris) ProbePartition(ctx context.Context, table, partition string) error {
	query := "SELECT 1 FROM " + d.qualified(table) + " PARTITION(" + quoteIdent(partition) + ") LIMIT 1"
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

// CreateTableDDL returns the SHOW CREATE TABLE text for table.
func (d *Doris) CreateTableDDL(ctx context.Context, table string) (string, error) {
	var name, ddl string
	if err := d.db.QueryRowContext(ctx, "SHOW CREATE TABLE "+d.qualified(table)).Scan(&name, &ddl); err != nil {
		return "", fmt.Errorf("show create table %s: %w", table, err)
	}
	return ddl, nil
}

// DropPartition force-drops one partition. FORCE skips the recycle bin.
func (d *Doris) DropPartition(ctx context.Context, table, partition string) error {
	stmt := "ALTER TABLE " + d.qualified(table) + " DROP PARTITION " + quoteIdent(partition) + " FORCE"
	if _, err := d.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("drop partition %s.%s: %w", table, partition, err)
	}
	return nil
}
