package writer

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"marketsync/config"
	"marketsync/models"
)

// ErrUnknownExchange is returned when exchange_info has no row for a name.
var ErrUnknownExchange = errors.New("unknown exchange")

// SymbolUpdateColumns are the exchange_symbol columns refreshed when a
// symbol already exists. Identity and asset columns never change.
var SymbolUpdateColumns = []string{"tick_size", "step_size", "price_precision", "quantity_precision", "status"}

const upsertBatchSize = 500

type exchangeInfo struct {
	ID   int    `gorm:"column:id;primaryKey"`
	Name string `gorm:"column:name"`
}

func (exchangeInfo) TableName() string { return "exchange_info" }

type exchangeSymbol struct {
	ID                int64  `gorm:"column:id;primaryKey;autoIncrement"`
	ExchangeID        int    `gorm:"column:exchange_id"`
	Symbol            string `gorm:"column:symbol"`
	InstType          int    `gorm:"column:inst_type"`
	BaseAsset         string `gorm:"column:base_asset"`
	QuoteAsset        string `gorm:"column:quote_asset"`
	PricePrecision    int    `gorm:"column:price_precision"`
	QuantityPrecision int    `gorm:"column:quantity_precision"`
	TickSize          string `gorm:"column:tick_size"`
	StepSize          string `gorm:"column:step_size"`
	Status            int    `gorm:"column:status"`
	OnboardTime       *int64 `gorm:"column:onboard_time"`
}

func (exchangeSymbol) TableName() string { return "exchange_symbol" }

func symbolRow(m models.SymbolMeta) exchangeSymbol {
	return exchangeSymbol{
		ExchangeID:        m.ExchangeID,
		Symbol:            m.Symbol,
		InstType:          int(m.InstType),
		BaseAsset:         m.BaseAsset,
		QuoteAsset:        m.QuoteAsset,
		PricePrecision:    m.PricePrecision,
		QuantityPrecision: m.QuantityPrecision,
		TickSize:          m.TickSize,
		StepSize:          m.StepSize,
		Status:            int(m.Status),
		OnboardTime:       m.OnboardTime,
	}
}

type activeRow struct {
	ExchangeID  int
	Symbol      string
	InstType    int
	OnboardTime *int64
	Exchange    string
}

// MetadataStore reads and writes symbol metadata in MySQL: exchange_info,
// exchange_symbol and the clx_symbol visibility list.
type MetadataStore struct {
	db *gorm.DB
}

// OpenMetadataStore connects to MySQL using cfg.DSN.
func OpenMetadataStore(cfg config.MetadataConfig) (*MetadataStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("metadata dsn is empty")
	}
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("metadata store pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return NewMetadataStore(db), nil
}

func NewMetadataStore(db *gorm.DB) *MetadataStore {
	return &MetadataStore{db: db}
}

// ExchangeID looks up the numeric id of an exchange by name.
func (s *MetadataStore) ExchangeID(ctx context.Context, name string) (int, error) {
	var info exchangeInfo
	err := s.db.WithContext(ctx).Where("name = ?", name).Take(&info).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownExchange, name)
	}
	if err != nil {
		return 0, fmt.Errorf("lookup exchange %s: %w", name, err)
	}
	return info.ID, nil
}

func upsertClause() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "exchange_id"}, {Name: "symbol"}, {Name: "inst_type"}},
		DoUpdates: clause.AssignmentColumns(SymbolUpdateColumns),
	}
}

// UpsertSymbols inserts new symbols and refreshes the mutable columns of
// existing ones, keyed by (exchange_id, symbol, inst_type).
func (s *MetadataStore) UpsertSymbols(ctx context.Context, metas []models.SymbolMeta) (int64, error) {
	if len(metas) == 0 {
		return 0, nil
	}
	rows := make([]exchangeSymbol, 0, len(metas))
	for _, m := range metas {
		rows = append(rows, symbolRow(m))
	}
	res := s.db.WithContext(ctx).Clauses(upsertClause()).CreateInBatches(&rows, upsertBatchSize)
	if res.Error != nil {
		return 0, fmt.Errorf("upsert %d symbols: %w", len(rows), res.Error)
	}
	return res.RowsAffected, nil
}

func activeQuery(tx *gorm.DB, symbol string) *gorm.DB {
	q := tx.
		Table("exchange_symbol AS es").
		Select("es.exchange_id, es.symbol, es.inst_type, es.onboard_time, ei.name AS exchange").
		Joins("JOIN clx_symbol AS cs ON cs.symbol_id = es.id").
		Joins("JOIN exchange_info AS ei ON ei.id = es.exchange_id").
		Where("cs.is_active = ?", 1)
	if symbol != "" {
		q = q.Where("es.symbol = ?", symbol)
	}
	return q.Order("ei.name, es.inst_type, es.symbol")
}

// ActiveSymbols lists the symbols marked visible in clx_symbol. A non-empty
// symbol restricts the result to that symbol on every exchange.
func (s *MetadataStore) ActiveSymbols(ctx context.Context, symbol string) ([]models.ActiveSymbol, error) {
	var rows []activeRow
	if err := activeQuery(s.db.WithContext(ctx), symbol).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list active symbols: %w", err)
	}
	out := make([]models.ActiveSymbol, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.ActiveSymbol{
			SymbolKey: models.SymbolKey{
				ExchangeID: r.ExchangeID,
				Symbol:     r.Symbol,
				InstType:   models.InstType(r.InstType),
			},
			Exchange:    r.Exchange,
			OnboardTime: r.OnboardTime,
		})
	}
	return out, nil
}

func (s *MetadataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
