package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Reader     ReaderConfig     `yaml:"reader"`
	Sync       SyncConfig       `yaml:"sync"`
	Metadata   MetadataConfig   `yaml:"metadata"`
	Doris      DorisConfig      `yaml:"doris"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Candles    CandlesConfig    `yaml:"candles"`
	Integrity  IntegrityConfig  `yaml:"integrity"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Partition  PartitionConfig  `yaml:"partition"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch bool   `yaml:"cloudwatch"`
	Region     string `yaml:"region"`
	Namespace  string `yaml:"namespace"`
	Dashboard  string `yaml:"dashboard"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type ReaderConfig struct {
	Timeout        time.Duration           `yaml:"timeout"`
	UserAgent      string                  `yaml:"user_agent"`
	ConnectionPool ConnectionPoolConfig    `yaml:"connection_pool"`
	Sources        map[string]SourceConfig `yaml:"sources"`
}

// SourceConfig tunes one (exchange, inst_type) source, keyed as e.g.
// "binance_spot" or "gate_perp". Zero values fall back to the adapter defaults.
type SourceConfig struct {
	Disabled  bool          `yaml:"disabled"`
	BaseURL   string        `yaml:"base_url"`
	PageLimit int           `yaml:"page_limit"`
	Pace      time.Duration `yaml:"pace"`
	LocalIP   string        `yaml:"local_ip"`
}

// Source returns the settings for key, or the zero value when unset.
func (r ReaderConfig) Source(key string) SourceConfig {
	if r.Sources == nil {
		return SourceConfig{}
	}
	return r.Sources[key]
}

type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

type SyncConfig struct {
	Intervals      []string      `yaml:"intervals"`
	DefaultStartMs int64         `yaml:"default_start_ms"`
	Retry          RetryConfig   `yaml:"retry"`
	Cooldown       time.Duration `yaml:"cooldown"`
}

type MetadataConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type StreamLoadConfig struct {
	URL      string        `yaml:"url"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

type DorisConfig struct {
	DSN        string           `yaml:"dsn"`
	Database   string           `yaml:"database"`
	StreamLoad StreamLoadConfig `yaml:"stream_load"`
}

type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	DSN      string `yaml:"dsn"`
	Database string `yaml:"database"`
}

type CandlesConfig struct {
	Sink string `yaml:"sink"`
}

type IntegrityConfig struct {
	Table           string `yaml:"table"`
	ExpectedPerHour int64  `yaml:"expected_per_hour"`
	LookbackDays    int    `yaml:"lookback_days"`
	Location        string `yaml:"location"`
}

type ArchiveConfig struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	WorkDir         string `yaml:"work_dir"`
	DatasetTable    string `yaml:"dataset_table"`
	TargetTable     string `yaml:"target_table"`
}

type PartitionConfig struct {
	Database   string   `yaml:"database"`
	Signatures []string `yaml:"signatures"`
	Drop       bool     `yaml:"drop"`
}

const (
	SinkDoris      = "doris"
	SinkClickHouse = "clickhouse"
)

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Metrics: MetricsConfig{Namespace: "MarketSync", Dashboard: "MarketSync"},
		Reader: ReaderConfig{
			Timeout:   30 * time.Second,
			UserAgent: "marketsync/1.0",
			ConnectionPool: ConnectionPoolConfig{
				MaxIdleConns:    10,
				MaxConnsPerHost: 4,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		Sync: SyncConfig{
			Intervals:      []string{"1m", "1h", "1d"},
			DefaultStartMs: 1735689600000,
			Retry:          RetryConfig{Attempts: 2, Delay: 3 * time.Second},
			Cooldown:       time.Second,
		},
		Metadata:  MetadataConfig{MaxOpenConns: 4},
		Doris:     DorisConfig{StreamLoad: StreamLoadConfig{Timeout: 60 * time.Second}},
		Candles:   CandlesConfig{Sink: SinkDoris},
		Integrity: IntegrityConfig{Table: "market_snapshot", ExpectedPerHour: 3600, LookbackDays: 1, Location: "UTC"},
		Archive: ArchiveConfig{
			Prefix:       "sqlite/production",
			WorkDir:      "/tmp/restore_sqlite",
			DatasetTable: "market_snapshot",
			TargetTable:  "market_snapshot",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	config.Archive.Bucket = strings.TrimSpace(config.Archive.Bucket)
	config.Candles.Sink = strings.ToLower(strings.TrimSpace(config.Candles.Sink))

	if err := validateConfig(&config, getAppEnvironment()); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		config.Archive.AccessKeyID = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		config.Archive.SecretAccessKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		config.Archive.Region = strings.TrimSpace(v)
		if config.Metrics.Region == "" {
			config.Metrics.Region = config.Archive.Region
		}
	}
	if v := os.Getenv("ARCHIVE_BUCKET"); v != "" {
		config.Archive.Bucket = strings.TrimSpace(v)
	}
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		config.Metadata.DSN = strings.TrimSpace(v)
	}
	if v := os.Getenv("DORIS_DSN"); v != "" {
		config.Doris.DSN = strings.TrimSpace(v)
	}
	if v := os.Getenv("DORIS_PASSWORD"); v != "" {
		config.Doris.StreamLoad.Password = v
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		config.ClickHouse.DSN = strings.TrimSpace(v)
	}
	if v := os.Getenv("SYNC_DEFAULT_START_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Sync.DefaultStartMs = ms
		}
	}
}

func validateConfig(cfg *Config, env string) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if cfg.App.Version == "" {
		return fmt.Errorf("app.version is required")
	}

	if cfg.Reader.Timeout <= 0 {
		return fmt.Errorf("reader.timeout must be greater than 0")
	}
	for key, src := range cfg.Reader.Sources {
		if src.PageLimit < 0 {
			return fmt.Errorf("reader.sources.%s.page_limit must not be negative", key)
		}
		if src.Pace < 0 {
			return fmt.Errorf("reader.sources.%s.pace must not be negative", key)
		}
	}

	if len(cfg.Sync.Intervals) == 0 {
		return fmt.Errorf("sync.intervals must list at least one interval")
	}
	for _, iv := range cfg.Sync.Intervals {
		switch iv {
		case "1m", "1h", "1d":
		default:
			return fmt.Errorf("sync.intervals: unsupported interval '%s'", iv)
		}
	}
	if cfg.Sync.DefaultStartMs <= 0 {
		return fmt.Errorf("sync.default_start_ms must be greater than 0")
	}
	if cfg.Sync.Retry.Attempts < 0 {
		return fmt.Errorf("sync.retry.attempts must not be negative")
	}

	switch cfg.Candles.Sink {
	case SinkDoris:
	case SinkClickHouse:
		if !cfg.ClickHouse.Enabled {
			return fmt.Errorf("candles.sink is clickhouse but clickhouse.enabled is false")
		}
	default:
		return fmt.Errorf("candles.sink '%s' is invalid", cfg.Candles.Sink)
	}
	if cfg.ClickHouse.Enabled && cfg.ClickHouse.DSN == "" {
		return fmt.Errorf("clickhouse.dsn is required when clickhouse is enabled")
	}

	if cfg.Integrity.ExpectedPerHour <= 0 {
		return fmt.Errorf("integrity.expected_per_hour must be greater than 0")
	}
	if cfg.Integrity.LookbackDays <= 0 {
		return fmt.Errorf("integrity.lookback_days must be greater than 0")
	}
	if _, err := time.LoadLocation(cfg.Integrity.Location); err != nil {
		return fmt.Errorf("integrity.location '%s' is invalid: %w", cfg.Integrity.Location, err)
	}

	if cfg.Archive.Bucket != "" && !isValidS3Bucket(cfg.Archive.Bucket) {
		return fmt.Errorf("archive.bucket '%s' is invalid", cfg.Archive.Bucket)
	}
	if cfg.Archive.WorkDir == "" {
		return fmt.Errorf("archive.work_dir is required")
	}

	if IsProductionLike(env) {
		if cfg.Metadata.DSN == "" {
			return fmt.Errorf("metadata.dsn is required in %s", env)
		}
		if cfg.Doris.DSN == "" {
			return fmt.Errorf("doris.dsn is required in %s", env)
		}
		if cfg.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required in %s", env)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
