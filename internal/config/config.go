package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rewired-gh/polyanalytics/internal/resolution"
)

// EnvPrefix prefixes environment overrides, e.g. PM_DATABASE_PATH.
const EnvPrefix = "PM"

// Config represents the complete application configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Collector  CollectorConfig  `mapstructure:"collector"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	BlackSwan  BlackSwanConfig  `mapstructure:"black_swan"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// DatabaseConfig locates the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// PolymarketConfig holds Polymarket API configuration
type PolymarketConfig struct {
	GammaURL          string        `mapstructure:"gamma_url"`
	ClobURL           string        `mapstructure:"clob_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelayBase    time.Duration `mapstructure:"retry_delay_base"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	PageSize          int           `mapstructure:"page_size"`
	MaxPages          int           `mapstructure:"max_pages"`
	MarketLimit       int           `mapstructure:"market_limit"`
}

// CollectorConfig holds the listing filter and cycle schedule
type CollectorConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	MinVolume           float64       `mapstructure:"min_volume"`
	MinLiquidity        float64       `mapstructure:"min_liquidity"`
	MaxDaysToResolution int           `mapstructure:"max_days_to_resolution"`
	RefreshConcurrency  int           `mapstructure:"refresh_concurrency"`
}

// AnalysisConfig holds calibration and move detection parameters
type AnalysisConfig struct {
	Buckets            []float64     `mapstructure:"buckets"`
	LargeMoveThreshold float64       `mapstructure:"large_move_threshold"`
	LargeMoveWindow    time.Duration `mapstructure:"large_move_window"`
	BlackSwanThreshold float64       `mapstructure:"black_swan_threshold"`
	LookbackDays       int           `mapstructure:"lookback_days"`
}

// BlackSwanConfig drives the API-backed black swan search
type BlackSwanConfig struct {
	LookbackDays   int           `mapstructure:"lookback_days"`
	MinVolume      float64       `mapstructure:"min_volume"`
	PriceThreshold float64       `mapstructure:"price_threshold"`
	CheckDays      []int         `mapstructure:"check_days"`
	Tolerance      time.Duration `mapstructure:"tolerance"`
	Concurrency    int           `mapstructure:"concurrency"`
	MaxPages       int           `mapstructure:"max_pages"`
}

// CacheConfig selects the cache backend for API-derived results
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"` // memory or redis
	TTL           time.Duration `mapstructure:"ttl"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// ServerConfig holds the dashboard API listener
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Pprof        bool          `mapstructure:"pprof"`
}

// StorageConfig holds retention settings. A zero retention disables purging.
type StorageConfig struct {
	Retention time.Duration `mapstructure:"retention"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Load reads configuration from an optional file, a .env file and
// environment variables. A missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "./polymarket_analytics.db")

	v.SetDefault("polymarket.gamma_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.clob_url", "https://clob.polymarket.com")
	v.SetDefault("polymarket.timeout", "30s")
	v.SetDefault("polymarket.max_retries", 3)
	v.SetDefault("polymarket.retry_delay_base", "1s")
	v.SetDefault("polymarket.requests_per_second", 10.0)
	v.SetDefault("polymarket.burst", 5)
	v.SetDefault("polymarket.page_size", 100)
	v.SetDefault("polymarket.max_pages", 10)
	v.SetDefault("polymarket.market_limit", 500)

	v.SetDefault("collector.interval", "1h")
	v.SetDefault("collector.min_volume", 100000.0)
	v.SetDefault("collector.min_liquidity", 0.0)
	v.SetDefault("collector.max_days_to_resolution", 30)
	v.SetDefault("collector.refresh_concurrency", 16)

	v.SetDefault("analysis.buckets", resolution.DefaultBoundaries)
	v.SetDefault("analysis.large_move_threshold", 15.0)
	v.SetDefault("analysis.large_move_window", "24h")
	v.SetDefault("analysis.black_swan_threshold", 80.0)
	v.SetDefault("analysis.lookback_days", 14)

	v.SetDefault("black_swan.lookback_days", 60)
	v.SetDefault("black_swan.min_volume", 100000.0)
	v.SetDefault("black_swan.price_threshold", 0.40)
	v.SetDefault("black_swan.check_days", []int{14, 7, 3})
	v.SetDefault("black_swan.tolerance", "12h")
	v.SetDefault("black_swan.concurrency", 20)
	v.SetDefault("black_swan.max_pages", 20)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "30m")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	v.SetDefault("server.addr", "127.0.0.1:8000")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.pprof", false)

	v.SetDefault("storage.retention", "0s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.max_backups", 5)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Polymarket.GammaURL == "" || c.Polymarket.ClobURL == "" {
		return fmt.Errorf("polymarket.gamma_url and polymarket.clob_url are required")
	}
	if c.Polymarket.Timeout <= 0 {
		return fmt.Errorf("polymarket.timeout must be positive")
	}
	if c.Polymarket.MaxRetries < 1 {
		return fmt.Errorf("polymarket.max_retries must be at least 1")
	}
	if c.Polymarket.PageSize < 1 || c.Polymarket.MaxPages < 1 {
		return fmt.Errorf("polymarket.page_size and polymarket.max_pages must be at least 1")
	}

	if c.Collector.Interval < 1*time.Minute {
		return fmt.Errorf("collector.interval must be at least 1 minute")
	}
	if c.Collector.MinVolume < 0 || c.Collector.MinLiquidity < 0 {
		return fmt.Errorf("collector.min_volume and collector.min_liquidity must be non-negative")
	}
	if c.Collector.MaxDaysToResolution < 0 {
		return fmt.Errorf("collector.max_days_to_resolution must be non-negative")
	}
	if c.Collector.RefreshConcurrency < 1 {
		return fmt.Errorf("collector.refresh_concurrency must be at least 1")
	}

	if err := resolution.ValidateBoundaries(c.Analysis.Buckets); err != nil {
		return fmt.Errorf("analysis.buckets: %w", err)
	}
	if c.Analysis.LargeMoveThreshold <= 0 || c.Analysis.LargeMoveThreshold > 100 {
		return fmt.Errorf("analysis.large_move_threshold must be in (0, 100]")
	}
	if c.Analysis.LargeMoveWindow < 1*time.Minute {
		return fmt.Errorf("analysis.large_move_window must be at least 1 minute")
	}
	if c.Analysis.BlackSwanThreshold < 50 || c.Analysis.BlackSwanThreshold > 100 {
		return fmt.Errorf("analysis.black_swan_threshold must be between 50 and 100")
	}
	if c.Analysis.LookbackDays < 1 {
		return fmt.Errorf("analysis.lookback_days must be at least 1")
	}

	if c.BlackSwan.PriceThreshold <= 0 || c.BlackSwan.PriceThreshold >= 1 {
		return fmt.Errorf("black_swan.price_threshold must be between 0 and 1")
	}
	if len(c.BlackSwan.CheckDays) == 0 {
		return fmt.Errorf("black_swan.check_days must not be empty")
	}
	if c.BlackSwan.Concurrency < 1 {
		return fmt.Errorf("black_swan.concurrency must be at least 1")
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be one of: memory, redis")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
		if c.Telegram.MaxRetries < 1 {
			return fmt.Errorf("telegram.max_retries must be at least 1")
		}
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Storage.Retention < 0 {
		return fmt.Errorf("storage.retention must be non-negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}
	if c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("logging.max_age_days must be non-negative")
	}

	return nil
}
