package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // scheduler.timezone must resolve on hosts without zoneinfo

	"github.com/rewired-gh/pricewatch/internal/models"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Evaluator EvaluatorConfig `mapstructure:"evaluator"`
	Source    SourceConfig    `mapstructure:"source"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SchedulerConfig holds the cycle and daily reset cadences
type SchedulerConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	DailyResetTime string        `mapstructure:"daily_reset_time"` // HH:MM
	Timezone       string        `mapstructure:"timezone"`
	SingleFlight   bool          `mapstructure:"single_flight"` // skip a fire while the previous run is in progress
	CycleTimeout   time.Duration `mapstructure:"cycle_timeout"`
}

// EvaluatorConfig holds alert evaluation configuration
type EvaluatorConfig struct {
	Workers int `mapstructure:"workers"`
}

// SourceConfig holds price source configuration
type SourceConfig struct {
	Kind           string            `mapstructure:"kind"`    // simulated or http
	Symbols        map[string]string `mapstructure:"symbols"` // symbol -> seed price
	BaseURL        string            `mapstructure:"base_url"`
	Timeout        time.Duration     `mapstructure:"timeout"`
	MaxRetries     int               `mapstructure:"max_retries"`
	RetryDelayBase time.Duration     `mapstructure:"retry_delay_base"`
	Volatility     float64           `mapstructure:"volatility"`
	Concurrency    int               `mapstructure:"concurrency"`
	RandomSeed     uint64            `mapstructure:"random_seed"` // 0 = time based
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	Driver        string `mapstructure:"driver"` // sqlite or mongo
	DBPath        string `mapstructure:"db_path"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads configuration from file and environment variables.
// An empty path loads defaults and environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// PRICEWATCH_SCHEDULER_INTERVAL overrides scheduler.interval, and so on.
	v.SetEnvPrefix("PRICEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	// Viper merges nested map defaults key by key, so the default watchlist
	// is applied only when none is configured.
	if len(cfg.Source.Symbols) == 0 {
		cfg.Source.Symbols = DefaultSymbols()
	}

	return &cfg, nil
}

// DefaultSymbols is the watchlist used when source.symbols is not configured.
func DefaultSymbols() map[string]string {
	return map[string]string{
		"AAPL": "150.00",
		"MSFT": "320.00",
		"TSLA": "200.00",
	}
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Scheduler defaults
	v.SetDefault("scheduler.interval", "30s")
	v.SetDefault("scheduler.daily_reset_time", "00:00")
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.single_flight", true)
	v.SetDefault("scheduler.cycle_timeout", "25s")

	v.SetDefault("evaluator.workers", 8)

	// Source defaults
	v.SetDefault("source.kind", "simulated")
	v.SetDefault("source.base_url", "")
	v.SetDefault("source.timeout", "10s")
	v.SetDefault("source.max_retries", 3)
	v.SetDefault("source.retry_delay_base", "1s")
	v.SetDefault("source.volatility", 0.01)
	v.SetDefault("source.concurrency", 4)
	v.SetDefault("source.random_seed", 0)

	// Storage defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.db_path", "./data/pricewatch.db")
	v.SetDefault("storage.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("storage.mongo_database", "pricewatch")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", true)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Scheduler config
	if c.Scheduler.Interval < time.Second {
		return fmt.Errorf("scheduler.interval must be at least 1 second")
	}
	if _, err := time.Parse("15:04", c.Scheduler.DailyResetTime); err != nil {
		return fmt.Errorf("scheduler.daily_reset_time must be HH:MM, got %q", c.Scheduler.DailyResetTime)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Scheduler.CycleTimeout < 0 {
		return fmt.Errorf("scheduler.cycle_timeout must not be negative")
	}

	if c.Evaluator.Workers < 1 {
		return fmt.Errorf("evaluator.workers must be at least 1")
	}

	// Validate Source config
	if len(c.Source.Symbols) == 0 {
		return fmt.Errorf("source.symbols must contain at least one symbol")
	}
	if _, err := c.SeedPrices(); err != nil {
		return err
	}
	switch c.Source.Kind {
	case "simulated":
		if c.Source.Volatility <= 0 || c.Source.Volatility >= 1 {
			return fmt.Errorf("source.volatility must be between 0 and 1 (exclusive)")
		}
	case "http":
		if c.Source.BaseURL == "" {
			return fmt.Errorf("source.base_url is required when source.kind is http")
		}
		if c.Source.Concurrency < 1 {
			return fmt.Errorf("source.concurrency must be at least 1")
		}
		if c.Source.MaxRetries < 1 {
			return fmt.Errorf("source.max_retries must be at least 1")
		}
	default:
		return fmt.Errorf("source.kind must be one of: simulated, http")
	}

	// Validate Storage config
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("storage.db_path is required when storage.driver is sqlite")
		}
	case "mongo":
		if c.Storage.MongoURI == "" {
			return fmt.Errorf("storage.mongo_uri is required when storage.driver is mongo")
		}
		if c.Storage.MongoDatabase == "" {
			return fmt.Errorf("storage.mongo_database is required when storage.driver is mongo")
		}
	default:
		return fmt.Errorf("storage.driver must be one of: sqlite, mongo")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Location returns the scheduler time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone %q is invalid: %w", c.Scheduler.Timezone, err)
	}
	return loc, nil
}

// SeedPrices returns the configured symbols with their seed prices. Symbols
// are uppercased since config keys are case-insensitive.
func (c *Config) SeedPrices() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(c.Source.Symbols))
	for sym, raw := range c.Source.Symbols {
		price, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || !price.IsPositive() {
			return nil, fmt.Errorf("source.symbols.%s must be a positive price, got %q", sym, raw)
		}
		out[models.NormalizeSymbol(sym)] = price
	}
	return out, nil
}

// SymbolList returns the configured symbols, uppercased.
func (c *Config) SymbolList() []string {
	out := make([]string, 0, len(c.Source.Symbols))
	for sym := range c.Source.Symbols {
		out = append(out, models.NormalizeSymbol(sym))
	}
	return out
}
