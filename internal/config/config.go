package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"price-forecast/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Logging      logging.Config     `mapstructure:"logging"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Journal      JournalConfig      `mapstructure:"journal"`
	Model        ModelConfig        `mapstructure:"model"`
	Feed         FeedConfig         `mapstructure:"feed"`
	Signals      SignalsConfig      `mapstructure:"signals"`
	Retrain      RetrainConfig      `mapstructure:"retrain"`
	Intelligence IntelligenceConfig `mapstructure:"intelligence"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	API          APIConfig          `mapstructure:"api"`
	Alerting     AlertingConfig     `mapstructure:"alerting"`
	Export       ExportConfig       `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// JournalConfig selects the journal backend.
type JournalConfig struct {
	// Backend is "file" or "postgres".
	Backend   string  `mapstructure:"backend"`
	Path      string  `mapstructure:"path"`
	Threshold float64 `mapstructure:"threshold"`
}

// ModelConfig covers training and persistence of the forecast model.
type ModelConfig struct {
	Path                string  `mapstructure:"path"`
	HistoryDays         int     `mapstructure:"history_days"`
	MinHistory          int     `mapstructure:"min_history"`
	HoldoutFraction     float64 `mapstructure:"holdout_fraction"`
	ConfidenceBins      int     `mapstructure:"confidence_bins"`
	ConfidenceTolerance float64 `mapstructure:"confidence_tolerance"`
	Trees               int     `mapstructure:"trees"`
	MaxDepth            int     `mapstructure:"max_depth"`
	MinSamplesLeaf      int     `mapstructure:"min_samples_leaf"`
	LearningRate        float64 `mapstructure:"learning_rate"`
	DriftWindow         int     `mapstructure:"drift_window"`
}

// FeedConfig points at the daily candle source.
type FeedConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
}

// SignalsConfig configures the headline risk source.
type SignalsConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	LookbackDays      int           `mapstructure:"lookback_days"`
	RiskKeywords      []string      `mapstructure:"risk_keywords"`
	EarningsKeywords  []string      `mapstructure:"earnings_keywords"`
	Redis             RedisConfig   `mapstructure:"redis"`
}

// RedisConfig enables the headline cache when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// RetrainConfig drives the retrain state machine and the builder hook.
type RetrainConfig struct {
	Threshold       float64       `mapstructure:"threshold"`
	ConsecutiveDays int           `mapstructure:"consecutive_days"`
	BuilderCommand  []string      `mapstructure:"builder_command"`
	BuilderTimeout  time.Duration `mapstructure:"builder_timeout"`
}

// IntelligenceConfig holds the aggregator weights.
type IntelligenceConfig struct {
	Weights    WeightsConfig `mapstructure:"weights"`
	AlertBelow float64       `mapstructure:"alert_below"`
}

// WeightsConfig are normalized before use.
type WeightsConfig struct {
	Geopolitical float64 `mapstructure:"geopolitical"`
	Technical    float64 `mapstructure:"technical"`
	ML           float64 `mapstructure:"ml"`
}

// SchedulerConfig governs the daily cycle.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	Offset          time.Duration `mapstructure:"offset"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
	Tickers         []string      `mapstructure:"tickers"`
}

// APIConfig configures the HTTP front end.
type APIConfig struct {
	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig routes retrain and low-score notifications.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICECAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricecast")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("journal.backend", "file")
	v.SetDefault("journal.path", "data/journal.jsonl")
	v.SetDefault("journal.threshold", 85.0)

	v.SetDefault("model.path", "data/model.json")
	v.SetDefault("model.history_days", 504)
	v.SetDefault("model.min_history", 30)
	v.SetDefault("model.holdout_fraction", 0.2)
	v.SetDefault("model.confidence_bins", 4)
	v.SetDefault("model.confidence_tolerance", 0.15)
	v.SetDefault("model.trees", 150)
	v.SetDefault("model.max_depth", 3)
	v.SetDefault("model.min_samples_leaf", 5)
	v.SetDefault("model.learning_rate", 0.05)
	v.SetDefault("model.drift_window", 60)

	v.SetDefault("feed.base_url", "https://query1.finance.yahoo.com/v8/finance/chart")
	v.SetDefault("feed.request_timeout", "10s")
	v.SetDefault("feed.user_agent", "pricecast/1.0")
	v.SetDefault("feed.requests_per_minute", 30)

	v.SetDefault("signals.enabled", false)
	v.SetDefault("signals.base_url", "https://finnhub.io/api/v1")
	v.SetDefault("signals.timeout", "3s")
	v.SetDefault("signals.requests_per_minute", 60)
	v.SetDefault("signals.lookback_days", 2)
	v.SetDefault("signals.redis.ttl", "6h")

	v.SetDefault("retrain.threshold", 85.0)
	v.SetDefault("retrain.consecutive_days", 3)
	v.SetDefault("retrain.builder_timeout", "30m")

	v.SetDefault("intelligence.weights.geopolitical", 0.3)
	v.SetDefault("intelligence.weights.technical", 0.3)
	v.SetDefault("intelligence.weights.ml", 0.4)
	v.SetDefault("intelligence.alert_below", 40.0)

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70636173))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.offset", "21h30m")
	v.SetDefault("scheduler.run_on_start", false)
	v.SetDefault("scheduler.tickers", []string{})

	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "30s")
	v.SetDefault("api.request_timeout", "15s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	switch c.Journal.Backend {
	case "file":
		if c.Journal.Path == "" {
			return fmt.Errorf("journal.path is required for the file backend")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("journal.backend must be file or postgres, got %q", c.Journal.Backend)
	}
	if c.Journal.Threshold <= 0 || c.Journal.Threshold > 100 {
		return fmt.Errorf("journal.threshold must be in (0, 100]")
	}
	if c.Retrain.Threshold <= 0 || c.Retrain.Threshold > 100 {
		return fmt.Errorf("retrain.threshold must be in (0, 100]")
	}
	if c.Retrain.ConsecutiveDays < 1 {
		return fmt.Errorf("retrain.consecutive_days must be at least 1")
	}
	if c.Model.MinHistory < 26 {
		return fmt.Errorf("model.min_history must be at least 26")
	}
	if c.Model.HoldoutFraction <= 0 || c.Model.HoldoutFraction >= 1 {
		return fmt.Errorf("model.holdout_fraction must be in (0, 1)")
	}
	w := c.Intelligence.Weights
	if w.Geopolitical < 0 || w.Technical < 0 || w.ML < 0 {
		return fmt.Errorf("intelligence.weights cannot be negative")
	}
	if w.Geopolitical+w.Technical+w.ML == 0 {
		return fmt.Errorf("intelligence.weights must not all be zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
