package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"bullionwatch/internal/feed"
	"bullionwatch/internal/logging"
	"bullionwatch/internal/scheduler"
)

// State backends.
const (
	StateBackendFile     = "file"
	StateBackendPostgres = "postgres"
	StateBackendMemory   = "memory"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Feed      FeedConfig      `mapstructure:"feed"`
	History   HistoryConfig   `mapstructure:"history"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	State     StateConfig     `mapstructure:"state"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Server    ServerConfig    `mapstructure:"server"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Export    ExportConfig    `mapstructure:"export"`
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
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// FeedConfig locates the live rate feed.
type FeedConfig struct {
	URL            string          `mapstructure:"url"`
	Format         string          `mapstructure:"format"`
	Addressing     feed.Addressing `mapstructure:"addressing"`
	ConnectTimeout time.Duration   `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration   `mapstructure:"read_timeout"`
	UserAgent      string          `mapstructure:"user_agent"`
}

// HistoryConfig locates the historical range endpoint.
type HistoryConfig struct {
	Enabled     bool            `mapstructure:"enabled"`
	URL         string          `mapstructure:"url"`
	Addressing  feed.Addressing `mapstructure:"addressing"`
	EstimatePct float64         `mapstructure:"estimate_pct"`
}

// CacheConfig bounds upstream call volume.
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// SchedulerConfig governs the refresh layers.
type SchedulerConfig struct {
	Timer struct {
		Enabled  bool          `mapstructure:"enabled"`
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"timer"`
	Deferred struct {
		Enabled    bool          `mapstructure:"enabled"`
		MinLatency time.Duration `mapstructure:"min_latency"`
		Deadline   time.Duration `mapstructure:"deadline"`
	} `mapstructure:"deferred"`
	Alarm struct {
		Enabled bool   `mapstructure:"enabled"`
		Spec    string `mapstructure:"spec"`
	} `mapstructure:"alarm"`
	CatchUpAfter       time.Duration `mapstructure:"catch_up_after"`
	StartupDelay       time.Duration `mapstructure:"startup_delay"`
	AutoRefreshDefault bool          `mapstructure:"auto_refresh_default"`
	AdvisoryLockKey    int64         `mapstructure:"advisory_lock_key"`
}

// StateConfig selects where the schedule state is persisted.
type StateConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled         bool           `mapstructure:"enabled"`
	GoldThreshold   int64          `mapstructure:"gold_threshold"`
	SilverThreshold int64          `mapstructure:"silver_threshold"`
	FailureStreak   int            `mapstructure:"failure_streak"`
	Cooldown        time.Duration  `mapstructure:"cooldown"`
	Channels        []string       `mapstructure:"channels"`
	Telegram        TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// NotifyConfig sizes the listener queue.
type NotifyConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// KafkaConfig controls snapshot fan-out.
type KafkaConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	Encoding string   `mapstructure:"encoding"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("BULLIONWATCH")
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
	v.SetDefault("app.name", "bullionwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("feed.url", "https://goldrate.divyanshbansal.com/api/live")
	v.SetDefault("feed.format", "json")
	v.SetDefault("feed.addressing.gold.row", 5)
	v.SetDefault("feed.addressing.gold.column", 1)
	v.SetDefault("feed.addressing.silver.row", 4)
	v.SetDefault("feed.addressing.silver.column", 1)
	v.SetDefault("feed.connect_timeout", "5s")
	v.SetDefault("feed.read_timeout", "5s")
	v.SetDefault("feed.user_agent", "bullionwatch/1.0")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.url", "https://goldrate.divyanshbansal.com/api/rates")
	v.SetDefault("history.addressing.gold.row", 5)
	v.SetDefault("history.addressing.gold.column", 1)
	v.SetDefault("history.addressing.silver.row", 4)
	v.SetDefault("history.addressing.silver.column", 1)
	v.SetDefault("history.estimate_pct", 0.5)

	v.SetDefault("cache.ttl", "1m")

	v.SetDefault("scheduler.timer.enabled", true)
	v.SetDefault("scheduler.timer.interval", "30s")
	v.SetDefault("scheduler.deferred.enabled", true)
	v.SetDefault("scheduler.deferred.min_latency", "10m")
	v.SetDefault("scheduler.deferred.deadline", "10m10s")
	v.SetDefault("scheduler.alarm.enabled", true)
	v.SetDefault("scheduler.alarm.spec", "@every 10m")
	v.SetDefault("scheduler.catch_up_after", "10m")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.auto_refresh_default", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x62776174))

	v.SetDefault("state.backend", StateBackendFile)
	v.SetDefault("state.path", "~/.config/bullionwatch/state.toml")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.gold_threshold", 500)
	v.SetDefault("alerting.silver_threshold", 1000)
	v.SetDefault("alerting.failure_streak", 3)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("notify.queue_size", 16)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "bullion.rates")
	v.SetDefault("kafka.encoding", "json")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)
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
	if strings.TrimSpace(c.Feed.URL) == "" {
		return fmt.Errorf("feed.url is required")
	}
	format, err := feed.ParseFormat(c.Feed.Format)
	if err != nil {
		return fmt.Errorf("feed.format: %w", err)
	}
	if err := validateAddressing("feed.addressing", format, c.Feed.Addressing); err != nil {
		return err
	}
	if c.Feed.ConnectTimeout <= 0 || c.Feed.ReadTimeout <= 0 {
		return fmt.Errorf("feed.connect_timeout and feed.read_timeout must be greater than zero")
	}

	if c.History.Enabled {
		if strings.TrimSpace(c.History.URL) == "" {
			return fmt.Errorf("history.url is required when history is enabled")
		}
		if err := validateAddressing("history.addressing", feed.FormatJSON, c.History.Addressing); err != nil {
			return err
		}
	}
	if c.History.EstimatePct <= 0 || c.History.EstimatePct >= 100 {
		return fmt.Errorf("history.estimate_pct must be between 0 and 100")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be greater than zero")
	}

	s := c.Scheduler
	if s.Timer.Enabled && s.Timer.Interval <= 0 {
		return fmt.Errorf("scheduler.timer.interval must be greater than zero")
	}
	if s.Deferred.Enabled {
		if s.Deferred.MinLatency <= 0 {
			return fmt.Errorf("scheduler.deferred.min_latency must be greater than zero")
		}
		if s.Deferred.Deadline < s.Deferred.MinLatency {
			return fmt.Errorf("scheduler.deferred.deadline must not be shorter than min_latency")
		}
	}
	if s.Alarm.Enabled {
		if err := scheduler.ValidateSpec(s.Alarm.Spec); err != nil {
			return fmt.Errorf("scheduler.alarm.spec: %w", err)
		}
	}

	switch c.State.Backend {
	case StateBackendFile, StateBackendMemory:
	case StateBackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for state.backend=postgres")
		}
	default:
		return fmt.Errorf("state.backend must be one of file, postgres, memory")
	}

	if c.Alerting.GoldThreshold < 0 || c.Alerting.SilverThreshold < 0 {
		return fmt.Errorf("alerting thresholds cannot be negative")
	}
	if c.Alerting.FailureStreak < 0 {
		return fmt.Errorf("alerting.failure_streak cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.brokers and kafka.topic are required when kafka is enabled")
		}
		if c.Kafka.Encoding != "json" && c.Kafka.Encoding != "msgpack" {
			return fmt.Errorf("kafka.encoding must be json or msgpack")
		}
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required when the server is enabled")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

func validateAddressing(key string, format feed.Format, a feed.Addressing) error {
	minRow := 0
	if format == feed.FormatTSV {
		minRow = 1
	}
	for name, addr := range map[string]feed.Address{"gold": a.Gold, "silver": a.Silver} {
		if addr.Row < minRow || addr.Column < 0 {
			return fmt.Errorf("%s.%s: row must be >= %d and column >= 0", key, name, minRow)
		}
	}
	return nil
}

// FeedFormat returns the validated feed format.
func (c *Config) FeedFormat() feed.Format {
	f, _ := feed.ParseFormat(c.Feed.Format)
	return f
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
