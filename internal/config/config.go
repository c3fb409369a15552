package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"pesowatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Forex     ForexConfig     `mapstructure:"forex"`
	Server    ServerConfig    `mapstructure:"server"`
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
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs the periodic rate refresh.
type SchedulerConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	StartupDelay        time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey     int64         `mapstructure:"advisory_lock_key"`
	MarketTimezone      string        `mapstructure:"market_timezone"`
	MarketOpenHour      int           `mapstructure:"market_open_hour"`
	MarketCloseHour     int           `mapstructure:"market_close_hour"`
	InitialBackfillDays int           `mapstructure:"initial_backfill_days"`
}

// ForexConfig captures upstream rate API connectivity.
type ForexConfig struct {
	Provider       string        `mapstructure:"provider"`
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	DollarIndex    bool          `mapstructure:"dollar_index"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// ServerConfig defines the HTTP API surface.
type ServerConfig struct {
	ListenAddr   string            `mapstructure:"listen_addr"`
	CORSOrigin   string            `mapstructure:"cors_origin"`
	ReadTimeout  time.Duration     `mapstructure:"read_timeout"`
	WriteTimeout time.Duration     `mapstructure:"write_timeout"`
	Tokens       map[string]string `mapstructure:"tokens"` // bearer token -> owner id
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Known forex providers.
const (
	ProviderFrankfurter      = "frankfurter"
	ProviderExchangerateHost = "exchangerate.host"
)

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PESOWATCH")
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

	cfg.applyClamps()

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
	v.SetDefault("app.name", "pesowatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x70687052)) // "phpR"
	v.SetDefault("scheduler.market_timezone", "Asia/Manila")
	v.SetDefault("scheduler.market_open_hour", 9)
	v.SetDefault("scheduler.market_close_hour", 16)
	v.SetDefault("scheduler.initial_backfill_days", 365)

	v.SetDefault("forex.provider", ProviderFrankfurter)
	v.SetDefault("forex.request_timeout", "10s")
	v.SetDefault("forex.user_agent", "pesowatch/1.0")
	v.SetDefault("forex.dollar_index", true)
	v.SetDefault("forex.max_retries", 3)

	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
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

// applyClamps normalises values that have a sane floor instead of rejecting
// them outright.
func (c *Config) applyClamps() {
	if c.Scheduler.Interval < time.Minute {
		c.Scheduler.Interval = time.Minute
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	switch c.Forex.Provider {
	case ProviderFrankfurter, ProviderExchangerateHost:
	default:
		return fmt.Errorf("forex.provider must be %q or %q", ProviderFrankfurter, ProviderExchangerateHost)
	}
	if c.Scheduler.MarketOpenHour < 0 || c.Scheduler.MarketOpenHour > 23 {
		return fmt.Errorf("scheduler.market_open_hour out of range")
	}
	if c.Scheduler.MarketCloseHour < 1 || c.Scheduler.MarketCloseHour > 24 {
		return fmt.Errorf("scheduler.market_close_hour out of range")
	}
	if c.Scheduler.MarketCloseHour <= c.Scheduler.MarketOpenHour {
		return fmt.Errorf("scheduler.market_close_hour must be after market_open_hour")
	}
	if c.Scheduler.InitialBackfillDays < 0 {
		return fmt.Errorf("scheduler.initial_backfill_days cannot be negative")
	}
	if c.Scheduler.MarketTimezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.MarketTimezone); err != nil {
			return fmt.Errorf("scheduler.market_timezone: %w", err)
		}
	}
	return nil
}

// MarketLocation resolves the configured market timezone, nil when gating is
// disabled.
func (c *Config) MarketLocation() *time.Location {
	if c.Scheduler.MarketTimezone == "" {
		return nil
	}
	loc, err := time.LoadLocation(c.Scheduler.MarketTimezone)
	if err != nil {
		return nil
	}
	return loc
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
