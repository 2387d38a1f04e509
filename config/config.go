// Package config loads the application configuration from a YAML file,
// an optional .env file and FORXBOT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// EnvPrefix is prepended to every environment override, e.g.
// FORXBOT_BROKER_TOKEN overrides broker.token.
const EnvPrefix = "FORXBOT"

// Config holds all application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Population PopulationConfig `mapstructure:"population"`
	Notify     NotifyConfig     `mapstructure:"notify"`
}

type AppConfig struct {
	Name      string `mapstructure:"name"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr"`
	MetricsAddr  string        `mapstructure:"metrics_addr"`
	TOTPSecret   string        `mapstructure:"totp_secret"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// BrokerConfig selects and configures the execution venue.
type BrokerConfig struct {
	Kind            string        `mapstructure:"kind"`        // oanda | paper
	Environment     string        `mapstructure:"environment"` // practice | live
	BaseURL         string        `mapstructure:"base_url"`
	AccountID       string        `mapstructure:"account_id"`
	Token           string        `mapstructure:"token"`
	Timeout         time.Duration `mapstructure:"timeout"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerReset    time.Duration `mapstructure:"breaker_reset"`
	PaperBalance    float64       `mapstructure:"paper_balance"`
	PaperCurrency   string        `mapstructure:"paper_currency"`
	SlippageBps     int64         `mapstructure:"slippage_bps"`
}

type StorageConfig struct {
	SQLitePath    string        `mapstructure:"sqlite_path"`
	RedisAddr     string        `mapstructure:"redis_addr"` // empty disables redis
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	PersistBars   int           `mapstructure:"persist_bars"` // newest values kept per indicator run
}

// TradingConfig drives the analysis loop.
type TradingConfig struct {
	Instruments     []string          `mapstructure:"instruments"`
	Interval        time.Duration     `mapstructure:"interval"`
	Workers         int               `mapstructure:"workers"`
	Threshold       float64           `mapstructure:"threshold"`
	IndicatorConfig string            `mapstructure:"indicator_config"`
	Tiers           map[string]string `mapstructure:"tiers"` // tier -> granularity
	CandleCount     int               `mapstructure:"candle_count"`
	IgnoreHours     bool              `mapstructure:"ignore_market_hours"`
}

type PopulationConfig struct {
	Granularities []string      `mapstructure:"granularities"`
	Count         int           `mapstructure:"count"`
	Interval      time.Duration `mapstructure:"interval"` // 0 disables periodic refresh
	OnStartup     bool          `mapstructure:"on_startup"`
}

type NotifyConfig struct {
	Telegram   TelegramConfig `mapstructure:"telegram"`
	WebhookURL string         `mapstructure:"webhook_url"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// DefaultInstruments are the six majors populated and analysed by default.
var DefaultInstruments = []string{"EUR_USD", "GBP_USD", "USD_JPY", "AUD_USD", "USD_CHF", "USD_CAD"}

// Load reads configuration. path may be empty, in which case only defaults
// and environment variables apply. A .env file in the working directory is
// loaded first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[config] .env not loaded: %v", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
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
	cfg.normalize()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "forxbot")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.metrics_addr", ":9090")
	v.SetDefault("http.totp_secret", "")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "30s")

	v.SetDefault("broker.kind", "paper")
	v.SetDefault("broker.environment", "practice")
	v.SetDefault("broker.base_url", "")
	v.SetDefault("broker.account_id", "")
	v.SetDefault("broker.token", "")
	v.SetDefault("broker.timeout", "15s")
	v.SetDefault("broker.breaker_failures", 5)
	v.SetDefault("broker.breaker_reset", "30s")
	v.SetDefault("broker.paper_balance", 100000.0)
	v.SetDefault("broker.paper_currency", "USD")
	v.SetDefault("broker.slippage_bps", 1)

	v.SetDefault("storage.sqlite_path", "data/forxbot.db")
	v.SetDefault("storage.redis_addr", "")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.cache_ttl", "30s")
	v.SetDefault("storage.persist_bars", 50)

	v.SetDefault("trading.instruments", DefaultInstruments)
	v.SetDefault("trading.interval", "1m")
	v.SetDefault("trading.workers", 4)
	v.SetDefault("trading.threshold", 0.7)
	v.SetDefault("trading.indicator_config", "config/indicators.yml")
	v.SetDefault("trading.tiers", map[string]string{"macro": "M", "daily": "D", "micro": "M1"})
	v.SetDefault("trading.candle_count", 500)
	v.SetDefault("trading.ignore_market_hours", false)

	v.SetDefault("population.granularities", []string{"M1", "D", "M"})
	v.SetDefault("population.count", 500)
	v.SetDefault("population.interval", "0s")
	v.SetDefault("population.on_startup", false)

	v.SetDefault("notify.telegram.enabled", false)
	v.SetDefault("notify.telegram.bot_token", "")
	v.SetDefault("notify.telegram.chat_id", 0)
	v.SetDefault("notify.webhook_url", "")
}

// normalize upper-cases instruments and lower-cases tier keys.
func (c *Config) normalize() {
	for i, inst := range c.Trading.Instruments {
		c.Trading.Instruments[i] = strings.ToUpper(strings.TrimSpace(inst))
	}
	tiers := make(map[string]string, len(c.Trading.Tiers))
	for k, g := range c.Trading.Tiers {
		tiers[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(g)
	}
	c.Trading.Tiers = tiers
	c.Broker.Kind = strings.ToLower(c.Broker.Kind)
	c.Broker.Environment = strings.ToLower(c.Broker.Environment)
}

// Validate checks that all configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}

	switch c.Broker.Kind {
	case "paper":
		if c.Broker.PaperBalance < 0 {
			return fmt.Errorf("broker.paper_balance must not be negative")
		}
	case "oanda":
		if c.Broker.AccountID == "" {
			return fmt.Errorf("broker.account_id is required for oanda")
		}
		if c.Broker.Token == "" {
			return fmt.Errorf("broker.token is required for oanda")
		}
		if c.Broker.Environment != "practice" && c.Broker.Environment != "live" {
			return fmt.Errorf("broker.environment must be practice or live, got %q", c.Broker.Environment)
		}
		if c.Broker.BaseURL != "" {
			if _, err := url.ParseRequestURI(c.Broker.BaseURL); err != nil {
				return fmt.Errorf("broker.base_url: %w", err)
			}
		}
	default:
		return fmt.Errorf("broker.kind must be oanda or paper, got %q", c.Broker.Kind)
	}
	if c.Broker.SlippageBps < 0 {
		return fmt.Errorf("broker.slippage_bps must not be negative")
	}

	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path is required")
	}
	if c.Storage.PersistBars < 1 {
		return fmt.Errorf("storage.persist_bars must be at least 1")
	}

	if len(c.Trading.Instruments) == 0 {
		return fmt.Errorf("trading.instruments must contain at least one instrument")
	}
	for _, inst := range c.Trading.Instruments {
		if len(inst) != 7 || inst[3] != '_' {
			return fmt.Errorf("trading.instruments: %q is not BASE_QUOTE", inst)
		}
	}
	if c.Trading.Interval < time.Second {
		return fmt.Errorf("trading.interval must be at least 1s")
	}
	if c.Trading.Workers < 1 {
		return fmt.Errorf("trading.workers must be at least 1")
	}
	if c.Trading.Threshold <= 0 || c.Trading.Threshold > 1 {
		return fmt.Errorf("trading.threshold must be in (0, 1]")
	}
	if c.Trading.IndicatorConfig == "" {
		return fmt.Errorf("trading.indicator_config is required")
	}
	for k := range c.Trading.Tiers {
		if _, err := model.ParseTier(k); err != nil {
			return fmt.Errorf("trading.tiers: %w", err)
		}
	}
	if c.Trading.CandleCount < 1 || c.Trading.CandleCount > 5000 {
		return fmt.Errorf("trading.candle_count must be between 1 and 5000")
	}

	if c.Population.Count < 1 || c.Population.Count > 5000 {
		return fmt.Errorf("population.count must be between 1 and 5000")
	}
	if c.Population.Interval < 0 {
		return fmt.Errorf("population.interval must not be negative")
	}

	if c.Notify.Telegram.Enabled {
		if c.Notify.Telegram.BotToken == "" {
			return fmt.Errorf("notify.telegram.bot_token is required when telegram is enabled")
		}
		if c.Notify.Telegram.ChatID == 0 {
			return fmt.Errorf("notify.telegram.chat_id is required when telegram is enabled")
		}
	}
	if c.Notify.WebhookURL != "" {
		if _, err := url.ParseRequestURI(c.Notify.WebhookURL); err != nil {
			return fmt.Errorf("notify.webhook_url: %w", err)
		}
	}
	return nil
}

// Granularity returns the configured granularity for a tier.
func (c *Config) Granularity(t model.Tier) string {
	return c.Trading.Tiers[string(t)]
}

const redacted = "***"

// Redacted returns a copy of c with credentials masked, for display.
func (c *Config) Redacted() Config {
	cp := *c
	cp.Trading.Instruments = append([]string(nil), c.Trading.Instruments...)
	cp.Trading.Tiers = make(map[string]string, len(c.Trading.Tiers))
	for k, v := range c.Trading.Tiers {
		cp.Trading.Tiers[k] = v
	}
	cp.Population.Granularities = append([]string(nil), c.Population.Granularities...)
	mask := func(s *string) {
		if *s != "" {
			*s = redacted
		}
	}
	mask(&cp.HTTP.TOTPSecret)
	mask(&cp.Broker.Token)
	mask(&cp.Storage.RedisPassword)
	mask(&cp.Notify.Telegram.BotToken)
	return cp
}
