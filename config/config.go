package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"patternpilot/internal/backtest"
)

// Config holds all workbench configuration. Values come from an optional
// YAML file, then environment overrides, then defaults.
type Config struct {
	Log struct {
		Level  string `yaml:"level"`  // debug|info|warn|error
		Format string `yaml:"format"` // json|text
	} `yaml:"log"`

	HTTP struct {
		Addr        string `yaml:"addr"`
		MetricsAddr string `yaml:"metrics_addr"`
	} `yaml:"http"`

	Redis struct {
		Enabled    bool   `yaml:"enabled"`
		Addr       string `yaml:"addr"`
		Password   string `yaml:"password"`
		DB         int    `yaml:"db"`
		TTLSeconds int    `yaml:"ttl_seconds"`
	} `yaml:"redis"`

	Storage struct {
		SQLitePath  string `yaml:"sqlite_path"`
		ParquetDir  string `yaml:"parquet_dir"`
		BundlesFile string `yaml:"bundles_file"`
		ModelsFile  string `yaml:"models_file"`
	} `yaml:"storage"`

	Provider struct {
		Proxy          string `yaml:"proxy"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"provider"`

	Rotation struct {
		Benchmark    string   `yaml:"benchmark"`
		Members      []string `yaml:"members"` // empty = sector ETFs
		Window       int      `yaml:"window"`
		Trail        int      `yaml:"trail"`
		LookbackDays int      `yaml:"lookback_days"`
		Weekly       bool     `yaml:"weekly"`
		RefreshCron  string   `yaml:"refresh_cron"`
	} `yaml:"rotation"`

	Backtest backtest.Config `yaml:"backtest"`

	WalkForward struct {
		BuyAt  float64 `yaml:"buy_at"`
		SellAt float64 `yaml:"sell_at"`
	} `yaml:"walk_forward"`

	Notify struct {
		TelegramBotToken string `yaml:"telegram_bot_token"`
		TelegramChatID   string `yaml:"telegram_chat_id"`
		WebhookURL       string `yaml:"webhook_url"`
	} `yaml:"notify"`
}

// Load reads path (a missing file is fine), applies environment overrides
// and fills defaults. It does not validate.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.Backtest = backtest.DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.MetricsAddr = getEnv("METRICS_ADDR", c.HTTP.MetricsAddr)

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.TTLSeconds = getEnvInt("CACHE_TTL_SECONDS", c.Redis.TTLSeconds)

	c.Storage.SQLitePath = getEnv("SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.ParquetDir = getEnv("PARQUET_DIR", c.Storage.ParquetDir)
	c.Storage.BundlesFile = getEnv("BUNDLES_FILE", c.Storage.BundlesFile)
	c.Storage.ModelsFile = getEnv("MODELS_FILE", c.Storage.ModelsFile)

	c.Provider.Proxy = getEnv("HTTPS_PROXY", c.Provider.Proxy)

	c.Rotation.Benchmark = getEnv("ROTATION_BENCHMARK", c.Rotation.Benchmark)
	if v := os.Getenv("ROTATION_MEMBERS"); v != "" {
		c.Rotation.Members = splitList(v)
	}
	c.Rotation.RefreshCron = getEnv("ROTATION_CRON", c.Rotation.RefreshCron)

	c.Notify.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", c.Notify.TelegramBotToken)
	c.Notify.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Notify.TelegramChatID)
	c.Notify.WebhookURL = getEnv("ALERT_WEBHOOK_URL", c.Notify.WebhookURL)
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.MetricsAddr == "" {
		c.HTTP.MetricsAddr = ":9090"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.TTLSeconds == 0 {
		c.Redis.TTLSeconds = 3600
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/workbench.db"
	}
	if c.Storage.ParquetDir == "" {
		c.Storage.ParquetDir = "data/datasets"
	}
	if c.Storage.BundlesFile == "" {
		c.Storage.BundlesFile = "data/bundles.json"
	}
	if c.Storage.ModelsFile == "" {
		c.Storage.ModelsFile = "data/models.json"
	}
	if c.Provider.TimeoutSeconds == 0 {
		c.Provider.TimeoutSeconds = 30
	}
	c.Rotation.Benchmark = strings.ToUpper(strings.TrimSpace(c.Rotation.Benchmark))
	if c.Rotation.Benchmark == "" {
		c.Rotation.Benchmark = "SPY"
	}
	c.Rotation.Members = splitList(strings.Join(c.Rotation.Members, ","))
	if c.Rotation.Window == 0 {
		c.Rotation.Window = 10
	}
	if c.Rotation.Trail == 0 {
		c.Rotation.Trail = 5
	}
	if c.Rotation.LookbackDays == 0 {
		c.Rotation.LookbackDays = 365
	}
	if c.Rotation.RefreshCron == "" {
		// 16:30 New York, after the close, on weekdays.
		c.Rotation.RefreshCron = "CRON_TZ=America/New_York 0 30 16 * * 1-5"
	}
	if c.WalkForward.BuyAt == 0 && c.WalkForward.SellAt == 0 {
		c.WalkForward.BuyAt, c.WalkForward.SellAt = 0.55, 0.45
	}
}

// Validate checks ranges and parses the cron spec.
func (c *Config) Validate() error {
	if err := c.Backtest.Validate(); err != nil {
		return fmt.Errorf("backtest: %w", err)
	}
	if c.Rotation.Window < 1 {
		return fmt.Errorf("rotation.window must be >= 1")
	}
	if c.Rotation.Trail < 1 {
		return fmt.Errorf("rotation.trail must be >= 1")
	}
	if c.Rotation.LookbackDays < 30 {
		return fmt.Errorf("rotation.lookback_days must be >= 30")
	}
	if _, err := CronParser.Parse(c.Rotation.RefreshCron); err != nil {
		return fmt.Errorf("rotation.refresh_cron: %w", err)
	}
	if c.WalkForward.SellAt >= c.WalkForward.BuyAt || c.WalkForward.SellAt < 0 || c.WalkForward.BuyAt > 1 {
		return fmt.Errorf("walk_forward thresholds must satisfy 0 <= sell_at < buy_at <= 1")
	}
	if (c.Notify.TelegramBotToken == "") != (c.Notify.TelegramChatID == "") {
		return fmt.Errorf("notify: telegram_bot_token and telegram_chat_id must be set together")
	}
	return nil
}

// CacheTTL returns the Redis TTL as a duration.
func (c *Config) CacheTTL() time.Duration { return time.Duration(c.Redis.TTLSeconds) * time.Second }

// ProviderTimeout returns the HTTP timeout for upstream fetches.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutSeconds) * time.Second
}

// CronParser accepts the six-field (with seconds) specs used in config.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] ignoring invalid %s=%q", key, v)
		return fallback
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}
