package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/zono819/tradecore/internal/usecase/execution"
	"github.com/zono819/tradecore/internal/usecase/risk"
	"github.com/zono819/tradecore/internal/usecase/tracker"
)

// Config represents application configuration
type Config struct {
	App       AppConfig        `yaml:"app"`
	Exchange  ExchangeConfig   `yaml:"exchange"`
	Risk      risk.Config      `yaml:"risk"`
	Tracker   tracker.Config   `yaml:"tracker"`
	Execution execution.Config `yaml:"execution"`
	Storage   StorageConfig    `yaml:"storage"`
	HTTP      HTTPConfig       `yaml:"http"`
	Log       LogConfig        `yaml:"log"`
	Engine    EngineConfig     `yaml:"engine"`
}

// AppConfig represents application settings
type AppConfig struct {
	Name           string        `yaml:"name"`
	Environment    string        `yaml:"environment"`
	DryRun         bool          `yaml:"dry_run"`
	GracePeriod    time.Duration `yaml:"grace_period"`
	InitialCapital float64       `yaml:"initial_capital"`
}

// ExchangeConfig represents exchange connection settings
type ExchangeConfig struct {
	Name       string        `yaml:"name"`
	BaseURL    string        `yaml:"base_url"`
	WSURL      string        `yaml:"ws_url"`
	PrivateURL string        `yaml:"private_ws_url"`
	APIKey     string        `yaml:"api_key"`
	APISecret  string        `yaml:"api_secret"`
	Passphrase string        `yaml:"passphrase"`
	Demo       bool          `yaml:"demo"`
	Timeout    time.Duration `yaml:"timeout"`
	TradeMode  string        `yaml:"trade_mode"`
	PaperFee   float64       `yaml:"paper_fee_rate"` // fee rate charged by the dry-run venue
}

// StorageConfig selects and configures the repository backend
type StorageConfig struct {
	Driver   string         `yaml:"driver"` // memory, sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig represents sqlite settings
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig represents postgres connection settings
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	DSN      string `yaml:"dsn"`
}

// HTTPConfig represents the API server settings
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig represents logging settings
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// EngineConfig represents engine settings
type EngineConfig struct {
	Instruments       []string      `yaml:"instruments"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:           "tradecore",
			Environment:    "development",
			GracePeriod:    10 * time.Second,
			InitialCapital: 10000,
		},
		Exchange: ExchangeConfig{
			Name:       "okx",
			BaseURL:    "https://www.okx.com",
			WSURL:      "wss://ws.okx.com:8443/ws/v5/public",
			PrivateURL: "wss://ws.okx.com:8443/ws/v5/private",
			Timeout:    10 * time.Second,
			TradeMode:  "cash",
			PaperFee:   0.001,
		},
		Risk:      *risk.DefaultConfig(),
		Tracker:   tracker.DefaultConfig(),
		Execution: execution.DefaultConfig(),
		Storage: StorageConfig{
			Driver: "memory",
			SQLite: SQLiteConfig{Path: "data/tradecore.db"},
			Postgres: PostgresConfig{
				Host:    "localhost",
				Port:    5432,
				SSLMode: "disable",
			},
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 30,
		},
		Engine: EngineConfig{
			Instruments:       []string{"BTC-USDT"},
			ReconcileInterval: time.Minute,
		},
	}
}

// Load loads configuration from YAML file, then .env, then environment
// overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from YAML file
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// .env is optional and never overrides variables already set
	_ = godotenv.Load()

	cfg.loadEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadEnvOverrides overrides config with environment variables
func (c *Config) loadEnvOverrides() {
	// Exchange settings
	setString(&c.Exchange.APIKey, "EXCHANGE_API_KEY")
	setString(&c.Exchange.APISecret, "EXCHANGE_API_SECRET")
	setString(&c.Exchange.Passphrase, "EXCHANGE_PASSPHRASE")
	setString(&c.Exchange.BaseURL, "EXCHANGE_BASE_URL")
	setString(&c.Exchange.WSURL, "EXCHANGE_WS_URL")
	setString(&c.Exchange.PrivateURL, "EXCHANGE_PRIVATE_WS_URL")
	setBool(&c.Exchange.Demo, "EXCHANGE_DEMO")

	// App settings
	setString(&c.App.Environment, "APP_ENVIRONMENT")
	setBool(&c.App.DryRun, "APP_DRY_RUN")

	// Storage settings
	setString(&c.Storage.Driver, "STORAGE_DRIVER")
	setString(&c.Storage.SQLite.Path, "SQLITE_PATH")
	setString(&c.Storage.Postgres.DSN, "POSTGRES_DSN")
	setString(&c.Storage.Postgres.Host, "POSTGRES_HOST")
	setString(&c.Storage.Postgres.User, "POSTGRES_USER")
	setString(&c.Storage.Postgres.Password, "POSTGRES_PASSWORD")
	setString(&c.Storage.Postgres.Database, "POSTGRES_DB")
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Storage.Postgres.Port = n
		}
	}

	setString(&c.HTTP.Addr, "HTTP_ADDR")

	// Log settings
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.File, "LOG_FILE")

	// Risk settings
	setFloat(&c.Risk.MaxOrderSize, "RISK_MAX_ORDER_SIZE")
	setFloat(&c.Risk.MaxOrderValue, "RISK_MAX_ORDER_VALUE")
	setFloat(&c.Risk.MaxDailyLoss, "RISK_MAX_DAILY_LOSS")

	if v := os.Getenv("ENGINE_INSTRUMENTS"); v != "" {
		var instruments []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				instruments = append(instruments, s)
			}
		}
		c.Engine.Instruments = instruments
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// Validate validates configuration and fills zero values with defaults
func (c *Config) Validate() error {
	if !c.App.DryRun {
		if c.Exchange.APIKey == "" {
			return fmt.Errorf("exchange.api_key is required")
		}
		if c.Exchange.APISecret == "" {
			return fmt.Errorf("exchange.api_secret is required")
		}
		if c.Exchange.Passphrase == "" {
			return fmt.Errorf("exchange.passphrase is required")
		}
	}

	switch c.Storage.Driver {
	case "":
		c.Storage.Driver = "memory"
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	if c.Storage.Driver == "sqlite" && c.Storage.SQLite.Path == "" {
		return fmt.Errorf("storage.sqlite.path is required")
	}

	if len(c.Engine.Instruments) == 0 {
		return fmt.Errorf("engine.instruments is required")
	}
	if c.Engine.ReconcileInterval <= 0 {
		c.Engine.ReconcileInterval = time.Minute
	}
	if c.App.GracePeriod <= 0 {
		c.App.GracePeriod = 10 * time.Second
	}
	if c.App.InitialCapital <= 0 {
		c.App.InitialCapital = 10000
	}
	if c.Exchange.Timeout <= 0 {
		c.Exchange.Timeout = 10 * time.Second
	}
	switch c.Exchange.TradeMode {
	case "":
		c.Exchange.TradeMode = "cash"
	case "cash", "cross", "isolated":
	default:
		return fmt.Errorf("exchange.trade_mode %q is not supported", c.Exchange.TradeMode)
	}

	if c.Risk.MaxOrderSize <= 0 {
		return fmt.Errorf("risk.max_order_size must be positive")
	}
	if c.Risk.MinOrderSize < 0 || c.Risk.MinOrderSize > c.Risk.MaxOrderSize {
		return fmt.Errorf("risk.min_order_size must be between 0 and max_order_size")
	}
	if c.Tracker.PollInterval <= 0 {
		c.Tracker.PollInterval = tracker.DefaultConfig().PollInterval
	}
	if c.Tracker.MaxAttempts <= 0 {
		c.Tracker.MaxAttempts = tracker.DefaultConfig().MaxAttempts
	}
	return nil
}
