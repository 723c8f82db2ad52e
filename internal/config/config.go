package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/amazon-review-harvester/internal/browser"
	"github.com/maltedev/amazon-review-harvester/internal/harvest"
)

type Config struct {
	Server   ServerConfig
	Browser  BrowserConfig
	Harvest  HarvestConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	SettleDelay    time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
}

type HarvestConfig struct {
	BaseURL           string
	SearchURLTemplate string
	DatasetFile       string
	ExportFile        string
	SelectorsFile     string
	Dedup             bool
	CleanNewlines     bool
}

// DatabaseConfig configures the review sink. An empty Host disables it.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

// RedisConfig configures the outbox relay. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// StreamMaxLen trims the harvest stream to roughly this many entries.
	// Zero keeps every entry.
	StreamMaxLen int64
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Browser: BrowserConfig{
			Headless:       getEnvBool("BROWSER_HEADLESS", true),
			Timeout:        getEnvDuration("BROWSER_TIMEOUT", 30*time.Second),
			SettleDelay:    getEnvDuration("BROWSER_SETTLE_DELAY", time.Second),
			UserAgent:      getEnv("BROWSER_USER_AGENT", ""),
			ViewportWidth:  getEnvInt("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getEnvInt("BROWSER_VIEWPORT_HEIGHT", 1200),
			AcceptLanguage: getEnv("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
			TimezoneID:     getEnv("BROWSER_TIMEZONE", "America/New_York"),
			Locale:         getEnv("BROWSER_LOCALE", "en-US"),
			ProxyServer:    getEnv("BROWSER_PROXY", ""),
		},
		Harvest: HarvestConfig{
			BaseURL:           getEnv("HARVEST_BASE_URL", harvest.DefaultBaseURL),
			SearchURLTemplate: getEnv("HARVEST_SEARCH_URL_TEMPLATE", harvest.DefaultSearchURLTemplate),
			DatasetFile:       getEnv("HARVEST_DATASET_FILE", "reviews.csv"),
			ExportFile:        getEnv("HARVEST_EXPORT_FILE", ""),
			SelectorsFile:     getEnv("SELECTORS_FILE", ""),
			Dedup:             getEnvBool("HARVEST_DEDUP", false),
			CleanNewlines:     getEnvBool("HARVEST_CLEAN_NEWLINES", false),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "review_harvester"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),

			StreamMaxLen: int64(getEnvInt("REDIS_STREAM_MAX_LEN", 100000)),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Browser.Timeout <= 0 {
		return fmt.Errorf("BROWSER_TIMEOUT must be positive")
	}

	if c.Browser.SettleDelay < 0 {
		return fmt.Errorf("BROWSER_SETTLE_DELAY cannot be negative")
	}

	if err := harvest.ValidateSearchTemplate(c.Harvest.SearchURLTemplate); err != nil {
		return fmt.Errorf("HARVEST_SEARCH_URL_TEMPLATE: %w", err)
	}

	if !strings.HasPrefix(c.Harvest.BaseURL, "http://") && !strings.HasPrefix(c.Harvest.BaseURL, "https://") {
		return fmt.Errorf("HARVEST_BASE_URL must be an absolute http(s) origin: %q", c.Harvest.BaseURL)
	}

	if c.Harvest.DatasetFile == "" {
		return fmt.Errorf("HARVEST_DATASET_FILE is required")
	}

	if c.Database.Enabled() && c.Database.MaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be at least 1")
	}

	if c.Redis.StreamMaxLen < 0 {
		return fmt.Errorf("REDIS_STREAM_MAX_LEN must not be negative")
	}

	if c.Redis.Enabled() && !c.Database.Enabled() {
		return fmt.Errorf("REDIS_ADDR requires DB_HOST: the relay reads the database outbox")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %s", c.Logging.Level)
	}

	return nil
}

func (c DatabaseConfig) Enabled() bool { return c.Host != "" }

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// DSN is the postgres connection string handed to database.New.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// Options converts the browser settings into rendering session options.
func (c BrowserConfig) Options() *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = c.Headless
	opts.Timeout = c.Timeout
	opts.SettleDelay = c.SettleDelay
	if c.UserAgent != "" {
		opts.UserAgent = c.UserAgent
	}
	opts.ViewportWidth = c.ViewportWidth
	opts.ViewportHeight = c.ViewportHeight
	opts.AcceptLanguage = c.AcceptLanguage
	opts.TimezoneID = c.TimezoneID
	opts.Locale = c.Locale
	opts.ProxyServer = c.ProxyServer
	return opts
}

// HarvestOptions converts the harvest settings into harvester options.
func (c HarvestConfig) HarvestOptions() harvest.Options {
	return harvest.Options{
		SearchURLTemplate: c.SearchURLTemplate,
		BaseURL:           c.BaseURL,
		Dedup:             c.Dedup,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
