package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Site    SiteConfig
	Auth    AuthConfig
	Crawl   CrawlConfig
	Sink    SinkConfig
	Events  EventsConfig
	Status  StatusConfig
	Logging LoggingConfig
}

type SiteConfig struct {
	// BaseURL is the marketplace origin; relative listing and product URLs
	// are resolved against it.
	BaseURL      string
	AuthCheckURL string
	Timeout      time.Duration
}

type AuthConfig struct {
	// Identity is the account display text expected inside the logout form.
	Identity  string
	Username  string
	Password  string
	Headless  bool
	LoginWait time.Duration
}

type CrawlConfig struct {
	UnauthenticatedBudget int
	PaceMin               time.Duration
	PaceMax               time.Duration
	ShopPauseMin          time.Duration
	ShopPauseMax          time.Duration
	StateDir              string
	SessionFile           string
	SeedFile              string
}

type SinkConfig struct {
	// PostgresDSN enables the Postgres sink when set; rows always fall back
	// to semicolon-delimited files in CSVDir on sink errors.
	PostgresDSN string
	CSVDir      string
}

type EventsConfig struct {
	// RedisAddr enables event publishing when set.
	RedisAddr string
	Stream    string
}

type StatusConfig struct {
	Enabled bool
	Addr    string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// Missing .env is fine, the environment may be set directly.
	_ = godotenv.Load()

	cfg := &Config{
		Site: SiteConfig{
			BaseURL:      getEnvOrDefault("SITE_BASE_URL", "https://www.trademe.co.nz"),
			AuthCheckURL: getEnvOrDefault("SITE_AUTH_CHECK_URL", "https://www.trademe.co.nz/MyTradeMe/Watchlist.aspx"),
			Timeout:      getDurationOrDefault("SITE_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			Identity:  os.Getenv("AUTH_IDENTITY"),
			Username:  os.Getenv("AUTH_USERNAME"),
			Password:  os.Getenv("AUTH_PASSWORD"),
			Headless:  getBoolOrDefault("AUTH_HEADLESS", false),
			LoginWait: getDurationOrDefault("AUTH_LOGIN_WAIT", 60*time.Second),
		},
		Crawl: CrawlConfig{
			UnauthenticatedBudget: getIntOrDefault("CRAWL_UNAUTH_BUDGET", 300),
			PaceMin:               getDurationOrDefault("CRAWL_PACE_MIN", 3*time.Second),
			PaceMax:               getDurationOrDefault("CRAWL_PACE_MAX", 6*time.Second),
			ShopPauseMin:          getDurationOrDefault("CRAWL_SHOP_PAUSE_MIN", 15*time.Second),
			ShopPauseMax:          getDurationOrDefault("CRAWL_SHOP_PAUSE_MAX", 30*time.Second),
			StateDir:              getEnvOrDefault("CRAWL_STATE_DIR", "shops"),
			SessionFile:           getEnvOrDefault("CRAWL_SESSION_FILE", "session/cookies.json"),
			SeedFile:              getEnvOrDefault("CRAWL_SEED_FILE", "shops.csv"),
		},
		Sink: SinkConfig{
			PostgresDSN: os.Getenv("SINK_POSTGRES_DSN"),
			CSVDir:      getEnvOrDefault("SINK_CSV_DIR", "csv"),
		},
		Events: EventsConfig{
			RedisAddr: os.Getenv("EVENTS_REDIS_ADDR"),
			Stream:    getEnvOrDefault("EVENTS_STREAM", "stream:product_scraped"),
		},
		Status: StatusConfig{
			Enabled: getBoolOrDefault("STATUS_ENABLED", true),
			Addr:    getEnvOrDefault("STATUS_ADDR", ":8085"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Site.BaseURL == "" {
		return fmt.Errorf("SITE_BASE_URL must not be empty")
	}

	if c.Auth.Identity == "" {
		return fmt.Errorf("AUTH_IDENTITY must be set to the expected account name")
	}

	if c.Crawl.UnauthenticatedBudget < 1 {
		return fmt.Errorf("CRAWL_UNAUTH_BUDGET must be at least 1")
	}

	if c.Crawl.PaceMin > c.Crawl.PaceMax {
		return fmt.Errorf("CRAWL_PACE_MIN cannot be greater than CRAWL_PACE_MAX")
	}

	if c.Crawl.ShopPauseMin > c.Crawl.ShopPauseMax {
		return fmt.Errorf("CRAWL_SHOP_PAUSE_MIN cannot be greater than CRAWL_SHOP_PAUSE_MAX")
	}

	if c.Site.Timeout <= 0 {
		return fmt.Errorf("SITE_TIMEOUT must be positive")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
