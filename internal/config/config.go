// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	DB        DBConfig        `mapstructure:"db"`
	Source    SourceConfig    `mapstructure:"source"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// BrokerConfig controls the JetStream connection and subject layout.
type BrokerConfig struct {
	URL              string `mapstructure:"url"`
	InputPrefix      string `mapstructure:"input_prefix"`
	BatchSubject     string `mapstructure:"batch_subject"`
	NotifySubject    string `mapstructure:"notify_subject"`
	AckWaitSeconds   int    `mapstructure:"ack_wait_seconds"`
	FetchWaitSeconds int    `mapstructure:"fetch_wait_seconds"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// SourceConfig configures the external source client.
type SourceConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	DocID          string `mapstructure:"doc_id"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// CrawlerConfig governs per-job pagination and retry behavior.
type CrawlerConfig struct {
	PageSize         int `mapstructure:"page_size"`
	MaxPages         int `mapstructure:"max_pages"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// SchedulerConfig controls periodic job seeding.
type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

// IngestConfig controls the batch consumer pool.
type IngestConfig struct {
	Consumers int `mapstructure:"consumers"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GRAMWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("broker.input_prefix", "crawler.input")
	v.SetDefault("broker.batch_subject", "crawler.batches")
	v.SetDefault("broker.notify_subject", "notifier.events")
	v.SetDefault("broker.ack_wait_seconds", 300)
	v.SetDefault("broker.fetch_wait_seconds", 5)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("source.base_url", "https://www.instagram.com/graphql/query/")
	v.SetDefault("source.doc_id", "9310670392322965")
	v.SetDefault("source.timeout_seconds", 30)
	v.SetDefault("crawler.page_size", 10)
	v.SetDefault("crawler.max_pages", 1)
	v.SetDefault("crawler.max_retries", 2)
	v.SetDefault("crawler.backoff_initial_ms", 500)
	v.SetDefault("crawler.backoff_max_ms", 5000)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "2m")
	v.SetDefault("ingest.consumers", 1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url must be set")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	if c.Crawler.PageSize <= 0 {
		return fmt.Errorf("crawler.page_size must be > 0")
	}
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.Ingest.Consumers <= 0 {
		return fmt.Errorf("ingest.consumers must be > 0")
	}
	if _, err := time.ParseDuration(c.Scheduler.Interval); err != nil {
		return fmt.Errorf("scheduler.interval: %w", err)
	}
	return nil
}

// SchedulerInterval returns the parsed seeding interval.
func (c Config) SchedulerInterval() time.Duration {
	d, err := time.ParseDuration(c.Scheduler.Interval)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// SourceTimeout returns the source client timeout.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// AckWait returns how long the broker waits for an ack before redelivery.
func (c Config) AckWait() time.Duration {
	return time.Duration(c.Broker.AckWaitSeconds) * time.Second
}

// FetchWait returns the pull fetch wait window.
func (c Config) FetchWait() time.Duration {
	return time.Duration(c.Broker.FetchWaitSeconds) * time.Second
}

// BackoffInitial returns the first retry delay.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.Crawler.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry delay cap.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.Crawler.BackoffMaxMs) * time.Millisecond
}
