package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
broker:
  url: nats://localhost:4222
db:
  dsn: postgres://localhost/gramwatch
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Broker.InputPrefix != "crawler.input" {
		t.Fatalf("expected default input prefix, got %q", cfg.Broker.InputPrefix)
	}
	if cfg.Broker.BatchSubject != "crawler.batches" {
		t.Fatalf("expected default batch subject, got %q", cfg.Broker.BatchSubject)
	}
	if cfg.Source.DocID != "9310670392322965" {
		t.Fatalf("expected default doc id, got %q", cfg.Source.DocID)
	}
	if got := cfg.SchedulerInterval(); got != 2*time.Minute {
		t.Fatalf("expected default interval 2m, got %v", got)
	}
	if got := cfg.AckWait(); got != 300*time.Second {
		t.Fatalf("expected default ack wait 300s, got %v", got)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
logging:
  development: false
broker:
  url: nats://broker:4222
  input_prefix: jobs.crawl
  batch_subject: jobs.batches
  notify_subject: events.notify
  ack_wait_seconds: 60
  fetch_wait_seconds: 2
db:
  dsn: postgres://db/gramwatch
  max_conns: 16
source:
  base_url: https://example.test/graphql
  doc_id: "42"
  user_agent: gramwatch-bot
  timeout_seconds: 10
crawler:
  page_size: 25
  max_pages: 4
  max_retries: 3
  backoff_initial_ms: 100
  backoff_max_ms: 800
scheduler:
  enabled: true
  interval: 30s
ingest:
  consumers: 2
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Broker.InputPrefix != "jobs.crawl" || cfg.Broker.NotifySubject != "events.notify" {
		t.Fatalf("expected broker overrides to apply: %+v", cfg.Broker)
	}
	if cfg.Crawler.PageSize != 25 || cfg.Crawler.MaxPages != 4 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if got := cfg.SchedulerInterval(); got != 30*time.Second {
		t.Fatalf("expected interval 30s, got %v", got)
	}
	if got := cfg.SourceTimeout(); got != 10*time.Second {
		t.Fatalf("expected source timeout 10s, got %v", got)
	}
	if got := cfg.BackoffInitial(); got != 100*time.Millisecond {
		t.Fatalf("expected initial backoff 100ms, got %v", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		Broker:    BrokerConfig{URL: "nats://localhost:4222"},
		DB:        DBConfig{DSN: "postgres://localhost/gramwatch"},
		Crawler:   CrawlerConfig{PageSize: 10, MaxPages: 1},
		Scheduler: SchedulerConfig{Interval: "2m"},
		Ingest:    IngestConfig{Consumers: 1},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "missing broker url",
			cfg: func() Config {
				c := base
				c.Broker.URL = ""
				return c
			}(),
			want: "broker.url",
		},
		{
			name: "missing dsn",
			cfg: func() Config {
				c := base
				c.DB.DSN = ""
				return c
			}(),
			want: "db.dsn",
		},
		{
			name: "invalid page size",
			cfg: func() Config {
				c := base
				c.Crawler.PageSize = 0
				return c
			}(),
			want: "crawler.page_size",
		},
		{
			name: "invalid max pages",
			cfg: func() Config {
				c := base
				c.Crawler.MaxPages = 0
				return c
			}(),
			want: "crawler.max_pages",
		},
		{
			name: "invalid consumers",
			cfg: func() Config {
				c := base
				c.Ingest.Consumers = 0
				return c
			}(),
			want: "ingest.consumers",
		},
		{
			name: "unparseable interval",
			cfg: func() Config {
				c := base
				c.Scheduler.Interval = "soon"
				return c
			}(),
			want: "scheduler.interval",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
