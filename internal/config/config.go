// Package config loads and validates indexer configuration via Viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/sitesearch-indexer/internal/crawler"
	"github.com/JakeFAU/sitesearch-indexer/internal/extract"
	"github.com/JakeFAU/sitesearch-indexer/internal/logging"
	"github.com/JakeFAU/sitesearch-indexer/internal/storage/local"
	"github.com/JakeFAU/sitesearch-indexer/internal/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. SITESEARCH_SERVER_PORT.
const EnvPrefix = "SITESEARCH"

// Index backends.
const (
	IndexElasticsearch = "elasticsearch"
	IndexMemory        = "memory"
)

// Archive backends.
const (
	StorageNone   = "none"
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Crawler       CrawlerConfig       `mapstructure:"crawler"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Index         IndexConfig         `mapstructure:"index"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Languages     LanguagesConfig     `mapstructure:"languages"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Database      DatabaseConfig      `mapstructure:"database"`
	PubSub        PubSubConfig        `mapstructure:"pubsub"`
	Headless      HeadlessConfig      `mapstructure:"headless"`
	Tracing       telemetry.Config    `mapstructure:"tracing"`
	Logging       logging.Config      `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the dispatcher and per-job traversal.
type CrawlerConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	PageWorkers  int           `mapstructure:"page_workers"`
	MaxPages     int           `mapstructure:"max_pages"`
	UserAgent    string        `mapstructure:"user_agent"`
	Delay        time.Duration `mapstructure:"delay"`
	IgnoreRobots bool          `mapstructure:"ignore_robots"`
	QueueDepth   int           `mapstructure:"queue_depth"`
}

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxRedirects   int `mapstructure:"max_redirects"`
}

// IndexConfig selects the index store.
type IndexConfig struct {
	Backend string `mapstructure:"backend"`
}

// ElasticsearchConfig describes the Elasticsearch cluster and index.
type ElasticsearchConfig struct {
	Addresses   []string `mapstructure:"addresses"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	Index       string   `mapstructure:"index"`
	MaxRetries  int      `mapstructure:"max_retries"`
	CreateIndex bool     `mapstructure:"create_index"`
}

// LanguagesConfig restricts the language catalog.
type LanguagesConfig struct {
	Enabled []string `mapstructure:"enabled"`
}

// StorageConfig selects where raw pages are archived.
type StorageConfig struct {
	Backend     string       `mapstructure:"backend"`
	Bucket      string       `mapstructure:"bucket"`
	Prefix      string       `mapstructure:"prefix"`
	ContentType string       `mapstructure:"content_type"`
	Local       local.Config `mapstructure:"local"`
}

// DatabaseConfig controls the Postgres job store. An empty DSN keeps jobs in memory.
type DatabaseConfig struct {
	DSN            string `mapstructure:"dsn"`
	JobsTable      string `mapstructure:"jobs_table"`
	PagesTable     string `mapstructure:"pages_table"`
	MaxConns       int32  `mapstructure:"max_conns"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
}

// PubSubConfig holds metadata for indexing notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// HeadlessConfig controls rendering of client-side pages in Chrome.
type HeadlessConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	MaxParallel       int    `mapstructure:"max_parallel"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	MinTextRunes      int    `mapstructure:"min_text_runes"`
	ExecPath          string `mapstructure:"exec_path"`
}

// Load builds a Config from defaults, an optional file and the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("crawler.concurrency", 2)
	v.SetDefault("crawler.page_workers", 4)
	v.SetDefault("crawler.max_pages", crawler.DefaultMaxPages)
	v.SetDefault("crawler.user_agent", "sitesearch-indexer/1.0")
	v.SetDefault("crawler.delay", "250ms")
	v.SetDefault("crawler.ignore_robots", false)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("http.timeout_seconds", 100)
	v.SetDefault("http.max_redirects", 10)
	v.SetDefault("index.backend", IndexElasticsearch)
	v.SetDefault("elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("elasticsearch.index", "web-en")
	v.SetDefault("elasticsearch.max_retries", 0)
	v.SetDefault("elasticsearch.create_index", true)
	v.SetDefault("languages.enabled", []string{"en"})
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("storage.local.base_dir", "data/pages")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.jobs_table", "index_jobs")
	v.SetDefault("database.pages_table", "index_pages")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.migrate_on_start", true)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.min_text_runes", 200)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "sitesearch-indexer")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.PageWorkers <= 0 {
		return fmt.Errorf("crawler.page_workers must be > 0")
	}
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.Crawler.Delay < 0 {
		return fmt.Errorf("crawler.delay must be >= 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRedirects <= 0 {
		return fmt.Errorf("http.max_redirects must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Index.Backend {
	case IndexElasticsearch:
		if len(c.Elasticsearch.Addresses) == 0 {
			return fmt.Errorf("elasticsearch.addresses must be set for the elasticsearch index")
		}
		if c.Elasticsearch.Index == "" {
			return fmt.Errorf("elasticsearch.index must be set")
		}
		if c.Elasticsearch.MaxRetries < 0 {
			return fmt.Errorf("elasticsearch.max_retries must be >= 0")
		}
	case IndexMemory:
	default:
		return fmt.Errorf("index.backend %q is not supported", c.Index.Backend)
	}
	if len(c.Languages.Enabled) == 0 {
		return fmt.Errorf("languages.enabled must list at least one language")
	}
	builtin := extract.BuiltinLanguages()
	for _, code := range c.Languages.Enabled {
		if !slices.Contains(builtin, strings.ToLower(code)) {
			return fmt.Errorf("languages.enabled: unsupported language %q", code)
		}
	}
	switch c.Storage.Backend {
	case StorageNone, StorageMemory:
	case StorageLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Headless.Enabled {
		if c.Headless.MaxParallel <= 0 {
			return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
		}
		if c.Headless.NavTimeoutSeconds <= 0 {
			return fmt.Errorf("headless.nav_timeout_seconds must be > 0 when headless is enabled")
		}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

// HeadlessNavTimeout bounds one headless page render.
func (c Config) HeadlessNavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSeconds) * time.Second
}

// HTTPTimeout is the per-request budget for outbound fetches.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds API handler execution.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful HTTP shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
