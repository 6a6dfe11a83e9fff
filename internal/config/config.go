// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultSeedURLs bootstrap the crawl when the state store holds no pending
// work at all. They are already in normalized form.
var DefaultSeedURLs = []string{
	"amazon.com",
	"google.com",
	"bing.com",
	"youtube.com",
	"facebook.com",
}

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	DB      DBConfig      `mapstructure:"db"`
	Graph   GraphConfig   `mapstructure:"graph"`
	Archive ArchiveConfig `mapstructure:"archive"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the HTTP report/metrics server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs the dispatcher loop and the fetch pool.
type CrawlerConfig struct {
	// Workers is the size of both the fetch-process pool and the write pool.
	Workers int `mapstructure:"workers"`
	// ChunkMultiple scales the dispatch batch relative to the worker count;
	// one batch should keep the whole pool busy without starving the next.
	ChunkMultiple        int      `mapstructure:"chunk_multiple"`
	FetchTimeoutSeconds  int      `mapstructure:"fetch_timeout_seconds"`
	BatchDeadlineSeconds int      `mapstructure:"batch_deadline_seconds"`
	UserAgent            string   `mapstructure:"user_agent"`
	SeedURLs             []string `mapstructure:"seed_urls"`
}

// DBConfig controls access to the crawl-state database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// GraphConfig controls access to the link-graph database. An empty DSN
// falls back to the crawl-state DSN.
type GraphConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ArchiveConfig selects the optional raw-body archive backend.
// Backend is one of "", "memory", "local", or "gcs"; empty disables
// archiving.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig controls the optional crawl-document publisher.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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

	if cfg.Graph.DSN == "" {
		cfg.Graph.DSN = cfg.DB.DSN
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.workers", 16)
	v.SetDefault("crawler.chunk_multiple", 3)
	v.SetDefault("crawler.fetch_timeout_seconds", 5)
	v.SetDefault("crawler.batch_deadline_seconds", 60)
	v.SetDefault("crawler.user_agent", "linkcrawler/1.0")
	v.SetDefault("crawler.seed_urls", DefaultSeedURLs)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("archive.backend", "")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.ChunkMultiple <= 0 {
		return fmt.Errorf("crawler.chunk_multiple must be > 0")
	}
	if c.Crawler.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.fetch_timeout_seconds must be > 0")
	}
	if c.Crawler.BatchDeadlineSeconds <= 0 {
		return fmt.Errorf("crawler.batch_deadline_seconds must be > 0")
	}
	if len(c.Crawler.SeedURLs) == 0 {
		return fmt.Errorf("crawler.seed_urls must not be empty")
	}
	switch c.Archive.Backend {
	case "", "memory":
	case "local":
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required when pubsub is enabled")
	}
	return nil
}

// ChunkSize is the dispatch batch size derived from the worker count.
func (c CrawlerConfig) ChunkSize() int {
	return c.Workers * c.ChunkMultiple
}

// FetchTimeout returns the per-fetch timeout as a duration.
func (c CrawlerConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// BatchDeadline returns the whole-batch deadline as a duration.
func (c CrawlerConfig) BatchDeadline() time.Duration {
	return time.Duration(c.BatchDeadlineSeconds) * time.Second
}
