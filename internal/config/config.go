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
	Logging    LoggingConfig    `mapstructure:"logging"`
	Search     SearchConfig     `mapstructure:"search"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	DB         DBConfig         `mapstructure:"db"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Publisher  PublisherConfig  `mapstructure:"publisher"`
	Server     ServerConfig     `mapstructure:"server"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SearchConfig governs the Google News collector.
type SearchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ClassifierConfig configures the headline classification service.
type ClassifierConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	Model          string `mapstructure:"model"`
	APIKey         string `mapstructure:"api_key"`
	Organization   string `mapstructure:"organization"`
	Concurrency    int    `mapstructure:"concurrency"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the chromedp content fetcher.
type HeadlessConfig struct {
	MaxParallel   int     `mapstructure:"max_parallel"`
	NavTimeoutSec int     `mapstructure:"nav_timeout_seconds"`
	SettleMs      int     `mapstructure:"settle_ms"`
	DomainQPS     float64 `mapstructure:"domain_qps"`
	UserAgent     string  `mapstructure:"user_agent"`
}

// DBConfig controls access to the article database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// AuditConfig selects where the domestic classification dump is written.
type AuditConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Object    string `mapstructure:"object"`
}

// PublisherConfig holds metadata for run-completion notifications.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the read API server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DAILYFIN")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("search.user_agent", "dailyfin-crawler/1.0")
	v.SetDefault("search.timeout_seconds", 20)
	v.SetDefault("classifier.endpoint", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("classifier.model", "gpt-4o-mini")
	v.SetDefault("classifier.concurrency", 5)
	v.SetDefault("classifier.timeout_seconds", 30)
	v.SetDefault("headless.max_parallel", 0)
	v.SetDefault("headless.nav_timeout_seconds", 60)
	v.SetDefault("headless.settle_ms", 2000)
	v.SetDefault("headless.domain_qps", 0)
	v.SetDefault("db.table", "news_list")
	v.SetDefault("audit.provider", "local")
	v.SetDefault("audit.base_dir", "artifacts")
	v.SetDefault("audit.object", "tw_news.json")
	v.SetDefault("publisher.provider", "noop")
	v.SetDefault("server.port", 8080)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Classifier.Concurrency <= 0 {
		return fmt.Errorf("classifier.concurrency must be > 0")
	}
	if c.Classifier.TimeoutSeconds <= 0 {
		return fmt.Errorf("classifier.timeout_seconds must be > 0")
	}
	if c.Search.TimeoutSeconds <= 0 {
		return fmt.Errorf("search.timeout_seconds must be > 0")
	}
	if c.Headless.NavTimeoutSec <= 0 {
		return fmt.Errorf("headless.nav_timeout_seconds must be > 0")
	}
	if c.Headless.MaxParallel < 0 {
		return fmt.Errorf("headless.max_parallel must be >= 0")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Audit.Provider {
	case "local", "none":
	case "gcs":
		if c.Audit.GCSBucket == "" {
			return fmt.Errorf("audit.gcs_bucket must be set when audit.provider is gcs")
		}
	default:
		return fmt.Errorf("unknown audit provider: %s", c.Audit.Provider)
	}
	switch c.Publisher.Provider {
	case "noop":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.TopicName == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic_name must be set when publisher.provider is pubsub")
		}
	default:
		return fmt.Errorf("unknown publisher provider: %s", c.Publisher.Provider)
	}
	return nil
}

// SearchTimeout returns the collector's HTTP timeout.
func (c Config) SearchTimeout() time.Duration {
	return time.Duration(c.Search.TimeoutSeconds) * time.Second
}

// ClassifierTimeout returns the per-request classification timeout.
func (c Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.Classifier.TimeoutSeconds) * time.Second
}

// NavTimeout returns the headless navigation budget.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// SettleDelay returns the post-navigation settle pause.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Headless.SettleMs) * time.Millisecond
}
