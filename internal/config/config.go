// Package config loads the proxy configuration from YAML, a .env file and
// the environment, in that order of precedence (last wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/aiarticles"
	"github.com/Jake-Mok-Nelson/portfolio-proxy/internal/fetch"
)

// RetryConfig mirrors fetch.Policy
type RetryConfig struct {
	MaxRetries       int           `yaml:"max_retries" validate:"min=0,max=10"`
	Timeout          time.Duration `yaml:"timeout"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxJitter        time.Duration `yaml:"max_jitter"`
	ResetBuffer      time.Duration `yaml:"reset_buffer"`
	MaxRateLimitWait time.Duration `yaml:"max_rate_limit_wait"`
}

// Policy converts the retry settings to a fetch.Policy
func (r RetryConfig) Policy() fetch.Policy {
	return fetch.Policy{
		MaxRetries:       r.MaxRetries,
		Timeout:          r.Timeout,
		BaseDelay:        r.BaseDelay,
		MaxJitter:        r.MaxJitter,
		ResetBuffer:      r.ResetBuffer,
		MaxRateLimitWait: r.MaxRateLimitWait,
	}
}

// BreakerConfig configures the per-provider circuit breaker
type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	OpenTimeout         time.Duration `yaml:"open_timeout"`
}

// Fetch returns the fetcher breaker settings, or nil when disabled
func (b BreakerConfig) Fetch() *fetch.BreakerConfig {
	if !b.Enabled {
		return nil
	}
	return &fetch.BreakerConfig{
		ConsecutiveFailures: b.ConsecutiveFailures,
		Timeout:             b.OpenTimeout,
	}
}

type GitHubConfig struct {
	Username   string        `yaml:"username"`
	Token      string        `yaml:"token"`
	BaseURL    string        `yaml:"base_url" validate:"omitempty,url"`
	GraphQLURL string        `yaml:"graphql_url" validate:"omitempty,url"`
	Retry      RetryConfig   `yaml:"retry"`
	Breaker    BreakerConfig `yaml:"breaker"`
}

type QiitaConfig struct {
	UserID  string        `yaml:"user_id"`
	Token   string        `yaml:"token"`
	BaseURL string        `yaml:"base_url" validate:"omitempty,url"`
	Retry   RetryConfig   `yaml:"retry"`
	Breaker BreakerConfig `yaml:"breaker"`
}

type CacheConfig struct {
	FreshTTL      time.Duration `yaml:"fresh_ttl"`
	StaleTTL      time.Duration `yaml:"stale_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	Coalesce      bool          `yaml:"coalesce"`
}

type AIArticlesConfig struct {
	Tags        []string      `yaml:"tags" validate:"min=1,dive,required"`
	PerTag      int           `yaml:"per_tag" validate:"min=1,max=100"`
	MaxArticles int           `yaml:"max_articles" validate:"min=1"`
	Delay       time.Duration `yaml:"delay"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	Schedule    string        `yaml:"schedule" validate:"required"`
	RunTimeout  time.Duration `yaml:"run_timeout"`
}

type SnapshotConfig struct {
	Backend string `yaml:"backend" validate:"oneof=file sqlite"`
	Path    string `yaml:"path" validate:"required"`
}

type MetricsConfig struct {
	Addr      string `yaml:"addr" validate:"omitempty,hostname_port"`
	Namespace string `yaml:"namespace" validate:"required"`
}

// Config is the complete proxy configuration
type Config struct {
	GitHub     GitHubConfig     `yaml:"github"`
	Qiita      QiitaConfig      `yaml:"qiita"`
	Cache      CacheConfig      `yaml:"cache"`
	AIArticles AIArticlesConfig `yaml:"ai_articles"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		GitHub: GitHubConfig{
			Retry: RetryConfig{
				MaxRetries:       2,
				Timeout:          8 * time.Second,
				BaseDelay:        time.Second,
				MaxJitter:        500 * time.Millisecond,
				ResetBuffer:      time.Second,
				MaxRateLimitWait: time.Minute,
			},
			Breaker: BreakerConfig{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second},
		},
		Qiita: QiitaConfig{
			Retry: RetryConfig{
				MaxRetries:       2,
				Timeout:          8 * time.Second,
				BaseDelay:        400 * time.Millisecond,
				MaxJitter:        200 * time.Millisecond,
				ResetBuffer:      time.Second,
				MaxRateLimitWait: time.Minute,
			},
			Breaker: BreakerConfig{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second},
		},
		Cache: CacheConfig{
			FreshTTL:      900 * time.Second,
			StaleTTL:      3600 * time.Second,
			SweepInterval: time.Minute,
		},
		AIArticles: AIArticlesConfig{
			Tags:        append([]string(nil), aiarticles.DefaultTags...),
			PerTag:      aiarticles.DefaultPerTag,
			MaxArticles: aiarticles.DefaultMaxArticles,
			Delay:       aiarticles.DefaultDelay,
			CacheTTL:    aiarticles.DefaultCacheTTL,
			Schedule:    "0 3 * * *",
			RunTimeout:  10 * time.Minute,
		},
		Snapshot: SnapshotConfig{
			Backend: "file",
			Path:    "data/ai-articles.json",
		},
		Metrics: MetricsConfig{
			Namespace: "portfolio_proxy",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then variables from envFiles (missing files are
// skipped), then the process environment. The result is validated.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	for _, f := range envFiles {
		// godotenv never overrides variables already set in the process.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading env file %s: %w", f, err)
		}
	}

	applyEnv(cfg, os.LookupEnv)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("GITHUB_USERNAME", &cfg.GitHub.Username)
	str("GITHUB_TOKEN", &cfg.GitHub.Token)
	str("QIITA_USER_ID", &cfg.Qiita.UserID)
	str("QIITA_TOKEN", &cfg.Qiita.Token)
	str("SNAPSHOT_PATH", &cfg.Snapshot.Path)
	str("SNAPSHOT_BACKEND", &cfg.Snapshot.Backend)
	str("METRICS_ADDR", &cfg.Metrics.Addr)

	if v, ok := lookup("AI_TAGS"); ok && strings.TrimSpace(v) != "" {
		var tags []string
		for _, tag := range strings.Split(v, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
		if len(tags) > 0 {
			cfg.AIArticles.Tags = tags
		}
	}
}
