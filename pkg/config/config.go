// Package config loads zdexport settings from a YAML file, an optional .env
// file and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/zdtools/zdexport/pkg/cache"
	"github.com/zdtools/zdexport/pkg/client"
	"github.com/zdtools/zdexport/pkg/export"
	"github.com/zdtools/zdexport/pkg/logging"
	"github.com/zdtools/zdexport/pkg/pagination"
	"github.com/zdtools/zdexport/pkg/upload"
)

// ErrMissingCredential is returned by ValidateCredentials when a helpdesk credential is unset.
var ErrMissingCredential = errors.New("missing helpdesk credential")

// Environment variables read by applyEnvOverrides.
const (
	EnvSubdomain = "ZENDESK_SUBDOMAIN"
	EnvEmail     = "ZENDESK_EMAIL"
	EnvAPIToken  = "ZENDESK_API_TOKEN"
	EnvBaseURL   = "ZENDESK_BASE_URL"
	EnvLogLevel  = "LOG_LEVEL"
	EnvRedisURL  = "REDIS_URL"
	EnvS3Bucket  = "EXPORT_S3_BUCKET"
	EnvOutputDir = "EXPORT_OUTPUT_DIR"
)

// Config represents the complete tool configuration.
type Config struct {
	Helpdesk   HelpdeskConfig   `yaml:"helpdesk"`
	Retry      RetryConfig      `yaml:"retry"`
	Pagination PaginationConfig `yaml:"pagination"`
	Redis      RedisConfig      `yaml:"redis"`
	Output     OutputConfig     `yaml:"output"`
	Upload     upload.Config    `yaml:"upload"`
	Bulk       BulkConfig       `yaml:"bulk"`
	Logging    LoggingConfig    `yaml:"logging"`

	// Exports lists the jobs executed by "zdexport run".
	Exports []ExportJob `yaml:"exports"`
}

// HelpdeskConfig contains API account and transport settings.
type HelpdeskConfig struct {
	Subdomain         string        `yaml:"subdomain"`
	Email             string        `yaml:"email"`
	APIToken          string        `yaml:"api_token"`
	BaseURL           string        `yaml:"base_url"`
	UserAgent         string        `yaml:"user_agent"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	RequestBurst      int           `yaml:"request_burst"`
}

// RetryConfig contains retry settings for failed requests.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// PaginationConfig contains pipeline settings.
type PaginationConfig struct {
	PageDelay       time.Duration `yaml:"page_delay"`
	ContinueOnError bool          `yaml:"continue_on_error"`
	MaxPages        int           `yaml:"max_pages"`
}

// RedisConfig enables shared quota state and the page cache.
type RedisConfig struct {
	// URL is a redis:// URL. Empty keeps everything in memory.
	URL          string        `yaml:"url"`
	CacheEnabled bool          `yaml:"cache_enabled"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// OutputConfig contains export file settings.
type OutputConfig struct {
	Directory  string `yaml:"directory"`
	Format     string `yaml:"format"`
	JSONIndent int    `yaml:"json_indent"`
}

// BulkConfig contains mutation settings.
type BulkConfig struct {
	DeleteDelay time.Duration `yaml:"delete_delay"`
	LogDir      string        `yaml:"log_dir"`
}

// Account names the helpdesk account: the subdomain, or the base URL host
// when only a base URL is configured.
func (h HelpdeskConfig) Account() string {
	if h.Subdomain != "" {
		return h.Subdomain
	}
	if u, err := url.Parse(h.BaseURL); err == nil {
		return u.Host
	}
	return ""
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// ExportJob is one configured export.
type ExportJob struct {
	Resource string `yaml:"resource"`

	// Filter is an expression evaluated against every record.
	Filter string `yaml:"filter"`

	// Limit caps the retained records. Zero means unlimited.
	Limit int `yaml:"limit"`

	// Format overrides Output.Format.
	Format string `yaml:"format"`

	// Fields replaces the resource's default columns.
	Fields []string `yaml:"fields"`

	// Path is an explicit output file. Empty uses a timestamped name.
	Path string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	defaults := client.DefaultConfig("", "", "")
	return &Config{
		Helpdesk: HelpdeskConfig{
			UserAgent:         defaults.UserAgent,
			Timeout:           defaults.Timeout,
			RequestsPerMinute: defaults.RequestsPerMinute,
			RequestBurst:      defaults.RequestBurst,
		},
		Retry: RetryConfig{
			MaxRetries:     defaults.Retry.MaxRetries,
			InitialBackoff: defaults.Retry.InitialBackoff,
			MaxBackoff:     defaults.Retry.MaxBackoff,
		},
		Pagination: PaginationConfig{
			PageDelay: pagination.DefaultPageDelay,
		},
		Redis: RedisConfig{
			CacheTTL: cache.DefaultTTL,
		},
		Output: OutputConfig{
			Directory:  ".",
			Format:     string(export.FormatCSV),
			JSONIndent: export.DefaultIndent,
		},
		Bulk: BulkConfig{
			DeleteDelay: 500 * time.Millisecond,
			LogDir:      ".",
		},
		Logging: LoggingConfig{
			Level: string(logging.LevelInfo),
		},
	}
}

// Load reads envFile (if it exists) into the process environment without
// overriding variables already set, then the YAML file at path (if path is
// non-empty), then applies environment overrides. The result is not validated
// so that commands without network access can run without credentials.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if val := os.Getenv(EnvSubdomain); val != "" {
		c.Helpdesk.Subdomain = val
	}
	if val := os.Getenv(EnvEmail); val != "" {
		c.Helpdesk.Email = val
	}
	if val := os.Getenv(EnvAPIToken); val != "" {
		c.Helpdesk.APIToken = val
	}
	if val := os.Getenv(EnvBaseURL); val != "" {
		c.Helpdesk.BaseURL = val
	}
	if val := os.Getenv(EnvLogLevel); val != "" {
		c.Logging.Level = val
	}
	if val := os.Getenv(EnvRedisURL); val != "" {
		c.Redis.URL = val
	}
	if val := os.Getenv(EnvS3Bucket); val != "" {
		c.Upload.Bucket = val
	}
	if val := os.Getenv(EnvOutputDir); val != "" {
		c.Output.Directory = val
	}
}

// Validate checks everything except credentials.
func (c *Config) Validate() error {
	if c.Helpdesk.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute cannot be negative")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	if c.Pagination.PageDelay < 0 {
		return fmt.Errorf("page_delay cannot be negative")
	}
	if c.Pagination.MaxPages < 0 {
		return fmt.Errorf("max_pages cannot be negative")
	}
	if _, err := export.ParseFormat(c.Output.Format); err != nil {
		return err
	}
	if err := logging.LogLevel(c.Logging.Level).Validate(); err != nil {
		return err
	}
	if c.Redis.URL != "" {
		if _, err := redis.ParseURL(c.Redis.URL); err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
	}
	for i, job := range c.Exports {
		if strings.TrimSpace(job.Resource) == "" {
			return fmt.Errorf("exports[%d]: resource is required", i)
		}
		if job.Limit < 0 {
			return fmt.Errorf("exports[%d]: limit cannot be negative", i)
		}
		if job.Format != "" {
			if _, err := export.ParseFormat(job.Format); err != nil {
				return fmt.Errorf("exports[%d]: %w", i, err)
			}
		}
	}
	return nil
}

// ValidateCredentials checks that the helpdesk account is fully configured.
func (c *Config) ValidateCredentials() error {
	var missing []string
	if c.Helpdesk.Subdomain == "" && c.Helpdesk.BaseURL == "" {
		missing = append(missing, EnvSubdomain)
	}
	if c.Helpdesk.Email == "" {
		missing = append(missing, EnvEmail)
	}
	if c.Helpdesk.APIToken == "" {
		missing = append(missing, EnvAPIToken)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredential, strings.Join(missing, ", "))
	}
	return nil
}

// ClientConfig converts the settings into a client configuration. Tracker
// and cache are left for the caller to attach.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.Helpdesk.Subdomain, c.Helpdesk.Email, c.Helpdesk.APIToken)
	cfg.BaseURL = c.Helpdesk.BaseURL
	if c.Helpdesk.UserAgent != "" {
		cfg.UserAgent = c.Helpdesk.UserAgent
	}
	cfg.Timeout = c.Helpdesk.Timeout
	cfg.RequestsPerMinute = c.Helpdesk.RequestsPerMinute
	cfg.RequestBurst = c.Helpdesk.RequestBurst
	cfg.Retry.MaxRetries = c.Retry.MaxRetries
	cfg.Retry.InitialBackoff = c.Retry.InitialBackoff
	cfg.Retry.MaxBackoff = c.Retry.MaxBackoff
	return cfg
}

// PipelineConfig converts the pagination settings.
func (c *Config) PipelineConfig() pagination.Config {
	return pagination.Config{
		PageDelay:       c.Pagination.PageDelay,
		ContinueOnError: c.Pagination.ContinueOnError,
		MaxPages:        c.Pagination.MaxPages,
	}
}

// RedisOptions parses Redis.URL. It returns nil when Redis is not configured.
func (c *Config) RedisOptions() (*redis.Options, error) {
	if c.Redis.URL == "" {
		return nil, nil
	}
	return redis.ParseURL(c.Redis.URL)
}

// LoggerConfig converts the logging settings.
func (c *Config) LoggerConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Logging.Level)
	cfg.Pretty = c.Logging.Pretty
	return cfg
}
