package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const (
	MirrorHTTP   = "http"
	MirrorBucket = "bucket"
)

// Config holds tracker configuration.
type Config struct {
	BaseURL     string
	Cookie      string
	UserAgent   string
	StoragePath string
	WebhookURL  string

	MirrorBackend   string // http or bucket
	CDNEndpoint     string
	CDNToken        string
	MirrorBucketURL string
	MirrorPublicURL string
	CacheSize       int

	Parallelism int
	Timeout     time.Duration
	MaxRetries  int
	Interval    time.Duration
	MetricsAddr string

	OutputFile   string
	OutputFormat string // csv, json, or dual
	Verbose      bool
}

// DefaultConfig returns defaults for the public storefront.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       "https://flavortown.hackclub.com/",
		UserAgent:     "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36",
		StoragePath:   ".",
		MirrorBackend: MirrorHTTP,
		CDNEndpoint:   "https://cdn.hackclub.com/api/file",
		CDNToken:      "beans",
		CacheSize:     4096,
		Parallelism:   8,
		Timeout:       30 * time.Second,
		MaxRetries:    0,
		Interval:      15 * time.Minute,
		OutputFile:    "output/items.csv",
		OutputFormat:  "csv",
	}
}

// Keys lists the settings read by Load. Each key doubles as its
// environment variable name once upper-cased.
var Keys = []string{
	"base_url", "cookie", "user_agent", "storage_path", "webhook_url",
	"mirror_backend", "cdn_endpoint", "cdn_token", "mirror_bucket_url", "mirror_public_url", "cache_size",
	"parallelism", "timeout", "max_retries", "interval", "metrics_addr",
	"output", "format", "verbose",
}

// SetDefaults registers DefaultConfig values on v.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("storage_path", d.StoragePath)
	v.SetDefault("mirror_backend", d.MirrorBackend)
	v.SetDefault("cdn_endpoint", d.CDNEndpoint)
	v.SetDefault("cdn_token", d.CDNToken)
	v.SetDefault("cache_size", d.CacheSize)
	v.SetDefault("parallelism", d.Parallelism)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("interval", d.Interval)
	v.SetDefault("output", d.OutputFile)
	v.SetDefault("format", d.OutputFormat)
}

// ReadDotEnv merges a dotenv file into v. A missing file is not an error.
func ReadDotEnv(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// Load builds a validated Config from v. Environment variables are
// consulted for every key.
func Load(v *viper.Viper) (*Config, error) {
	cfg, err := Read(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read builds a Config from v without validating it. Commands that only
// touch local storage use it together with ValidateStorage.
func Read(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	SetDefaults(v)

	storage, err := homedir.Expand(v.GetString("storage_path"))
	if err != nil {
		return nil, fmt.Errorf("expand storage path: %w", err)
	}

	cfg := &Config{
		BaseURL:         v.GetString("base_url"),
		Cookie:          v.GetString("cookie"),
		UserAgent:       v.GetString("user_agent"),
		StoragePath:     storage,
		WebhookURL:      v.GetString("webhook_url"),
		MirrorBackend:   strings.ToLower(v.GetString("mirror_backend")),
		CDNEndpoint:     v.GetString("cdn_endpoint"),
		CDNToken:        v.GetString("cdn_token"),
		MirrorBucketURL: v.GetString("mirror_bucket_url"),
		MirrorPublicURL: v.GetString("mirror_public_url"),
		CacheSize:       v.GetInt("cache_size"),
		Parallelism:     v.GetInt("parallelism"),
		Timeout:         v.GetDuration("timeout"),
		MaxRetries:      v.GetInt("max_retries"),
		Interval:        v.GetDuration("interval"),
		MetricsAddr:     v.GetString("metrics_addr"),
		OutputFile:      v.GetString("output"),
		OutputFormat:    strings.ToLower(v.GetString("format")),
		Verbose:         v.GetBool("verbose"),
	}
	return cfg, nil
}

// ShopURL returns the absolute URL of path below the base URL.
func (c *Config) ShopURL(path string) string {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return c.BaseURL + path
	}
	ref, err := url.Parse(path)
	if err != nil {
		return c.BaseURL + path
	}
	return base.ResolveReference(ref).String()
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.Cookie == "" {
		return fmt.Errorf("cookie cannot be empty")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.WebhookURL != "" {
		if u, err := url.Parse(c.WebhookURL); err != nil || u.Host == "" {
			return fmt.Errorf("invalid webhook URL %q", c.WebhookURL)
		}
	}

	switch c.MirrorBackend {
	case MirrorHTTP:
		if c.CDNEndpoint == "" {
			return fmt.Errorf("cdn endpoint cannot be empty for the http mirror")
		}
	case MirrorBucket:
		if c.MirrorBucketURL == "" {
			return fmt.Errorf("mirror bucket URL cannot be empty for the bucket mirror")
		}
		if c.MirrorPublicURL == "" {
			return fmt.Errorf("mirror public URL cannot be empty for the bucket mirror")
		}
	default:
		return fmt.Errorf("mirror backend must be http or bucket")
	}

	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	return c.ValidateStorage()
}

// ValidateStorage checks only the settings needed to read local state.
func (c *Config) ValidateStorage() error {
	if c.StoragePath == "" {
		return fmt.Errorf("storage path cannot be empty")
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	return nil
}
