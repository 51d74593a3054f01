// Package config loads datadict settings from an optional config file,
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration values.
type Config struct {
	// Catalog
	ContentRoot   string `mapstructure:"content_root"`
	OutputBackend string `mapstructure:"output_backend"`
	OutputPath    string `mapstructure:"output_path"`
	ManifestKey   string `mapstructure:"manifest_key"`

	// Server
	ListenAddr     string        `mapstructure:"listen_addr"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
	ReloadInterval time.Duration `mapstructure:"reload_interval"`
	Watch          bool          `mapstructure:"watch"`
	WatchInterval  time.Duration `mapstructure:"watch_interval"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	// Bundles
	BaseURL              string        `mapstructure:"base_url"`
	FetchTimeout         time.Duration `mapstructure:"fetch_timeout"`
	BundleConcurrency    int           `mapstructure:"bundle_concurrency"`
	BundleRequestsPerMin int           `mapstructure:"bundle_requests_per_min"`

	// Build history
	HistoryDriver string `mapstructure:"history_driver"`
	HistoryDSN    string `mapstructure:"history_dsn"`

	// S3 output
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Region    string `mapstructure:"s3_region"`
	S3UseSSL    bool   `mapstructure:"s3_use_ssl"`
	S3Prefix    string `mapstructure:"s3_prefix"`
}

// FileName is the config file looked up in the working directory when no
// explicit path is given.
const FileName = "datadict"

var defaults = map[string]any{
	"content_root":            "public",
	"output_backend":          "local",
	"output_path":             "",
	"manifest_key":            "manifest.json",
	"listen_addr":             ":8080",
	"metrics_addr":            ":9090",
	"reload_interval":         30 * time.Second,
	"watch":                   false,
	"watch_interval":          5 * time.Second,
	"log_level":               "info",
	"log_format":              "json",
	"base_url":                "http://localhost:8080",
	"fetch_timeout":           30 * time.Second,
	"bundle_concurrency":      4,
	"bundle_requests_per_min": 0,
	"history_driver":          "",
	"history_dsn":             "",
	"s3_endpoint":             "http://localhost:9000",
	"s3_bucket":               "datadict",
	"s3_access_key":           "",
	"s3_secret_key":           "",
	"s3_region":               "us-east-1",
	"s3_use_ssl":              false,
	"s3_prefix":               "",
}

// Load reads configuration. path names an explicit config file; when empty
// the working directory is searched for datadict.{yaml,json,toml} and a
// missing file is not an error. flags may be nil; only flags the user set
// override lower layers.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	// Every key maps to its upper-case env name, e.g. content_root -> CONTENT_ROOT.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for k := range defaults {
		_ = v.BindEnv(k, strings.ToUpper(k))
	}
	_ = v.BindEnv("history_dsn", "HISTORY_DSN", "DATABASE_URL")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if flags != nil {
		bindFlags(v, flags)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindFlags binds any flag whose name, with dashes as underscores, matches a
// config key.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if _, ok := defaults[key]; ok {
			_ = v.BindPFlag(key, f)
		}
	})
}

// Validate checks that enumerated settings hold known values.
func (c *Config) Validate() error {
	switch c.OutputBackend {
	case "local", "s3":
	default:
		return fmt.Errorf("unknown output_backend %q (want local or s3)", c.OutputBackend)
	}
	switch c.HistoryDriver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown history_driver %q (want sqlite or postgres)", c.HistoryDriver)
	}
	if c.BundleConcurrency < 1 {
		return fmt.Errorf("bundle_concurrency must be at least 1, got %d", c.BundleConcurrency)
	}
	if c.BundleRequestsPerMin < 0 {
		return fmt.Errorf("bundle_requests_per_min must not be negative, got %d", c.BundleRequestsPerMin)
	}
	if c.Watch && c.WatchInterval <= 0 {
		return fmt.Errorf("watch_interval must be positive, got %s", c.WatchInterval)
	}
	if c.HistoryDriver != "" && c.HistoryDSN == "" {
		return fmt.Errorf("history_driver %s requires history_dsn", c.HistoryDriver)
	}
	return nil
}

// OutputRoot is where the local backend writes the manifest. It defaults to
// the content root so the manifest is served next to the files it lists.
func (c *Config) OutputRoot() string {
	if c.OutputPath != "" {
		return c.OutputPath
	}
	return c.ContentRoot
}
