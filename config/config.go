package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Source kinds understood by the fetcher.
const (
	SourceKindREST    = "rest"
	SourceKindBinance = "binance"
)

type Config struct {
	Depthflow  DepthflowConfig  `yaml:"depthflow"`
	Source     SourceConfig     `yaml:"source"`
	Collector  CollectorConfig  `yaml:"collector"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Storage    StorageConfig    `yaml:"storage"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type DepthflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// SourceConfig describes the depth endpoint and the symbol to poll.
type SourceConfig struct {
	Kind           string               `yaml:"kind"`
	URL            string               `yaml:"url"`
	Symbol         string               `yaml:"symbol"`
	DepthLimit     int                  `yaml:"depth_limit"`
	Timeout        time.Duration        `yaml:"timeout"`
	SequenceField  string               `yaml:"sequence_field"`
	LocalIP        string               `yaml:"local_ip"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

// CollectorConfig holds the poll cadence and the connectivity retry policy.
type CollectorConfig struct {
	SleepTime  time.Duration `yaml:"sleep_time"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// SupervisorConfig controls worker restarts after fatal errors.
type SupervisorConfig struct {
	Cooldown      time.Duration `yaml:"cooldown"`
	RestartBurst  int           `yaml:"restart_burst"`
	RestartWindow time.Duration `yaml:"restart_window"`
}

type ArchiveConfig struct {
	Dir      string `yaml:"dir"`
	Timezone string `yaml:"timezone"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	ReportInterval time.Duration    `yaml:"report_interval"`
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Overrides carries the command line options. Nil fields leave the loaded
// configuration untouched; a set field wins even when it is zero.
type Overrides struct {
	Symbol     *string
	DepthLimit *int
	SleepTime  *int // seconds
	MaxRetries *int
	RetryDelay *int // seconds
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Depthflow: DepthflowConfig{Name: "depthflow", Version: "0.1.0"},
		Source: SourceConfig{
			Kind:          SourceKindREST,
			URL:           "https://api.binance.com/api/v3/depth",
			Timeout:       10 * time.Second,
			SequenceField: "lastUpdateId",
			ConnectionPool: ConnectionPoolConfig{
				MaxIdleConns:    2,
				MaxConnsPerHost: 2,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		Supervisor: SupervisorConfig{
			Cooldown:      60 * time.Second,
			RestartBurst:  5,
			RestartWindow: 30 * time.Minute,
		},
		Archive: ArchiveConfig{Dir: "data", Timezone: "UTC"},
		Metrics: MetricsConfig{
			ReportInterval: 30 * time.Second,
			CloudWatch:     CloudWatchConfig{Namespace: "Depthflow", Dashboard: "Depthflow"},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// LoadConfig reads the YAML file at path on top of Default, applies
// environment and command line overrides and validates the result. An empty
// path skips the file.
func LoadConfig(path string, overrides Overrides) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&config)
	config.Apply(overrides)

	config.Source.Symbol = strings.ToUpper(strings.TrimSpace(config.Source.Symbol))
	config.Source.Kind = strings.ToLower(strings.TrimSpace(config.Source.Kind))
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnv(config *Config) {
	if v := os.Getenv("DEPTHFLOW_SYMBOL"); v != "" {
		config.Source.Symbol = v
	}

	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
}

// Apply copies the options that were set into the configuration.
func (c *Config) Apply(o Overrides) {
	if o.Symbol != nil {
		c.Source.Symbol = *o.Symbol
	}
	if o.DepthLimit != nil {
		c.Source.DepthLimit = *o.DepthLimit
	}
	if o.SleepTime != nil {
		c.Collector.SleepTime = time.Duration(*o.SleepTime) * time.Second
	}
	if o.MaxRetries != nil {
		c.Collector.MaxRetries = *o.MaxRetries
	}
	if o.RetryDelay != nil {
		c.Collector.RetryDelay = time.Duration(*o.RetryDelay) * time.Second
	}
}

// Location resolves the archive time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Archive.Timezone == "" || strings.EqualFold(c.Archive.Timezone, "UTC") {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Archive.Timezone)
}

var symbolRegexp = regexp.MustCompile(`^[A-Z0-9_\-]{2,32}$`)

func validateConfig(cfg *Config) error {
	var errs []error

	if cfg.Depthflow.Name == "" {
		errs = append(errs, fmt.Errorf("depthflow.name is required"))
	}

	switch cfg.Source.Kind {
	case SourceKindREST, SourceKindBinance:
	default:
		errs = append(errs, fmt.Errorf("source.kind '%s' is invalid (want %s or %s)", cfg.Source.Kind, SourceKindREST, SourceKindBinance))
	}
	if cfg.Source.URL == "" {
		errs = append(errs, fmt.Errorf("source.url is required"))
	}
	if cfg.Source.Symbol == "" {
		errs = append(errs, fmt.Errorf("symbol is required"))
	} else if !symbolRegexp.MatchString(cfg.Source.Symbol) {
		errs = append(errs, fmt.Errorf("symbol '%s' is invalid", cfg.Source.Symbol))
	}
	if cfg.Source.DepthLimit <= 0 {
		errs = append(errs, fmt.Errorf("depth_limit must be greater than 0"))
	}
	if cfg.Source.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("source.timeout must be greater than 0"))
	}
	if cfg.Source.Kind == SourceKindREST && cfg.Source.SequenceField == "" {
		errs = append(errs, fmt.Errorf("source.sequence_field is required for the rest source"))
	}

	if cfg.Collector.SleepTime <= 0 {
		errs = append(errs, fmt.Errorf("sleep_time must be greater than 0"))
	}
	if cfg.Collector.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("max_retries must be greater than 0"))
	}
	if cfg.Collector.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("retry_delay must not be negative"))
	}

	if cfg.Supervisor.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("supervisor.cooldown must not be negative"))
	}
	if cfg.Supervisor.RestartBurst <= 0 {
		errs = append(errs, fmt.Errorf("supervisor.restart_burst must be greater than 0"))
	}
	if cfg.Supervisor.RestartWindow <= 0 {
		errs = append(errs, fmt.Errorf("supervisor.restart_window must be greater than 0"))
	}

	if cfg.Archive.Dir == "" {
		errs = append(errs, fmt.Errorf("archive.dir is required"))
	}
	if _, err := cfg.Location(); err != nil {
		errs = append(errs, fmt.Errorf("archive.timezone '%s' is invalid: %w", cfg.Archive.Timezone, err))
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			errs = append(errs, fmt.Errorf("storage.s3.bucket is required when S3 is enabled"))
		} else if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			errs = append(errs, fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket))
		}
		if cfg.Storage.S3.Region == "" {
			errs = append(errs, fmt.Errorf("storage.s3.region is required when S3 is enabled"))
		}
	}

	return errors.Join(errs...)
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
