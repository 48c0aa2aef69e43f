package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/ebucket/ebucket/pkg/types"
)

// Configuration is the complete configuration for a bucket processor:
// which metadata groups it polls, how it discovers the bucket catalog,
// where each group's storage lives, and how often it refreshes.
type Configuration struct {
	Global   GlobalConfig     `yaml:"global"`
	Metadata MetadataConfig   `yaml:"metadata"`
	Buckets  BucketsConfig    `yaml:"buckets"`
	Storage  StorageConfig    `yaml:"storage"`
	Refresh  RefreshConfig    `yaml:"refresh"`
	Limits   types.Limits     `yaml:"limits"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig holds process-wide settings.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsPort int    `yaml:"metrics_port"`
	HealthPort  int    `yaml:"health_port"`
}

// MetadataConfig lists the replica groups that hold bucket metadata.
// Capacity stats are polled from each bucket's own replica groups.
type MetadataConfig struct {
	Groups []int32 `yaml:"groups"`
}

// BucketsConfig selects how the catalog is discovered: either a static
// list of names, or a catalog key read from the metadata groups at
// startup and on every refresh. Exactly one must be set.
type BucketsConfig struct {
	Names      []string `yaml:"names"`
	CatalogKey string   `yaml:"catalog_key"`
}

// Static reports whether the catalog is a fixed, compiled-in bucket list.
func (b BucketsConfig) Static() bool {
	return len(b.Names) > 0
}

// StorageConfig maps metadata groups to the storage endpoints that serve
// them and tunes the connection pool each group's session is drawn from.
type StorageConfig struct {
	Endpoints          map[int32]string `yaml:"endpoints"`
	// GroupCapacity declares each group's usable capacity in bytes. S3
	// exposes no quota API, so the free-space fraction the weight
	// function consumes is measured against this configured ceiling
	// rather than a backend-reported limit.
	GroupCapacity      map[int32]uint64 `yaml:"group_capacity"`
	BucketName         string           `yaml:"bucket_name"`
	Region             string           `yaml:"region"`
	ForcePathStyle     bool             `yaml:"force_path_style"`
	ConnectionPoolSize int              `yaml:"connection_pool_size"`
	ConnectTimeout     time.Duration    `yaml:"connect_timeout"`
	ReadTimeout        time.Duration    `yaml:"read_timeout"`
	WriteTimeout       time.Duration    `yaml:"write_timeout"`
}

// RefreshConfig controls the background stat/catalog refresh cycle.
type RefreshConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// MonitoringConfig groups the ambient observability settings.
type MonitoringConfig struct {
	Metrics      MetricsConfig      `yaml:"metrics"`
	HealthChecks HealthChecksConfig `yaml:"health_checks"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// MetricsConfig toggles Prometheus instrumentation.
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Prometheus   bool              `yaml:"prometheus"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// HealthChecksConfig tunes the periodic reachability checks run against
// each storage group.
type HealthChecksConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Structured bool   `yaml:"structured"`
	Format     string `yaml:"format"`
}

// NewDefault returns a configuration with sensible defaults. Metadata.Groups
// and Buckets are left empty -- callers must supply a real catalog source.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			LogFile:     "",
			MetricsPort: 8080,
			HealthPort:  8081,
		},
		Storage: StorageConfig{
			Endpoints:          make(map[int32]string),
			GroupCapacity:      make(map[int32]uint64),
			BucketName:         "ebucket",
			Region:             "us-east-1",
			ConnectionPoolSize: 8,
			ConnectTimeout:     10 * time.Second,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       30 * time.Second,
		},
		Refresh: RefreshConfig{
			Interval: 30 * time.Second,
		},
		Limits: types.DefaultLimits(),
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:    true,
				Prometheus: true,
				CustomLabels: map[string]string{
					"service": "ebucket",
				},
			},
			HealthChecks: HealthChecksConfig{
				Enabled:  true,
				Interval: 30 * time.Second,
				Timeout:  5 * time.Second,
			},
			Logging: LoggingConfig{
				Structured: true,
				Format:     "json",
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file, overlaying onto
// whatever defaults are already set on c.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv overlays configuration from environment variables.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("EBUCKET_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("EBUCKET_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("EBUCKET_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}
	if val := os.Getenv("EBUCKET_CATALOG_KEY"); val != "" {
		c.Buckets.CatalogKey = val
	}
	if val := os.Getenv("EBUCKET_CONNECTION_POOL_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			c.Storage.ConnectionPoolSize = size
		}
	}
	if val := os.Getenv("EBUCKET_REFRESH_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Refresh.Interval = d
		}
	}
	if val := os.Getenv("EBUCKET_METRICS_ENABLED"); val != "" {
		c.Monitoring.Metrics.Enabled = strings.ToLower(val) == "true"
	}

	return nil
}

// SaveToFile writes the configuration to a YAML file, creating its parent
// directory if necessary.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks that the configuration describes a runnable processor.
func (c *Configuration) Validate() error {
	if len(c.Metadata.Groups) == 0 {
		return fmt.Errorf("metadata.groups must list at least one group")
	}

	if c.Buckets.Static() == (c.Buckets.CatalogKey != "") {
		return fmt.Errorf("buckets must set exactly one of names (static) or catalog_key (dynamic)")
	}

	if c.Storage.ConnectionPoolSize <= 0 {
		return fmt.Errorf("connection_pool_size must be greater than 0")
	}

	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh interval must be greater than 0")
	}

	if c.Limits.Size.Hard <= 0 || c.Limits.Size.Soft <= c.Limits.Size.Hard {
		return fmt.Errorf("limits.size must satisfy 0 < hard < soft")
	}

	if c.Global.MetricsPort == c.Global.HealthPort {
		return fmt.Errorf("metrics_port and health_port cannot be the same")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}
