/*
Package config provides configuration management for a bucket processor
with multi-source support.

This package implements a small hierarchical configuration system that
supports YAML files, environment variables, and programmatic overrides,
with validation before a processor is started.

# Configuration Architecture

Multi-source configuration with precedence:

	┌─────────────────────────────────────────────┐
	│          Runtime Overrides                 │ ← Highest Priority
	│        (direct field assignment)           │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Environment Variables                │
	│             (EBUCKET_*)                     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration Files                 │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│        (Compiled-in defaults)              │
	└─────────────────────────────────────────────┘

# Configuration Structure

Global Settings:
  - Logging level and destination
  - Metrics and health check ports

Metadata Settings:
  - The replica groups that hold bucket metadata

Buckets Settings:
  - Either a static list of bucket names, or a catalog key read
    dynamically from the metadata groups

Storage Settings:
  - Per-group storage endpoints
  - Connection pool size and timeouts

Refresh Settings:
  - The interval between background stat and catalog refresh cycles

Limits:
  - The hard and soft free-fraction thresholds consulted by bucket weighting

Monitoring Settings:
  - Metrics collection, health check cadence, and logging format

# Usage Examples

Loading configuration:

	cfg := config.NewDefault()

	if err := cfg.LoadFromFile("/etc/ebucket/config.yaml"); err != nil {
		log.Fatal(err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}

	cfg.Global.LogLevel = "DEBUG"

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

Configuration file format:

	global:
	  log_level: INFO
	  metrics_port: 8080
	  health_port: 8081

	metadata:
	  groups: [1, 2, 3]

	buckets:
	  names:
	    - bucket-east
	    - bucket-west

	storage:
	  connection_pool_size: 8
	  connect_timeout: 10s
	  read_timeout: 30s
	  write_timeout: 30s

	refresh:
	  interval: 30s

	limits:
	  size:
	    hard: 0.05
	    soft: 0.15

Environment variable mapping:

	EBUCKET_LOG_LEVEL="DEBUG"
	EBUCKET_METRICS_PORT="9090"
	EBUCKET_CATALOG_KEY="catalog/buckets"
	EBUCKET_CONNECTION_POOL_SIZE="16"
	EBUCKET_REFRESH_INTERVAL="10s"
	EBUCKET_METRICS_ENABLED="true"

# Validation

Validate checks that the configuration describes a runnable processor:
at least one metadata group, exactly one of a static bucket list or a
catalog key, a positive connection pool size and refresh interval, a
well-ordered limits.size (0 < hard < soft), distinct metrics and health
ports, and a recognized log level.
*/
package config
