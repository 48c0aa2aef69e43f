/*
Package metrics provides Prometheus-based metrics collection for a bucket
processor.

# Overview

The metrics package tracks bucket selections, background catalog/stat
refresh cycles, per-group reachability, and pooled session counts. It
exposes both live Prometheus metrics and an internal tracking map for
debugging.

Architecture

	┌─────────────┐
	│  Collector  │  ← Main metrics aggregator
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌─────────▼──────┐
	│  Prometheus  │         │  HTTP Endpoints │
	│   Registry   │         │  /metrics       │
	│              │         │  /health        │
	│ - Counters   │         │  /debug/metrics │
	│ - Histograms │         └─────────────────┘
	│ - Gauges     │
	└──────────────┘

# Core Components

Collector: aggregates and exports metrics for a running processor.

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      8080,
		Path:      "/metrics",
		Namespace: "ebucket",
	})
	if err != nil {
		log.Fatal(err)
	}

	if err := collector.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer collector.Stop(ctx)

# Recording Selections

	start := time.Now()
	bucket, err := processor.GetBucket(ctx, size)
	duration := time.Since(start)

	collector.RecordSelection(bucket, duration, int64(size), err == nil)

# Refresh and Reachability

	collector.RecordReload(time.Since(reloadStart), reloadErr == nil)
	collector.UpdateCatalogSize(len(buckets))
	collector.UpdateGroupReachable(group, reachable)
	collector.UpdateActiveSessions(group, pool.Len())

# Prometheus Metrics

Counters:
  - ebucket_selections_total{bucket,status}
  - ebucket_reloads_total{status}
  - ebucket_errors_total{operation,type}

Histograms:
  - ebucket_selection_duration_seconds{bucket}
  - ebucket_selection_size_bytes{bucket}

Gauges:
  - ebucket_catalog_size
  - ebucket_group_reachable{group}
  - ebucket_active_sessions{group}

# HTTP Endpoints

/metrics - Prometheus-formatted metrics (for scraping)
/health  - Health check endpoint
/debug/metrics    - Human-readable JSON summary of tracked selections
/debug/selections - Tabular selection summary

# Configuration

	config := &metrics.Config{
		Enabled:        true,
		Port:           8080,
		Path:           "/metrics",
		Namespace:      "ebucket",
		Subsystem:      "",
		UpdateInterval: 30 * time.Second,
	}

# Thread Safety

All Collector methods are safe for concurrent use.

# See Also

  - internal/health: health monitoring and alerting
  - internal/circuit: circuit breaker for reliability
  - pkg/errors: structured error handling
*/
package metrics
