package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements Prometheus-backed metrics collection for a bucket
// processor: selection outcomes, catalog/stat refresh cycles, and
// per-group reachability and pool usage.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	selectionCounter    *prometheus.CounterVec
	selectionDuration   *prometheus.HistogramVec
	selectionSize       *prometheus.HistogramVec
	reloadCounter       *prometheus.CounterVec
	catalogSizeGauge    prometheus.Gauge
	groupReachableGauge *prometheus.GaugeVec
	activeSessionsGauge *prometheus.GaugeVec
	errorCounter        *prometheus.CounterVec

	selections map[string]*SelectionMetrics
	lastReset  time.Time

	server *http.Server
}

// Config represents metrics configuration.
type Config struct {
	Enabled        bool              `yaml:"enabled"`
	Port           int               `yaml:"port"`
	Path           string            `yaml:"path"`
	Labels         map[string]string `yaml:"labels"`
	Namespace      string            `yaml:"namespace"`
	Subsystem      string            `yaml:"subsystem"`
	UpdateInterval time.Duration     `yaml:"update_interval"`
}

// SelectionMetrics tracks outcomes for selections against one bucket.
type SelectionMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalSize     int64         `json:"total_size"`
	Errors        int64         `json:"errors"`
	LastSelection time.Time     `json:"last_selection"`
	AvgDuration   time.Duration `json:"avg_duration"`
	AvgSize       float64       `json:"avg_size"`
}

// NewCollector creates a new metrics collector.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:        true,
			Port:           8080,
			Path:           "/metrics",
			Namespace:      "ebucket",
			Subsystem:      "",
			UpdateInterval: 30 * time.Second,
			Labels:         make(map[string]string),
		}
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	registry := prometheus.NewRegistry()

	collector := &Collector{
		config:     config,
		registry:   registry,
		selections: make(map[string]*SelectionMetrics),
		lastReset:  time.Now(),
	}

	if err := collector.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Start starts the metrics collection server.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/metrics", c.debugMetricsHandler)
	mux.HandleFunc("/debug/selections", c.debugSelectionsHandler)

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Metrics server error: %v\n", err)
		}
	}()

	go c.updateLoop(ctx)

	return nil
}

// Stop stops the metrics collection server.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordSelection records the outcome of a GetBucket/FindBucket call
// against a specific bucket.
func (c *Collector) RecordSelection(bucket string, duration time.Duration, size int64, success bool) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if metrics, exists := c.selections[bucket]; exists {
		metrics.Count++
		metrics.TotalDuration += duration
		metrics.TotalSize += size
		if !success {
			metrics.Errors++
		}
		metrics.LastSelection = time.Now()
		metrics.AvgDuration = time.Duration(int64(metrics.TotalDuration) / metrics.Count)
		metrics.AvgSize = float64(metrics.TotalSize) / float64(metrics.Count)
	} else {
		errs := int64(0)
		if !success {
			errs = 1
		}
		c.selections[bucket] = &SelectionMetrics{
			Count:         1,
			TotalDuration: duration,
			TotalSize:     size,
			Errors:        errs,
			LastSelection: time.Now(),
			AvgDuration:   duration,
			AvgSize:       float64(size),
		}
	}

	status := "error"
	if success {
		status = "success"
	}
	c.selectionCounter.With(prometheus.Labels{
		"bucket": bucket,
		"status": status,
	}).Inc()
	c.selectionDuration.With(prometheus.Labels{
		"bucket": bucket,
	}).Observe(duration.Seconds())

	if size > 0 {
		c.selectionSize.With(prometheus.Labels{
			"bucket": bucket,
		}).Observe(float64(size))
	}

	if !success {
		c.errorCounter.With(prometheus.Labels{
			"operation": "select",
			"type":      "failure",
		}).Inc()
	}
}

// RecordReload counts one background catalog/stat refresh cycle by
// outcome. duration is accepted but not recorded.
func (c *Collector) RecordReload(duration time.Duration, success bool) {
	if !c.config.Enabled {
		return
	}

	status := "success"
	if !success {
		status = "failure"
	}
	c.reloadCounter.With(prometheus.Labels{"status": status}).Inc()
	_ = duration
}

// RecordError records an error against an operation.
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled {
		return
	}

	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"type":      c.classifyError(err),
	}).Inc()
}

// UpdateCatalogSize updates the number of buckets currently known.
func (c *Collector) UpdateCatalogSize(size int) {
	if !c.config.Enabled {
		return
	}

	c.catalogSizeGauge.Set(float64(size))
}

// UpdateGroupReachable updates whether a storage group was reachable in
// the last route table query.
func (c *Collector) UpdateGroupReachable(group int32, reachable bool) {
	if !c.config.Enabled {
		return
	}

	value := 0.0
	if reachable {
		value = 1.0
	}
	c.groupReachableGauge.With(prometheus.Labels{
		"group": fmt.Sprintf("%d", group),
	}).Set(value)
}

// UpdateActiveSessions updates the number of pooled storage sessions for
// a group.
func (c *Collector) UpdateActiveSessions(group int32, count int) {
	if !c.config.Enabled {
		return
	}

	c.activeSessionsGauge.With(prometheus.Labels{
		"group": fmt.Sprintf("%d", group),
	}).Set(float64(count))
}

// GetMetrics returns current metrics.
func (c *Collector) GetMetrics() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	metrics := make(map[string]interface{})

	selections := make(map[string]*SelectionMetrics)
	for k, v := range c.selections {
		selections[k] = &SelectionMetrics{
			Count:         v.Count,
			TotalDuration: v.TotalDuration,
			TotalSize:     v.TotalSize,
			Errors:        v.Errors,
			LastSelection: v.LastSelection,
			AvgDuration:   v.AvgDuration,
			AvgSize:       v.AvgSize,
		}
	}

	metrics["selections"] = selections
	metrics["last_reset"] = c.lastReset
	metrics["uptime"] = time.Since(c.lastReset)

	return metrics
}

// ResetMetrics resets all internally tracked metrics.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.selections = make(map[string]*SelectionMetrics)
	c.lastReset = time.Now()
}

// Helper methods

func (c *Collector) initMetrics() error {
	c.selectionCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "selections_total",
			Help:      "Total number of bucket selections",
		},
		[]string{"bucket", "status"},
	)

	c.selectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "selection_duration_seconds",
			Help:      "Duration of bucket selections in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
		},
		[]string{"bucket"},
	)

	c.selectionSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "selection_size_bytes",
			Help:      "Requested size distribution for bucket selections",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 20),
		},
		[]string{"bucket"},
	)

	c.reloadCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "reloads_total",
			Help:      "Total number of catalog/stat refresh cycles",
		},
		[]string{"status"},
	)

	c.catalogSizeGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "catalog_size",
			Help:      "Number of buckets currently known",
		},
	)

	c.groupReachableGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "group_reachable",
			Help:      "Whether a storage group was reachable in the last route table query",
		},
		[]string{"group"},
	)

	c.activeSessionsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "active_sessions",
			Help:      "Number of pooled storage sessions per group",
		},
		[]string{"group"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors",
		},
		[]string{"operation", "type"},
	)

	return nil
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.selectionCounter,
		c.selectionDuration,
		c.selectionSize,
		c.reloadCounter,
		c.catalogSizeGauge,
		c.groupReachableGauge,
		c.activeSessionsGauge,
		c.errorCounter,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func (c *Collector) classifyError(err error) string {
	errStr := err.Error()
	switch {
	case contains(errStr, "timeout"):
		return "timeout"
	case contains(errStr, "connection"):
		return "connection"
	case contains(errStr, "not found"):
		return "not_found"
	case contains(errStr, "permission"):
		return "permission"
	case contains(errStr, "throttl"):
		return "throttling"
	default:
		return "other"
	}
}

func (c *Collector) updateLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.updatePeriodicMetrics()
		}
	}
}

func (c *Collector) updatePeriodicMetrics() {
	// Gauges (catalog size, reachability, session counts) are pushed
	// directly by the caller; nothing to do on the timer itself.
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"ebucket-metrics"}`))
}

func (c *Collector) debugMetricsHandler(w http.ResponseWriter, r *http.Request) {
	metrics := c.GetMetrics()

	w.Header().Set("Content-Type", "application/json")

	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("{\n")
	writef("  \"uptime\": \"%v\",\n", metrics["uptime"])
	writef("  \"last_reset\": \"%v\",\n", metrics["last_reset"])
	writef("  \"selections\": {\n")

	if selections, ok := metrics["selections"].(map[string]*SelectionMetrics); ok {
		first := true
		for name, sel := range selections {
			if !first {
				writef(",\n")
			}
			writef("    \"%s\": {\n", name)
			writef("      \"count\": %d,\n", sel.Count)
			writef("      \"errors\": %d,\n", sel.Errors)
			writef("      \"avg_duration\": \"%v\",\n", sel.AvgDuration)
			writef("      \"avg_size\": %.2f\n", sel.AvgSize)
			writef("    }")
			first = false
		}
	}

	writef("\n  }\n")
	writef("}\n")
}

func (c *Collector) debugSelectionsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")

	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("Bucket Selections Summary\n")
	writef("==========================\n\n")
	writef("Uptime: %v\n", time.Since(c.lastReset))
	writef("Last Reset: %v\n\n", c.lastReset)

	if len(c.selections) == 0 {
		writef("No selections recorded.\n")
		return
	}

	writef("%-20s %10s %10s %12s %12s %10s\n",
		"Bucket", "Count", "Errors", "Avg Duration", "Avg Size", "Last Sel")
	writef("%-20s %10s %10s %12s %12s %10s\n",
		"----------", "-----", "------", "------------", "--------", "-------")

	for name, sel := range c.selections {
		writef("%-20s %10d %10d %12v %12.0f %10s\n",
			name, sel.Count, sel.Errors, sel.AvgDuration,
			sel.AvgSize, sel.LastSelection.Format("15:04:05"))
	}
}

// Utility functions

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr ||
		(len(s) > len(substr) && indexOf(s, substr) >= 0))
}

func indexOf(s, substr string) int {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
