package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	domerrors "github.com/ebucket/ebucket/pkg/errors"
	"github.com/ebucket/ebucket/pkg/utils"
)

// Monitor runs the registered health checks on a schedule, turns
// unhealthy results into alerts, and answers the status queries the
// Processor's HealthStatus exposes. Components register themselves
// (typically one per storage group) via RegisterComponent.
type Monitor struct {
	mu      sync.RWMutex
	checker *Checker
	config  *MonitorConfig
	alerts  *AlertManager
	logger  *utils.Logger
	started bool
	stopCh  chan struct{}

	components map[string]HealthyComponent
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Enabled           bool          `yaml:"enabled"`
	MonitorInterval   time.Duration `yaml:"monitor_interval"`
	HealthCheckConfig *Config       `yaml:"health_check"`

	AlertingEnabled bool         `yaml:"alerting_enabled"`
	AlertConfig     *AlertConfig `yaml:"alert_config"`

	ReportingEnabled bool          `yaml:"reporting_enabled"`
	ReportInterval   time.Duration `yaml:"report_interval"`

	// Logger receives the monitor's own diagnostics (cycle failures,
	// generated reports). Defaults to a discard logger.
	Logger *utils.Logger `yaml:"-"`
}

// AlertConfig configures the AlertManager.
type AlertConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Channels      []string      `yaml:"channels"`
	Severity      string        `yaml:"severity"`
	Cooldown      time.Duration `yaml:"cooldown"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// HealthyComponent is anything a Monitor can register and poll: in this
// module, exclusively storage-group reachability probes, one per
// metadata or replica group.
type HealthyComponent interface {
	HealthCheck(ctx context.Context) error
	GetComponentName() string
	GetComponentType() string
}

// Alert is one health-check failure surfaced to the configured channels.
type Alert struct {
	ID         string     `json:"id"`
	Component  string     `json:"component"`
	Check      string     `json:"check"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Timestamp  time.Time  `json:"timestamp"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// AlertManager fans a new Alert out to every configured channel.
type AlertManager struct {
	mu       sync.RWMutex
	config   *AlertConfig
	alerts   map[string]*Alert
	channels map[string]AlertChannel
}

// AlertChannel delivers an Alert somewhere (console, a webhook, etc).
type AlertChannel interface {
	SendAlert(alert *Alert) error
	GetChannelName() string
}

// NewMonitor builds a Monitor from config, creating its Checker and
// AlertManager.
func NewMonitor(config *MonitorConfig) (*Monitor, error) {
	if config == nil {
		config = &MonitorConfig{
			Enabled:          true,
			MonitorInterval:  time.Minute,
			AlertingEnabled:  true,
			ReportingEnabled: true,
			ReportInterval:   5 * time.Minute,
		}
	}
	if config.Logger == nil {
		config.Logger = utils.NewDiscardLogger()
	}

	checker, err := NewChecker(config.HealthCheckConfig)
	if err != nil {
		return nil, fmt.Errorf("create health checker: %w", err)
	}

	alertManager, err := NewAlertManager(config.AlertConfig)
	if err != nil {
		return nil, fmt.Errorf("create alert manager: %w", err)
	}

	return &Monitor{
		checker:    checker,
		config:     config,
		alerts:     alertManager,
		logger:     config.Logger,
		components: make(map[string]HealthyComponent),
		stopCh:     make(chan struct{}),
	}, nil
}

// Start registers the baseline liveness check and launches the
// monitoring (and, if configured, reporting) loops.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.config.Enabled {
		return nil
	}
	if m.started {
		return domerrors.New(domerrors.ErrCodeInvalidState, "monitor already started").WithComponent("health")
	}

	if err := m.checker.Start(ctx); err != nil {
		return fmt.Errorf("start health checker: %w", err)
	}

	if err := m.registerBaselineCheck(); err != nil {
		return fmt.Errorf("register baseline check: %w", err)
	}

	m.started = true

	go m.monitorLoop()
	if m.config.ReportingEnabled {
		go m.reportLoop()
	}

	return nil
}

// Stop halts the monitoring loops and the underlying checker.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return domerrors.New(domerrors.ErrCodeInvalidState, "monitor not started").WithComponent("health")
	}

	close(m.stopCh)

	if err := m.checker.Stop(); err != nil {
		return fmt.Errorf("stop health checker: %w", err)
	}

	m.started = false
	return nil
}

// RegisterComponent adds component to the registry and schedules its
// HealthCheck under a check named after it. Re-registering an
// already-known name returns an error rather than silently replacing it.
func (m *Monitor) RegisterComponent(component HealthyComponent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := component.GetComponentName()
	if _, exists := m.components[name]; exists {
		return domerrors.New(domerrors.ErrCodeInvalidState, "component already registered").
			WithComponent("health").WithDetail("component", name)
	}

	m.components[name] = component

	return m.checker.RegisterCheck(
		name,
		fmt.Sprintf("reachability check for %s", name),
		m.mapComponentTypeToCategory(component.GetComponentType()),
		m.mapComponentTypeToPriority(component.GetComponentType()),
		StorageCheck(component.HealthCheck),
	)
}

// GetStatus returns the checker's rolled-up ServiceStatus.
func (m *Monitor) GetStatus() *ServiceStatus {
	m.mu.RLock()
	componentCount := len(m.components)
	m.mu.RUnlock()

	metadata := map[string]interface{}{
		"service":    "ebucket",
		"components": componentCount,
	}
	return m.checker.NewServiceStatus("1.0.0", metadata)
}

// GetDetailedStatus reports overall status, every registered
// component's identity, and the most recent alerts.
func (m *Monitor) GetDetailedStatus() map[string]interface{} {
	m.mu.RLock()
	components := make(map[string]interface{}, len(m.components))
	for name, component := range m.components {
		components[name] = map[string]interface{}{
			"name": component.GetComponentName(),
			"type": component.GetComponentType(),
		}
	}
	m.mu.RUnlock()

	return map[string]interface{}{
		"status":     m.checker.GetStatus(),
		"components": components,
		"alerts":     m.alerts.GetRecentAlerts(10),
		"config":     m.config,
	}
}

// IsHealthy reports whether the checker's overall status is healthy,
// which requires every registered check to be passing.
func (m *Monitor) IsHealthy() bool {
	return m.checker.IsHealthy()
}

// TriggerCheck runs one named check immediately, outside its schedule.
func (m *Monitor) TriggerCheck(ctx context.Context, checkName string) (*Result, error) {
	return m.checker.RunCheck(ctx, checkName)
}

// TriggerAllChecks runs every registered check immediately.
func (m *Monitor) TriggerAllChecks(ctx context.Context) (map[string]*Result, error) {
	return m.checker.RunAllChecks(ctx)
}

// registerBaselineCheck registers the one check every Monitor carries
// regardless of which components get added later: confirmation that the
// monitoring loop itself is alive and able to reach the checker.
func (m *Monitor) registerBaselineCheck() error {
	return m.checker.RegisterCheck(
		"monitor_heartbeat",
		"confirms the monitor loop is running",
		CategoryCore,
		PriorityCritical,
		PingCheck(),
	)
}

func (m *Monitor) mapComponentTypeToCategory(componentType string) Category {
	switch componentType {
	case "storage", "s3":
		return CategoryStorage
	case "cache", "lru", "multilevel":
		return CategoryCache
	case "network", "http", "tcp":
		return CategoryNetwork
	case "security", "auth":
		return CategorySecurity
	case "metrics", "monitoring":
		return CategoryPerformance
	default:
		return CategoryCore
	}
}

func (m *Monitor) mapComponentTypeToPriority(componentType string) Priority {
	switch componentType {
	case "storage", "core":
		return PriorityCritical
	case "cache", "network":
		return PriorityHigh
	case "metrics", "monitoring":
		return PriorityMedium
	default:
		return PriorityLow
	}
}

func (m *Monitor) monitorLoop() {
	interval := m.config.MonitorInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.runMonitoringCycle()
		}
	}
}

func (m *Monitor) runMonitoringCycle() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results, err := m.checker.RunAllChecks(ctx)
	if err != nil {
		m.logger.Warn("monitor: health check cycle failed: %s", err)
		return
	}

	if m.config.AlertingEnabled {
		m.raiseAlertsFor(results)
	}
}

// raiseAlertsFor turns every unhealthy result into an Alert naming the
// component that owns the failing check, if one is registered under
// that name, so operators see which storage group failed rather than a
// generic service-wide label.
func (m *Monitor) raiseAlertsFor(results map[string]*Result) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for checkName, result := range results {
		if result.Status != StatusUnhealthy {
			continue
		}

		componentName := checkName
		if component, ok := m.components[checkName]; ok {
			componentName = component.GetComponentName()
		}

		m.alerts.ProcessAlert(&Alert{
			ID:        fmt.Sprintf("%s-%d", checkName, result.Timestamp.Unix()),
			Component: componentName,
			Check:     checkName,
			Severity:  "warning",
			Message:   fmt.Sprintf("health check %s failed: %s", checkName, result.Message),
			Timestamp: result.Timestamp,
		})
	}
}

func (m *Monitor) reportLoop() {
	interval := m.config.ReportInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			status := m.GetStatus()
			m.logger.Info("monitor: status report: status=%s, components=%v",
				status.Status, status.Metadata["components"])
		}
	}
}

// NewAlertManager builds an AlertManager from config, wiring up the
// console channel by default.
func NewAlertManager(config *AlertConfig) (*AlertManager, error) {
	if config == nil {
		config = &AlertConfig{
			Enabled:       true,
			Channels:      []string{"console"},
			Severity:      "warning",
			Cooldown:      5 * time.Minute,
			RetryAttempts: 3,
			RetryInterval: time.Minute,
		}
	}

	am := &AlertManager{
		config:   config,
		alerts:   make(map[string]*Alert),
		channels: make(map[string]AlertChannel),
	}
	am.channels["console"] = &ConsoleAlertChannel{}

	return am, nil
}

// ProcessAlert stores alert and fans it out to every configured channel.
func (am *AlertManager) ProcessAlert(alert *Alert) {
	am.mu.Lock()
	defer am.mu.Unlock()

	if !am.config.Enabled {
		return
	}

	am.alerts[alert.ID] = alert

	for _, channelName := range am.config.Channels {
		channel, ok := am.channels[channelName]
		if !ok {
			continue
		}
		go func(ch AlertChannel, a *Alert) {
			_ = ch.SendAlert(a)
		}(channel, alert)
	}
}

// GetRecentAlerts returns up to limit alerts, most recent first.
func (am *AlertManager) GetRecentAlerts(limit int) []*Alert {
	am.mu.RLock()
	defer am.mu.RUnlock()

	alerts := make([]*Alert, 0, len(am.alerts))
	for _, alert := range am.alerts {
		alerts = append(alerts, alert)
	}

	for i := 0; i < len(alerts)-1; i++ {
		for j := i + 1; j < len(alerts); j++ {
			if alerts[i].Timestamp.Before(alerts[j].Timestamp) {
				alerts[i], alerts[j] = alerts[j], alerts[i]
			}
		}
	}

	if len(alerts) > limit {
		alerts = alerts[:limit]
	}
	return alerts
}

// ConsoleAlertChannel writes alerts to stdout.
type ConsoleAlertChannel struct{}

func (c *ConsoleAlertChannel) SendAlert(alert *Alert) error {
	fmt.Printf("[ALERT] %s: %s - %s (component: %s, check: %s)\n",
		alert.Severity, alert.Timestamp.Format(time.RFC3339), alert.Message, alert.Component, alert.Check)
	return nil
}

func (c *ConsoleAlertChannel) GetChannelName() string {
	return "console"
}

// HealthEndpoints exposes a Monitor's status the way an HTTP handler
// wired to a load balancer's health probe would consume it.
type HealthEndpoints struct {
	monitor *Monitor
}

func NewHealthEndpoints(monitor *Monitor) *HealthEndpoints {
	return &HealthEndpoints{monitor: monitor}
}

func (he *HealthEndpoints) GetHealthStatus() map[string]interface{} {
	status := "unhealthy"
	if he.monitor.IsHealthy() {
		status = "healthy"
	}
	return map[string]interface{}{"status": status, "timestamp": time.Now()}
}

func (he *HealthEndpoints) GetDetailedHealth() map[string]interface{} {
	return he.monitor.GetDetailedStatus()
}
