// Package circuit implements a per-group circuit breaker: each storage
// group (and, in the recovery layer, each named component) gets its own
// breaker so a slow or unreachable group stops absorbing request budget
// without affecting requests routed to other groups.
package circuit

import (
	"context"
	"sync"
	"time"

	domerrors "github.com/ebucket/ebucket/pkg/errors"
)

// State is one of the three states a breaker cycles through.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config tunes one breaker's trip and recovery behavior.
type Config struct {
	// MaxRequests caps how many probe requests a half-open breaker lets
	// through before it needs a verdict.
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is how long a closed breaker accumulates Counts before
	// they're reset; zero or negative is replaced by 60s.
	Interval time.Duration `yaml:"interval"`

	// Timeout is how long an open breaker waits before probing again.
	Timeout time.Duration `yaml:"timeout"`

	// ReadyToTrip decides, from the closed-state counts, whether the
	// breaker should open. Defaults to trip at 20 or more requests with a
	// failure rate at or above 50%.
	ReadyToTrip func(counts Counts) bool `yaml:"-"`

	// OnStateChange, if set, is called on every state transition.
	OnStateChange func(name string, from State, to State) `yaml:"-"`

	// IsSuccessful classifies a call's error as success or failure for
	// counting purposes. Defaults to "err == nil".
	IsSuccessful func(err error) bool `yaml:"-"`
}

// Counts is a snapshot of a breaker's request tally for its current window.
type Counts struct {
	Requests             uint32    `json:"requests"`
	TotalSuccesses       uint32    `json:"total_successes"`
	TotalFailures        uint32    `json:"total_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	LastActivity         time.Time `json:"last_activity"`
}

func (c *Counts) recordRequest() {
	c.Requests++
	c.LastActivity = time.Now()
}

func (c *Counts) recordSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) recordFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) reset() {
	*c = Counts{}
}

// CircuitBreaker guards calls against a single named dependency (a
// storage group, a recovery component) and rejects them outright once
// that dependency has failed often enough to trip it.
type CircuitBreaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// NewCircuitBreaker builds a breaker for name, filling in Config zero
// values with the package defaults.
func NewCircuitBreaker(name string, config Config) *CircuitBreaker {
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.ReadyToTrip == nil {
		config.ReadyToTrip = defaultReadyToTrip
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = defaultIsSuccessful
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
		expiry: time.Now().Add(config.Interval),
	}
}

func defaultReadyToTrip(counts Counts) bool {
	return counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
}

func defaultIsSuccessful(err error) bool {
	return err == nil
}

// ErrOpenState is returned by beforeRequest when the breaker is open and
// the caller should treat the dependency as unreachable without trying it.
var ErrOpenState = domerrors.New(domerrors.ErrCodeBreakerOpen, "circuit breaker is open").WithComponent("circuit")

// ErrTooManyRequests is returned when a half-open breaker's probe budget
// for the current window is already spent.
var ErrTooManyRequests = domerrors.New(domerrors.ErrCodeBreakerSaturated, "too many probe requests in half-open state").WithComponent("circuit")

// Execute runs fn if the breaker allows it, recording the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	err, _ := cb.ExecuteWithFallback(fn, nil)
	return err
}

// ExecuteWithFallback runs fn if the breaker allows it; otherwise it runs
// fallback (if non-nil) instead of returning the breaker's own error.
func (cb *CircuitBreaker) ExecuteWithFallback(fn func() error, fallback func() error) (error, bool) {
	if err := cb.beforeRequest(); err != nil {
		if fallback != nil {
			return fallback(), true
		}
		return err, false
	}

	err := fn()
	cb.afterRequest(err)
	return err, false
}

// ExecuteWithContext runs fn(ctx) if the breaker allows it.
func (cb *CircuitBreaker) ExecuteWithContext(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state := cb.currentState(now)

	switch {
	case state == StateOpen:
		return ErrOpenState
	case state == StateHalfOpen && cb.counts.Requests >= cb.config.MaxRequests:
		return ErrTooManyRequests
	}

	cb.counts.recordRequest()
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state := cb.currentState(now)

	if cb.config.IsSuccessful(err) {
		cb.onSuccess(state, now)
	} else {
		cb.onFailure(state, now)
	}
}

func (cb *CircuitBreaker) onSuccess(state State, now time.Time) {
	cb.counts.recordSuccess()
	if state == StateHalfOpen {
		cb.setState(StateClosed, now)
	}
}

func (cb *CircuitBreaker) onFailure(state State, now time.Time) {
	cb.counts.recordFailure()

	switch state {
	case StateClosed:
		if cb.config.ReadyToTrip(cb.counts) {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

// currentState advances the breaker past any expired window before
// reporting its state: a closed breaker whose interval lapsed gets its
// counts cleared, and an open breaker past its timeout moves to half-open.
func (cb *CircuitBreaker) currentState(now time.Time) State {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.counts.reset()
			cb.expiry = now.Add(cb.config.Interval)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state
}

func (cb *CircuitBreaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}
	prev := cb.state
	cb.state = state
	cb.counts.reset()

	switch state {
	case StateClosed:
		cb.expiry = now.Add(cb.config.Interval)
	case StateOpen:
		cb.expiry = now.Add(cb.config.Timeout)
	case StateHalfOpen:
		cb.expiry = time.Time{}
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
}

// GetState reports the breaker's state, advancing it past an expired
// window first so a caller never sees a stale Open that should have
// already moved to HalfOpen.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState(time.Now())
}

// GetCounts returns a copy of the breaker's tally for its current window.
func (cb *CircuitBreaker) GetCounts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset forces the breaker back to closed, discarding its counts. Used
// after an operator-confirmed recovery of the underlying group.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.counts.reset()
	cb.setState(StateClosed, time.Now())
}

// Name returns the identifier the breaker was created with (a group
// breaker name or a recovery component name).
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Manager owns a lazily-populated registry of breakers sharing one Config,
// keyed by name, so callers never have to thread breaker lifetimes through
// their own state.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   Config
}

// NewManager builds a registry where every breaker it creates shares config.
func NewManager(config Config) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// GetBreaker returns the breaker for name, creating it on first use.
func (m *Manager) GetBreaker(name string) *CircuitBreaker {
	m.mu.RLock()
	if breaker, ok := m.breakers[name]; ok {
		m.mu.RUnlock()
		return breaker
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if breaker, ok := m.breakers[name]; ok {
		return breaker
	}

	breaker := NewCircuitBreaker(name, m.config)
	m.breakers[name] = breaker
	return breaker
}

// GetAllBreakers returns a snapshot of every breaker the manager has created.
func (m *Manager) GetAllBreakers() map[string]*CircuitBreaker {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*CircuitBreaker, len(m.breakers))
	for name, breaker := range m.breakers {
		result[name] = breaker
	}
	return result
}

// RemoveBreaker drops name from the registry. A later GetBreaker for the
// same name starts fresh.
func (m *Manager) RemoveBreaker(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, name)
}

// ResetAll forces every breaker in the registry back to closed.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		breakers = append(breakers, breaker)
	}
	m.mu.RUnlock()

	for _, breaker := range breakers {
		breaker.Reset()
	}
}

// CircuitBreakerStats is one breaker's reportable state, used by health
// and status endpoints.
type CircuitBreakerStats struct {
	Name   string `json:"name"`
	State  State  `json:"state"`
	Counts Counts `json:"counts"`
}

// GetStats snapshots every breaker in the registry.
func (m *Manager) GetStats() map[string]CircuitBreakerStats {
	m.mu.RLock()
	breakers := make(map[string]*CircuitBreaker, len(m.breakers))
	for name, breaker := range m.breakers {
		breakers[name] = breaker
	}
	m.mu.RUnlock()

	stats := make(map[string]CircuitBreakerStats, len(breakers))
	for name, breaker := range breakers {
		stats[name] = CircuitBreakerStats{
			Name:   name,
			State:  breaker.GetState(),
			Counts: breaker.GetCounts(),
		}
	}
	return stats
}

// HealthCheck reports a domain error naming every open breaker, or nil if
// none are open. A group breaker being open usually means its group is
// unreachable; a recovery-component breaker being open means that
// component's calls are currently being rejected outright.
func (m *Manager) HealthCheck() error {
	stats := m.GetStats()

	var open []string
	for name, stat := range stats {
		if stat.State == StateOpen {
			open = append(open, name)
		}
	}

	if len(open) == 0 {
		return nil
	}

	return domerrors.New(domerrors.ErrCodeBreakerOpen, "one or more circuit breakers are open").
		WithComponent("circuit").
		WithDetail("open_breakers", open)
}
