// Package recovery wraps the storage client's per-group get/put calls in
// a recovery strategy -- plain retry, circuit-breaker-gated, graceful
// degradation, or an explicit fallback -- and tracks which storage
// groups are currently degraded so repeated failures against one group
// don't keep blocking reads against the others.
package recovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ebucket/ebucket/internal/circuit"
	"github.com/ebucket/ebucket/pkg/errors"
	"github.com/ebucket/ebucket/pkg/retry"
	"github.com/ebucket/ebucket/pkg/status"
	"github.com/ebucket/ebucket/pkg/utils"
)

// RecoveryStrategy is how a failed call against a storage group gets
// handled: retried, gated behind a circuit breaker, degraded, or routed
// to a fallback.
type RecoveryStrategy int

const (
	// StrategyRetry backs off and retries via pkg/retry.
	StrategyRetry RecoveryStrategy = iota

	// StrategyCircuitBreaker gates the call behind the component's breaker.
	StrategyCircuitBreaker

	// StrategyGracefulDegradation marks the component degraded on failure
	// but still surfaces the error (or a fallback result) to the caller.
	StrategyGracefulDegradation

	// StrategyFallback runs fn once and falls back only on failure.
	StrategyFallback

	// StrategyFailFast runs fn once, no retry, no breaker.
	StrategyFailFast
)

// String renders the strategy name used in logs and stats.
func (s RecoveryStrategy) String() string {
	switch s {
	case StrategyRetry:
		return "retry"
	case StrategyCircuitBreaker:
		return "circuit_breaker"
	case StrategyGracefulDegradation:
		return "graceful_degradation"
	case StrategyFallback:
		return "fallback"
	case StrategyFailFast:
		return "fail_fast"
	default:
		return "unknown"
	}
}

// RecoveryConfig configures a RecoveryManager.
type RecoveryConfig struct {
	// DefaultStrategy applies to any component not recognized as a
	// storage group and not yet past the failure threshold.
	DefaultStrategy RecoveryStrategy

	RetryConfig retry.Config

	CircuitBreakerConfig circuit.Config

	// EnableAutoRecovery resets a degraded component's breaker on a timer
	// instead of waiting for a caller to retry it.
	EnableAutoRecovery bool

	MaxRecoveryAttempts int

	RecoveryBackoff time.Duration

	Logger *utils.StructuredLogger

	StatusTracker *status.Tracker
}

// DefaultRecoveryConfig is what the s3 storage client constructs its
// RecoveryManager with.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		DefaultStrategy:     StrategyRetry,
		RetryConfig:         retry.DefaultConfig(),
		EnableAutoRecovery:  true,
		MaxRecoveryAttempts: 3,
		RecoveryBackoff:     5 * time.Second,
		CircuitBreakerConfig: circuit.Config{
			MaxRequests: 5,
			Interval:    30 * time.Second,
			Timeout:     60 * time.Second,
		},
	}
}

// RecoveryManager wraps storage-group calls with the strategies above
// and tracks which groups are currently degraded.
type RecoveryManager struct {
	config   RecoveryConfig
	retryer  *retry.Retryer
	breakers *circuit.Manager
	logger   *utils.StructuredLogger

	mu                 sync.RWMutex
	recoveryAttempts   map[string]int
	degradedComponents map[string]*DegradedState
	fallbackFunctions  map[string]FallbackFunc
}

// DegradedState is why and since-when a component has been degraded,
// and when it's next eligible for an automatic recovery attempt.
type DegradedState struct {
	Component     string
	Reason        string
	Since         time.Time
	AttemptCount  int
	LastAttempt   time.Time
	NextAttempt   time.Time
	OriginalError *errors.Error
}

// FallbackFunc produces a substitute result when the primary call fails.
type FallbackFunc func(ctx context.Context) (interface{}, error)

// NewRecoveryManager builds a RecoveryManager from config.
func NewRecoveryManager(config RecoveryConfig) *RecoveryManager {
	if config.Logger == nil {
		loggerConfig := utils.DefaultStructuredLoggerConfig()
		logger, _ := utils.NewStructuredLogger(loggerConfig)
		config.Logger = logger
	}

	return &RecoveryManager{
		config:             config,
		retryer:            retry.New(config.RetryConfig),
		breakers:           circuit.NewManager(config.CircuitBreakerConfig),
		logger:             config.Logger,
		recoveryAttempts:   make(map[string]int),
		degradedComponents: make(map[string]*DegradedState),
		fallbackFunctions:  make(map[string]FallbackFunc),
	}
}

// Execute runs fn under the chosen recovery strategy, discarding any
// result value.
func (rm *RecoveryManager) Execute(ctx context.Context, component string, operation string, fn func() error) error {
	_, err := rm.ExecuteWithResult(ctx, component, operation, func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// ExecuteWithResult runs fn under the strategy determineStrategy picks
// for component, routing through a fallback if one is registered and
// the component is already degraded.
func (rm *RecoveryManager) ExecuteWithResult(ctx context.Context, component string, operation string, fn func() (interface{}, error)) (interface{}, error) {
	opKey := fmt.Sprintf("%s:%s", component, operation)

	if rm.isComponentDegraded(component) {
		if fallback := rm.getFallback(opKey); fallback != nil {
			rm.logger.Info("Using fallback for degraded component",
				map[string]interface{}{
					"component": component,
					"operation": operation,
				})
			return fallback(ctx)
		}
		return nil, errors.New(errors.ErrCodeServiceDegraded,
			fmt.Sprintf("component %s is in degraded state", component)).
			WithComponent(component).
			WithOperation(operation)
	}

	strategy := rm.determineStrategy(component, operation)

	switch strategy {
	case StrategyRetry:
		return rm.executeWithRetry(ctx, component, operation, fn)
	case StrategyCircuitBreaker:
		return rm.executeWithCircuitBreaker(ctx, component, operation, fn)
	case StrategyGracefulDegradation:
		return rm.executeWithDegradation(ctx, component, operation, fn)
	case StrategyFallback:
		return rm.executeWithFallback(ctx, component, operation, fn)
	case StrategyFailFast:
		return fn()
	default:
		return fn()
	}
}

// executeWithRetry runs fn through the shared Retryer.
func (rm *RecoveryManager) executeWithRetry(ctx context.Context, component string, operation string, fn func() (interface{}, error)) (interface{}, error) {
	var result interface{}

	err := rm.retryer.DoWithContext(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn()
		return err
	})

	if err != nil {
		rm.handleFailure(component, operation, err)
		return nil, rm.enhanceError(err, component, operation, "retry exhausted")
	}

	rm.handleSuccess(component, operation)
	return result, nil
}

// executeWithCircuitBreaker runs fn through component's breaker, marking
// the component degraded if the breaker itself rejects the call.
func (rm *RecoveryManager) executeWithCircuitBreaker(ctx context.Context, component string, operation string, fn func() (interface{}, error)) (interface{}, error) {
	breaker := rm.breakers.GetBreaker(component)

	var result interface{}
	var fnErr error

	err := breaker.ExecuteWithContext(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn()
		fnErr = err
		return err
	})

	if err != nil {
		if err == circuit.ErrOpenState {
			rm.markDegraded(component, operation, fmt.Errorf("circuit breaker open"))
			rm.logger.Warn("Circuit breaker open", map[string]interface{}{
				"component": component,
				"operation": operation,
			})
			return nil, errors.New(errors.ErrCodeServiceDegraded,
				"service temporarily unavailable due to repeated failures").
				WithComponent(component).
				WithOperation(operation).
				WithCause(err)
		}
		rm.handleFailure(component, operation, err)
		return nil, rm.enhanceError(fnErr, component, operation, "circuit breaker triggered")
	}

	rm.handleSuccess(component, operation)
	return result, nil
}

// executeWithDegradation runs fn once, marking component degraded and
// trying a registered fallback on failure.
func (rm *RecoveryManager) executeWithDegradation(ctx context.Context, component string, operation string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := fn()
	if err != nil {
		rm.markDegraded(component, operation, err)

		opKey := fmt.Sprintf("%s:%s", component, operation)
		if fallback := rm.getFallback(opKey); fallback != nil {
			rm.logger.Info("Using fallback due to error", map[string]interface{}{
				"component": component,
				"operation": operation,
				"error":     err.Error(),
			})
			return fallback(ctx)
		}

		return nil, rm.enhanceError(err, component, operation, "operating in degraded mode")
	}

	rm.handleSuccess(component, operation)
	return result, nil
}

// executeWithFallback runs fn once and falls back to a registered
// FallbackFunc on failure, without marking the component degraded.
func (rm *RecoveryManager) executeWithFallback(ctx context.Context, component string, operation string, fn func() (interface{}, error)) (interface{}, error) {
	result, err := fn()
	if err != nil {
		opKey := fmt.Sprintf("%s:%s", component, operation)
		if fallback := rm.getFallback(opKey); fallback != nil {
			rm.logger.Info("Primary operation failed, using fallback", map[string]interface{}{
				"component": component,
				"operation": operation,
			})
			return fallback(ctx)
		}
		return nil, rm.enhanceError(err, component, operation, "no fallback available")
	}
	return result, nil
}

// RegisterFallback registers fallback for component/operation, keyed the
// same way ExecuteWithResult derives its lookup key.
func (rm *RecoveryManager) RegisterFallback(component string, operation string, fallback FallbackFunc) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	opKey := fmt.Sprintf("%s:%s", component, operation)
	rm.fallbackFunctions[opKey] = fallback
}

// getFallback looks up a fallback by its component:operation key.
func (rm *RecoveryManager) getFallback(opKey string) FallbackFunc {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.fallbackFunctions[opKey]
}

// markDegraded records component as degraded, bumping its attempt count
// and scheduling the next automatic recovery attempt.
func (rm *RecoveryManager) markDegraded(component string, operation string, err error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	state := rm.degradedComponents[component]
	if state == nil {
		state = &DegradedState{
			Component: component,
			Since:     time.Now(),
		}
		rm.degradedComponents[component] = state
	}

	state.Reason = fmt.Sprintf("%s: %v", operation, err)
	state.AttemptCount++
	state.LastAttempt = time.Now()
	state.NextAttempt = time.Now().Add(rm.config.RecoveryBackoff)

	if domErr, ok := err.(*errors.Error); ok {
		state.OriginalError = domErr
	}

	rm.logger.Warn("Component marked as degraded", map[string]interface{}{
		"component": component,
		"reason":    state.Reason,
		"attempts":  state.AttemptCount,
	})

	if rm.config.EnableAutoRecovery && state.AttemptCount <= rm.config.MaxRecoveryAttempts {
		go rm.attemptAutoRecovery(component)
	}
}

// isComponentDegraded reports whether component currently has a
// DegradedState entry.
func (rm *RecoveryManager) isComponentDegraded(component string) bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.degradedComponents[component] != nil
}

// attemptAutoRecovery waits until a degraded component's scheduled
// retry time, resets its breaker, and clears its degraded state.
// Started as a goroutine from markDegraded; never resolves the
// underlying cause, only gives the breaker a chance to re-probe.
func (rm *RecoveryManager) attemptAutoRecovery(component string) {
	rm.mu.RLock()
	state := rm.degradedComponents[component]
	if state == nil {
		rm.mu.RUnlock()
		return
	}
	nextAttempt := state.NextAttempt
	rm.mu.RUnlock()

	time.Sleep(time.Until(nextAttempt))

	rm.logger.Info("Attempting automatic recovery", map[string]interface{}{
		"component": component,
		"attempt":   state.AttemptCount + 1,
	})

	breaker := rm.breakers.GetBreaker(component)
	breaker.Reset()

	rm.mu.Lock()
	delete(rm.degradedComponents, component)
	rm.mu.Unlock()

	rm.logger.Info("Component recovered", map[string]interface{}{
		"component": component,
	})
}

// RecoverComponent clears component's degraded state and resets its
// breaker immediately, without waiting for the scheduled attempt.
func (rm *RecoveryManager) RecoverComponent(component string) error {
	rm.mu.Lock()
	state := rm.degradedComponents[component]
	if state == nil {
		rm.mu.Unlock()
		return errors.New(errors.ErrCodeInvalidState, "component not in degraded state").
			WithComponent(component)
	}
	delete(rm.degradedComponents, component)
	rm.mu.Unlock()

	breaker := rm.breakers.GetBreaker(component)
	breaker.Reset()

	rm.logger.Info("Component manually recovered", map[string]interface{}{
		"component": component,
	})

	return nil
}

// GetDegradedComponents snapshots every currently degraded component.
func (rm *RecoveryManager) GetDegradedComponents() map[string]*DegradedState {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	result := make(map[string]*DegradedState, len(rm.degradedComponents))
	for k, v := range rm.degradedComponents {
		stateCopy := *v
		result[k] = &stateCopy
	}
	return result
}

// GetCircuitBreakerStats reports every component's breaker state.
func (rm *RecoveryManager) GetCircuitBreakerStats() map[string]circuit.CircuitBreakerStats {
	return rm.breakers.GetStats()
}

// storageComponentPrefix matches the component names the s3 client
// registers its groups under (storage/s3/group-N); see groupComponent.
const storageComponentPrefix = "storage/"

// determineStrategy picks a strategy for component's next call. A
// storage group with three or more consecutive failures graduates from
// plain retry to circuit-breaker gating, so a group that's genuinely
// down stops eating a retry budget on every read.
func (rm *RecoveryManager) determineStrategy(component string, operation string) RecoveryStrategy {
	rm.mu.RLock()
	attemptCount := rm.recoveryAttempts[component]
	rm.mu.RUnlock()

	if attemptCount >= 3 {
		return StrategyCircuitBreaker
	}

	if strings.HasPrefix(component, storageComponentPrefix) {
		return StrategyRetry
	}

	return rm.config.DefaultStrategy
}

// handleSuccess clears component's consecutive-failure count.
func (rm *RecoveryManager) handleSuccess(component string, operation string) {
	rm.mu.Lock()
	delete(rm.recoveryAttempts, component)
	rm.mu.Unlock()
}

// handleFailure bumps component's consecutive-failure count and logs it.
func (rm *RecoveryManager) handleFailure(component string, operation string, err error) {
	rm.mu.Lock()
	rm.recoveryAttempts[component]++
	attempts := rm.recoveryAttempts[component]
	rm.mu.Unlock()

	rm.logger.Error("Operation failed", map[string]interface{}{
		"component": component,
		"operation": operation,
		"attempts":  attempts,
		"error":     err.Error(),
	})
}

// enhanceError tags err with component, operation, and a short note on
// which recovery path produced it, wrapping it in a domain error first
// if it isn't already one.
func (rm *RecoveryManager) enhanceError(err error, component string, operation string, context string) error {
	if domErr, ok := err.(*errors.Error); ok {
		return domErr.
			WithComponent(component).
			WithOperation(operation).
			WithDetail("recovery_context", context)
	}

	return errors.New(errors.ErrCodeInternal, err.Error()).
		WithComponent(component).
		WithOperation(operation).
		WithCause(err).
		WithDetail("recovery_context", context)
}

// GetRecoveryStats rolls up degraded-component counts, breaker states,
// and total retry attempts across every tracked component.
func (rm *RecoveryManager) GetRecoveryStats() RecoveryStats {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	return RecoveryStats{
		DegradedComponents: len(rm.degradedComponents),
		ActiveRecoveries:   rm.countActiveRecoveries(),
		CircuitBreakers:    rm.breakers.GetStats(),
		TotalAttempts:      rm.sumRecoveryAttempts(),
	}
}

// RecoveryStats is the snapshot GetRecoveryStats returns.
type RecoveryStats struct {
	DegradedComponents int                                    `json:"degraded_components"`
	ActiveRecoveries   int                                    `json:"active_recoveries"`
	CircuitBreakers    map[string]circuit.CircuitBreakerStats `json:"circuit_breakers"`
	TotalAttempts      int                                    `json:"total_attempts"`
}

// countActiveRecoveries counts degraded components still waiting on
// their next scheduled recovery attempt.
func (rm *RecoveryManager) countActiveRecoveries() int {
	count := 0
	for _, state := range rm.degradedComponents {
		if state.NextAttempt.After(time.Now()) {
			count++
		}
	}
	return count
}

// sumRecoveryAttempts totals consecutive-failure counts across every
// component that has ever failed.
func (rm *RecoveryManager) sumRecoveryAttempts() int {
	total := 0
	for _, count := range rm.recoveryAttempts {
		total += count
	}
	return total
}

// Shutdown flushes and closes the recovery manager's logger. It does not
// touch the circuit breakers or degraded-component state, which belong
// to whatever owns the RecoveryManager's lifetime.
func (rm *RecoveryManager) Shutdown(ctx context.Context) error {
	rm.logger.Info("recovery manager shutting down")
	return rm.logger.Close()
}
