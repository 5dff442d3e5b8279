// Package resilience carries the supervisor's retry and circuit-breaker
// primitives: a consecutive-failure breaker and a fixed-delay bounded
// retry, matching the dispatcher's single-retry contract.
package resilience

import (
	"sync"
	"time"
)

// CircuitState is the breaker's current mode.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreakerConfig configures failure/recovery thresholds.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int           // consecutive failures before opening
	SleepWindow      time.Duration // time to wait before allowing a half-open probe
}

// DefaultCircuitBreakerConfig opens after two consecutive recorded
// failures and allows a half-open attempt after 15s. The dispatcher
// records one failure per dispatch whose single retry also failed.
func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 2,
		SleepWindow:      15 * time.Second,
	}
}

// CircuitBreaker is a small, mutex-protected consecutive-failure breaker.
// Per agent, the dispatcher treats an open breaker like a non-healthy
// cached status and re-probes the agent through the health prober before
// sending.
type CircuitBreaker struct {
	cfg *CircuitBreakerConfig

	mu              sync.Mutex
	state           CircuitState
	consecutiveFail int
	openedAt        time.Time
}

// NewCircuitBreaker builds a breaker; a nil config uses the defaults.
func NewCircuitBreaker(cfg *CircuitBreakerConfig) *CircuitBreaker {
	if cfg == nil {
		cfg = DefaultCircuitBreakerConfig("default")
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 2
	}
	if cfg.SleepWindow <= 0 {
		cfg.SleepWindow = 15 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// CanExecute reports whether a call should be attempted right now.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.cfg.SleepWindow {
			cb.state = StateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFail = 0
	cb.state = StateClosed
}

// RecordFailure counts a failure and opens the breaker once the threshold
// is reached (or immediately, if already probing from half-open).
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.state = StateOpen
		cb.openedAt = time.Now()
		return
	}

	cb.consecutiveFail++
	if cb.consecutiveFail >= cb.cfg.FailureThreshold {
		cb.state = StateOpen
		cb.openedAt = time.Now()
	}
}

// State returns the current state, for diagnostics.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
