package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cadenzahq/cadenza/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // normal operation
	CircuitOpen                         // failing, rejecting calls
	CircuitHalfOpen                     // testing recovery with a single probe
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures circuit breaker behavior for all targets.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before allowing a probe.
	ResetTimeout time.Duration
	// RequiredSuccesses is how many consecutive successes close a half-open circuit.
	RequiredSuccesses int
}

// DefaultBreakerConfig returns the standard breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		RequiredSuccesses: 3,
	}
}

// circuitBreaker tracks failure state for a single target.
type circuitBreaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	halfOpenSuccesses   int
	probeInFlight       bool
	openedAt            time.Time
	config              BreakerConfig
	now                 func() time.Time
}

// BreakerRegistry manages one circuit breaker per target key. Steps that hit
// the same external resource share a breaker by declaring the same target.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*circuitBreaker
	config   BreakerConfig
	now      func() time.Time
}

// NewBreakerRegistry creates a registry with the given configuration.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.RequiredSuccesses <= 0 {
		config.RequiredSuccesses = 3
	}
	return &BreakerRegistry{
		breakers: make(map[string]*circuitBreaker),
		config:   config,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (r *BreakerRegistry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
	for _, cb := range r.breakers {
		cb.now = now
	}
}

// Allow checks whether a call to the target is permitted. Returns nil if
// allowed, or a CIRCUIT_OPEN error if the circuit rejects the call. When the
// reset timeout has elapsed on an open circuit, the first caller through is
// admitted as the half-open probe.
func (r *BreakerRegistry) Allow(target string) error {
	cb := r.getOrCreate(target)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) >= cb.config.ResetTimeout {
			cb.state = CircuitHalfOpen
			cb.halfOpenSuccesses = 0
			cb.probeInFlight = true
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit breaker open for target %q after %d consecutive failures",
			target, cb.consecutiveFailures).
			WithDetails(map[string]any{
				"target":               target,
				"consecutive_failures": cb.consecutiveFailures,
				"state":                cb.state.String(),
				"reset_remaining":      (cb.config.ResetTimeout - cb.now().Sub(cb.openedAt)).String(),
			})

	case CircuitHalfOpen:
		if cb.probeInFlight {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit breaker half-open for target %q: probe in flight", target)
		}
		cb.probeInFlight = true
		return nil
	}

	return nil
}

// RecordSuccess records a successful call against the target. In half-open
// state the circuit closes after RequiredSuccesses consecutive successes.
func (r *BreakerRegistry) RecordSuccess(target string) {
	cb := r.getOrCreate(target)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.consecutiveFailures = 0
	case CircuitHalfOpen:
		cb.probeInFlight = false
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.config.RequiredSuccesses {
			cb.state = CircuitClosed
			cb.consecutiveFailures = 0
			cb.halfOpenSuccesses = 0
		}
	}
}

// RecordFailure records a failed call against the target and returns the new
// state. Any half-open failure reopens the circuit immediately.
func (r *BreakerRegistry) RecordFailure(target string) CircuitState {
	cb := r.getOrCreate(target)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		cb.probeInFlight = false
		cb.halfOpenSuccesses = 0
		cb.openedAt = cb.now()
		return CircuitOpen
	}

	if cb.state == CircuitClosed && cb.consecutiveFailures >= cb.config.FailureThreshold {
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
		return CircuitOpen
	}

	return cb.state
}

// State returns the current state for a target, applying the open→half-open
// transition if the reset timeout has elapsed.
func (r *BreakerRegistry) State(target string) CircuitState {
	cb := r.getOrCreate(target)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.config.ResetTimeout {
		cb.state = CircuitHalfOpen
		cb.halfOpenSuccesses = 0
		cb.probeInFlight = false
	}
	return cb.state
}

// Reset manually closes the breaker for a target and clears its counters.
func (r *BreakerRegistry) Reset(target string) {
	cb := r.getOrCreate(target)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.consecutiveFailures = 0
	cb.halfOpenSuccesses = 0
	cb.probeInFlight = false
}

// Stats returns diagnostic information about a target's breaker.
func (r *BreakerRegistry) Stats(target string) map[string]any {
	cb := r.getOrCreate(target)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]any{
		"target":               target,
		"state":                cb.state.String(),
		"consecutive_failures": cb.consecutiveFailures,
		"failure_threshold":    cb.config.FailureThreshold,
		"reset_timeout":        cb.config.ResetTimeout.String(),
		"required_successes":   cb.config.RequiredSuccesses,
	}
}

// Call wraps fn with the breaker protocol for the target: admission check,
// then success/failure accounting based on fn's error.
func (r *BreakerRegistry) Call(ctx context.Context, target string, fn func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	if err := r.Allow(target); err != nil {
		return nil, err
	}
	out, err := fn(ctx)
	if err != nil {
		r.RecordFailure(target)
		return out, err
	}
	r.RecordSuccess(target)
	return out, nil
}

func (r *BreakerRegistry) getOrCreate(target string) *circuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[target]
	if !ok {
		cb = &circuitBreaker{
			state:  CircuitClosed,
			config: r.config,
			now:    r.now,
		}
		r.breakers[target] = cb
	}
	return cb
}
