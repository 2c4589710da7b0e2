package engine

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/cadenzahq/cadenza/pkg/schema"
)

// RetryConfig is a fully-resolved retry policy. It is built once per step by
// merging the step's declared policy onto the engine defaults, then consulted
// by pure functions; the config itself holds no mutable state.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Exponential bool
	Jitter      bool
	// RetryableKinds, when non-empty, is an allow-list: only these error
	// codes retry. NonRetryableKinds is a deny-list and wins on overlap.
	RetryableKinds    []string
	NonRetryableKinds []string
	// Rand returns a value in [0, 1). Injectable for deterministic tests;
	// nil falls back to math/rand.
	Rand func() float64
}

// DefaultRetryConfig returns the engine-wide retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Exponential: true,
		Jitter:      true,
	}
}

// RetryConfigFromPolicy merges a step's declared policy onto the given
// defaults. Absent fields keep the default; malformed durations fall back to
// the default silently (definitions should be validated before execution).
func RetryConfigFromPolicy(policy *schema.RetryPolicy, defaults RetryConfig) RetryConfig {
	cfg := defaults
	if policy == nil {
		return cfg
	}
	if policy.MaxAttempts > 0 {
		cfg.MaxAttempts = policy.MaxAttempts
	}
	if policy.BaseDelay != "" {
		if d, err := time.ParseDuration(policy.BaseDelay); err == nil && d > 0 {
			cfg.BaseDelay = d
		}
	}
	if policy.MaxDelay != "" {
		if d, err := time.ParseDuration(policy.MaxDelay); err == nil && d > 0 {
			cfg.MaxDelay = d
		}
	}
	if policy.Exponential != nil {
		cfg.Exponential = *policy.Exponential
	}
	if policy.Jitter != nil {
		cfg.Jitter = *policy.Jitter
	}
	if len(policy.RetryableKinds) > 0 {
		cfg.RetryableKinds = policy.RetryableKinds
	}
	if len(policy.NonRetryableKinds) > 0 {
		cfg.NonRetryableKinds = policy.NonRetryableKinds
	}
	return cfg
}

// ShouldRetry decides whether a failed attempt may be retried. attempt is the
// 1-based number of the attempt that just failed.
func ShouldRetry(err error, attempt int, cfg RetryConfig) bool {
	if err == nil || attempt >= cfg.MaxAttempts {
		return false
	}

	code := errorCode(err)

	// Deny-list wins over everything.
	for _, kind := range cfg.NonRetryableKinds {
		if kind == code {
			return false
		}
	}

	// Allow-list, when present, is exhaustive.
	if len(cfg.RetryableKinds) > 0 {
		for _, kind := range cfg.RetryableKinds {
			if kind == code {
				return true
			}
		}
		return false
	}

	return IsRetryableError(err)
}

// NextDelay computes the backoff before the next attempt. attempt is the
// 1-based number of the attempt that just failed, so the first retry waits
// roughly BaseDelay, the second 2*BaseDelay, and so on up to MaxDelay.
// With jitter the delay is scaled by a uniform factor in [0.5, 1.0].
func NextDelay(attempt int, cfg RetryConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := cfg.BaseDelay
	if cfg.Exponential {
		for i := 1; i < attempt; i++ {
			delay *= 2
			if cfg.MaxDelay > 0 && delay >= cfg.MaxDelay {
				delay = cfg.MaxDelay
				break
			}
		}
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter && delay > 0 {
		randFn := cfg.Rand
		if randFn == nil {
			randFn = rand.Float64
		}
		factor := 0.5 + 0.5*randFn()
		delay = time.Duration(float64(delay) * factor)
	}
	return delay
}

// WaitForBackoff sleeps for the given delay or returns early if the context
// is cancelled. Returns the context error on early return.
func WaitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRetryableError classifies whether an error should be retried when the
// step declares no allow/deny lists. Retryable by default: network errors,
// timeouts, context.DeadlineExceeded. Non-retryable: context.Canceled and
// typed EngineErrors whose code is permanent.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Deadline exceeded is a step timeout, worth another attempt.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Cancellation means the execution is shutting down.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		return engErr.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// String heuristics for common transient patterns.
	msg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"internal server error",
		"too many requests",
	}
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	// Default: retryable (conservative — the attempt cap limits damage).
	return true
}

func errorCode(err error) string {
	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		return engErr.Code
	}
	return ""
}
