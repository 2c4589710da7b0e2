package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenzahq/cadenza/pkg/schema"
)

func TestNextDelay_ExponentialGrowth(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Exponential: true,
		Jitter:      false,
	}

	assert.Equal(t, 1*time.Second, NextDelay(1, cfg))
	assert.Equal(t, 2*time.Second, NextDelay(2, cfg))
	assert.Equal(t, 4*time.Second, NextDelay(3, cfg))
	assert.Equal(t, 8*time.Second, NextDelay(4, cfg))
}

func TestNextDelay_CappedAtMaxDelay(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Exponential: true,
		Jitter:      false,
	}

	assert.Equal(t, 8*time.Second, NextDelay(4, cfg))
	assert.Equal(t, 10*time.Second, NextDelay(5, cfg))
	assert.Equal(t, 10*time.Second, NextDelay(20, cfg))
}

func TestNextDelay_ConstantWhenNotExponential(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
		Exponential: false,
		Jitter:      false,
	}

	assert.Equal(t, 2*time.Second, NextDelay(1, cfg))
	assert.Equal(t, 2*time.Second, NextDelay(5, cfg))
}

func TestNextDelay_JitterBounds(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay:   4 * time.Second,
		MaxDelay:    60 * time.Second,
		Exponential: true,
		Jitter:      true,
	}

	// rand = 0 pins the factor to 0.5; rand -> 1 approaches the full delay.
	cfg.Rand = func() float64 { return 0 }
	assert.Equal(t, 2*time.Second, NextDelay(1, cfg))

	cfg.Rand = func() float64 { return 0.999999 }
	d := NextDelay(1, cfg)
	assert.Greater(t, d, 2*time.Second)
	assert.LessOrEqual(t, d, 4*time.Second)

	cfg.Rand = func() float64 { return 0.5 }
	assert.Equal(t, 3*time.Second, NextDelay(1, cfg))
}

func TestNextDelay_JitterAppliedAfterCap(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Exponential: true,
		Jitter:      true,
		Rand:        func() float64 { return 0 },
	}

	// Pre-jitter delay for attempt 10 is capped at 10s, so jitter yields 5s.
	assert.Equal(t, 5*time.Second, NextDelay(10, cfg))
}

func TestShouldRetry_ExhaustedAttempts(t *testing.T) {
	cfg := DefaultRetryConfig() // 3 attempts
	err := errors.New("boom")

	assert.True(t, ShouldRetry(err, 1, cfg))
	assert.True(t, ShouldRetry(err, 2, cfg))
	assert.False(t, ShouldRetry(err, 3, cfg))
}

func TestShouldRetry_NilError(t *testing.T) {
	assert.False(t, ShouldRetry(nil, 1, DefaultRetryConfig()))
}

func TestShouldRetry_DenyListWins(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.RetryableKinds = []string{schema.ErrCodeStepFailed}
	cfg.NonRetryableKinds = []string{schema.ErrCodeStepFailed}

	err := schema.NewError(schema.ErrCodeStepFailed, "boom")
	assert.False(t, ShouldRetry(err, 1, cfg))
}

func TestShouldRetry_AllowListIsExhaustive(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.RetryableKinds = []string{schema.ErrCodeStepTimeout}

	assert.True(t, ShouldRetry(schema.NewError(schema.ErrCodeStepTimeout, "slow"), 1, cfg))
	// STEP_FAILED is retryable by default, but the allow-list excludes it.
	assert.False(t, ShouldRetry(schema.NewError(schema.ErrCodeStepFailed, "boom"), 1, cfg))
}

func TestShouldRetry_NonRetryableCode(t *testing.T) {
	cfg := DefaultRetryConfig()
	err := schema.NewError(schema.ErrCodeValidation, "bad input")
	assert.False(t, ShouldRetry(err, 1, cfg))
}

func TestShouldRetry_ExplicitRetryableHintWins(t *testing.T) {
	cfg := DefaultRetryConfig()
	err := schema.NewError(schema.ErrCodeStepFailed, "409 conflict from upstream").WithRetryable(false)
	assert.False(t, ShouldRetry(err, 1, cfg))
}

func TestIsRetryableError_Nil(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
}

func TestIsRetryableError_ContextCanceled(t *testing.T) {
	assert.False(t, IsRetryableError(context.Canceled))
}

func TestIsRetryableError_ContextDeadlineExceeded(t *testing.T) {
	assert.True(t, IsRetryableError(context.DeadlineExceeded))
}

func TestIsRetryableError_CircuitOpenIsRetryable(t *testing.T) {
	// An open breaker is a transient condition; a later attempt may find it
	// half-open and succeed.
	err := schema.NewError(schema.ErrCodeCircuitOpen, "circuit open")
	assert.True(t, IsRetryableError(err))
}

func TestIsRetryableError_NonRetryableCodes(t *testing.T) {
	codes := []string{
		schema.ErrCodeValidation,
		schema.ErrCodeCycleDetected,
		schema.ErrCodeUnknownDependency,
		schema.ErrCodeUnsupportedStep,
		schema.ErrCodeMissingVariable,
		schema.ErrCodeNonRetryable,
		schema.ErrCodeCancelled,
		schema.ErrCodeNotFound,
		schema.ErrCodeConflict,
	}
	for _, code := range codes {
		err := schema.NewError(code, "test")
		assert.False(t, IsRetryableError(err), "expected %s to be non-retryable", code)
	}
}

func TestIsRetryableError_NetworkPatterns(t *testing.T) {
	patterns := []string{
		"connection refused",
		"connection reset by peer",
		"broken pipe",
		"unexpected EOF",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
	}
	for _, p := range patterns {
		assert.True(t, IsRetryableError(errors.New(p)), "expected %q to be retryable", p)
	}
}

func TestRetryConfigFromPolicy_MergesOntoDefaults(t *testing.T) {
	f := false
	policy := &schema.RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   "500ms",
		Jitter:      &f,
	}

	cfg := RetryConfigFromPolicy(policy, DefaultRetryConfig())

	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.BaseDelay)
	assert.Equal(t, 60*time.Second, cfg.MaxDelay) // default retained
	assert.True(t, cfg.Exponential)               // default retained
	assert.False(t, cfg.Jitter)
}

func TestRetryConfigFromPolicy_NilPolicy(t *testing.T) {
	cfg := RetryConfigFromPolicy(nil, DefaultRetryConfig())
	assert.Equal(t, DefaultRetryConfig().MaxAttempts, cfg.MaxAttempts)
}

func TestWaitForBackoff_ZeroDelay(t *testing.T) {
	require.NoError(t, WaitForBackoff(context.Background(), 0))
}

func TestWaitForBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitForBackoff(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
