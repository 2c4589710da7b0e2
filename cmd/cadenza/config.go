package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all cadenza configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath           string `json:"db_path"`
	LogLevel         string `json:"log_level"`
	MaxParallelSteps int    `json:"max_parallel_steps"`
	StepTimeout      string `json:"step_timeout"`
	WorkflowTimeout  string `json:"workflow_timeout"`
	RetryMaxAttempts int    `json:"retry_max_attempts"`
	RetryBaseDelay   string `json:"retry_base_delay"`
	RetryMaxDelay    string `json:"retry_max_delay"`
	BreakerThreshold int    `json:"breaker_failure_threshold"`
	BreakerReset     string `json:"breaker_reset_timeout"`
}

func defaultConfig() Config {
	return Config{
		DBPath:           filepath.Join(cadenzaDir(), "cadenza.db"),
		LogLevel:         "info",
		MaxParallelSteps: 10,
		StepTimeout:      "30s",
		RetryMaxAttempts: 3,
		RetryBaseDelay:   "1s",
		RetryMaxDelay:    "60s",
		BreakerThreshold: 5,
		BreakerReset:     "30s",
	}
}

func cadenzaDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cadenza"
	}
	return filepath.Join(home, ".cadenza")
}

func settingsPath() string {
	return filepath.Join(cadenzaDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CADENZA_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CADENZA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CADENZA_MAX_PARALLEL_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxParallelSteps = n
		}
	}
	if v := os.Getenv("CADENZA_STEP_TIMEOUT"); v != "" {
		cfg.StepTimeout = v
	}
	if v := os.Getenv("CADENZA_WORKFLOW_TIMEOUT"); v != "" {
		cfg.WorkflowTimeout = v
	}
	if v := os.Getenv("CADENZA_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryMaxAttempts = n
		}
	}
	if v := os.Getenv("CADENZA_RETRY_BASE_DELAY"); v != "" {
		cfg.RetryBaseDelay = v
	}
	if v := os.Getenv("CADENZA_RETRY_MAX_DELAY"); v != "" {
		cfg.RetryMaxDelay = v
	}
	if v := os.Getenv("CADENZA_BREAKER_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BreakerThreshold = n
		}
	}
	if v := os.Getenv("CADENZA_BREAKER_RESET"); v != "" {
		cfg.BreakerReset = v
	}

	return cfg
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
