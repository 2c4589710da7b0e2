// Command cadenza runs a workflow definition file to completion and prints
// the execution result as JSON.
//
// Usage:
//
//	cadenza run workflow.json [input.json]
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cadenzahq/cadenza/internal/engine"
	"github.com/cadenzahq/cadenza/internal/executors"
	"github.com/cadenzahq/cadenza/internal/logging"
	"github.com/cadenzahq/cadenza/internal/store"
	"github.com/cadenzahq/cadenza/internal/validation"
	"github.com/cadenzahq/cadenza/pkg/schema"
)

func main() {
	if len(os.Args) < 3 || os.Args[1] != "run" {
		fmt.Fprintln(os.Stderr, "usage: cadenza run <workflow.json> [input.json]")
		os.Exit(2)
	}
	if err := run(os.Args[2], os.Args[3:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(workflowPath string, rest []string) error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	def, err := loadWorkflow(workflowPath)
	if err != nil {
		return err
	}
	input := map[string]any{}
	if len(rest) > 0 {
		if input, err = loadInput(rest[0]); err != nil {
			return err
		}
	}

	validator, err := validation.NewJSONSchemaValidator()
	if err != nil {
		return err
	}
	if err := validator.ValidateDefinition(def); err != nil {
		return err
	}

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := executors.NewRegistry()
	for _, exec := range []executors.StepExecutor{
		executors.InputExecutor{},
		executors.OutputExecutor{},
		executors.TransformExecutor{},
		executors.ExprExecutor{},
		executors.NewHTTPExecutor(nil),
	} {
		if err := registry.Register(exec); err != nil {
			return err
		}
	}

	eng, err := engine.New(engine.Config{
		MaxParallelSteps: cfg.MaxParallelSteps,
		StepTimeout:      parseDuration(cfg.StepTimeout, 30*time.Second),
		WorkflowTimeout:  parseDuration(cfg.WorkflowTimeout, 0),
		Retry: engine.RetryConfig{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   parseDuration(cfg.RetryBaseDelay, time.Second),
			MaxDelay:    parseDuration(cfg.RetryMaxDelay, 60*time.Second),
			Exponential: true,
			Jitter:      true,
		},
		Breaker: engine.BreakerConfig{
			FailureThreshold:  cfg.BreakerThreshold,
			ResetTimeout:      parseDuration(cfg.BreakerReset, 30*time.Second),
			RequiredSuccesses: 3,
		},
	}, registry, st, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := eng.ExecuteWorkflow(ctx, def, input)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if result.Status != schema.ExecutionCompleted {
		return fmt.Errorf("execution finished with status %s", result.Status)
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func openStore(cfg Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DBPath == "" {
		return store.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(cadenzaDir(), 0o755); err != nil {
		logger.Warn("cannot create data dir, using in-memory store", slog.String("error", err.Error()))
		return store.NewMemoryStore(), nil
	}
	st, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(context.Background()); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func loadWorkflow(path string) (*schema.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow file: %w", err)
	}
	return &def, nil
}

func loadInput(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input file: %w", err)
	}
	var input map[string]any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("parse input file: %w", err)
	}
	return input, nil
}
