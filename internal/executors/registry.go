package executors

import (
	"sort"
	"sync"

	"github.com/cadenzahq/cadenza/pkg/schema"
)

// Registry is the thread-safe step executor registry.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]StepExecutor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]StepExecutor),
	}
}

// Register adds an executor to the registry. Returns an error on duplicate type.
func (r *Registry) Register(exec StepExecutor) error {
	if exec == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}
	stepType := exec.Type()
	if stepType == "" {
		return schema.NewError(schema.ErrCodeValidation, "executor type is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[stepType]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "executor %q already registered", stepType)
	}
	r.executors[stepType] = exec
	return nil
}

// Resolve retrieves the executor for a step type. Unknown types return
// UNSUPPORTED_STEP_TYPE, a configuration error that is never retried.
func (r *Registry) Resolve(stepType string) (StepExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, ok := r.executors[stepType]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnsupportedStep,
			"no executor registered for step type %q; available: %v", stepType, r.typesLocked())
	}
	return exec, nil
}

// Has checks if an executor is registered for a type.
func (r *Registry) Has(stepType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[stepType]
	return ok
}

// Types returns all registered type strings, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.typesLocked()
}

func (r *Registry) typesLocked() []string {
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
