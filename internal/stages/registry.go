package stages

import (
	"sync"

	"github.com/brandonmbehring-dev/insurance-ai-toolkit/pkg/schema"
)

// Registry holds the four named stage registrations. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	executors map[schema.StageName]Executor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[schema.StageName]Executor),
	}
}

// Register adds an executor under its own name. Every executor is stored
// behind Guard. Returns CONFLICT on a duplicate stage.
func (r *Registry) Register(exec Executor) error {
	if exec == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}
	name := exec.Name()
	if !name.Valid() {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown stage %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "stage %q already registered", name)
	}
	r.executors[name] = Guard(exec)
	return nil
}

// Replace registers exec, overwriting any previous registration.
func (r *Registry) Replace(exec Executor) error {
	if exec == nil {
		return schema.NewError(schema.ErrCodeValidation, "executor is nil")
	}
	if !exec.Name().Valid() {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown stage %q", exec.Name())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[exec.Name()] = Guard(exec)
	return nil
}

// Get returns the executor for stage.
func (r *Registry) Get(stage schema.StageName) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exec, ok := r.executors[stage]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "stage %q not registered", stage).WithStage(stage)
	}
	return exec, nil
}

// MustComplete returns an error naming the first missing stage, if any.
func (r *Registry) MustComplete() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range schema.Stages {
		if _, ok := r.executors[s]; !ok {
			return schema.NewErrorf(schema.ErrCodeValidation, "stage %q not registered", s).WithStage(s)
		}
	}
	return nil
}

// List returns the registered stage names in pipeline order.
func (r *Registry) List() []schema.StageName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]schema.StageName, 0, len(r.executors))
	for _, s := range schema.Stages {
		if _, ok := r.executors[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
