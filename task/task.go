package task

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Reporter receives progress updates from a running task. Progress is
// clamped to the open interval between the initial and terminal callbacks;
// the runner owns 0 and 100.
type Reporter interface {
	Progress(ctx context.Context, percent float64, processed map[string]any)
}

// Task is one registered enrichment task.
type Task interface {
	// Name is the registry key and the HTTP route segment.
	Name() string
	// EnrichmentType labels callback envelopes produced by this task.
	EnrichmentType() string
	// CreatePayload validates the client-supplied fields and builds the
	// payload that will travel through the queue. Implementations return a
	// validation error for malformed requests.
	CreatePayload(fields map[string]any) (*Payload, error)
	// Execute runs the task. Returned data becomes the terminal callback's
	// processed_data.
	Execute(ctx context.Context, p *Payload, rep Reporter) (map[string]any, error)
}

// Registry maps task names to implementations.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Task)}
}

// Register adds a task. Registering the same name twice is a programming
// error and fails loudly.
func (r *Registry) Register(t Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	if name == "" {
		return fmt.Errorf("task has empty name")
	}
	if _, exists := r.tasks[name]; exists {
		return fmt.Errorf("task %q already registered", name)
	}
	r.tasks[name] = t
	return nil
}

// MustRegister registers t and panics on conflict. Used at startup wiring.
func (r *Registry) MustRegister(t Task) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get looks up a task by name.
func (r *Registry) Get(name string) (Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	if !ok {
		return nil, NewError(KindNotFound, fmt.Sprintf("unknown task %q", name), nil)
	}
	return t, nil
}

// List returns the registered task names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
