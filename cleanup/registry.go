// Package cleanup provides the registry of named compensation runners and
// the best-effort executor that drives them during recovery and reaping.
package cleanup

import (
	"context"
	"sort"
	"sync"
)

// RunnerFunc undoes one risky operation. It receives the params registered
// with the action and should be idempotent: a recovery pass attempts every
// pending action once, and a crash mid-pass means it may run again later.
type RunnerFunc func(ctx context.Context, params map[string]any) error

// Registry maps cleanup action types to runner functions.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]RunnerFunc
}

// NewRegistry creates an empty cleanup registry.
func NewRegistry() *Registry {
	return &Registry{
		runners: make(map[string]RunnerFunc),
	}
}

// Register adds a runner for the given action type, replacing any
// previously registered runner of the same type.
func (r *Registry) Register(actionType string, fn RunnerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[actionType] = fn
}

// Get returns the runner for the given action type.
// Returns false if no runner is registered.
func (r *Registry) Get(actionType string) (RunnerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.runners[actionType]
	return fn, ok
}

// Types returns all registered action types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.runners))
	for t := range r.runners {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
