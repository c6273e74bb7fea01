package check

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps check names to their definitions
type Registry struct {
	mu    sync.RWMutex
	tests map[string]*Test
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{tests: make(map[string]*Test)}
}

// Register adds tests. Names must be unique.
func (r *Registry) Register(tests ...*Test) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tests {
		if err := t.validate(); err != nil {
			return err
		}
		if _, exists := r.tests[t.Name]; exists {
			return fmt.Errorf("check %s already registered", t.Name)
		}
		r.tests[t.Name] = t
	}
	return nil
}

// MustRegister registers tests and panics on error
func (r *Registry) MustRegister(tests ...*Test) {
	if err := r.Register(tests...); err != nil {
		panic(err)
	}
}

// Get looks up a test by name
func (r *Registry) Get(name string) (*Test, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tests[name]
	return t, ok
}

// Names returns the registered names sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tests))
	for n := range r.tests {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tests
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tests)
}
