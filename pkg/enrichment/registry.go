package enrichment

import (
	"fmt"
	"sync"
)

// Registry is the set of configured sources. The joiner iterates it per
// event; the operator surface looks sources up by name.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*Source
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]*Source)}
}

// Register adds a source. Registering the same name twice is a wiring bug.
func (r *Registry) Register(s *Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("source already registered: %s", name)
	}
	r.sources[name] = s
	r.order = append(r.order, name)
	return nil
}

// All returns the sources in registration order.
func (r *Registry) All() []*Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Source, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.sources[name])
	}
	return out
}

// Get returns a source by name.
func (r *Registry) Get(name string) (*Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[name]
	return s, ok
}
