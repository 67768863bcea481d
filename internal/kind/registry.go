package kind

import (
	"sort"
	"sync"
)

// Registry maps entity kinds to their processors. The zero value is not
// usable; create one with NewRegistry.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]Processor
}

// NewRegistry returns a registry holding ps.
func NewRegistry(ps ...Processor) *Registry {
	r := &Registry{processors: make(map[string]Processor)}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Register adds a processor. Panics if the kind is already registered.
func (r *Registry) Register(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := p.Kind()
	if _, exists := r.processors[k]; exists {
		panic("kind already registered: " + k)
	}
	r.processors[k] = p
}

// Get returns the processor for kind.
func (r *Registry) Get(kind string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.processors[kind]
	return p, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.processors))
	for k := range r.processors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
