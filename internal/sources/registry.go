package sources

import (
	"fmt"
	"sync"
	"time"

	"github.com/helixir/document-acquisition-service/internal/domain"
)

// Definition is the bootstrap description of a source, persisted on first start.
type Definition struct {
	Name                string
	BaseURL             string
	RequiresCredentials bool
	Timeout             time.Duration
	Priority            int
	Description         string
	OptionalLibrary     bool
	// Enabled is the initial enabled flag; administrator changes are never overwritten.
	Enabled bool
}

// ToDomain converts the definition into a domain.Source.
func (d Definition) ToDomain() domain.Source {
	return domain.Source{
		Name:                d.Name,
		Enabled:             d.Enabled,
		BaseURL:             d.BaseURL,
		RequiresCredentials: d.RequiresCredentials,
		Timeout:             d.Timeout,
		Priority:            d.Priority,
		Description:         d.Description,
		OptionalLibrary:     d.OptionalLibrary,
	}
}

type entry struct {
	adapter    Adapter
	definition Definition
}

// Registry holds the closed set of adapters, in registration order.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]entry),
	}
}

// Register adds an adapter with its bootstrap definition.
// Registering the same name twice is a programming error and returns an error.
func (r *Registry) Register(adapter Adapter, def Definition) error {
	if adapter == nil {
		return fmt.Errorf("register source: nil adapter")
	}
	if def.Name == "" {
		def.Name = adapter.Name()
	}
	if def.Name != adapter.Name() {
		return fmt.Errorf("register source: definition name %q does not match adapter %q", def.Name, adapter.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[def.Name]; exists {
		return fmt.Errorf("register source: %q already registered", def.Name)
	}
	r.entries[def.Name] = entry{adapter: adapter, definition: def}
	r.order = append(r.order, def.Name)
	return nil
}

// Get returns the adapter for name, or nil if none is registered.
func (r *Registry) Get(name string) Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name].adapter
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions returns the bootstrap definitions in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].definition)
	}
	return out
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
