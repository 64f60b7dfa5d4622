package render

import (
	"maps"
	"slices"
)

// Registry is the read-only collection -> Config table. It is built once at
// startup and shared by reference; lookups need no locking.
type Registry struct {
	configs map[string]Config
}

// NewRegistry copies configs so later changes to the input are not observed.
func NewRegistry(configs map[string]Config) *Registry {
	return &Registry{configs: maps.Clone(configs)}
}

// DefaultRegistry returns the built-in collection table.
func DefaultRegistry() *Registry {
	return NewRegistry(defaultCollections())
}

// Lookup returns the config for a collection. A missing entry is reported
// with ok=false and is not an error.
func (r *Registry) Lookup(collection string) (Config, bool) {
	if r == nil {
		return Config{}, false
	}
	c, ok := r.configs[collection]
	return c, ok
}

// IDs lists the visible collections in sorted order.
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.configs))
	for id, c := range r.configs {
		if c.Hidden {
			continue
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.configs)
}
