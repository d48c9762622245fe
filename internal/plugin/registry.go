package plugin

import (
	"fmt"
	"sync"

	"github.com/goccy/go-yaml"
)

// Constructor builds an opaque Plugin value from a plugin instance's raw
// YAML config fragment. A constructor that cannot make sense of its
// config returns an error, which the loader surfaces as a
// PluginConstructError.
type Constructor func(raw yaml.RawMessage) (Plugin, error)

// Registry is a process-wide, name -> Constructor mapping. Registration
// happens during program start-up (each plugin package registers itself
// from an init function) and is read-only once configuration loading
// begins.
type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds a constructor under name. It panics on a duplicate name,
// since that can only happen from a programming error in an init
// function, never from user-supplied configuration.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ctors[name]; exists {
		panic(fmt.Sprintf("plugin: duplicate registration for %q", name))
	}
	r.ctors[name] = ctor
}

// Lookup returns the constructor registered under name, if any.
func (r *Registry) Lookup(name string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.ctors[name]
	return ctor, ok
}

// Names returns the set of registered plugin names, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	return names
}

// Default is the process-wide registry used by plugin packages' init
// functions via MustRegister, and by cmd/gateway unless a test substitutes
// its own Registry.
var Default = NewRegistry()

// MustRegister registers ctor under name in the Default registry. Plugin
// packages call this from an init function and are pulled in by blank
// imports in cmd/gateway.
func MustRegister(name string, ctor Constructor) {
	Default.Register(name, ctor)
}

// ParseConfig decodes a plugin instance's raw YAML fragment into T, a
// generic "named opaque fragment -> typed struct" helper.
func ParseConfig[T any](raw yaml.RawMessage) (T, error) {
	var cfg T
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("decode plugin config: %w", err)
	}
	return cfg, nil
}
