package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/step-security-bot/neucore/pkg/logger"
)

// Factory creates a new service implementation instance. The configuration
// snapshot is rebuilt by the host on every resolution.
type Factory func(log *logger.Logger, cfg Configuration) (Plugin, error)

// Registry maps implementation identifiers to factories and script search
// paths. It is created once at startup and passed explicitly into request
// handling; there is no ambient package-level state.
type Registry struct {
	mu          sync.RWMutex
	factories   map[string]factoryEntry
	scriptPaths map[string][]string
}

// factoryEntry holds a factory and its metadata.
type factoryEntry struct {
	factory Factory
	info    Info
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories:   make(map[string]factoryEntry),
		scriptPaths: make(map[string][]string),
	}
}

// Register adds a factory to the registry. Panics if the id is already taken;
// built-in implementations register at startup, so a duplicate is a
// programming error.
func (r *Registry) Register(id string, info Info, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[id]; exists {
		panic(fmt.Sprintf("plugin: implementation %q already registered", id))
	}

	info.ID = id
	r.factories[id] = factoryEntry{factory: factory, info: info}
}

// Get returns a factory by id. Returns false if none is registered.
func (r *Registry) Get(id string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.factories[id]
	if !ok {
		return nil, false
	}
	return entry.factory, true
}

// Info returns the metadata for a registered implementation.
func (r *Registry) Info(id string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.factories[id]
	if !ok {
		return Info{}, false
	}
	return entry.info, true
}

// List returns all registered implementation ids in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsRegistered checks whether a factory exists for the id.
func (r *Registry) IsRegistered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[id]
	return ok
}

// AddScriptPath registers a script search path under a prefix. The prefix is
// normalized to end with a separator. Registering the same prefix again merges
// the paths instead of duplicating them, so the call is idempotent.
func (r *Registry) AddScriptPath(prefix, path string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || strings.TrimSpace(path) == "" {
		return prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.scriptPaths[prefix] {
		if existing == path {
			return prefix
		}
	}
	r.scriptPaths[prefix] = append(r.scriptPaths[prefix], path)
	return prefix
}

// ScriptPaths returns the registered search paths for a prefix, most recently
// added last.
func (r *Registry) ScriptPaths(prefix string) []string {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	paths := r.scriptPaths[prefix]
	out := make([]string, len(paths))
	copy(out, paths)
	return out
}
