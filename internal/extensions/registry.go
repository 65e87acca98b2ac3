package extensions

import (
	"sync"
)

// Factory constructs one extension instance.
type Factory func() Extension

// registry holds compiled-in extension factories keyed by name. Discovery
// pairs manifest files on disk with factories registered here.
type registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var globalRegistry = &registry{factories: make(map[string]Factory)}

// Register adds an extension factory to the global registry. It is meant
// to be called from an extension package's init function.
func Register(name string, factory Factory) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.factories[name] = factory
}

// lookup returns the factory registered under name.
func lookup(name string) (Factory, bool) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	f, ok := globalRegistry.factories[name]
	return f, ok
}
