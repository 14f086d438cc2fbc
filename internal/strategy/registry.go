package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Factory builds a strategy from its configuration.
type Factory func(cfg Config, logger *slog.Logger) (Strategy, error)

// Registry manages a named collection of strategy factories that can be
// looked up at runtime. It is safe for concurrent use.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory to the registry under the given name.
// If a factory with the same name already exists it will be replaced.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Create builds the named strategy. It returns an error when the name is not
// registered or the factory rejects the configuration.
func (r *Registry) Create(name string, cfg Config, logger *slog.Logger) (Strategy, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	cfg.Name = name
	return f(cfg, logger)
}

// List returns the names of all registered strategies in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with every built-in strategy registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("copy_wallet_replay", NewCopyWalletReplay)
	r.Register("binary_complement_arb", NewBinaryComplementArb)
	return r
}
