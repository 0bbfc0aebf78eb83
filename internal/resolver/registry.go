package resolver

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"appbridge/internal/bridge"
	"appbridge/internal/shared"
)

// Factory builds an application. It runs once, at resolution.
type Factory func() (bridge.Application, error)

// Registry is the table of namespaces and their callables applications are
// resolved from. It is populated at startup.
type Registry struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{namespaces: map[string]map[string]Factory{}}
}

// Register adds callable to namespace. Namespaces may be qualified with a
// search path root ("root/ns") but must not contain the reference separator.
func (r *Registry) Register(namespace, callable string, f Factory) error {
	if namespace == "" || callable == "" || strings.Contains(namespace, ".") || strings.Contains(callable, ".") {
		return fmt.Errorf("invalid registration %q.%q", namespace, callable)
	}
	if f == nil {
		return fmt.Errorf("nil factory for %s.%s", namespace, callable)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ns, ok := r.namespaces[namespace]
	if !ok {
		ns = map[string]Factory{}
		r.namespaces[namespace] = ns
	}
	if _, ok := ns[callable]; ok {
		return fmt.Errorf("%w: %s.%s", shared.ErrDuplicateEntry, namespace, callable)
	}
	ns[callable] = f
	return nil
}

// RegisterApplication registers an already built application.
func (r *Registry) RegisterApplication(namespace, callable string, app bridge.Application) error {
	return r.Register(namespace, callable, func() (bridge.Application, error) {
		return app, nil
	})
}

func (r *Registry) lookup(namespace, callable string) (f Factory, hasNamespace bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ns, ok := r.namespaces[namespace]
	if !ok {
		return nil, false
	}
	return ns[callable], true
}

// Namespaces lists registered namespaces in sorted order.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.namespaces))
	for k := range r.namespaces {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
