// Package registry implements the method registry: a name-to-handler table
// with namespace grouping, longer-prefix-first wildcard resolution, and an
// ordered middleware chain (spec.md §4.2).
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/edgerpc/edgerpc"
	"github.com/edgerpc/edgerpc/handler"
)

// ParamSpec documents one named parameter of a method (spec.md §3 "Method
// descriptor").
type ParamSpec struct {
	Name        string
	Type        string // one of: string, number, boolean, object, array
	Required    bool
	Default     interface{} `json:"default,omitempty"`
	Description string
}

// Descriptor is a registered method's handler plus its documentation and
// policy metadata.
type Descriptor struct {
	Name        string
	Handler     edgerpc.Handler
	Description string
	Params      []ParamSpec
	Returns     string
	Permissions []string

	// RateLimit records a per-method fixed-window budget as descriptor
	// metadata. The server package does not read it: calls to this method
	// are limited only by the server-wide RateLimitPolicy.
	RateLimit *RateLimit
}

// RateLimit names a fixed-window budget: Max calls per Window.
type RateLimit struct {
	Max    int
	Window string // duration string, e.g. "1m"; stored as given, not parsed
}

// Registry maps method names to descriptors, preserving insertion order per
// namespace, and holds the ordered middleware chain shared by every
// dispatch through it.
//
// The registry is intended to be written only at setup time and read
// concurrently thereafter (spec.md §5), but Register/Unregister/Append take
// the lock regardless so a misuse does not corrupt the map — only
// concurrent registration after traffic starts is unsupported, not unsafe.
type Registry struct {
	mu         sync.RWMutex
	byName     map[string]*Descriptor
	order      map[string][]string // namespace -> names, insertion order
	middleware []edgerpc.Middleware
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byName: make(map[string]*Descriptor),
		order:  make(map[string][]string),
	}
}

// Register adds d to the registry. It fails if d.Name is empty or already
// registered.
func (r *Registry) Register(d *Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("registry: empty method name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[d.Name]; ok {
		return fmt.Errorf("registry: duplicate method %q", d.Name)
	}
	r.byName[d.Name] = d
	ns := edgerpc.Namespace(d.Name)
	r.order[ns] = append(r.order[ns], d.Name)
	return nil
}

// RegisterFunc adapts fn via handler.New, so a method may be implemented as
// an ordinary Go function of one of handler.New's accepted shapes (e.g.
// func(context.Context, X) (Y, error)) instead of a hand-written
// edgerpc.HandlerFunc, and registers the result under name with the given
// description and params. It panics, via handler.New, if fn's signature
// matches none of the accepted forms — a registration-time programmer
// error, not a runtime condition.
func (r *Registry) RegisterFunc(name string, fn interface{}, description string, params ...ParamSpec) error {
	return r.Register(&Descriptor{
		Name:        name,
		Handler:     handler.New(fn),
		Description: description,
		Params:      params,
	})
}

// Unregister removes name from the registry, if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return
	}
	delete(r.byName, name)
	ns := edgerpc.Namespace(name)
	names := r.order[ns]
	for i, n := range names {
		if n == name {
			r.order[ns] = append(names[:i], names[i+1:]...)
			break
		}
	}
}

// Exists reports whether name is registered exactly (no wildcard fallback).
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// Get returns the descriptor registered exactly under name, with no
// wildcard fallback — used by discovery, which documents concrete methods
// rather than resolving calls.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Lookup resolves name to a descriptor, first by exact match, then by
// progressively shorter wildcard prefixes per spec.md §4.2/§9(b)
// (longer-prefix-first): resolving "a.b.c.d" tries "a.b.c.*", then
// "a.b.*", then "a.*". The first match wins.
func (r *Registry) Lookup(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d, ok := r.byName[name]; ok {
		return d, true
	}
	parts := strings.Split(name, ".")
	for n := len(parts) - 1; n >= 1; n-- {
		candidate := strings.Join(parts[:n], ".") + ".*"
		if d, ok := r.byName[candidate]; ok {
			return d, true
		}
	}
	return nil, false
}

// List returns every registered method name in sorted order, optionally
// filtered to a single namespace (the second dotted segment). An empty
// namespace argument returns every name.
func (r *Registry) List(namespace string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	if namespace != "" {
		out = append(out, r.order[namespace]...)
	} else {
		for _, names := range r.order {
			out = append(out, names...)
		}
	}
	sort.Strings(out)
	return out
}

// ListByNamespace returns a map from namespace to the method names it
// contains, each list in registration order.
func (r *Registry) ListByNamespace() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.order))
	for ns, names := range r.order {
		cp := make([]string, len(names))
		copy(cp, names)
		out[ns] = cp
	}
	return out
}

// Namespaces returns every namespace with at least one registered method,
// sorted.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.order))
	for ns := range r.order {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Count returns the total number of registered methods.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// AppendMiddleware adds mw to the end of the registry's middleware chain.
func (r *Registry) AppendMiddleware(mw ...edgerpc.Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw...)
}

// SnapshotMiddleware returns a copy of the current middleware chain, safe
// to use after the registry is mutated further.
func (r *Registry) SnapshotMiddleware() []edgerpc.Middleware {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]edgerpc.Middleware, len(r.middleware))
	copy(out, r.middleware)
	return out
}
