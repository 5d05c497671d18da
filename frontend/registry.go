package frontend

import (
	"sort"
	"sync"

	"github.com/txraft/rpcnode/rpctypes"
)

// Registry owns the method-name-to-Handler mapping plus an optional
// default handler, per spec.md §4.4.
type Registry struct {
	mu             sync.RWMutex
	byName         map[string]Handler
	defaultHandler *Handler
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Handler)}
}

// Install registers fn under name, replacing any prior descriptor for
// that name.
func (r *Registry) Install(name string, fn HandleFunc, rw ReadWrite, paramsSchema, resultSchema interface{}, forwardable Forwardable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = Handler{
		Func:         fn,
		RW:           rw,
		ParamsSchema: paramsSchema,
		ResultSchema: resultSchema,
		Forwardable:  forwardable,
	}
}

// SetDefault registers a fallback handler invoked when no name matches.
func (r *Registry) SetDefault(fn HandleFunc, rw ReadWrite) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultHandler = &Handler{Func: fn, RW: rw, Forwardable: CanForward}
}

// Lookup returns the handler for name, falling back to the default
// handler, and reports whether any handler was found at all.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.byName[name]; ok {
		return h, true
	}
	if r.defaultHandler != nil {
		return *r.defaultHandler, true
	}
	return Handler{}, false
}

// Schema returns the params/result schema pair for name, or an
// INVALID_PARAMS error if name isn't recognised.
func (r *Registry) Schema(name string) (interface{}, interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byName[name]
	if !ok {
		return nil, nil, rpctypes.NewRPCError(rpctypes.InvalidParams, "Method %s not recognised", name)
	}
	return h.ParamsSchema, h.ResultSchema, nil
}

// List returns every registered method name, sorted lexicographically.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
