// Package registry maps module ids to their host-trusted code: per-method
// request handlers and install/uninstall lifecycle routines. Modules are
// compiled into the binary and register themselves in init(), replacing
// dynamic loading by string-built path with an explicit lookup table.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
)

// Request is the host-neutral view of an inbound module request
type Request struct {
	Method     string
	Subpath    []string
	Query      url.Values
	Header     http.Header
	Body       []byte
	RemoteAddr string
}

// Response is a raw module response, passed through to the client verbatim
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// HandlerFunc handles one module request. A *Response return value is
// passed through verbatim; any other value is wrapped in the host JSON
// envelope.
type HandlerFunc func(ctx context.Context, req *Request) (interface{}, error)

// Routes holds a module's request handlers keyed by HTTP method, with an
// optional catch-all default.
type Routes struct {
	Methods map[string]HandlerFunc
	Default HandlerFunc
}

// Resolve returns the handler for the given method, falling back to the
// module's default handler.
func (r *Routes) Resolve(method string) (HandlerFunc, bool) {
	if h, ok := r.Methods[method]; ok {
		return h, true
	}
	if r.Default != nil {
		return r.Default, true
	}
	return nil, false
}

// Lifecycle holds a module's install/uninstall routines. Install receives
// the shared pooled connection and is expected to use idempotent schema
// guards. Uninstall runs inside an explicit transaction owned by the host.
type Lifecycle struct {
	Install   func(ctx context.Context, db *sql.DB) error
	Uninstall func(ctx context.Context, tx *sql.Tx) error
}

var (
	mu         sync.RWMutex
	routes     = make(map[string]*Routes)
	lifecycles = make(map[string]*Lifecycle)
)

// RegisterRoutes adds a module's request handlers to the registry.
// This should be called in each module's init() function.
// Panics if the module already registered routes.
func RegisterRoutes(id string, r *Routes) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := routes[id]; exists {
		panic(fmt.Sprintf("registry: module %q routes already registered", id))
	}
	routes[id] = r
}

// RegisterLifecycle adds a module's lifecycle routines to the registry.
// Panics if the module already registered lifecycle hooks.
func RegisterLifecycle(id string, hooks *Lifecycle) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := lifecycles[id]; exists {
		panic(fmt.Sprintf("registry: module %q lifecycle already registered", id))
	}
	lifecycles[id] = hooks
}

// GetRoutes returns a module's request handlers.
// Returns false if the module registered none.
func GetRoutes(id string) (*Routes, bool) {
	mu.RLock()
	defer mu.RUnlock()

	r, ok := routes[id]
	return r, ok
}

// GetLifecycle returns a module's lifecycle routines.
// Returns false if the module registered none.
func GetLifecycle(id string) (*Lifecycle, bool) {
	mu.RLock()
	defer mu.RUnlock()

	hooks, ok := lifecycles[id]
	return hooks, ok
}

// List returns all module ids with registered routes or lifecycle hooks,
// in sorted order.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	seen := make(map[string]bool, len(routes)+len(lifecycles))
	for id := range routes {
		seen[id] = true
	}
	for id := range lifecycles {
		seen[id] = true
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
