package app

import (
	"net/http"
	"sync"
)

// DynamicRoutes is an exact-path handler table that can change while the
// server runs. The gateway uses it to publish its health probe only while
// it is running. Unknown paths get 404.
type DynamicRoutes struct {
	mu     sync.RWMutex
	routes map[string]http.Handler
}

// NewDynamicRoutes returns an empty table.
func NewDynamicRoutes() *DynamicRoutes {
	return &DynamicRoutes{routes: make(map[string]http.Handler)}
}

// Mount serves h at pattern, replacing any previous handler.
func (d *DynamicRoutes) Mount(pattern string, h http.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes[pattern] = h
}

// Unmount removes pattern. Unknown patterns are ignored.
func (d *DynamicRoutes) Unmount(pattern string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.routes, pattern)
}

// ServeHTTP implements http.Handler.
func (d *DynamicRoutes) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.RLock()
	h, ok := d.routes[r.URL.Path]
	d.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	h.ServeHTTP(w, r)
}
