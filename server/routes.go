// File: server/routes.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import "github.com/momentics/wsreactor/api"

// Routes maps upgrade request paths to application endpoints.
//
// Register every endpoint before the server starts; the table is read
// concurrently by frame workers and is never mutated after that point.
type Routes struct {
	endpoints map[string]api.Endpoint
}

var _ api.EndpointTable = (*Routes)(nil)

// NewRoutes returns an empty endpoint table.
func NewRoutes() *Routes {
	return &Routes{endpoints: make(map[string]api.Endpoint)}
}

// Register binds an endpoint to an exact request path such as "/ws".
// A second registration for the same path replaces the first.
func (r *Routes) Register(path string, ep api.Endpoint) {
	r.endpoints[path] = ep
}

// Lookup returns the endpoint bound to path, if any.
func (r *Routes) Lookup(path string) (api.Endpoint, bool) {
	ep, ok := r.endpoints[path]
	return ep, ok
}

// Paths returns the registered paths in no particular order.
func (r *Routes) Paths() []string {
	out := make([]string, 0, len(r.endpoints))
	for p := range r.endpoints {
		out = append(out, p)
	}
	return out
}
