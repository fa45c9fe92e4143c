// File: internal/session/session.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package session

import "sync"

// record is the in-memory session state handed to endpoint callbacks.
type record struct {
	id     string
	mu     sync.RWMutex
	values map[string]any
}

func newRecord(id string) *record {
	return &record{id: id, values: make(map[string]any)}
}

func (r *record) ID() string { return r.id }

func (r *record) Value(key string) any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.values[key]
}

func (r *record) SetValue(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
}
