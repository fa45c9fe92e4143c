// File: internal/session/store.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Sharded, thread-safe in-memory session store. Satisfies
// api.SessionResolver for deployments without an external session service;
// persistence and the cookie wire format stay outside the core.

package session

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/momentics/wsreactor/api"
)

// Store keeps sessions in power-of-two shards selected by FNV-1a hash of
// the session id, so resolution during upgrades does not serialize on one
// lock under concurrent load.
type Store struct {
	shards []*shard
	mask   uint32
}

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*record
}

var (
	_ api.SessionResolver = (*Store)(nil)
	_ api.SessionStore    = (*Store)(nil)
)

// NewStore constructs a store with at least shardCount shards, rounded up
// to a power of two for mask selection.
func NewStore(shardCount int) *Store {
	if shardCount <= 0 {
		shardCount = 16
	}
	m := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*shard, m)
	for i := range shards {
		shards[i] = &shard{sessions: make(map[string]*record)}
	}
	return &Store{shards: shards, mask: m - 1}
}

func (st *Store) shard(id string) *shard {
	return st.shards[fnv32(id)&st.mask]
}

// Create returns the session for id, creating it when absent.
func (st *Store) Create(id string) api.Session {
	sh := st.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if r, ok := sh.sessions[id]; ok {
		return r
	}
	r := newRecord(id)
	sh.sessions[id] = r
	return r
}

// Get fetches a session if present.
func (st *Store) Get(id string) (api.Session, bool) {
	sh := st.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	r, ok := sh.sessions[id]
	if !ok {
		return nil, false
	}
	return r, true
}

// Delete removes the session.
func (st *Store) Delete(id string) {
	sh := st.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.sessions, id)
}

// Range applies fn to every session.
func (st *Store) Range(fn func(api.Session)) {
	for _, sh := range st.shards {
		sh.mu.RLock()
		for _, r := range sh.sessions {
			fn(r)
		}
		sh.mu.RUnlock()
	}
}

// Len reports the number of stored sessions.
func (st *Store) Len() int {
	n := 0
	for _, sh := range st.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// Resolve implements api.SessionResolver over the store contents.
func (st *Store) Resolve(sessionID string) (api.Session, error) {
	if s, ok := st.Get(sessionID); ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %q", api.ErrSessionNotFound, sessionID)
}

func fnv32(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
