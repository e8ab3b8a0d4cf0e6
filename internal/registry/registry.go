// Package registry tracks live websocket connections per user and the
// call-scoped connection routing used while a call is set up.
package registry

import (
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ConnectionRegistry is a multi-valued user -> connection map with a reverse index.
// Both directions are updated under one lock so they never disagree.
type ConnectionRegistry struct {
	mu     sync.RWMutex
	byUser map[uuid.UUID]map[string]struct{}
	byConn map[string]uuid.UUID
}

// NewConnectionRegistry creates an empty registry
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		byUser: make(map[uuid.UUID]map[string]struct{}),
		byConn: make(map[string]uuid.UUID),
	}
}

// Register records that connID belongs to userID and returns the user's live
// connection count afterwards. Registering the same pair twice is a no-op.
func (r *ConnectionRegistry) Register(userID uuid.UUID, connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[connID]; ok && prev != userID {
		r.removeLocked(prev, connID)
	}

	conns, ok := r.byUser[userID]
	if !ok {
		conns = make(map[string]struct{})
		r.byUser[userID] = conns
	}
	conns[connID] = struct{}{}
	r.byConn[connID] = userID
	return len(conns)
}

// Unregister removes exactly the (userID, connID) pairing and returns the
// number of connections the user still has.
func (r *ConnectionRegistry) Unregister(userID uuid.UUID, connID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byConn[connID]; ok && owner == userID {
		r.removeLocked(userID, connID)
	}
	return len(r.byUser[userID])
}

func (r *ConnectionRegistry) removeLocked(userID uuid.UUID, connID string) {
	delete(r.byConn, connID)
	conns := r.byUser[userID]
	delete(conns, connID)
	if len(conns) == 0 {
		delete(r.byUser, userID)
	}
}

// LookupAny returns one live connection of userID
func (r *ConnectionRegistry) LookupAny(userID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for connID := range r.byUser[userID] {
		return connID, true
	}
	return "", false
}

// LookupAll returns every live connection of userID
func (r *ConnectionRegistry) LookupAll(userID uuid.UUID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Keys(r.byUser[userID])
}

// Count returns the number of live connections of userID
func (r *ConnectionRegistry) Count(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byUser[userID])
}

// IsOnline reports whether userID has at least one live connection
func (r *ConnectionRegistry) IsOnline(userID uuid.UUID) bool {
	return r.Count(userID) > 0
}

// UserOf resolves the owner of a connection
func (r *ConnectionRegistry) UserOf(connID string) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userID, ok := r.byConn[connID]
	return userID, ok
}

// Connections returns every live connection id
func (r *ConnectionRegistry) Connections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Keys(r.byConn)
}

// OnlineUsers returns the users that currently have a live connection
func (r *ConnectionRegistry) OnlineUsers() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Keys(r.byUser)
}

// Len returns the total number of live connections
func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byConn)
}
