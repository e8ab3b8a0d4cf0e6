package registry

import (
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// CallRoutes maps callID -> userID -> the connection that user acted from.
// It is populated on initiate/accept and torn down on terminal transitions
// or when every routed connection has closed.
type CallRoutes struct {
	mu     sync.RWMutex
	routes map[uuid.UUID]map[uuid.UUID]string
}

// NewCallRoutes creates an empty routing table
func NewCallRoutes() *CallRoutes {
	return &CallRoutes{routes: make(map[uuid.UUID]map[uuid.UUID]string)}
}

// Bind routes userID's traffic for callID to connID, replacing any earlier binding
func (c *CallRoutes) Bind(callID, userID uuid.UUID, connID string) {
	if connID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	users, ok := c.routes[callID]
	if !ok {
		users = make(map[uuid.UUID]string)
		c.routes[callID] = users
	}
	users[userID] = connID
}

// Lookup returns the connection bound for userID in callID
func (c *CallRoutes) Lookup(callID, userID uuid.UUID) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	connID, ok := c.routes[callID][userID]
	return connID, ok
}

// Unbind removes userID's binding only if it still points at connID. It
// returns whether a binding was removed and whether the call has no
// bindings left (in which case the call entry itself is dropped).
func (c *CallRoutes) Unbind(callID, userID uuid.UUID, connID string) (removed, empty bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	users, ok := c.routes[callID]
	if !ok {
		return false, true
	}
	if bound, ok := users[userID]; ok && bound == connID {
		delete(users, userID)
		removed = true
	}
	if len(users) == 0 {
		delete(c.routes, callID)
		return removed, true
	}
	return removed, false
}

// Drop discards all routing for callID
func (c *CallRoutes) Drop(callID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.routes, callID)
}

// Has reports whether callID has any routing entry
func (c *CallRoutes) Has(callID uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.routes[callID]
	return ok
}

// RouteRef names one (call, user) binding
type RouteRef struct {
	CallID uuid.UUID
	UserID uuid.UUID
}

// BoundTo lists every binding that points at connID
func (c *CallRoutes) BoundTo(connID string) []RouteRef {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var refs []RouteRef
	for callID, users := range c.routes {
		for userID, bound := range users {
			if bound == connID {
				refs = append(refs, RouteRef{CallID: callID, UserID: userID})
			}
		}
	}
	return refs
}

// Calls returns the ids of all calls with routing entries
func (c *CallRoutes) Calls() []uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return lo.Keys(c.routes)
}
