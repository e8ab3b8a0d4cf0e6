// Package presence derives user availability from live connections and
// broadcasts online/offline edges.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"callrelay-backend/internal/domain"
	"callrelay-backend/pkg/constants"
	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/metrics"
)

// ConnectionCounter reports how many live connections a user has
type ConnectionCounter interface {
	Count(userID uuid.UUID) int
}

// Emitter delivers outbound events
type Emitter interface {
	Emit(ctx context.Context, events ...domain.Event)
}

// ActivityStore persists last-activity timestamps beyond this process
type ActivityStore interface {
	SetLastActive(ctx context.Context, userID uuid.UUID, at time.Time) error
	GetLastActive(ctx context.Context, userID uuid.UUID) (time.Time, bool, error)
}

// Tracker turns registry changes into presence broadcasts. It remembers
// what it last announced per user so each online/offline edge is broadcast
// exactly once, even when connects and disconnects race.
type Tracker struct {
	conns   ConnectionCounter
	emitter Emitter
	store   ActivityStore
	metrics *metrics.Metrics
	now     func() time.Time

	mu           sync.Mutex
	announced    map[uuid.UUID]bool
	lastActivity map[uuid.UUID]time.Time
}

// NewTracker creates a presence tracker. store and m may be nil.
func NewTracker(conns ConnectionCounter, emitter Emitter, store ActivityStore, m *metrics.Metrics) *Tracker {
	return &Tracker{
		conns:        conns,
		emitter:      emitter,
		store:        store,
		metrics:      m,
		now:          time.Now,
		announced:    make(map[uuid.UUID]bool),
		lastActivity: make(map[uuid.UUID]time.Time),
	}
}

// OnUserConnected must be called after the connection was registered
func (t *Tracker) OnUserConnected(ctx context.Context, userID uuid.UUID) {
	t.reconcile(ctx, userID)
}

// OnUserDisconnected must be called after the connection was unregistered
func (t *Tracker) OnUserDisconnected(ctx context.Context, userID uuid.UUID) {
	t.reconcile(ctx, userID)
}

func (t *Tracker) reconcile(ctx context.Context, userID uuid.UUID) {
	now := t.now()

	t.mu.Lock()
	t.lastActivity[userID] = now
	online := t.conns.Count(userID) > 0
	changed := online != t.announced[userID]
	if changed {
		if online {
			t.announced[userID] = true
		} else {
			delete(t.announced, userID)
		}
		// emitted under the lock so edges for one user reach clients in order
		t.broadcast(ctx, userID, online)
	}
	t.mu.Unlock()

	t.persist(ctx, userID, now)
}

func (t *Tracker) broadcast(ctx context.Context, userID uuid.UUID, online bool) {
	status := domain.PresenceOffline
	if online {
		status = domain.PresenceOnline
	}
	t.metrics.RecordPresenceBroadcast(string(status))
	t.emitter.Emit(ctx, domain.ToAll(constants.EventUserStatusChanged, domain.UserStatusChangedPayload{
		UserID:   userID,
		IsOnline: online,
		Status:   status,
	}))
}

func (t *Tracker) persist(ctx context.Context, userID uuid.UUID, at time.Time) {
	if t.store == nil {
		return
	}
	if err := t.store.SetLastActive(ctx, userID, at); err != nil {
		logger.Debug("Failed to persist last activity",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}

// LastActive returns the latest known activity of userID
func (t *Tracker) LastActive(ctx context.Context, userID uuid.UUID) (time.Time, bool) {
	t.mu.Lock()
	at, ok := t.lastActivity[userID]
	t.mu.Unlock()
	if ok || t.store == nil {
		return at, ok
	}

	at, ok, err := t.store.GetLastActive(ctx, userID)
	if err != nil {
		logger.Debug("Failed to read last activity",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return time.Time{}, false
	}
	return at, ok
}

// Classify derives the presence status of userID
func (t *Tracker) Classify(ctx context.Context, userID uuid.UUID) domain.PresenceStatus {
	return t.Presence(ctx, userID).Status
}

// Presence returns the full presence snapshot of userID
func (t *Tracker) Presence(ctx context.Context, userID uuid.UUID) domain.UserPresence {
	p := domain.UserPresence{UserID: userID}
	if at, ok := t.LastActive(ctx, userID); ok {
		p.LastActiveAt = &at
	}
	if t.conns.Count(userID) > 0 {
		p.IsOnline = true
		p.Status = domain.PresenceOnline
		return p
	}
	if p.LastActiveAt == nil {
		p.Status = domain.PresenceOffline
		return p
	}
	p.Status = ClassifyIdle(t.now().Sub(*p.LastActiveAt))
	return p
}

// Snapshot returns presence for each of userIDs, duplicates removed
func (t *Tracker) Snapshot(ctx context.Context, userIDs []uuid.UUID) []domain.UserPresence {
	return lo.Map(lo.Uniq(userIDs), func(id uuid.UUID, _ int) domain.UserPresence {
		return t.Presence(ctx, id)
	})
}

// ClassifyIdle maps time since last activity of an offline user to a status
func ClassifyIdle(idle time.Duration) domain.PresenceStatus {
	switch {
	case idle < constants.RecentlyActiveWindow:
		return domain.PresenceRecentlyActive
	case idle < constants.ActiveTodayWindow:
		return domain.PresenceActiveToday
	default:
		return domain.PresenceOffline
	}
}
