package domain

import (
	"time"

	"github.com/google/uuid"
)

// PresenceStatus is the derived availability of a user
type PresenceStatus string

const (
	PresenceOnline         PresenceStatus = "online"
	PresenceRecentlyActive PresenceStatus = "recently_active"
	PresenceActiveToday    PresenceStatus = "active_today"
	PresenceOffline        PresenceStatus = "offline"
)

// UserPresence is a point-in-time presence snapshot for one user
type UserPresence struct {
	UserID       uuid.UUID      `json:"userId"`
	IsOnline     bool           `json:"isOnline"`
	Status       PresenceStatus `json:"status"`
	LastActiveAt *time.Time     `json:"lastActiveAt,omitempty"`
}
