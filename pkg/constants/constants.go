// Package constants defines service-wide timeouts, windows and wire names.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout bounds a single storage or cache round trip
	DefaultTimeout = 5 * time.Second

	// DefaultRingTimeout is how long a call may ring before it is marked missed
	DefaultRingTimeout = 30 * time.Second

	// WebSocketPongWait is how long a connection may stay silent before it is dropped
	WebSocketPongWait = 60 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second

	// EndedCallRetention keeps terminal calls answerable from memory
	EndedCallRetention = 10 * time.Minute
)

// Database connection constants
const (
	MaxConnLifetime   = 1 * time.Hour
	MaxConnIdleTime   = 30 * time.Minute
	HealthCheckPeriod = 1 * time.Minute
)

// Presence windows
const (
	// RecentlyActiveWindow: offline users seen within this window are "recently_active"
	RecentlyActiveWindow = 5 * time.Minute

	// ActiveTodayWindow: offline users seen within this window are "active_today"
	ActiveTodayWindow = 60 * time.Minute

	// LastActivityTTL bounds how long activity timestamps are kept in Redis
	LastActivityTTL = 7 * 24 * time.Hour
)

// Push notification constants
const (
	// PushTokenExpiry is the validity period for push notification tokens
	PushTokenExpiry = 30 * 24 * time.Hour
)

// Inbound websocket events
const (
	EventCallInitiate     = "call:initiate"
	EventCallAccept       = "call:accept"
	EventCallReject       = "call:reject"
	EventCallEnd          = "call:end"
	EventCallOffer        = "call:offer"
	EventCallAnswer       = "call:answer"
	EventCallICECandidate = "call:ice-candidate"
	EventPresenceQuery    = "presence:query"
)

// Outbound websocket events
const (
	EventCallIncoming              = "call:incoming"
	EventCallAccepted              = "call:accepted"
	EventCallRejected              = "call:rejected"
	EventCallEnded                 = "call:ended"
	EventCallMissed                = "call:missed"
	EventCallParticipantDisconnect = "call:participant-disconnected"
	EventUserStatusChanged         = "user_status_changed"
	EventSuccess                   = "success"
	EventError                     = "error"
)
