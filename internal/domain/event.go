package domain

import (
	"github.com/google/uuid"
)

// TargetKind selects how an outbound event is addressed
type TargetKind int

const (
	// TargetUsers delivers to every live connection of each listed user
	TargetUsers TargetKind = iota
	// TargetConnection delivers to exactly one connection
	TargetConnection
	// TargetAll delivers to every live connection
	TargetAll
)

// Event is an outbound notification produced by the core and delivered by the dispatcher
type Event struct {
	Name         string
	Payload      any
	Target       TargetKind
	UserIDs      []uuid.UUID
	ConnectionID string
}

// ToUsers addresses an event to all connections of the given users
func ToUsers(name string, payload any, userIDs ...uuid.UUID) Event {
	return Event{Name: name, Payload: payload, Target: TargetUsers, UserIDs: userIDs}
}

// ToConnection addresses an event to a single connection
func ToConnection(name string, payload any, connID string) Event {
	return Event{Name: name, Payload: payload, Target: TargetConnection, ConnectionID: connID}
}

// ToAll addresses an event to every live connection
func ToAll(name string, payload any) Event {
	return Event{Name: name, Payload: payload, Target: TargetAll}
}

// IncomingCallPayload is sent to the callee when a call starts ringing
type IncomingCallPayload struct {
	CallID         uuid.UUID `json:"callId"`
	CallerID       uuid.UUID `json:"callerId"`
	ConversationID uuid.UUID `json:"conversationId"`
	Type           CallType  `json:"type"`
}

// CallUpdatePayload accompanies accepted/rejected/ended/missed notifications
type CallUpdatePayload struct {
	CallID uuid.UUID  `json:"callId"`
	UserID *uuid.UUID `json:"userId,omitempty"`
	Status CallStatus `json:"status"`
}

// ParticipantDisconnectedPayload tells the peer that a routed connection closed
type ParticipantDisconnectedPayload struct {
	CallID uuid.UUID `json:"callId"`
	UserID uuid.UUID `json:"userId"`
}

// UserStatusChangedPayload is broadcast on presence edges
type UserStatusChangedPayload struct {
	UserID   uuid.UUID      `json:"userId"`
	IsOnline bool           `json:"isOnline"`
	Status   PresenceStatus `json:"status"`
}
