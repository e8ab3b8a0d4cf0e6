package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus is the lifecycle state of a call
type CallStatus string

const (
	CallStatusInitiated CallStatus = "INITIATED"
	CallStatusRinging   CallStatus = "RINGING"
	CallStatusOngoing   CallStatus = "ONGOING"
	CallStatusDeclined  CallStatus = "DECLINED"
	CallStatusMissed    CallStatus = "MISSED"
	CallStatusEnded     CallStatus = "ENDED"
)

// IsTerminal reports whether no further transition can leave s
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusDeclined, CallStatusMissed, CallStatusEnded:
		return true
	}
	return false
}

// CallType is the media kind requested by the caller
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a known call type
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// ParticipantStatus tracks one user's membership in a call
type ParticipantStatus string

const (
	// ParticipantJoined is the invited/joined state both parties start in
	ParticipantJoined ParticipantStatus = "JOINED"
	ParticipantMissed ParticipantStatus = "MISSED"
	ParticipantLeft   ParticipantStatus = "LEFT"
)

// IsFinal reports whether the participant can no longer change state
func (s ParticipantStatus) IsFinal() bool {
	return s == ParticipantMissed || s == ParticipantLeft
}

// Call represents a 1:1 audio/video call
type Call struct {
	CallID         uuid.UUID  `json:"call_id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	InitiatorID    uuid.UUID  `json:"initiator_id"`
	CallType       CallType   `json:"call_type"`
	Status         CallStatus `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// Clone returns a deep copy of c
func (c *Call) Clone() *Call {
	if c == nil {
		return nil
	}
	cp := *c
	if c.StartedAt != nil {
		t := *c.StartedAt
		cp.StartedAt = &t
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}

// CallParticipant is one of the two parties of a call
type CallParticipant struct {
	CallID   uuid.UUID         `json:"call_id"`
	UserID   uuid.UUID         `json:"user_id"`
	Status   ParticipantStatus `json:"status"`
	JoinedAt time.Time         `json:"joined_at"`
	LeftAt   *time.Time        `json:"left_at,omitempty"`
}

// Participants is the participant set of a single call
type Participants []CallParticipant

// Has reports whether userID takes part in the call
func (p Participants) Has(userID uuid.UUID) bool {
	for _, cp := range p {
		if cp.UserID == userID {
			return true
		}
	}
	return false
}

// Peer returns the other participant of a 1:1 call
func (p Participants) Peer(userID uuid.UUID) (uuid.UUID, bool) {
	if !p.Has(userID) {
		return uuid.Nil, false
	}
	for _, cp := range p {
		if cp.UserID != userID {
			return cp.UserID, true
		}
	}
	return uuid.Nil, false
}

// UserIDs lists the participant ids in stored order
func (p Participants) UserIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(p))
	for _, cp := range p {
		ids = append(ids, cp.UserID)
	}
	return ids
}

// Clone returns a deep copy of p
func (p Participants) Clone() Participants {
	out := make(Participants, len(p))
	for i, cp := range p {
		out[i] = cp
		if cp.LeftAt != nil {
			t := *cp.LeftAt
			out[i].LeftAt = &t
		}
	}
	return out
}

// CallWithParticipants is the read model returned by status lookups
type CallWithParticipants struct {
	*Call
	Participants Participants `json:"participants"`
}
