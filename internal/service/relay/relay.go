// Package relay forwards WebRTC negotiation payloads between the two
// participants of a call.
package relay

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callrelay-backend/internal/domain"
	"callrelay-backend/internal/service/call"
	"callrelay-backend/pkg/constants"
	apperrors "callrelay-backend/pkg/errors"
	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/metrics"
)

// Kind is the type of a signaling payload
type Kind string

const (
	KindOffer        Kind = "offer"
	KindAnswer       Kind = "answer"
	KindICECandidate Kind = "ice-candidate"
)

// EventName returns the outbound event a payload of kind k is delivered as
func (k Kind) EventName() (string, bool) {
	switch k {
	case KindOffer:
		return constants.EventCallOffer, true
	case KindAnswer:
		return constants.EventCallAnswer, true
	case KindICECandidate:
		return constants.EventCallICECandidate, true
	}
	return "", false
}

// CallStates resolves the current state of a call
type CallStates interface {
	State(ctx context.Context, callID uuid.UUID) (call.State, error)
}

// RouteLookup resolves the connection a user bound to a call
type RouteLookup interface {
	Lookup(callID, userID uuid.UUID) (string, bool)
}

// ConnectionLookup resolves any live connection of a user
type ConnectionLookup interface {
	LookupAny(userID uuid.UUID) (string, bool)
}

// Emitter delivers outbound events
type Emitter interface {
	Emit(ctx context.Context, events ...domain.Event)
}

// Outcome describes what happened to a relayed payload
type Outcome struct {
	Delivered    bool
	PeerID       uuid.UUID
	ConnectionID string
}

// Service relays offers, answers and ICE candidates
type Service struct {
	calls   CallStates
	routes  RouteLookup
	conns   ConnectionLookup
	emitter Emitter
	metrics *metrics.Metrics
}

// NewService creates a new relay service
func NewService(calls CallStates, routes RouteLookup, conns ConnectionLookup, emitter Emitter, m *metrics.Metrics) *Service {
	return &Service{
		calls:   calls,
		routes:  routes,
		conns:   conns,
		emitter: emitter,
		metrics: m,
	}
}

// Relay forwards payload from one participant to the other. A peer with no
// resolvable connection is not an error: the payload is dropped and
// Outcome.Delivered is false.
func (s *Service) Relay(ctx context.Context, callID, from uuid.UUID, kind Kind, payload json.RawMessage) (*Outcome, error) {
	event, ok := kind.EventName()
	if !ok {
		return nil, apperrors.InvalidInputError("unknown signaling payload: " + string(kind))
	}

	st, err := s.calls.State(ctx, callID)
	if err != nil {
		s.metrics.RecordSignalRelayed(string(kind), "error")
		return nil, err
	}
	peer, ok := st.Participants.Peer(from)
	if !ok {
		s.metrics.RecordSignalRelayed(string(kind), "forbidden")
		return nil, apperrors.NotParticipantError()
	}

	out := &Outcome{PeerID: peer}
	if st.Call.Status.IsTerminal() || st.RingCancelled {
		s.dropped(callID, kind, "call finished")
		return out, nil
	}

	connID, ok := s.routes.Lookup(callID, peer)
	if !ok {
		connID, ok = s.conns.LookupAny(peer)
	}
	if !ok {
		s.dropped(callID, kind, "peer offline")
		return out, nil
	}

	s.emitter.Emit(ctx, domain.ToConnection(event, payload, connID))
	s.metrics.RecordSignalRelayed(string(kind), "delivered")

	out.Delivered = true
	out.ConnectionID = connID
	return out, nil
}

func (s *Service) dropped(callID uuid.UUID, kind Kind, reason string) {
	s.metrics.RecordSignalRelayed(string(kind), "dropped")
	logger.Debug("Signaling payload not delivered",
		zap.String("call_id", callID.String()),
		zap.String("kind", string(kind)),
		zap.String("reason", reason))
}
