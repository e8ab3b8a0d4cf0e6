package signaling

import (
	"encoding/json"
	"time"
)

// InboundFrame is a client message: an event name and its data.
// RequestID, when set, is echoed on the acknowledgement.
type InboundFrame struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"requestId,omitempty"`
}

// OutboundFrame is the envelope for every server message
type OutboundFrame struct {
	Event     string    `json:"event"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// EncodeFrame marshals an outbound event
func EncodeFrame(event string, data any, at time.Time) ([]byte, error) {
	return json.Marshal(OutboundFrame{Event: event, Data: data, Timestamp: at})
}

// SuccessPayload acknowledges a handled inbound event
type SuccessPayload struct {
	Event     string `json:"event"`
	RequestID string `json:"requestId,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// ErrorPayload reports a rejected inbound event. The connection stays open.
type ErrorPayload struct {
	Event     string `json:"event,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// InitiateRequest is the data of call:initiate
type InitiateRequest struct {
	ConversationOrCalleeID string `json:"conversationOrCalleeId" validate:"required,uuid"`
	Type                   string `json:"type" validate:"required,oneof=audio video"`
}

// CallActionRequest is the data of call:accept, call:reject and call:end
type CallActionRequest struct {
	CallID string `json:"callId" validate:"required,uuid"`
}

// SessionDescriptionRequest is the data of call:offer and call:answer
type SessionDescriptionRequest struct {
	CallID string `json:"callId" validate:"required,uuid"`
	SDP    any    `json:"sdp" validate:"required"`
}

// ICECandidateRequest is the data of call:ice-candidate
type ICECandidateRequest struct {
	CallID        string  `json:"callId" validate:"required,uuid"`
	Candidate     any     `json:"candidate" validate:"required"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *int    `json:"sdpMLineIndex,omitempty" validate:"omitempty,min=0"`
}

// PresenceQueryRequest is the data of presence:query
type PresenceQueryRequest struct {
	UserIDs []string `json:"userIds" validate:"required,min=1,max=100,dive,uuid"`
}

// CallAck is returned for call lifecycle actions
type CallAck struct {
	CallID         string `json:"callId"`
	ConversationID string `json:"conversationId,omitempty"`
	Status         string `json:"status"`
	Noop           bool   `json:"noop,omitempty"`
}

// RelayAck is returned for relayed signaling payloads
type RelayAck struct {
	CallID    string `json:"callId"`
	Delivered bool   `json:"delivered"`
}
