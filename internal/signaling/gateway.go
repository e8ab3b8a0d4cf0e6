package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"callrelay-backend/internal/domain"
	"callrelay-backend/internal/registry"
	"callrelay-backend/internal/service/call"
	"callrelay-backend/internal/service/relay"
	"callrelay-backend/pkg/constants"
	apperrors "callrelay-backend/pkg/errors"
	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/metrics"
)

// Registry tracks which connections each user owns
type Registry interface {
	Register(userID uuid.UUID, connID string) int
	Unregister(userID uuid.UUID, connID string) int
}

// Presence reacts to connection lifecycle and answers presence queries
type Presence interface {
	OnUserConnected(ctx context.Context, userID uuid.UUID)
	OnUserDisconnected(ctx context.Context, userID uuid.UUID)
	Snapshot(ctx context.Context, userIDs []uuid.UUID) []domain.UserPresence
}

// CallService drives the call state machine
type CallService interface {
	Initiate(ctx context.Context, in call.InitiateInput) (*call.Result, error)
	Accept(ctx context.Context, callID, userID uuid.UUID, connID string) (*call.Result, error)
	Reject(ctx context.Context, callID, userID uuid.UUID) (*call.Result, error)
	End(ctx context.Context, callID, userID uuid.UUID) (*call.Result, error)
	Participants(ctx context.Context, callID uuid.UUID) (domain.Participants, error)
	Abandon(callID uuid.UUID)
}

// Relayer forwards signaling payloads to the peer
type Relayer interface {
	Relay(ctx context.Context, callID, from uuid.UUID, kind relay.Kind, payload json.RawMessage) (*relay.Outcome, error)
}

// Routes is the call-scoped routing table
type Routes interface {
	BoundTo(connID string) []registry.RouteRef
	Unbind(callID, userID uuid.UUID, connID string) (removed, empty bool)
}

// Emitter delivers outbound events
type Emitter interface {
	Emit(ctx context.Context, events ...domain.Event)
}

// Limits throttles inbound events per connection
type Limits struct {
	EventsPerSecond float64
	Burst           int
}

type session struct {
	userID  uuid.UUID
	limiter *rate.Limiter
}

// Gateway handles the lifecycle and inbound events of authenticated connections
type Gateway struct {
	registry Registry
	presence Presence
	calls    CallService
	relay    Relayer
	routes   Routes
	emitter  Emitter
	metrics  *metrics.Metrics
	validate *validator.Validate
	limits   Limits

	mu       sync.RWMutex
	sessions map[string]*session
}

// GatewayDeps groups the collaborators of Gateway
type GatewayDeps struct {
	Registry Registry
	Presence Presence
	Calls    CallService
	Relay    Relayer
	Routes   Routes
	Emitter  Emitter
	Metrics  *metrics.Metrics
}

// NewGateway creates a new Gateway
func NewGateway(deps GatewayDeps, limits Limits) *Gateway {
	return &Gateway{
		registry: deps.Registry,
		presence: deps.Presence,
		calls:    deps.Calls,
		relay:    deps.Relay,
		routes:   deps.Routes,
		emitter:  deps.Emitter,
		metrics:  deps.Metrics,
		validate: validator.New(),
		limits:   limits,
		sessions: make(map[string]*session),
	}
}

// Connect binds an authenticated user to a new connection
func (g *Gateway) Connect(ctx context.Context, connID string, userID uuid.UUID) error {
	if connID == "" || userID == uuid.Nil {
		return apperrors.UnauthorizedError("connection has no authenticated user")
	}

	sess := &session{userID: userID}
	if g.limits.EventsPerSecond > 0 {
		sess.limiter = rate.NewLimiter(rate.Limit(g.limits.EventsPerSecond), g.limits.Burst)
	}

	g.mu.Lock()
	if _, exists := g.sessions[connID]; exists {
		g.mu.Unlock()
		return apperrors.ValidationError("connection already registered")
	}
	g.sessions[connID] = sess
	g.mu.Unlock()

	count := g.registry.Register(userID, connID)
	g.presence.OnUserConnected(ctx, userID)

	logger.FromContext(ctx).Info("Signaling connection established",
		zap.String("user_id", userID.String()),
		zap.Int("user_connections", count))
	return nil
}

// Disconnect tears down a closed connection. Calls it was routing for are
// told the participant dropped; their status is left as is.
func (g *Gateway) Disconnect(ctx context.Context, connID string) {
	g.mu.Lock()
	sess, ok := g.sessions[connID]
	delete(g.sessions, connID)
	g.mu.Unlock()
	if !ok {
		return
	}

	remaining := g.registry.Unregister(sess.userID, connID)
	g.presence.OnUserDisconnected(ctx, sess.userID)

	for _, ref := range g.routes.BoundTo(connID) {
		_, empty := g.routes.Unbind(ref.CallID, ref.UserID, connID)
		g.notifyParticipantDisconnected(ctx, ref)
		if empty {
			g.calls.Abandon(ref.CallID)
		}
	}

	logger.FromContext(ctx).Info("Signaling connection closed",
		zap.String("user_id", sess.userID.String()),
		zap.Int("user_connections", remaining))
}

func (g *Gateway) notifyParticipantDisconnected(ctx context.Context, ref registry.RouteRef) {
	recipients := []uuid.UUID{ref.UserID}
	participants, err := g.calls.Participants(ctx, ref.CallID)
	if err != nil {
		logger.FromContext(ctx).Warn("Failed to load participants for disconnect notice",
			zap.String("call_id", ref.CallID.String()),
			zap.Error(err))
	} else {
		recipients = participants.UserIDs()
	}

	g.emitter.Emit(ctx, domain.ToUsers(constants.EventCallParticipantDisconnect,
		domain.ParticipantDisconnectedPayload{CallID: ref.CallID, UserID: ref.UserID},
		recipients...))
}

// UserOf returns the user owning an open session
func (g *Gateway) UserOf(connID string) (uuid.UUID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	sess, ok := g.sessions[connID]
	if !ok {
		return uuid.Nil, false
	}
	return sess.userID, true
}

// Handle processes one raw inbound frame. Frames of one connection must be
// handled sequentially to keep their order.
func (g *Gateway) Handle(ctx context.Context, connID string, raw []byte) {
	g.mu.RLock()
	sess, ok := g.sessions[connID]
	g.mu.RUnlock()
	if !ok {
		logger.FromContext(ctx).Warn("Frame received on unknown connection")
		return
	}

	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		g.reply(ctx, connID, InboundFrame{}, nil, apperrors.InvalidInputError("malformed frame"))
		return
	}

	if sess.limiter != nil && !sess.limiter.Allow() {
		g.reply(ctx, connID, frame, nil, apperrors.RateLimitExceededError())
		return
	}

	data, err := g.dispatch(ctx, connID, sess.userID, frame)
	g.reply(ctx, connID, frame, data, err)
}

func (g *Gateway) dispatch(ctx context.Context, connID string, userID uuid.UUID, frame InboundFrame) (any, error) {
	switch frame.Event {
	case constants.EventCallInitiate:
		var req InitiateRequest
		if err := g.decode(frame.Data, &req); err != nil {
			return nil, err
		}
		target, err := parseID("conversationOrCalleeId", req.ConversationOrCalleeID)
		if err != nil {
			return nil, err
		}
		res, err := g.calls.Initiate(ctx, call.InitiateInput{
			CallerID:     userID,
			Target:       target,
			Type:         domain.CallType(req.Type),
			ConnectionID: connID,
		})
		if err != nil {
			return nil, err
		}
		return callAck(res), nil

	case constants.EventCallAccept, constants.EventCallReject, constants.EventCallEnd:
		var req CallActionRequest
		if err := g.decode(frame.Data, &req); err != nil {
			return nil, err
		}
		callID, err := parseID("callId", req.CallID)
		if err != nil {
			return nil, err
		}

		var res *call.Result
		switch frame.Event {
		case constants.EventCallAccept:
			res, err = g.calls.Accept(ctx, callID, userID, connID)
		case constants.EventCallReject:
			res, err = g.calls.Reject(ctx, callID, userID)
		default:
			res, err = g.calls.End(ctx, callID, userID)
		}
		if err != nil {
			return nil, err
		}
		return callAck(res), nil

	case constants.EventCallOffer, constants.EventCallAnswer:
		var req SessionDescriptionRequest
		if err := g.decode(frame.Data, &req); err != nil {
			return nil, err
		}
		kind := relay.KindOffer
		if frame.Event == constants.EventCallAnswer {
			kind = relay.KindAnswer
		}
		return g.relayPayload(ctx, req.CallID, userID, kind, frame.Data)

	case constants.EventCallICECandidate:
		var req ICECandidateRequest
		if err := g.decode(frame.Data, &req); err != nil {
			return nil, err
		}
		return g.relayPayload(ctx, req.CallID, userID, relay.KindICECandidate, frame.Data)

	case constants.EventPresenceQuery:
		var req PresenceQueryRequest
		if err := g.decode(frame.Data, &req); err != nil {
			return nil, err
		}
		ids := make([]uuid.UUID, len(req.UserIDs))
		for i, raw := range req.UserIDs {
			id, err := parseID("userIds", raw)
			if err != nil {
				return nil, err
			}
			ids[i] = id
		}
		return g.presence.Snapshot(ctx, ids), nil

	default:
		return nil, apperrors.UnknownEventError(frame.Event)
	}
}

func (g *Gateway) relayPayload(ctx context.Context, rawCallID string, userID uuid.UUID, kind relay.Kind, data json.RawMessage) (any, error) {
	callID, err := parseID("callId", rawCallID)
	if err != nil {
		return nil, err
	}
	out, err := g.relay.Relay(ctx, callID, userID, kind, data)
	if err != nil {
		return nil, err
	}
	return RelayAck{CallID: callID.String(), Delivered: out.Delivered}, nil
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.ValidationError(field + " must be a uuid")
	}
	return id, nil
}

// decode unmarshals data into req and validates it
func (g *Gateway) decode(data json.RawMessage, req any) error {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, req); err != nil {
		return apperrors.InvalidInputError("malformed event data")
	}
	if err := g.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return apperrors.ValidationError(strings.Join(fields, "; "))
		}
		return apperrors.ValidationError(err.Error())
	}
	return nil
}

var inboundEvents = map[string]bool{
	constants.EventCallInitiate:     true,
	constants.EventCallAccept:       true,
	constants.EventCallReject:       true,
	constants.EventCallEnd:          true,
	constants.EventCallOffer:        true,
	constants.EventCallAnswer:       true,
	constants.EventCallICECandidate: true,
	constants.EventPresenceQuery:    true,
}

// reply acknowledges an inbound frame on the connection that sent it.
// Actions on finished calls are acknowledged as successful no-ops.
func (g *Gateway) reply(ctx context.Context, connID string, frame InboundFrame, data any, err error) {
	event := frame.Event
	if !inboundEvents[event] {
		// keeps client-controlled names out of metric labels
		event = "unknown"
	}

	if err != nil && apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition) {
		err = nil
	}
	if err == nil {
		g.metrics.RecordInboundEvent(event, "ok")
		g.emitter.Emit(ctx, domain.ToConnection(constants.EventSuccess, SuccessPayload{
			Event:     frame.Event,
			RequestID: frame.RequestID,
			Data:      data,
		}, connID))
		return
	}

	appErr := apperrors.GetAppError(err)
	message := appErr.Message
	switch appErr.Code {
	case apperrors.ErrCodeInternal, apperrors.ErrCodeDependencyUnavailable:
		logger.FromContext(ctx).Error("Failed to handle signaling event",
			zap.String("event", frame.Event),
			zap.Error(err))
		if appErr.Code == apperrors.ErrCodeInternal {
			message = "Internal server error"
		}
	default:
		logger.FromContext(ctx).Debug("Signaling event rejected",
			zap.String("event", frame.Event),
			zap.String("code", string(appErr.Code)),
			zap.String("message", appErr.Message))
	}

	g.metrics.RecordInboundEvent(event, strings.ToLower(string(appErr.Code)))
	g.emitter.Emit(ctx, domain.ToConnection(constants.EventError, ErrorPayload{
		Event:     frame.Event,
		RequestID: frame.RequestID,
		Code:      string(appErr.Code),
		Message:   message,
	}, connID))
}

func callAck(res *call.Result) CallAck {
	return CallAck{
		CallID:         res.Call.CallID.String(),
		ConversationID: res.Call.ConversationID.String(),
		Status:         string(res.Call.Status),
		Noop:           res.Noop,
	}
}
