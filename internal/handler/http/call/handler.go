package call

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"callrelay-backend/internal/domain"
	callsvc "callrelay-backend/internal/service/call"
	apperrors "callrelay-backend/pkg/errors"
	"callrelay-backend/pkg/response"
)

// Service is the call state machine as seen by REST clients
type Service interface {
	Initiate(ctx context.Context, in callsvc.InitiateInput) (*callsvc.Result, error)
	Accept(ctx context.Context, callID, userID uuid.UUID, connID string) (*callsvc.Result, error)
	Reject(ctx context.Context, callID, userID uuid.UUID) (*callsvc.Result, error)
	End(ctx context.Context, callID, userID uuid.UUID) (*callsvc.Result, error)
	Status(ctx context.Context, callID, userID uuid.UUID) (*domain.CallWithParticipants, error)
}

// Handler handles call HTTP requests. Actions taken here reach websocket
// clients through the same events as their websocket counterparts.
type Handler struct {
	calls Service
}

// NewHandler creates a new call handler
func NewHandler(calls Service) *Handler {
	return &Handler{calls: calls}
}

// InitiateCallRequest represents call initiation request
type InitiateCallRequest struct {
	ConversationOrCalleeID string `json:"conversationOrCalleeId" binding:"required,uuid"`
	Type                   string `json:"type" binding:"required,oneof=audio video"`
}

// CallActionResponse is returned by initiate, accept, reject and end
type CallActionResponse struct {
	Call *domain.CallWithParticipants `json:"call"`
	Noop bool                         `json:"noop,omitempty"`
}

// InitiateCall starts ringing the callee
// POST /v1/calls/initiate
func (h *Handler) InitiateCall(c *gin.Context) {
	callerID, ok := currentUser(c)
	if !ok {
		return
	}

	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	target, err := uuid.Parse(req.ConversationOrCalleeID)
	if err != nil {
		response.ValidationError(c, "conversationOrCalleeId must be a uuid")
		return
	}

	res, err := h.calls.Initiate(c.Request.Context(), callsvc.InitiateInput{
		CallerID: callerID,
		Target:   target,
		Type:     domain.CallType(req.Type),
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, CallActionResponse{Call: res.Call})
}

// AcceptCall answers a ringing call
// POST /v1/calls/:id/accept
func (h *Handler) AcceptCall(c *gin.Context) {
	h.act(c, func(ctx context.Context, callID, userID uuid.UUID) (*callsvc.Result, error) {
		return h.calls.Accept(ctx, callID, userID, "")
	})
}

// RejectCall declines a ringing call
// POST /v1/calls/:id/reject
func (h *Handler) RejectCall(c *gin.Context) {
	h.act(c, h.calls.Reject)
}

// EndCall terminates a call
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	h.act(c, h.calls.End)
}

func (h *Handler) act(c *gin.Context, action func(ctx context.Context, callID, userID uuid.UUID) (*callsvc.Result, error)) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, ok := callIDParam(c)
	if !ok {
		return
	}

	res, err := action(c.Request.Context(), callID, userID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeInvalidTransition) {
			response.Success(c, http.StatusOK, CallActionResponse{Noop: true})
			return
		}
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, CallActionResponse{Call: res.Call, Noop: res.Noop})
}

// GetCallStatus retrieves call information for a participant
// GET /v1/calls/:id
func (h *Handler) GetCallStatus(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, ok := callIDParam(c)
	if !ok {
		return
	}

	call, err := h.calls.Status(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, call)
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

func callIDParam(c *gin.Context) (uuid.UUID, bool) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, false
	}
	return callID, true
}
