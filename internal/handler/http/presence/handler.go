package presence

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"callrelay-backend/internal/domain"
	"callrelay-backend/pkg/response"
)

// maxQueryUsers bounds a single presence lookup
const maxQueryUsers = 100

// Tracker answers presence lookups
type Tracker interface {
	Presence(ctx context.Context, userID uuid.UUID) domain.UserPresence
	Snapshot(ctx context.Context, userIDs []uuid.UUID) []domain.UserPresence
}

// Handler handles presence HTTP requests
type Handler struct {
	tracker Tracker
}

// NewHandler creates a new presence handler
func NewHandler(tracker Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// GetPresence returns presence for a comma-separated list of users
// GET /v1/presence?user_ids=a,b
func (h *Handler) GetPresence(c *gin.Context) {
	raw := strings.Split(c.Query("user_ids"), ",")
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			response.ValidationError(c, "Invalid user ID: "+s)
			return
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		response.ValidationError(c, "user_ids is required")
		return
	}
	if len(ids) > maxQueryUsers {
		response.ValidationError(c, "Too many user IDs")
		return
	}

	response.Success(c, http.StatusOK, h.tracker.Snapshot(c.Request.Context(), ids))
}

// GetUserPresence returns presence for one user
// GET /v1/presence/:id
func (h *Handler) GetUserPresence(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}

	response.Success(c, http.StatusOK, h.tracker.Presence(c.Request.Context(), userID))
}
