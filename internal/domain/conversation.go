package domain

import (
	"time"

	"github.com/google/uuid"
)

// ConversationTypeDirect is the only conversation kind a call can be placed in
const ConversationTypeDirect = "direct"

// Conversation is a direct conversation between two users
// Maps to CockroachDB conversations table
type Conversation struct {
	ConversationID uuid.UUID   `json:"conversation_id" db:"conversation_id"`
	Type           string      `json:"type" db:"type"`
	CreatedBy      uuid.UUID   `json:"created_by" db:"created_by"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	MemberIDs      []uuid.UUID `json:"member_ids"`
}

// PeerOf returns the member of a direct conversation that is not userID
func (c *Conversation) PeerOf(userID uuid.UUID) (uuid.UUID, bool) {
	isMember := false
	peer := uuid.Nil
	for _, id := range c.MemberIDs {
		if id == userID {
			isMember = true
			continue
		}
		peer = id
	}
	return peer, isMember && peer != uuid.Nil
}
