package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"callrelay-backend/internal/domain"
	apperrors "callrelay-backend/pkg/errors"
	"callrelay-backend/pkg/metrics"
)

// ConversationRepository resolves direct conversations
type ConversationRepository struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewConversationRepository creates a new ConversationRepository. m may be nil.
func NewConversationRepository(pool *pgxpool.Pool, m *metrics.Metrics) *ConversationRepository {
	return &ConversationRepository{pool: pool, metrics: m}
}

// GetByID retrieves a conversation with its member ids
func (r *ConversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (_ *domain.Conversation, err error) {
	defer func(start time.Time) { observe(r.metrics, "conversation_get", start, err) }(time.Now())

	conv := &domain.Conversation{}
	err = r.pool.QueryRow(ctx, `
		SELECT conversation_id, type, created_by, created_at
		FROM conversations
		WHERE conversation_id = $1`, conversationID,
	).Scan(&conv.ConversationID, &conv.Type, &conv.CreatedBy, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ConversationNotFoundError()
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	members, err := r.members(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	conv.MemberIDs = members
	return conv, nil
}

func (r *ConversationRepository) members(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY joined_at ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation participants: %w", err)
	}
	members, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation participants: %w", err)
	}
	return members, nil
}

// FindOrCreateDirect returns the direct conversation between two users,
// creating it when none exists
func (r *ConversationRepository) FindOrCreateDirect(ctx context.Context, userA, userB uuid.UUID) (_ *domain.Conversation, err error) {
	defer func(start time.Time) { observe(r.metrics, "conversation_find_or_create", start, err) }(time.Now())

	var conv *domain.Conversation
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var existing uuid.UUID
		err := tx.QueryRow(ctx, `
			SELECT c.conversation_id
			FROM conversations c
			JOIN conversation_participants a ON a.conversation_id = c.conversation_id AND a.user_id = $1
			JOIN conversation_participants b ON b.conversation_id = c.conversation_id AND b.user_id = $2
			WHERE c.type = $3
			ORDER BY c.created_at ASC
			LIMIT 1`, userA, userB, domain.ConversationTypeDirect,
		).Scan(&existing)
		if err == nil {
			conv = &domain.Conversation{ConversationID: existing, Type: domain.ConversationTypeDirect, MemberIDs: []uuid.UUID{userA, userB}}
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to find direct conversation: %w", err)
		}

		conv = &domain.Conversation{
			ConversationID: uuid.New(),
			Type:           domain.ConversationTypeDirect,
			CreatedBy:      userA,
			CreatedAt:      time.Now(),
			MemberIDs:      []uuid.UUID{userA, userB},
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO conversations (conversation_id, type, created_by, created_at)
			VALUES ($1, $2, $3, $4)`,
			conv.ConversationID, conv.Type, conv.CreatedBy, conv.CreatedAt); err != nil {
			return fmt.Errorf("failed to create conversation: %w", err)
		}
		for _, member := range conv.MemberIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
				VALUES ($1, $2, $3)`, conv.ConversationID, member, conv.CreatedAt); err != nil {
				return fmt.Errorf("failed to add conversation participant: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}
