package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callrelay-backend/internal/database"
	"callrelay-backend/pkg/constants"
	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/push"
)

// PushTokenRepository handles push notification token storage in Redis
type PushTokenRepository struct {
	client *database.RedisClient
}

// NewPushTokenRepository creates a new push token repository
func NewPushTokenRepository(client *database.RedisClient) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

func pushTokenKey(token string) string {
	return fmt.Sprintf("push:token:%s", token)
}

func userTokensKey(userID uuid.UUID) string {
	return fmt.Sprintf("push:user:%s:tokens", userID)
}

// Store stores a push notification token
func (r *PushTokenRepository) Store(ctx context.Context, token *push.Token) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	now := time.Now().Unix()
	if token.CreatedAt == 0 {
		token.CreatedAt = now
	}
	token.UpdatedAt = now

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := r.client.SafeSet(ctx, pushTokenKey(token.Token), data, constants.PushTokenExpiry).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	if err := r.client.SafeSAdd(ctx, userTokensKey(token.UserID), token.Token).Err(); err != nil {
		return fmt.Errorf("failed to add token to user set: %w", err)
	}
	if err := r.client.SafeExpire(ctx, userTokensKey(token.UserID), constants.PushTokenExpiry).Err(); err != nil {
		logger.Warn("Failed to set expiration on user tokens set",
			zap.String("user_id", token.UserID.String()),
			zap.Error(err))
	}

	logger.Debug("Push token stored",
		zap.String("token_id", token.ID.String()),
		zap.String("user_id", token.UserID.String()),
		zap.String("token_type", string(token.Type)))
	return nil
}

// GetByUserID retrieves all tokens for a user
func (r *PushTokenRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*push.Token, error) {
	values, err := r.client.SafeSMembers(ctx, userTokensKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user tokens: %w", err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	keys := make([]string, len(values))
	for i, v := range values {
		keys[i] = pushTokenKey(v)
	}
	raws, err := r.client.SafeMGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load user tokens: %w", err)
	}

	tokens := make([]*push.Token, 0, len(raws))
	for i, raw := range raws {
		s, ok := raw.(string)
		if !ok {
			// expired token record; the set entry is stale
			continue
		}
		var t push.Token
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			logger.Warn("Failed to decode push token",
				zap.String("user_id", userID.String()),
				zap.String("key", keys[i]),
				zap.Error(err))
			continue
		}
		tokens = append(tokens, &t)
	}
	return tokens, nil
}

// MarkInactive disables a token the provider reported as invalid
func (r *PushTokenRepository) MarkInactive(ctx context.Context, userID uuid.UUID, token string) error {
	if err := r.client.SafeSRem(ctx, userTokensKey(userID), token).Err(); err != nil {
		return fmt.Errorf("failed to remove token from user set: %w", err)
	}
	if err := r.client.SafeDel(ctx, pushTokenKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}
