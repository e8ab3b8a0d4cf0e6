package redis

import (
	"context"
	"fmt"

	"callrelay-backend/internal/database"
	appJWT "callrelay-backend/pkg/jwt"
)

// RevocationRepository reads the token blacklist maintained by the identity service
type RevocationRepository struct {
	client *database.RedisClient
}

// NewRevocationRepository creates a new RevocationRepository
func NewRevocationRepository(client *database.RedisClient) *RevocationRepository {
	return &RevocationRepository{client: client}
}

func blacklistKey(jti string) string {
	return fmt.Sprintf("blacklist:%s", jti)
}

// IsTokenRevoked checks if a validated token is in the blacklist
func (r *RevocationRepository) IsTokenRevoked(ctx context.Context, tokenString string) (bool, error) {
	jti, err := appJWT.TokenID(tokenString)
	if err != nil {
		return false, err
	}
	if jti == "" {
		return false, nil
	}

	exists, err := r.client.SafeExists(ctx, blacklistKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist in redis: %w", err)
	}
	return exists > 0, nil
}
