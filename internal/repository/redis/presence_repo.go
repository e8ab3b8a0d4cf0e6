package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"callrelay-backend/internal/database"
	"callrelay-backend/pkg/constants"
)

// PresenceRepository keeps users' last-activity timestamps in Redis so a
// restarted process can still classify offline users
type PresenceRepository struct {
	client *database.RedisClient
	ttl    time.Duration
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client, ttl: constants.LastActivityTTL}
}

func lastActiveKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:last_active:%s", userID)
}

// SetLastActive records the instant a user was last seen connected
func (r *PresenceRepository) SetLastActive(ctx context.Context, userID uuid.UUID, at time.Time) error {
	err := r.client.SafeSet(ctx, lastActiveKey(userID), at.UnixMilli(), r.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set last activity: %w", err)
	}
	return nil
}

// GetLastActive returns the stored last-activity instant. ok is false when
// nothing was recorded or the record expired.
func (r *PresenceRepository) GetLastActive(ctx context.Context, userID uuid.UUID) (time.Time, bool, error) {
	raw, err := r.client.SafeGet(ctx, lastActiveKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to get last activity: %w", err)
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("malformed last activity %q: %w", raw, err)
	}
	return time.UnixMilli(ms), true, nil
}
