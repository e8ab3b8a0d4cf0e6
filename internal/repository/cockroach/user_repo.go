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

// UserRepository reads the user directory
type UserRepository struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewUserRepository creates a new UserRepository. m may be nil.
func NewUserRepository(pool *pgxpool.Pool, m *metrics.Metrics) *UserRepository {
	return &UserRepository{pool: pool, metrics: m}
}

// GetByID retrieves user by ID
func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (_ *domain.User, err error) {
	defer func(start time.Time) { observe(r.metrics, "user_get", start, err) }(time.Now())

	query := `
		SELECT user_id, username, display_name, created_at
		FROM users
		WHERE user_id = $1
	`

	user := &domain.User{}
	err = r.pool.QueryRow(ctx, query, userID).Scan(
		&user.UserID,
		&user.Username,
		&user.DisplayName,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.UserNotFoundError()
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}
