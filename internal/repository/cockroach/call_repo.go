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

// CallRepository handles call data operations
type CallRepository struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewCallRepository creates a new call repository. m may be nil.
func NewCallRepository(pool *pgxpool.Pool, m *metrics.Metrics) *CallRepository {
	return &CallRepository{pool: pool, metrics: m}
}

// Create inserts a call and its participants in one transaction
func (r *CallRepository) Create(ctx context.Context, call *domain.Call, participants domain.Participants) (err error) {
	defer func(start time.Time) { observe(r.metrics, "call_create", start, err) }(time.Now())

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO calls (
				call_id, conversation_id, initiator_id, call_type, status, created_at, started_at, ended_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			call.CallID,
			call.ConversationID,
			call.InitiatorID,
			string(call.CallType),
			string(call.Status),
			call.CreatedAt,
			call.StartedAt,
			call.EndedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create call: %w", err)
		}

		batch := &pgx.Batch{}
		for _, p := range participants {
			batch.Queue(`
				INSERT INTO call_participants (call_id, user_id, status, joined_at, left_at)
				VALUES ($1, $2, $3, $4, $5)`,
				call.CallID, p.UserID, string(p.Status), p.JoinedAt, p.LeftAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to add call participants: %w", err)
		}
		return nil
	})
}

// Update writes status, timestamps and participant states
func (r *CallRepository) Update(ctx context.Context, call *domain.Call, participants domain.Participants) (err error) {
	defer func(start time.Time) { observe(r.metrics, "call_update", start, err) }(time.Now())

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE calls
			SET status = $2, started_at = $3, ended_at = $4
			WHERE call_id = $1`,
			call.CallID, string(call.Status), call.StartedAt, call.EndedAt)
		if err != nil {
			return fmt.Errorf("failed to update call: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.CallNotFoundError()
		}

		batch := &pgx.Batch{}
		for _, p := range participants {
			batch.Queue(`
				UPDATE call_participants
				SET status = $3, left_at = $4
				WHERE call_id = $1 AND user_id = $2`,
				call.CallID, p.UserID, string(p.Status), p.LeftAt)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to update call participants: %w", err)
		}
		return nil
	})
}

// GetByID retrieves a call by ID
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (_ *domain.Call, err error) {
	defer func(start time.Time) { observe(r.metrics, "call_get", start, err) }(time.Now())

	query := `
		SELECT call_id, conversation_id, initiator_id, call_type, status,
		       created_at, started_at, ended_at
		FROM calls
		WHERE call_id = $1
	`

	var (
		call             domain.Call
		callType, status string
	)
	err = r.pool.QueryRow(ctx, query, callID).Scan(
		&call.CallID,
		&call.ConversationID,
		&call.InitiatorID,
		&callType,
		&status,
		&call.CreatedAt,
		&call.StartedAt,
		&call.EndedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.CallNotFoundError()
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	call.CallType = domain.CallType(callType)
	call.Status = domain.CallStatus(status)

	return &call, nil
}

// GetParticipants retrieves both participants of a call
func (r *CallRepository) GetParticipants(ctx context.Context, callID uuid.UUID) (_ domain.Participants, err error) {
	defer func(start time.Time) { observe(r.metrics, "call_participants_get", start, err) }(time.Now())

	query := `
		SELECT call_id, user_id, status, joined_at, left_at
		FROM call_participants
		WHERE call_id = $1
		ORDER BY joined_at ASC, user_id ASC
	`

	rows, err := r.pool.Query(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants domain.Participants
	for rows.Next() {
		var (
			p      domain.CallParticipant
			status string
		)
		if err := rows.Scan(&p.CallID, &p.UserID, &status, &p.JoinedAt, &p.LeftAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		p.Status = domain.ParticipantStatus(status)
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}
	return participants, nil
}
