package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callrelay-backend/internal/domain"
	apperrors "callrelay-backend/pkg/errors"
)

func TestCallRepository_CreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewCallRepository()

	now := time.Now()
	call := &domain.Call{
		CallID:         uuid.New(),
		ConversationID: uuid.New(),
		InitiatorID:    uuid.New(),
		CallType:       domain.CallTypeAudio,
		Status:         domain.CallStatusInitiated,
		CreatedAt:      now,
	}
	participants := domain.Participants{
		{CallID: call.CallID, UserID: call.InitiatorID, Status: domain.ParticipantJoined, JoinedAt: now},
		{CallID: call.CallID, UserID: uuid.New(), Status: domain.ParticipantJoined, JoinedAt: now},
	}
	require.NoError(t, repo.Create(ctx, call, participants))

	err := repo.Create(ctx, call, participants)
	assert.Error(t, err)

	// stored values are copies
	call.Status = domain.CallStatusEnded
	got, err := repo.GetByID(ctx, call.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusInitiated, got.Status)

	got.Status = domain.CallStatusRinging
	require.NoError(t, repo.Update(ctx, got, participants))

	got, err = repo.GetByID(ctx, call.CallID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, got.Status)

	ps, err := repo.GetParticipants(ctx, call.CallID)
	require.NoError(t, err)
	assert.Len(t, ps, 2)
}

func TestCallRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewCallRepository()

	_, err := repo.GetByID(ctx, uuid.New())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeCallNotFound))

	_, err = repo.GetParticipants(ctx, uuid.New())
	assert.True(t, apperrors.IsNotFound(err))

	err = repo.Update(ctx, &domain.Call{CallID: uuid.New()}, nil)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	alice := &domain.User{UserID: uuid.New(), Username: "alice"}
	repo := NewUserRepository(alice)

	got, err := repo.GetByID(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = repo.GetByID(ctx, uuid.New())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUserNotFound))

	repo.Ensure(alice.UserID, "renamed")
	got, err = repo.GetByID(ctx, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	bob := uuid.New()
	repo.Ensure(bob, "bob")
	got, err = repo.GetByID(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Username)
}

func TestConversationRepository_FindOrCreateDirect(t *testing.T) {
	ctx := context.Background()
	repo := NewConversationRepository()
	a, b := uuid.New(), uuid.New()

	first, err := repo.FindOrCreateDirect(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, domain.ConversationTypeDirect, first.Type)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, first.MemberIDs)

	second, err := repo.FindOrCreateDirect(ctx, b, a)
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	got, err := repo.GetByID(ctx, first.ConversationID)
	require.NoError(t, err)
	peer, ok := got.PeerOf(a)
	assert.True(t, ok)
	assert.Equal(t, b, peer)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConversationNotFound))
}
