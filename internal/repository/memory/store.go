// Package memory holds process-local repositories used when no database is
// configured, and by tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"callrelay-backend/internal/domain"
	apperrors "callrelay-backend/pkg/errors"
)

// CallRepository stores calls in memory
type CallRepository struct {
	mu           sync.RWMutex
	calls        map[uuid.UUID]*domain.Call
	participants map[uuid.UUID]domain.Participants
}

// NewCallRepository creates an empty CallRepository
func NewCallRepository() *CallRepository {
	return &CallRepository{
		calls:        make(map[uuid.UUID]*domain.Call),
		participants: make(map[uuid.UUID]domain.Participants),
	}
}

// Create stores a new call and its participants
func (r *CallRepository) Create(_ context.Context, call *domain.Call, participants domain.Participants) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[call.CallID]; ok {
		return apperrors.New(apperrors.ErrCodeValidation, "call already exists")
	}
	r.calls[call.CallID] = call.Clone()
	r.participants[call.CallID] = participants.Clone()
	return nil
}

// Update overwrites a stored call and its participants
func (r *CallRepository) Update(_ context.Context, call *domain.Call, participants domain.Participants) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[call.CallID]; !ok {
		return apperrors.CallNotFoundError()
	}
	r.calls[call.CallID] = call.Clone()
	r.participants[call.CallID] = participants.Clone()
	return nil
}

// GetByID returns a copy of a stored call
func (r *CallRepository) GetByID(_ context.Context, callID uuid.UUID) (*domain.Call, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	call, ok := r.calls[callID]
	if !ok {
		return nil, apperrors.CallNotFoundError()
	}
	return call.Clone(), nil
}

// GetParticipants returns a copy of a call's participants
func (r *CallRepository) GetParticipants(_ context.Context, callID uuid.UUID) (domain.Participants, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[callID]
	if !ok {
		return nil, apperrors.CallNotFoundError()
	}
	return p.Clone(), nil
}

// UserRepository is an in-memory user directory
type UserRepository struct {
	mu    sync.RWMutex
	users map[uuid.UUID]*domain.User
}

// NewUserRepository creates a UserRepository seeded with users
func NewUserRepository(users ...*domain.User) *UserRepository {
	r := &UserRepository{users: make(map[uuid.UUID]*domain.User)}
	for _, u := range users {
		r.Add(u)
	}
	return r
}

// Add inserts or replaces a user
func (r *UserRepository) Add(u *domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.users[u.UserID] = &cp
}

// Ensure adds a user with the given name unless one already exists
func (r *UserRepository) Ensure(userID uuid.UUID, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[userID]; ok {
		return
	}
	r.users[userID] = &domain.User{UserID: userID, Username: username, CreatedAt: time.Now()}
}

// GetByID returns a copy of a user
func (r *UserRepository) GetByID(_ context.Context, userID uuid.UUID) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, apperrors.UserNotFoundError()
	}
	cp := *u
	return &cp, nil
}

type pairKey [2]uuid.UUID

func newPairKey(a, b uuid.UUID) pairKey {
	if a.String() > b.String() {
		a, b = b, a
	}
	return pairKey{a, b}
}

// ConversationRepository stores direct conversations in memory
type ConversationRepository struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*domain.Conversation
	byPair map[pairKey]uuid.UUID
}

// NewConversationRepository creates an empty ConversationRepository
func NewConversationRepository() *ConversationRepository {
	return &ConversationRepository{
		byID:   make(map[uuid.UUID]*domain.Conversation),
		byPair: make(map[pairKey]uuid.UUID),
	}
}

// GetByID returns a copy of a conversation
func (r *ConversationRepository) GetByID(_ context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[conversationID]
	if !ok {
		return nil, apperrors.ConversationNotFoundError()
	}
	return cloneConversation(c), nil
}

// FindOrCreateDirect returns the direct conversation between two users,
// creating it when none exists
func (r *ConversationRepository) FindOrCreateDirect(_ context.Context, userA, userB uuid.UUID) (*domain.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := newPairKey(userA, userB)
	if id, ok := r.byPair[key]; ok {
		return cloneConversation(r.byID[id]), nil
	}

	c := &domain.Conversation{
		ConversationID: uuid.New(),
		Type:           domain.ConversationTypeDirect,
		CreatedBy:      userA,
		CreatedAt:      time.Now(),
		MemberIDs:      []uuid.UUID{userA, userB},
	}
	r.byID[c.ConversationID] = c
	r.byPair[key] = c.ConversationID
	return cloneConversation(c), nil
}

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	cp := *c
	cp.MemberIDs = append([]uuid.UUID(nil), c.MemberIDs...)
	return &cp
}
