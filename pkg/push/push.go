// Package push reaches callees that have no live connection.
package push

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callrelay-backend/internal/domain"
	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/metrics"
	"callrelay-backend/pkg/resilience"
)

// Provider delivers a notification to a set of device tokens
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
	Name() string
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"
	TokenTypeAPNs TokenType = "apns"
)

// Token is a device registration for a user
type Token struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	Platform  string    `json:"platform,omitempty"` // ios, android
	Active    bool      `json:"active"`
	CreatedAt int64     `json:"created_at"`
	UpdatedAt int64     `json:"updated_at"`
}

// TokenRepository stores device tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*Token, error)
	MarkInactive(ctx context.Context, userID uuid.UUID, token string) error
}

// Service sends call notifications through a provider
type Service struct {
	provider Provider
	repo     TokenRepository
	metrics  *metrics.Metrics
	breaker  *resilience.CircuitBreaker
}

// NewService creates a new push notification service
func NewService(provider Provider, repo TokenRepository, m *metrics.Metrics) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
		metrics:  m,
		breaker:  resilience.NewCircuitBreaker("push:"+provider.Name(), resilience.Config{}),
	}
}

// RegisterToken stores a device token for a user
func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	token.Active = true
	return s.repo.Store(ctx, token)
}

// UnregisterToken deactivates one of userID's device tokens
func (s *Service) UnregisterToken(ctx context.Context, userID uuid.UUID, token string) error {
	return s.repo.MarkInactive(ctx, userID, token)
}

// ListTokens returns the active device tokens of userID
func (s *Service) ListTokens(ctx context.Context, userID uuid.UUID) ([]*Token, error) {
	return s.repo.GetByUserID(ctx, userID)
}

// NotifyIncomingCall tells an offline callee that a call is ringing
func (s *Service) NotifyIncomingCall(ctx context.Context, call *domain.Call, caller *domain.User, calleeID uuid.UUID) error {
	n := &Notification{
		Title:    "Incoming Call",
		Body:     fmt.Sprintf("%s is calling you", caller.Name()),
		Priority: "high",
		Sound:    "default",
		Category: "INCOMING_CALL",
		Data:     callData("incoming_call", call, caller),
	}
	return s.send(ctx, "incoming_call", n, calleeID)
}

// NotifyMissedCall tells a callee about a call that rang out
func (s *Service) NotifyMissedCall(ctx context.Context, call *domain.Call, caller *domain.User, calleeID uuid.UUID) error {
	n := &Notification{
		Title:    "Missed Call",
		Body:     fmt.Sprintf("You missed a call from %s", caller.Name()),
		Priority: "normal",
		Sound:    "default",
		Data:     callData("missed_call", call, caller),
	}
	return s.send(ctx, "missed_call", n, calleeID)
}

func callData(kind string, call *domain.Call, caller *domain.User) map[string]string {
	return map[string]string{
		"type":            kind,
		"call_id":         call.CallID.String(),
		"conversation_id": call.ConversationID.String(),
		"caller_id":       caller.UserID.String(),
		"caller_name":     caller.Name(),
		"call_type":       string(call.CallType),
		"call_status":     string(call.Status),
		"timestamp":       strconv.FormatInt(call.CreatedAt.Unix(), 10),
	}
}

func (s *Service) send(ctx context.Context, kind string, n *Notification, userID uuid.UUID) error {
	tokens, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		s.metrics.RecordPushNotificationFailure(kind)
		return fmt.Errorf("failed to get push tokens: %w", err)
	}

	active := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t.Active {
			active = append(active, t.Token)
		}
	}
	if len(active) == 0 {
		logger.Debug("No active push tokens",
			zap.String("user_id", userID.String()),
			zap.String("kind", kind))
		return nil
	}

	var result *SendResult
	err = s.breaker.Execute(ctx, kind, func(ctx context.Context) error {
		var sendErr error
		result, sendErr = s.provider.Send(ctx, n, active)
		return sendErr
	})
	if err != nil {
		s.metrics.RecordPushNotificationFailure(kind)
		return fmt.Errorf("failed to send %s notification: %w", kind, err)
	}
	s.metrics.RecordPushNotification(kind)

	logger.Info("Call notification sent",
		zap.String("user_id", userID.String()),
		zap.String("kind", kind),
		zap.String("provider", s.provider.Name()),
		zap.Int("success_count", result.SuccessCount),
		zap.Int("failure_count", result.FailureCount))

	for _, invalid := range result.InvalidTokens {
		if err := s.repo.MarkInactive(ctx, userID, invalid); err != nil {
			logger.Warn("Failed to mark push token inactive",
				zap.String("user_id", userID.String()),
				zap.String("token", maskPushToken(invalid)),
				zap.Error(err))
		}
	}
	return nil
}

// maskPushToken keeps the first and last 8 characters of a token for logging
func maskPushToken(token string) string {
	if len(token) <= 16 {
		return "********"
	}
	return token[:8] + "..." + token[len(token)-8:]
}

// MockProvider records notifications instead of sending them
type MockProvider struct {
	mu   sync.Mutex
	sent []*Notification
}

// Sent returns the notifications recorded so far
func (m *MockProvider) Sent() []*Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Notification(nil), m.sent...)
}

// Name implements Provider
func (m *MockProvider) Name() string { return "mock" }

// Send implements Provider
func (m *MockProvider) Send(_ context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	m.mu.Lock()
	m.sent = append(m.sent, notification)
	m.mu.Unlock()
	logger.Debug("MockProvider: Sending notification",
		zap.String("title", notification.Title),
		zap.Int("token_count", len(tokens)))
	return &SendResult{SuccessCount: len(tokens)}, nil
}
