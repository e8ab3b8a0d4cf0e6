package push

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"callrelay-backend/pkg/logger"
)

// FCMConfig contains configuration for the FCM provider
type FCMConfig struct {
	ProjectID       string
	CredentialsPath string
	CredentialsJSON []byte
}

// FCMProvider sends notifications through Firebase Cloud Messaging
type FCMProvider struct {
	client *messaging.Client
}

// NewFCMProvider creates a new FCM provider
func NewFCMProvider(ctx context.Context, cfg FCMConfig) (*FCMProvider, error) {
	var opts []option.ClientOption
	switch {
	case len(cfg.CredentialsJSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	case cfg.CredentialsPath != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	default:
		return nil, errors.New("either CredentialsPath or CredentialsJSON must be provided")
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	logger.Info("FCM provider initialized", zap.String("project_id", cfg.ProjectID))
	return &FCMProvider{client: client}, nil
}

// Name implements Provider
func (f *FCMProvider) Name() string { return "fcm" }

// Send implements Provider
func (f *FCMProvider) Send(ctx context.Context, n *Notification, tokens []string) (*SendResult, error) {
	if len(tokens) == 0 {
		return &SendResult{}, nil
	}

	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   n.Data,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "normal",
			Notification: &messaging.AndroidNotification{
				Sound:     n.Sound,
				ChannelID: n.Category,
			},
		},
	}
	if n.Priority == "high" {
		// ringing calls must wake the device
		msg.Android.Priority = "high"
	}

	resp, err := f.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to send FCM message: %w", err)
	}

	result := &SendResult{SuccessCount: resp.SuccessCount, FailureCount: resp.FailureCount}
	for i, r := range resp.Responses {
		if r.Success || r.Error == nil {
			continue
		}
		logger.Warn("FCM send failed for token",
			zap.String("token_prefix", maskPushToken(tokens[i])),
			zap.Error(r.Error))
		if messaging.IsUnregistered(r.Error) || messaging.IsInvalidArgument(r.Error) {
			result.InvalidTokens = append(result.InvalidTokens, tokens[i])
		}
	}
	return result, nil
}
