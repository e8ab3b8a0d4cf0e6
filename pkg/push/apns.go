package push

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"go.uber.org/zap"

	"callrelay-backend/pkg/logger"
)

// APNsConfig contains configuration for the APNs provider.
// Token auth (KeyPath, KeyID, TeamID) is preferred over a .p12 certificate.
type APNsConfig struct {
	BundleID            string
	KeyPath             string
	KeyID               string
	TeamID              string
	CertificatePath     string
	CertificatePassword string
	Production          bool
}

// APNsProvider sends notifications through Apple Push Notification Service
type APNsProvider struct {
	client   *apns2.Client
	bundleID string
}

// NewAPNsProvider creates a new APNs provider
func NewAPNsProvider(cfg APNsConfig) (*APNsProvider, error) {
	if cfg.BundleID == "" {
		return nil, errors.New("BundleID is required")
	}

	var client *apns2.Client
	switch {
	case cfg.KeyPath != "" && cfg.KeyID != "" && cfg.TeamID != "":
		authKey, err := token.AuthKeyFromFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load APNs key: %w", err)
		}
		client = apns2.NewTokenClient(&token.Token{
			AuthKey: authKey,
			KeyID:   cfg.KeyID,
			TeamID:  cfg.TeamID,
		})
	case cfg.CertificatePath != "":
		cert, err := certificate.FromP12File(cfg.CertificatePath, cfg.CertificatePassword)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate: %w", err)
		}
		client = apns2.NewClient(cert)
	default:
		return nil, errors.New("either token-based (KeyPath, KeyID, TeamID) or certificate-based (CertificatePath) authentication must be provided")
	}

	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	logger.Info("APNs provider initialized",
		zap.String("bundle_id", cfg.BundleID),
		zap.Bool("production", cfg.Production))
	return &APNsProvider{client: client, bundleID: cfg.BundleID}, nil
}

// Name implements Provider
func (a *APNsProvider) Name() string { return "apns" }

// Send implements Provider
func (a *APNsProvider) Send(ctx context.Context, n *Notification, tokens []string) (*SendResult, error) {
	result := &SendResult{}
	priority := apns2.PriorityLow
	if n.Priority == "high" {
		priority = apns2.PriorityHigh
	}

	for _, deviceToken := range tokens {
		p := payload.NewPayload().AlertTitle(n.Title).AlertBody(n.Body)
		if n.Sound != "" {
			p.Sound(n.Sound)
		}
		if n.Category != "" {
			p.Category(n.Category)
		}
		for k, v := range n.Data {
			p.Custom(k, v)
		}

		resp, err := a.client.PushWithContext(ctx, &apns2.Notification{
			DeviceToken: deviceToken,
			Topic:       a.bundleID,
			Payload:     p,
			Priority:    priority,
		})
		if err != nil {
			result.FailureCount++
			logger.Warn("Failed to send APNs notification",
				zap.String("token_prefix", maskPushToken(deviceToken)),
				zap.Error(err))
			continue
		}
		if resp.Sent() {
			result.SuccessCount++
			continue
		}

		result.FailureCount++
		if resp.StatusCode == http.StatusGone ||
			resp.Reason == apns2.ReasonUnregistered ||
			resp.Reason == apns2.ReasonBadDeviceToken ||
			resp.Reason == apns2.ReasonDeviceTokenNotForTopic {
			result.InvalidTokens = append(result.InvalidTokens, deviceToken)
		}
		logger.Warn("APNs notification failed",
			zap.Int("status_code", resp.StatusCode),
			zap.String("reason", resp.Reason),
			zap.String("token_prefix", maskPushToken(deviceToken)))
	}
	return result, nil
}
