package push

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"callrelay-backend/pkg/config"
	"callrelay-backend/pkg/logger"
)

// ProviderType names a push provider
type ProviderType string

const (
	ProviderTypeMock ProviderType = "mock"
	ProviderTypeFCM  ProviderType = "fcm"
	ProviderTypeAPNs ProviderType = "apns"
)

// NewProvider builds the provider selected by cfg.Provider. Unknown
// providers fall back to the mock.
func NewProvider(ctx context.Context, cfg config.PushConfig) (Provider, error) {
	providerType := ProviderType(cfg.Provider)
	logger.Info("Initializing push notification provider",
		zap.String("provider_type", string(providerType)))

	switch providerType {
	case ProviderTypeFCM:
		if cfg.FCMProjectID == "" {
			return nil, errors.New("FCM_PROJECT_ID is required for the fcm provider")
		}
		return NewFCMProvider(ctx, FCMConfig{
			ProjectID:       cfg.FCMProjectID,
			CredentialsPath: cfg.FCMCredentialsPath,
		})
	case ProviderTypeAPNs:
		return NewAPNsProvider(APNsConfig{
			BundleID:            cfg.APNsBundleID,
			KeyPath:             cfg.APNsKeyPath,
			KeyID:               cfg.APNsKeyID,
			TeamID:              cfg.APNsTeamID,
			CertificatePath:     cfg.APNsCertificatePath,
			CertificatePassword: cfg.APNsCertPassword,
			Production:          cfg.APNsProduction,
		})
	case ProviderTypeMock:
		return &MockProvider{}, nil
	default:
		logger.Warn("Unknown push provider type, falling back to mock",
			zap.String("provider_type", string(providerType)))
		return &MockProvider{}, nil
	}
}
