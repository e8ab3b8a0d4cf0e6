package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("RING_TIMEOUT", "")
	t.Setenv("DB_HOST", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.Signaling.RingTimeout)
	assert.Equal(t, "mock", cfg.Push.Provider)
	assert.False(t, cfg.UsesDatabase())
}

func TestLoad_RingTimeoutOverride(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("RING_TIMEOUT", "45s")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Signaling.RingTimeout)
}

func TestValidate_ProductionSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "short")
	_, err := Load()
	assert.ErrorContains(t, err, "at least 32 characters")

	t.Setenv("JWT_SECRET", strings.Repeat("k", 32))
	_, err = Load()
	assert.NoError(t, err)
}

func TestValidate_RejectsNonPositiveRingTimeout(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("RING_TIMEOUT", "0s")
	_, err := Load()
	assert.ErrorContains(t, err, "RING_TIMEOUT")
}
