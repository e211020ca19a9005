package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LINE_CHANNEL_ID", "1234567890")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "1234567890", cfg.LineChannelID)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "https://api.line.me", cfg.LineAPIBaseURL)
	assert.Equal(t, 10, cfg.MaxDevices)
	assert.Equal(t, 336*time.Hour, cfg.TokenLifespan)
	assert.Equal(t, 5*time.Second, cfg.BatchBufferThrottle)
	assert.True(t, cfg.ChangeHeadersOnEachRequest)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("LINE_CHANNEL_ID", "1234567890")
	t.Setenv("MAX_DEVICES", "3")
	t.Setenv("TOKEN_LIFESPAN", "24h")
	t.Setenv("BATCH_BUFFER_THROTTLE", "10s")
	t.Setenv("CHANGE_HEADERS_ON_EACH_REQUEST", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxDevices)
	assert.Equal(t, 24*time.Hour, cfg.TokenLifespan)
	assert.Equal(t, 10*time.Second, cfg.BatchBufferThrottle)
	assert.False(t, cfg.ChangeHeadersOnEachRequest)
}

func TestLoadConfigRequiresChannelID(t *testing.T) {
	t.Setenv("LINE_CHANNEL_ID", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LINE_CHANNEL_ID")
}

func TestLoadConfigRejectsNonPositiveMaxDevices(t *testing.T) {
	t.Setenv("LINE_CHANNEL_ID", "1234567890")
	t.Setenv("MAX_DEVICES", "0")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_DEVICES")
}

func TestLoadConfigRejectsMalformedDurations(t *testing.T) {
	t.Setenv("LINE_CHANNEL_ID", "1234567890")
	t.Setenv("TOKEN_LIFESPAN", "a fortnight")

	_, err := LoadConfig()
	require.Error(t, err, "a malformed lifespan must fail at load, not fall back")
}

func TestLoadConfigRejectsNegativeDurations(t *testing.T) {
	t.Setenv("LINE_CHANNEL_ID", "1234567890")
	t.Setenv("BATCH_BUFFER_THROTTLE", "-5s")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATCH_BUFFER_THROTTLE")
}
