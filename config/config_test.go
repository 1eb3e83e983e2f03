package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "./store", cfg.StoreDir)
	assert.Equal(t, "default", cfg.DefaultDeviceID)
	assert.True(t, cfg.MultiDevice)
	assert.Equal(t, "GET", cfg.Webhook.Method)
	assert.Equal(t, 10*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, 16, cfg.Webhook.Workers)
	assert.Equal(t, 20*time.Second, cfg.Session.SendTimeout)
	assert.Equal(t, 5*time.Second, cfg.Session.BackfillDelay)
	assert.Equal(t, 50, cfg.Session.BackfillLimit)
	assert.Equal(t, 0, cfg.Session.MaxRestarts)
	assert.Empty(t, cfg.Webhook.URL)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("WEBHOOK_URL", "http://hooks.local/in")
	t.Setenv("WEBHOOK_TIMEOUT", "3s")
	t.Setenv("MAX_RESTARTS", "5")
	t.Setenv("MULTI_DEVICE", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "http://hooks.local/in", cfg.Webhook.URL)
	assert.Equal(t, 3*time.Second, cfg.Webhook.Timeout)
	assert.Equal(t, 5, cfg.Session.MaxRestarts)
	assert.False(t, cfg.MultiDevice)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "zero workers", key: "WEBHOOK_WORKERS", val: "0"},
		{name: "negative restarts", key: "MAX_RESTARTS", val: "-1"},
		{name: "inverted backoff", key: "RESTART_BACKOFF_MAX", val: "1ms"},
		{name: "bad duration", key: "SEND_TIMEOUT", val: "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(tt.key, tt.val)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadMCP(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadMCP()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.GatewayURL)
	assert.Empty(t, cfg.DeviceID)
	assert.Equal(t, 30*time.Second, cfg.Timeout)

	t.Setenv("GATEWAY_URL", "http://gateway:9000")
	t.Setenv("MCP_DEVICE_ID", "shop")

	cfg, err = LoadMCP()
	require.NoError(t, err)
	assert.Equal(t, "http://gateway:9000", cfg.GatewayURL)
	assert.Equal(t, "shop", cfg.DeviceID)
}
