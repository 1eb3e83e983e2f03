package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New("loud", "")
	assert.Error(t, err)
}

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")

	logger, err := New("debug", path)
	require.NoError(t, err)

	logger.Info("session ready")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "session ready")
}

func TestWhatsmeow_SubLoggerKeepsModulePath(t *testing.T) {
	l := Whatsmeow(nil, "Client")
	sub := l.Sub("Socket")

	wl, ok := sub.(*waLogger)
	require.True(t, ok)
	assert.Equal(t, "Client/Socket", wl.module)

	// nop logger must accept calls
	sub.Infof("connected %d", 1)
}
