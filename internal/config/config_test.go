package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o600))
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := writeConfig(t, "jwt:\n  secret: s3cret\n")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "mongo", cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Database.TxTimeout)
	assert.Equal(t, 64, cfg.Hub.QueueSize)
	assert.Equal(t, 90*time.Second, cfg.Hub.LivenessWindow)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := writeConfig(t, `
database:
  driver: memory
  tx_timeout: 2s
jwt:
  secret: from-file
hub:
  queue_size: 8
  shards: 4
`)
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("HUB_SEND_TIMEOUT", "250ms")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 2*time.Second, cfg.Database.TxTimeout)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, 8, cfg.Hub.QueueSize)
	assert.Equal(t, 4, cfg.Hub.Shards)
	assert.Equal(t, 250*time.Millisecond, cfg.Hub.SendTimeout)
}

func TestLoadConfigMissingFileUsesEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "env-only")
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "env-only", cfg.JWT.Secret)
}

func TestValidate(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "server:\n  address: :9000\n"))
	assert.ErrorIs(t, err, ErrMissingJWTSecret)

	_, err = LoadConfig(writeConfig(t, "jwt:\n  secret: x\ndatabase:\n  driver: sqlite\n"))
	assert.ErrorIs(t, err, ErrUnknownDriver)

	_, err = LoadConfig(writeConfig(t, "jwt:\n  secret: x\nhub:\n  liveness_window: 10s\n  ping_interval: 30s\n"))
	assert.ErrorIs(t, err, ErrLivenessWindow)
}
