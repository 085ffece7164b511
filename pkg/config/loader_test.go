package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFile), []byte(content), 0o600))
	return dir
}

func TestInitialize_DefaultsApplied(t *testing.T) {
	dir := writeConfig(t, `
storage:
  bucket: recapd-artifacts
`)
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "recapd-artifacts", cfg.Storage.Bucket)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "ADMIN_HMAC_SECRET", cfg.Server.SecretEnv)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "23:30", cfg.Schedule.DailyAt)
	assert.Equal(t, 30*time.Second, cfg.Transcriber.Timeout)
	assert.Equal(t, 0.30, cfg.Selection.Weights.ContentScore)
	assert.Equal(t, dir, cfg.ConfigDir())
}

func TestInitialize_UserOverridesWin(t *testing.T) {
	dir := writeConfig(t, `
storage:
  bucket: recapd-artifacts
  prefix: prod/
server:
  addr: ":9090"
worker:
  worker_count: 4
schedule:
  daily_at: "22:00"
  tz: America/New_York
selection:
  weights:
    content_score: 0.5
    github_confidence: 0.5
`)
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "prod/", cfg.Storage.Prefix)
	assert.Equal(t, 4, cfg.Worker.WorkerCount)
	assert.Equal(t, "22:00", cfg.Schedule.DailyAt)
	assert.Equal(t, "America/New_York", cfg.Schedule.TZ)
	assert.Equal(t, 0.5, cfg.Selection.Weights.ContentScore)

	// Unset fields keep their defaults.
	assert.Equal(t, "ADMIN_HMAC_SECRET", cfg.Server.SecretEnv)
	assert.Equal(t, 30*time.Second, cfg.Worker.HeartbeatInterval)
}

func TestInitialize_MissingFile(t *testing.T) {
	_, err := Initialize(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitialize_InvalidYAML(t *testing.T) {
	dir := writeConfig(t, "storage: [unclosed")
	_, err := Initialize(context.Background(), dir)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitialize_EnvExpansion(t *testing.T) {
	t.Setenv("RECAPD_TEST_BUCKET", "bucket-from-env")
	dir := writeConfig(t, `
storage:
  bucket: "{{.RECAPD_TEST_BUCKET}}"
`)
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "bucket-from-env", cfg.Storage.Bucket)
}

func TestInitialize_ValidationFailure(t *testing.T) {
	dir := writeConfig(t, `
schedule:
  daily_at: "25:99"
`)
	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
	// Both findings surface in one pass: missing bucket and bad time.
	assert.Contains(t, err.Error(), "bucket")
	assert.Contains(t, err.Error(), "daily_at")
}

func TestSecretResolution(t *testing.T) {
	t.Setenv("RECAPD_TEST_SECRET", "s3cret")
	s := ServerConfig{SecretEnv: "RECAPD_TEST_SECRET"}
	assert.Equal(t, "s3cret", s.Secret())

	r := RedisConfig{}
	assert.Empty(t, r.Password(), "no password env configured")
}
