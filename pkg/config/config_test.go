package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Import.ChunkSize)
	assert.Equal(t, 100, cfg.Import.TransactionChunkSize)
	assert.Equal(t, 3, cfg.Import.Concurrency)
	assert.Equal(t, CheckpointStoreFile, cfg.Checkpoint.Store)
	assert.Equal(t, 24*time.Hour, cfg.Checkpoint.TTL)
	assert.Empty(t, cfg.Notify.To)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BACKEND_URL", "https://api.tenoris360.test")
	t.Setenv("BACKEND_TOKEN", "tok")
	t.Setenv("CHECKPOINT_STORE", "Postgres")
	t.Setenv("CHECKPOINT_TTL", "12h")
	t.Setenv("IMPORT_NOTIFY_EMAILS", "a@example.com, ,b@example.com")
	t.Setenv("BACKEND_RATE_LIMIT_PER_SECOND", "2.5")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "https://api.tenoris360.test", cfg.Backend.BaseURL)
	assert.Equal(t, CheckpointStorePostgres, cfg.Checkpoint.Store)
	assert.Equal(t, 12*time.Hour, cfg.Checkpoint.TTL)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Notify.To)
	assert.Equal(t, 2.5, cfg.Backend.RatePerSecond)
	assert.NoError(t, cfg.RequireBackend())
}

func TestLoad_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Run("unknown checkpoint store", func(t *testing.T) {
		t.Setenv("CHECKPOINT_STORE", "redis")
		_, err := Load()
		assert.ErrorContains(t, err, "CHECKPOINT_STORE")
	})

	t.Run("unknown dialect", func(t *testing.T) {
		t.Setenv("IMPORT_NUMBER_DIALECT", "fr")
		_, err := Load()
		assert.ErrorContains(t, err, "IMPORT_NUMBER_DIALECT")
	})
}

func TestRequireBackend(t *testing.T) {
	cfg := &Config{Backend: BackendConfig{BaseURL: "http://localhost"}}
	assert.Error(t, cfg.RequireBackend())

	cfg.Backend.JWTSecret = "secret"
	assert.NoError(t, cfg.RequireBackend())
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LogConfig{Level: "debug"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, LogConfig{Level: "warning"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LogConfig{Level: "verbose"}.SlogLevel())
}
