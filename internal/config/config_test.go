package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/glidenotes/notesync/internal/errors"
	"github.com/glidenotes/notesync/internal/logging"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_isValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, RemoteMemory, cfg.Remote.Kind)
	assert.Equal(t, 15*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 100, cfg.Sync.PageSize)
	assert.True(t, cfg.Sync.PruneRemoteDeletes)
}

func TestLoad_noFileUsesDefaults(t *testing.T) {
	t.Setenv("NOTESYNC_DATA_DIR", t.TempDir())

	cfg, err := Load(NewViper(), "")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, time.Minute, cfg.Sync.QueueInterval)
	assert.Equal(t, "127.0.0.1:8787", cfg.Serve.Addr)
}

func TestLoad_file(t *testing.T) {
	path := writeConfig(t, `
data_dir: /var/lib/notesync
log:
  level: debug
  file: /var/log/notesync.log
sync:
  interval: 2m
  queue_interval: 10s
  page_size: 50
  dispatch_rate: 4.5
  prune_remote_deletes: false
remote:
  kind: dynamodb
  dynamodb:
    table: notes
    region: eu-west-1
    endpoint: http://localhost:8000
    owner: user-1
`)

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/notesync", cfg.DataDir)
	assert.Equal(t, 2*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 10*time.Second, cfg.Sync.QueueInterval)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Timeout)
	assert.Equal(t, 50, cfg.Sync.PageSize)
	assert.InDelta(t, 4.5, cfg.Sync.DispatchRate, 0.0001)
	assert.False(t, cfg.Sync.PruneRemoteDeletes)

	dc := cfg.DynamoConfig()
	assert.Equal(t, "notes", dc.Table)
	assert.Equal(t, "eu-west-1", dc.Region)
	assert.Equal(t, "http://localhost:8000", dc.Endpoint)
	assert.Equal(t, "user-1", dc.Owner)

	lo := cfg.LoggingOptions()
	assert.Equal(t, logging.LevelDebug, lo.Level)
	assert.Equal(t, "/var/log/notesync.log", lo.File)
}

func TestLoad_envOverridesFile(t *testing.T) {
	path := writeConfig(t, "sync:\n  interval: 2m\n")
	t.Setenv("NOTESYNC_SYNC_INTERVAL", "45s")
	t.Setenv("NOTESYNC_LOG_LEVEL", "warn")

	cfg, err := Load(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Sync.Interval)
	assert.Equal(t, "warn", cfg.Log.Level)

	sc := cfg.SchedulerConfig()
	assert.Equal(t, 45*time.Second, sc.SyncInterval)
}

func TestLoad_missingExplicitFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty data dir", mutate: func(c *Config) { c.DataDir = "" }},
		{name: "zero interval", mutate: func(c *Config) { c.Sync.Interval = 0 }},
		{name: "negative queue interval", mutate: func(c *Config) { c.Sync.QueueInterval = -time.Second }},
		{name: "zero timeout", mutate: func(c *Config) { c.Sync.Timeout = 0 }},
		{name: "page size too large", mutate: func(c *Config) { c.Sync.PageSize = 101 }},
		{name: "page size zero", mutate: func(c *Config) { c.Sync.PageSize = 0 }},
		{name: "negative dispatch rate", mutate: func(c *Config) { c.Sync.DispatchRate = -1 }},
		{name: "unknown remote", mutate: func(c *Config) { c.Remote.Kind = "ftp" }},
		{name: "dynamodb without table", mutate: func(c *Config) { c.Remote.Kind = RemoteDynamoDB }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
		})
	}
}
