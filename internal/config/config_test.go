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

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "etlverify.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: console
remote:
  transport: local
  read_timeout: 90s
objectstore:
  endpoint: minio:9000
  use_ssl: false
snapshot:
  bucket: audit
tracker:
  base_url: https://jira.example.com
  requests_per_second: 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "local", cfg.Remote.Transport)
	assert.Equal(t, 90*time.Second, cfg.Remote.ReadTimeout)
	assert.Equal(t, "minio:9000", cfg.ObjectStore.Endpoint)
	assert.False(t, cfg.ObjectStore.UseSSL)
	assert.Equal(t, "audit", cfg.Snapshot.Bucket)
	assert.Equal(t, "snapshots", cfg.Snapshot.Prefix)
	assert.Equal(t, "https://jira.example.com", cfg.Tracker.BaseURL)
	assert.Equal(t, 2.0, cfg.Tracker.RequestsPerSecond)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data/ledger.jsonl", cfg.Ledger.Path)
	assert.Equal(t, 30*time.Second, cfg.Source.ConnectTimeout)
}

func TestLoad_EnvWins(t *testing.T) {
	t.Setenv("ETLVERIFY_SERVER_PORT", "9191")
	t.Setenv("ETLVERIFY_REMOTE_READ_TIMEOUT", "5m")

	cfg, err := Load(writeConfig(t, "server:\n  port: 8181\n"))
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Remote.ReadTimeout)
	assert.False(t, cfg.Server.AllowLocal)
	assert.Equal(t, 1000, cfg.Server.MaxRuns)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")

	_, err = Load(writeConfig(t, "remote:\n  transport: telnet\n"))
	assert.ErrorContains(t, err, "remote.transport")

	_, err = Load(writeConfig(t, "credentials:\n  key: short\n"))
	assert.ErrorContains(t, err, "credentials.key")
}

func TestCredentialsProvider(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "qa.properties"), []byte("source.db.password=fromfile\n"), 0o600))
	t.Setenv("CREDS_TARGET_DB_PASSWORD", "fromenv")

	p, err := CredentialsConfig{EnvPrefix: "creds", PropertiesDir: dir, Environment: "qa"}.Provider()
	require.NoError(t, err)

	v, err := p.Secret(context.Background(), "target.db.password")
	require.NoError(t, err)
	assert.Equal(t, "fromenv", v)

	v, err = p.Secret(context.Background(), "source.db.password")
	require.NoError(t, err)
	assert.Equal(t, "fromfile", v)

	_, err = CredentialsConfig{PropertiesDir: dir, Environment: "prod"}.Provider()
	assert.Error(t, err)
}
