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
	path := filepath.Join(t.TempDir(), "alertd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWithEnv(t *testing.T) {
	t.Setenv("ALERTD_DATABASE_URL", "postgres://alerts@localhost/alerts")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, 10, cfg.Dispatch.BatchSize)
	assert.Equal(t, 5, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, time.Hour, cfg.Sweep.Interval)
	assert.True(t, cfg.Sweep.SuppressPending)
	assert.Equal(t, "none", cfg.Broadcast.Transport)
	assert.Equal(t, ":8090", cfg.Admin.Addr)
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: memory
rules:
  file: rules.yaml
dispatch:
  batch_size: 25
  send_timeout: 3s
broadcast:
  transport: nats
  operators: [ops-eu, ops-us]
metrics_source:
  type: mysql
  points_table: analytics.metric_points
`)
	t.Setenv("ALERTD_DISPATCH_BATCH_SIZE", "40")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 40, cfg.Dispatch.BatchSize)
	assert.Equal(t, 3*time.Second, cfg.Dispatch.SendTimeout)
	assert.Equal(t, []string{"ops-eu", "ops-us"}, cfg.Broadcast.Operators)
	assert.Equal(t, "mysql", cfg.MetricsSource.Type)
	assert.Equal(t, "analytics.metric_points", cfg.MetricsSource.PointsTable)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestValidateNamesKeys(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: sqlite
dispatch:
  batch_size: 0
broadcast:
  transport: kafka
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "storage.driver")
	assert.ErrorContains(t, err, "dispatch.batch_size")
	assert.ErrorContains(t, err, "broadcast.kafka_brokers")
	assert.ErrorContains(t, err, "broadcast.operators")
}

func TestValidatePostgresNeedsURL(t *testing.T) {
	_, err := Load("")
	assert.ErrorContains(t, err, "database.url")
}
