package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.Enabled)
	assert.True(t, cfg.Async)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, 8*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 25*time.Second, cfg.OverallTimeout)
	assert.Equal(t, 30, cfg.StaleCloneDays)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "changegate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
async: false
servicenow:
  instance_url: https://acmeuat.service-now.com
  username: svc-changegate
  password: hunter2
  target_instance: acmeuat
store:
  backend: mysql
  dsn: user:pass@tcp(db:3306)/changegate
timeouts:
  fetch: 5s
  overall: 20s
stale_clone_days: 14
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.False(t, cfg.Async)
	assert.Equal(t, "https://acmeuat.service-now.com", cfg.ServiceNow.InstanceURL)
	assert.Equal(t, "acmeuat", cfg.ServiceNow.TargetInstance)
	assert.Equal(t, StoreMySQL, cfg.Store.Backend)
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 20*time.Second, cfg.OverallTimeout)
	assert.Equal(t, 14, cfg.StaleCloneDays)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "changegate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \":9090\"\n"), 0o600))

	t.Setenv("CHANGEGATE_ADDR", ":7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Addr)
}

func TestValidateRejectsMySQLWithoutDSN(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "changegate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  backend: mysql\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.dsn")
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := &Config{
		Store:          StoreConfig{Backend: "postgres"},
		FetchTimeout:   time.Second,
		OverallTimeout: 2 * time.Second,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")
}

func TestValidateRejectsFetchTimeoutAboveOverall(t *testing.T) {
	cfg := &Config{
		Store:          StoreConfig{Backend: StoreMemory},
		FetchTimeout:   30 * time.Second,
		OverallTimeout: 25 * time.Second,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeouts.fetch")
}

func TestValidateRejectsBothSecretSources(t *testing.T) {
	cfg := &Config{
		Store:             StoreConfig{Backend: StoreMemory},
		FetchTimeout:      time.Second,
		OverallTimeout:    2 * time.Second,
		WebhookSecret:     "inline",
		WebhookSecretFile: "/run/secrets/webhook",
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}
