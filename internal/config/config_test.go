package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: test
auth:
  issuer: https://id.example.com/oauth2/default/
engine:
  max_step_visits: 4
automation:
  max_retries: 5
  initial_interval: 250ms
  actions:
    create_project:
      url: http://crm.local/projects
      max_retries: 1
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, "https://id.example.com/oauth2/default", cfg.Auth.Issuer)
	assert.Equal(t, 4, cfg.Engine.MaxStepVisits)
	assert.Equal(t, 5, cfg.Automation.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Automation.InitialInterval)
	assert.Equal(t, 30*time.Second, cfg.Automation.MaxInterval)
	require.Contains(t, cfg.Automation.Actions, "create_project")
	assert.Equal(t, 1, cfg.Automation.Actions["create_project"].MaxRetries)
}

func TestLoadConfig_DefaultsAndEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MEGICODE_DB_HOST", "db.internal")
	t.Setenv("MEGICODE_AUTOMATION_INLINE", "true")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.DB.Host)
	assert.True(t, cfg.Automation.Inline)
	assert.Equal(t, 10, cfg.Engine.MaxStepVisits)
	assert.Equal(t, 3, cfg.Automation.MaxRetries)
	assert.Equal(t, "postgres://megicode:@db.internal:5432/megicode?sslmode=disable", cfg.DSN())
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
