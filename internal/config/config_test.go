// ABOUTME: Tests for configuration loading, env var expansion and validation
// ABOUTME: Uses temp-dir YAML files matching the starter config layout

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validConfig = `
server:
  http_addr: ":8080"
database:
  path: "data/inbox.db"
auth:
  jwt_secret: "super-secret"
webhooks:
  verify_token: "verify-me"
  app_secret: "app-secret"
graph:
  version: "v21.0"
email:
  poll_interval: "30s"
  cycle_timeout: "20s"
push:
  enabled: true
logging:
  level: "debug"
  format: "json"
`

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "data/inbox.db", cfg.Database.Path)
	assert.Equal(t, "super-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "verify-me", cfg.Webhooks.VerifyToken)
	assert.Equal(t, 30*time.Second, cfg.Email.PollInterval)
	assert.Equal(t, 20*time.Second, cfg.Email.CycleTimeout)
	assert.True(t, cfg.Push.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "from-env")

	cfg, err := Load(writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "data/inbox.db"
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
`))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
}

func TestLoad_UnsetEnvBecomesEmpty(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "data/inbox.db"
auth:
  jwt_secret: "${DEFINITELY_NOT_SET_ANYWHERE}"
`))
	// Expansion to empty string trips required-field validation.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{"no http addr", "database:\n  path: x\nauth:\n  jwt_secret: s\n", "http_addr"},
		{"no database path", "server:\n  http_addr: ':8080'\nauth:\n  jwt_secret: s\n", "database.path"},
		{"no jwt secret", "server:\n  http_addr: ':8080'\ndatabase:\n  path: x\n", "jwt_secret"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_BadDuration(t *testing.T) {
	_, err := Load(writeConfig(t, validConfig+"\n"))
	require.NoError(t, err)

	_, err = Load(writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: x
auth:
  jwt_secret: s
email:
  poll_interval: "sometimes"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_interval")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [this is not\n  a mapping"))
	assert.Error(t, err)
}
