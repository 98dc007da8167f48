package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, config.Server.HTTPPort)
	assert.Equal(t, "feedwire_session", config.Server.SessionCookie)
	assert.Equal(t, 720, config.Limits.SessionTTLHours)

	// The default file is written so operators have something to edit
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestLoadConfigParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
http_port = 9999
session_cookie = "custom_session"
allowed_origins = ["https://app.example.com"]

[limits]
session_ttl_hours = 24
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, config.Server.HTTPPort)
	assert.Equal(t, "custom_session", config.Server.SessionCookie)
	assert.Equal(t, []string{"https://app.example.com"}, config.Server.AllowedOrigins)
	assert.Equal(t, 24, config.Limits.SessionTTLHours)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	t.Setenv("FEEDWIRE_SERVER_HTTP_PORT", "7070")
	t.Setenv("FEEDWIRE_SERVER_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("FEEDWIRE_LIMITS_SESSION_TTL_HOURS", "48")

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, config.Server.HTTPPort)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, config.Server.AllowedOrigins)
	assert.Equal(t, 48, config.Limits.SessionTTLHours)
}

func TestToServerConfigFillsDefaults(t *testing.T) {
	var empty TOMLConfig
	cfg := empty.ToServerConfig()

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "feedwire_session", cfg.SessionCookie)
	assert.Equal(t, 720, cfg.SessionTTLHours)
	assert.Equal(t, 0, cfg.MetricsPort, "metrics stay off unless configured")

	full := DefaultTOMLConfig()
	full.Server.HTTPPort = 1234
	cfg = full.ToServerConfig()
	assert.Equal(t, 1234, cfg.HTTPPort)
	assert.Equal(t, 9090, cfg.MetricsPort)
}
