package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	HTTPPort        int    // Public port for the API and /ws (0 = ephemeral)
	MetricsPort     int    // Internal port for /metrics and /health (0 = disabled)
	SessionCookie   string // Name of the shared web-session cookie
	SessionTTLHours int    // Lifetime of issued auth sessions
	AllowedOrigins  []string
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9090,
		SessionCookie:   "feedwire_session",
		SessionTTLHours: 720, // 30 days
	}
}

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	HTTPPort       int      `toml:"http_port"`
	MetricsPort    int      `toml:"metrics_port"`
	DatabasePath   string   `toml:"database_path"`
	SessionCookie  string   `toml:"session_cookie"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type LimitsSection struct {
	SessionTTLHours int `toml:"session_ttl_hours"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			HTTPPort:      8080,
			MetricsPort:   9090,
			DatabasePath:  "~/.feedwire/feedwire.db",
			SessionCookie: "feedwire_session",
		},
		Limits: LimitsSection{
			SessionTTLHours: 720,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not
// found, and applies environment variable overrides
func LoadConfig(path string) (TOMLConfig, error) {
	expanded, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}
	path = expanded

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// If we can't write the default file we can still run with it
		_ = writeDefaultConfig(path)
		return applyEnvOverrides(config), nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables follow the pattern FEEDWIRE_SECTION_KEY, e.g.
// FEEDWIRE_SERVER_HTTP_PORT=8081.
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	if val := os.Getenv("FEEDWIRE_SERVER_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.HTTPPort = port
		}
	}
	if val := os.Getenv("FEEDWIRE_SERVER_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.MetricsPort = port
		}
	}
	if val := os.Getenv("FEEDWIRE_SERVER_DATABASE_PATH"); val != "" {
		config.Server.DatabasePath = val
	}
	if val := os.Getenv("FEEDWIRE_SERVER_SESSION_COOKIE"); val != "" {
		config.Server.SessionCookie = val
	}
	if val := os.Getenv("FEEDWIRE_SERVER_ALLOWED_ORIGINS"); val != "" {
		origins := strings.Split(val, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		config.Server.AllowedOrigins = origins
	}
	if val := os.Getenv("FEEDWIRE_LIMITS_SESSION_TTL_HOURS"); val != "" {
		if hours, err := strconv.Atoi(val); err == nil {
			config.Limits.SessionTTLHours = hours
		}
	}
	return config
}

// writeDefaultConfig writes a documented default config to the given path
func writeDefaultConfig(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	content := `# Feedwire Server Configuration
# This file was auto-generated with default values.
# Restart the server for changes to take effect.
#
# Environment variables can override these settings:
# FEEDWIRE_SECTION_KEY (e.g., FEEDWIRE_SERVER_HTTP_PORT=8081)

[server]
# Public port for the HTTP API and the /ws websocket endpoint
http_port = 8080

# Internal port for /metrics and /health - never expose publicly
# Set to 0 to disable
metrics_port = 9090

# Path to SQLite database file
database_path = "~/.feedwire/feedwire.db"

# Name of the session cookie shared between the web app and the websocket
session_cookie = "feedwire_session"

# Origins allowed to open websocket connections. Empty = same-origin only.
# allowed_origins = ["https://app.example.com"]

[limits]
# Lifetime of issued login sessions in hours
session_ttl_hours = 720  # 30 days
`

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}
	cfg.MetricsPort = c.Server.MetricsPort
	if strings.TrimSpace(c.Server.SessionCookie) != "" {
		cfg.SessionCookie = c.Server.SessionCookie
	}
	if len(c.Server.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = c.Server.AllowedOrigins
	}
	if c.Limits.SessionTTLHours != 0 {
		cfg.SessionTTLHours = c.Limits.SessionTTLHours
	}

	return cfg
}

// GetDatabasePath returns the database path with ~ expanded
func (c *TOMLConfig) GetDatabasePath() (string, error) {
	return expandHome(c.Server.DatabasePath)
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}
