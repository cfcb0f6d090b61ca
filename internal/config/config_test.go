// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable ApplyEnvOverrides reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SERVING_ENDPOINT", "DATABRICKS_HOST", "DATABRICKS_TOKEN",
		"SERVECHAT_LOG_LEVEL", "SERVECHAT_STORAGE_PATH", "SERVECHAT_STREAM",
		"SERVECHAT_API_TOKEN",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

// =============================================================================
// DEFAULTS
// =============================================================================

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.True(t, cfg.Chat.Stream)
	assert.Equal(t, "auto", cfg.Chat.Feedback)
	assert.Equal(t, DefaultTimeoutSecs, cfg.Endpoint.TimeoutSecs)
	assert.Equal(t, DefaultServerAddr, cfg.Server.Addr)
	assert.True(t, cfg.UI.Markdown)
}

// =============================================================================
// LOADING
// =============================================================================

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[endpoint]
name = "from-file"
host = "adb-123.azuredatabricks.net/"
token = "  dapi-file  "

[chat]
stream = false

[storage]
enabled = false
`)
	t.Setenv("SERVING_ENDPOINT", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Endpoint.Name)
	assert.Equal(t, "https://adb-123.azuredatabricks.net", cfg.Endpoint.Host)
	assert.Equal(t, "dapi-file", cfg.Endpoint.Token)
	assert.False(t, cfg.Chat.Stream)
	assert.Equal(t, DefaultTimeoutSecs, cfg.Endpoint.TimeoutSecs, "zero values get defaults")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), "config permissions tightened on load")
}

func TestLoad_MissingEndpoint(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "[storage]\nenabled = false\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoEndpoint))
	assert.Contains(t, err.Error(), "SERVING_ENDPOINT")
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestRead_SkipsValidation(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "[storage]\nenabled = false\n")

	cfg, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, "", cfg.Endpoint.Name)
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Endpoint.Name = "agent"
		c.Endpoint.Host = "https://example.cloud.databricks.com"
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing host", func(c *Config) { c.Endpoint.Host = "" }, "endpoint.host"},
		{"bad scheme", func(c *Config) { c.Endpoint.Host = "ftp://x.example" }, "endpoint.host"},
		{"bad name", func(c *Config) { c.Endpoint.Name = "a/b" }, "endpoint.name"},
		{"retries", func(c *Config) { c.Endpoint.MaxRetries = 50 }, "endpoint.max_retries"},
		{"feedback", func(c *Config) { c.Chat.Feedback = "maybe" }, "chat.feedback"},
		{"theme", func(c *Config) { c.UI.Theme = "neon" }, "ui.theme"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"rate limit", func(c *Config) { c.Server.RequestsPerMinute = -1 }, "server.requests_per_minute"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := valid()
			tc.mutate(c)
			err := c.Validate()
			if tc.field == "" {
				assert.NoError(t, err)
				return
			}
			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs), "want ValidateErrors, got %v", err)
			assert.Equal(t, tc.field, verrs[0].Field)
		})
	}
}

// =============================================================================
// SAVE / DISPLAY
// =============================================================================

func TestSaveTOML_RoundTrip(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	cfg.Endpoint.Name = "agent"
	cfg.Endpoint.Host = "https://example.cloud.databricks.com"
	cfg.Storage.Enabled = false

	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	require.NoError(t, SaveTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Endpoint, loaded.Endpoint)
}

func TestString_RedactsToken(t *testing.T) {
	cfg := Default()
	cfg.Endpoint.Token = "dapi-secret"
	cfg.Server.AuthToken = "api-secret"

	out := cfg.String()
	assert.False(t, strings.Contains(out, "dapi-secret"))
	assert.False(t, strings.Contains(out, "api-secret"))
	assert.Contains(t, out, "********")
	assert.Equal(t, "dapi-secret", cfg.Endpoint.Token, "original untouched")
}
