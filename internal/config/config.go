// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads the servechat configuration.
//
// Configuration file location (in order of precedence):
//   - --config PATH
//   - ~/.servechat/config.toml
//   - Built-in defaults
//
// Environment variables override file values. The loaded Config is built once
// at startup and passed explicitly to every component that needs it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/servechat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete servechat configuration.
type Config struct {
	Endpoint EndpointConfig `toml:"endpoint"`
	Chat     ChatConfig     `toml:"chat"`
	Storage  StorageConfig  `toml:"storage"`
	UI       UIConfig       `toml:"ui"`
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
}

// EndpointConfig describes the model-serving endpoint.
type EndpointConfig struct {
	// Name is the serving endpoint name (SERVING_ENDPOINT)
	Name string `toml:"name"`
	// Host is the workspace base URL (DATABRICKS_HOST)
	Host string `toml:"host"`
	// Token is the bearer token (DATABRICKS_TOKEN). Never logged.
	Token string `toml:"token"`
	// TimeoutSecs bounds non-streaming requests
	TimeoutSecs int `toml:"timeout_secs"`
	// MaxRetries is the retry budget for non-streaming requests on 429/5xx
	MaxRetries int `toml:"max_retries"`
	// RequestsPerSecond throttles outbound requests (0 = unlimited)
	RequestsPerSecond float64 `toml:"requests_per_second"`
	// Burst is the limiter burst size
	Burst int `toml:"burst"`
}

// Timeout returns the request timeout as a duration.
func (e EndpointConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSecs) * time.Second
}

// ChatConfig controls how prompts are sent.
type ChatConfig struct {
	// Stream requests streaming responses; false goes straight to the single-shot call
	Stream bool `toml:"stream"`
	// Feedback is "auto" (probe the endpoint), "on" or "off"
	Feedback string `toml:"feedback"`
}

// StorageConfig controls the local transcript archive.
type StorageConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// UIConfig contains terminal rendering settings.
type UIConfig struct {
	// Markdown renders assistant content through glamour
	Markdown bool `toml:"markdown"`
	// Highlight syntax-highlights tool-call arguments
	Highlight bool `toml:"highlight"`
	// WordWrap is the render width (0 = terminal width)
	WordWrap int `toml:"word_wrap"`
	// Theme is "dark", "light" or "auto"
	Theme string `toml:"theme"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `toml:"level"`
	// Format is "text" or "json"
	Format string `toml:"format"`
	// File receives log output; empty means stderr
	File string `toml:"file"`
}

// ServerConfig contains settings for the HTTP API.
type ServerConfig struct {
	Addr string `toml:"addr"`
	// AuthToken, when set, is required as a bearer token on /api routes.
	AuthToken string `toml:"auth_token"`
	// AllowedOrigins lists CORS origins; empty disables CORS headers.
	AllowedOrigins []string `toml:"allowed_origins"`
	// RequestsPerMinute is the per-client limit on /api routes.
	RequestsPerMinute int `toml:"requests_per_minute"`
	// MaxSessions caps concurrently open API sessions.
	MaxSessions int `toml:"max_sessions"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

const (
	// DefaultTimeoutSecs is the default non-streaming request timeout.
	DefaultTimeoutSecs = 120

	// DefaultMaxRetries is the default retry budget.
	DefaultMaxRetries = 3

	// DefaultServerAddr is the default listen address for `serve`.
	DefaultServerAddr = "127.0.0.1:8788"

	// DefaultRequestsPerMinute is the per-client API rate limit.
	DefaultRequestsPerMinute = 60

	// DefaultMaxSessions caps open API sessions.
	DefaultMaxSessions = 64
)

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Endpoint: EndpointConfig{
			TimeoutSecs:       DefaultTimeoutSecs,
			MaxRetries:        DefaultMaxRetries,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Chat: ChatConfig{
			Stream:   true,
			Feedback: "auto",
		},
		Storage: StorageConfig{
			Enabled: true,
		},
		UI: UIConfig{
			Markdown:  true,
			Highlight: true,
			Theme:     "auto",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:              DefaultServerAddr,
			RequestsPerMinute: DefaultRequestsPerMinute,
			MaxSessions:       DefaultMaxSessions,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the servechat configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".servechat"), nil
}

// PathTOML returns the path to the default TOML config file.
func PathTOML() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DefaultStoragePath returns the default archive location.
func DefaultStoragePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// ErrNoEndpoint is returned by Validate when no serving endpoint is configured.
var ErrNoEndpoint = errors.New("unable to determine serving endpoint: set SERVING_ENDPOINT " +
	"or [endpoint].name in the config file to the name of a serving endpoint you can query")

// Load reads path (or the default location when path is empty), applies
// environment overrides and defaults, and validates the result.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation, for commands that inspect or create the
// configuration before it is complete.
func Read(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := PathTOML()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.SetDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := util.RestrictFile(path); err != nil {
		slog.Warn("could not ensure secure permissions on config", "path", path, "err", err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		slog.Warn("unknown config keys ignored", "path", path, "keys", strings.Join(keys, ", "))
	}
	return nil
}

// SaveTOML writes the configuration to path with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# servechat configuration file\n")
	buf.WriteString("# Environment variables SERVING_ENDPOINT, DATABRICKS_HOST and DATABRICKS_TOKEN override these values.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.WritePrivateFile(path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if name := os.Getenv("SERVING_ENDPOINT"); name != "" {
		c.Endpoint.Name = name
	}
	if host := os.Getenv("DATABRICKS_HOST"); host != "" {
		c.Endpoint.Host = host
	}
	if token := os.Getenv("DATABRICKS_TOKEN"); token != "" {
		c.Endpoint.Token = token
	}
	if token := os.Getenv("SERVECHAT_API_TOKEN"); token != "" {
		c.Server.AuthToken = token
	}
	if level := os.Getenv("SERVECHAT_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if path := os.Getenv("SERVECHAT_STORAGE_PATH"); path != "" {
		c.Storage.Path = path
	}
	if stream := os.Getenv("SERVECHAT_STREAM"); stream != "" {
		if v, err := strconv.ParseBool(stream); err == nil {
			c.Chat.Stream = v
		}
	}
}

// SetDefaults fills zero values that have non-zero defaults.
func (c *Config) SetDefaults() error {
	d := Default()
	if c.Endpoint.TimeoutSecs == 0 {
		c.Endpoint.TimeoutSecs = d.Endpoint.TimeoutSecs
	}
	if c.Endpoint.Burst == 0 {
		c.Endpoint.Burst = d.Endpoint.Burst
	}
	if c.Chat.Feedback == "" {
		c.Chat.Feedback = d.Chat.Feedback
	}
	if c.UI.Theme == "" {
		c.UI.Theme = d.UI.Theme
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.RequestsPerMinute == 0 {
		c.Server.RequestsPerMinute = d.Server.RequestsPerMinute
	}
	if c.Server.MaxSessions == 0 {
		c.Server.MaxSessions = d.Server.MaxSessions
	}
	c.Server.AuthToken = strings.TrimSpace(c.Server.AuthToken)
	c.Endpoint.Host = strings.TrimRight(strings.TrimSpace(c.Endpoint.Host), "/")
	if c.Endpoint.Host != "" && !strings.Contains(c.Endpoint.Host, "://") {
		c.Endpoint.Host = "https://" + c.Endpoint.Host
	}
	c.Endpoint.Token = strings.TrimSpace(c.Endpoint.Token)
	if c.Storage.Enabled && c.Storage.Path == "" {
		p, err := DefaultStoragePath()
		if err != nil {
			return err
		}
		c.Storage.Path = p
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration. A missing endpoint name is reported as
// ErrNoEndpoint so callers can print the setup guidance verbatim.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Endpoint.Name) == "" {
		return ErrNoEndpoint
	}

	var errs ValidateErrors

	if strings.ContainsAny(c.Endpoint.Name, "/?# ") {
		errs = append(errs, ValidationError{"endpoint.name", fmt.Sprintf("invalid endpoint name %q", c.Endpoint.Name)})
	}
	if c.Endpoint.Host == "" {
		errs = append(errs, ValidationError{"endpoint.host", "required (set DATABRICKS_HOST)"})
	} else {
		if u, err := url.Parse(c.Endpoint.Host); err != nil || u.Host == "" {
			errs = append(errs, ValidationError{"endpoint.host", fmt.Sprintf("invalid URL %q", c.Endpoint.Host)})
		} else if u.Scheme != "https" && u.Scheme != "http" {
			errs = append(errs, ValidationError{"endpoint.host", fmt.Sprintf("unsupported scheme %q", u.Scheme)})
		}
	}
	if c.Endpoint.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{"endpoint.timeout_secs", "must not be negative"})
	}
	if c.Endpoint.MaxRetries < 0 || c.Endpoint.MaxRetries > 10 {
		errs = append(errs, ValidationError{"endpoint.max_retries", "must be between 0 and 10"})
	}
	if c.Endpoint.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{"endpoint.requests_per_second", "must not be negative"})
	}

	switch strings.ToLower(c.Chat.Feedback) {
	case "auto", "on", "off":
	default:
		errs = append(errs, ValidationError{"chat.feedback", fmt.Sprintf("invalid value %q, must be one of: auto, on, off", c.Chat.Feedback)})
	}

	switch strings.ToLower(c.UI.Theme) {
	case "auto", "dark", "light":
	default:
		errs = append(errs, ValidationError{"ui.theme", fmt.Sprintf("invalid theme %q, must be one of: auto, dark, light", c.UI.Theme)})
	}
	if c.UI.WordWrap < 0 {
		errs = append(errs, ValidationError{"ui.word_wrap", "must not be negative"})
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{"log.level", fmt.Sprintf("invalid level %q", c.Log.Level)})
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{"log.format", fmt.Sprintf("invalid format %q, must be text or json", c.Log.Format)})
	}

	if c.Server.RequestsPerMinute < 0 {
		errs = append(errs, ValidationError{"server.requests_per_minute", "must not be negative"})
	}
	if c.Server.MaxSessions < 0 {
		errs = append(errs, ValidationError{"server.max_sessions", "must not be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// DISPLAY
// =============================================================================

// Redacted returns a copy safe to print: tokens are masked.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Endpoint.Token != "" {
		out.Endpoint.Token = "********"
	}
	if out.Server.AuthToken != "" {
		out.Server.AuthToken = "********"
	}
	return &out
}

// String renders the redacted configuration as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c.Redacted()); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}
