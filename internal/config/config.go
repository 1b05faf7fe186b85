// Package config provides configuration loading and defaults for the
// status-pin daemon.
//
// Configuration is loaded from a TOML file in the data directory. Credentials
// are never read from the file: the Telegram bot token and OpenRouter API key
// come from the environment so the config can be checked into dotfiles.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/TorbenWetter/openclaw-status-pin/internal/atomicfile"
	"github.com/TorbenWetter/openclaw-status-pin/internal/migrate"
	"github.com/TorbenWetter/openclaw-status-pin/internal/paths"
)

// CurrentVersion is the latest config schema version.
const CurrentVersion = 1

// Environment variable names for credentials.
const (
	EnvBotToken = "TELEGRAM_BOT_TOKEN"
	EnvAPIKey   = "OPENROUTER_API_KEY"
)

// ErrMissingCredential indicates a required credential variable is unset.
var ErrMissingCredential = errors.New("credential not set")

// Migrations holds registered config schema migrations.
// Tests can append to this slice to inject test migrations.
var Migrations []migrate.Migration

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level application configuration.
type Config struct {
	// Version is the config schema version used for migrations.
	Version int `toml:"version"`
	// Agent selects the monitored OpenClaw agent and its registry.
	Agent AgentConfig `toml:"agent"`
	// Telegram holds messaging settings.
	Telegram TelegramConfig `toml:"telegram"`
	// OpenRouter holds balance/capacity service settings.
	OpenRouter OpenRouterConfig `toml:"openrouter"`
	// Update holds reconciliation timing settings.
	Update UpdateConfig `toml:"update"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
}

// AgentConfig selects which OpenClaw agent is monitored.
type AgentConfig struct {
	// ID is the agent identifier used to match registry keys (agent:<id>:*).
	ID string `toml:"id"`
	// Registry overrides the session registry path. Empty means the
	// default ~/.openclaw/agents/<id>/sessions/sessions.json.
	Registry string `toml:"registry"`
}

// TelegramConfig holds messaging settings.
type TelegramConfig struct {
	// ChatID overrides the auto-detected target chat. Empty means the chat
	// is resolved from the registry entry's delivery target.
	ChatID string `toml:"chat_id"`
	// APIBase is the Bot API base URL, overridable for tests.
	APIBase string `toml:"api_base"`
}

// OpenRouterConfig holds balance/capacity service settings.
type OpenRouterConfig struct {
	// APIBase is the OpenRouter API base URL, overridable for tests.
	APIBase string `toml:"api_base"`
}

// UpdateConfig holds reconciliation timing settings.
type UpdateConfig struct {
	// CooldownMS is the minimum number of milliseconds between passes.
	CooldownMS int `toml:"cooldown_ms"`
	// DebounceMS is the quiet period after a registry change before
	// discovery re-runs.
	DebounceMS int `toml:"debounce_ms"`
	// PollIntervalSeconds is the polling interval used while a watched
	// file does not exist yet.
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	// WatchRetrySeconds is the delay before a watcher reattaches after a
	// watch backend error.
	WatchRetrySeconds int `toml:"watch_retry_seconds"`
	// ContextLimit overrides the model context window in tokens.
	// 0 means auto-detect from the OpenRouter model listing.
	ContextLimit int64 `toml:"context_limit"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
}

// ///////////////////////////////////////////////
// Defaults
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with default values.
func DefaultConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Agent: AgentConfig{
			ID: "main",
		},
		Telegram: TelegramConfig{
			APIBase: "https://api.telegram.org",
		},
		OpenRouter: OpenRouterConfig{
			APIBase: "https://openrouter.ai",
		},
		Update: UpdateConfig{
			CooldownMS:          3000,
			DebounceMS:          500,
			PollIntervalSeconds: 2,
			WatchRetrySeconds:   5,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 5,
		},
	}
}

// ///////////////////////////////////////////////
// Version Peek
// ///////////////////////////////////////////////

// PeekVersion reads just the version field from raw TOML bytes.
// Returns 1 if the version field is missing or zero.
func PeekVersion(data []byte) int {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil {
		return 1
	}
	if v.Version == 0 {
		return 1
	}
	return v.Version
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// Load reads and parses the configuration file from dataDir/config.toml.
// If the file doesn't exist, returns DefaultConfig. Old schema versions are
// migrated in place, with a .bak copy of the original left next to the file.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	version := PeekVersion(data)

	migrated := migrate.NeedsMigration(version, CurrentVersion, Migrations)
	if migrated {
		if backupErr := os.WriteFile(path+".bak", data, 0o644); backupErr != nil {
			slog.Warn("failed to write config backup", "error", backupErr)
		}
		var migrateErr error
		data, _, migrateErr = migrate.Run(data, version, Migrations)
		if migrateErr != nil {
			return nil, fmt.Errorf("migrate config: %w", migrateErr)
		}
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Version = CurrentVersion

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if migrated {
		if err := cfg.Save(path); err != nil {
			slog.Warn("failed to save migrated config", "error", err)
		}
	}

	return cfg, nil
}

// Save writes the config to disk as TOML using atomic file write.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return atomicfile.Write(path, buf.Bytes(), 0o644)
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Agent.ID == "" {
		return fmt.Errorf("agent.id must not be empty")
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log.level %q: must be debug, info, warn, or error", c.Log.Level)
	}
	if c.Update.CooldownMS < 0 {
		return fmt.Errorf("cooldown_ms must be >= 0, got %d", c.Update.CooldownMS)
	}
	if c.Update.DebounceMS <= 0 {
		return fmt.Errorf("debounce_ms must be > 0, got %d", c.Update.DebounceMS)
	}
	if c.Update.PollIntervalSeconds <= 0 {
		return fmt.Errorf("poll_interval_seconds must be > 0, got %d", c.Update.PollIntervalSeconds)
	}
	if c.Update.WatchRetrySeconds <= 0 {
		return fmt.Errorf("watch_retry_seconds must be > 0, got %d", c.Update.WatchRetrySeconds)
	}
	if c.Update.ContextLimit < 0 {
		return fmt.Errorf("context_limit must be >= 0, got %d", c.Update.ContextLimit)
	}
	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be > 0, got %d", c.Log.MaxSizeMB)
	}
	return nil
}

// ///////////////////////////////////////////////
// Credentials
// ///////////////////////////////////////////////

// Credentials holds the secrets resolved from the environment.
type Credentials struct {
	// BotToken is the Telegram bot credential.
	BotToken string
	// APIKey is the OpenRouter key used for balance and capacity queries.
	APIKey string
}

// LoadCredentials reads both credentials from the environment. A missing
// value is a configuration error fatal to startup.
func LoadCredentials() (Credentials, error) {
	creds := Credentials{
		BotToken: strings.TrimSpace(os.Getenv(EnvBotToken)),
		APIKey:   strings.TrimSpace(os.Getenv(EnvAPIKey)),
	}
	if creds.BotToken == "" {
		return creds, fmt.Errorf("%s: %w", EnvBotToken, ErrMissingCredential)
	}
	if creds.APIKey == "" {
		return creds, fmt.Errorf("%s: %w", EnvAPIKey, ErrMissingCredential)
	}
	return creds, nil
}

// RegistryPath returns the session registry path, applying the configured
// override or the OpenClaw default for the agent.
func (c *Config) RegistryPath(home string) string {
	if c.Agent.Registry != "" {
		return c.Agent.Registry
	}
	return paths.RegistryForAgent(home, c.Agent.ID)
}
