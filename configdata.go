// Package openclawstatuspin provides the embedded default configuration for
// the status-pin daemon.
//
// The root package exists solely to hold [DefaultConfigTOML]. The config
// package copies it to the data directory on first run so operators have a
// commented file to edit instead of an empty directory.
package openclawstatuspin

// DefaultConfigTOML is the config.toml written to the data directory on
// first run. Credentials are intentionally absent: the bot token and API key
// are read from the environment only.
var DefaultConfigTOML = []byte(`# openclaw-status-pin configuration.
#
# Credentials are never stored here. Set them in the environment:
#   TELEGRAM_BOT_TOKEN   Telegram bot credential
#   OPENROUTER_API_KEY   OpenRouter key used for balance/capacity queries

version = 1

[agent]
# OpenClaw agent whose session is monitored.
id = "main"
# Path to the session registry. Empty means
# ~/.openclaw/agents/<id>/sessions/sessions.json.
registry = ""

[telegram]
# Chat id override. Empty means auto-detect from the registry entry's
# delivery target ("telegram:<id>").
chat_id = ""
# Bot API base URL. Only change this for testing.
api_base = "https://api.telegram.org"

[openrouter]
# OpenRouter API base URL. Only change this for testing.
api_base = "https://openrouter.ai"

[update]
# Minimum milliseconds between reconciliation passes.
cooldown_ms = 3000
# Quiet period after a registry change before re-running discovery.
debounce_ms = 500
# Polling interval while a watched file does not exist yet.
poll_interval_seconds = 2
# Delay before reattaching a watcher after a watch backend error.
watch_retry_seconds = 5
# Context window override in tokens. 0 means auto-detect from the
# OpenRouter model listing.
context_limit = 0

[log]
# Minimum log level: debug, info, warn, error.
level = "info"
# Log file size in megabytes before rotation.
max_size_mb = 5
`)
