// Package registry resolves the active OpenClaw session from the on-disk
// session registry.
//
// The registry is a JSON object keyed "agent:<id>:<suffix>". Discovery finds
// the entry for the configured agent, extracts the transcript path and the
// target chat, and resolves the model's context window where possible. The
// registry is read-only input; this package never writes to it.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// ///////////////////////////////////////////////
// Sentinel Errors
// ///////////////////////////////////////////////

// ErrNoSession is returned when no registry entry matches the agent.
// Discovery is retried on the next registry change, not on a timer.
var ErrNoSession = errors.New("no matching session in registry")

// ErrNoSessionFile is returned when the matched entry has no transcript path.
var ErrNoSessionFile = errors.New("registry entry has no session file")

// ErrNoChat is returned when neither the registry entry's delivery target nor
// the configuration yields a target chat.
var ErrNoChat = errors.New("no target chat resolvable")

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Entry is a single session registry record. Only the fields discovery needs
// are decoded; unknown fields are ignored.
type Entry struct {
	// SessionFile is the absolute path to the session's JSONL transcript.
	SessionFile string `json:"sessionFile"`
	// Model is the model identifier last used by the session.
	Model string `json:"model"`
	// DeliveryTarget is the "<channel>:<numeric-id>" destination the agent
	// last delivered to (e.g. "telegram:555").
	DeliveryTarget string `json:"deliveryTarget"`
	// UpdatedAt is the unix-millisecond timestamp of the entry's last write.
	UpdatedAt int64 `json:"updatedAt"`
}

// Session describes the monitored session: which transcript to watch, which
// chat to publish to, and the model's context window.
type Session struct {
	// Key is the registry key the session was resolved from.
	Key string
	// SessionFile is the watched JSONL transcript path.
	SessionFile string
	// Model is the display model identifier (may be empty).
	Model string
	// ChatID is the target Telegram chat.
	ChatID string
	// ContextLimit is the model's context window in tokens.
	// 0 means not yet resolved; the engine fills it before first use.
	ContextLimit int64
}

// Options control how discovery resolves the session.
type Options struct {
	// AgentID selects registry keys matching "agent:<AgentID>:*".
	AgentID string
	// ChatOverride, when non-empty, takes precedence over the entry's
	// delivery target.
	ChatOverride string
	// ContextOverride, when non-zero, takes precedence over the capacity
	// lookup.
	ContextOverride int64
	// CapacityLookup resolves a model's context window from the process-wide
	// capacity cache. May be nil.
	CapacityLookup func(model string) (int64, bool)
}

// telegramTargetRe extracts the numeric chat id from a delivery target.
// Only the telegram channel type yields a chat; other channels are ignored.
var telegramTargetRe = regexp.MustCompile(`^telegram:(-?\d+)$`)

// ///////////////////////////////////////////////
// Discovery
// ///////////////////////////////////////////////

// Discover reads the registry at path and resolves the active session for
// the agent. When several keys match "agent:<id>:*", the entry with the
// highest UpdatedAt wins, ties broken by the lexicographically smallest key.
//
// Returns [ErrNoSession] when no key matches, [ErrNoSessionFile] when the
// matched entry lacks a transcript path, and [ErrNoChat] when no target chat
// can be resolved.
func Discover(path string, opts Options) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session registry: %w", err)
	}

	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse session registry: %w", err)
	}

	key, entry, found := matchAgent(entries, opts.AgentID)
	if !found {
		return nil, fmt.Errorf("agent %q: %w", opts.AgentID, ErrNoSession)
	}

	if entry.SessionFile == "" {
		return nil, fmt.Errorf("registry key %q: %w", key, ErrNoSessionFile)
	}

	chatID := opts.ChatOverride
	if chatID == "" {
		if m := telegramTargetRe.FindStringSubmatch(entry.DeliveryTarget); m != nil {
			chatID = m[1]
		}
	}
	if chatID == "" {
		return nil, fmt.Errorf("registry key %q: %w", key, ErrNoChat)
	}

	sess := &Session{
		Key:         key,
		SessionFile: entry.SessionFile,
		Model:       entry.Model,
		ChatID:      chatID,
	}

	switch {
	case opts.ContextOverride > 0:
		sess.ContextLimit = opts.ContextOverride
	case opts.CapacityLookup != nil && entry.Model != "":
		if limit, ok := opts.CapacityLookup(entry.Model); ok {
			sess.ContextLimit = limit
		}
	}

	return sess, nil
}

// matchAgent returns the registry entry for the agent. Keys are matched with
// the glob pattern "agent:<id>:*"; the most recently updated entry wins.
func matchAgent(entries map[string]Entry, agentID string) (string, Entry, bool) {
	pattern := "agent:" + agentID + ":*"

	keys := make([]string, 0, len(entries))
	for k := range entries {
		if ok, err := doublestar.Match(pattern, k); err == nil && ok {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return "", Entry{}, false
	}

	sort.Strings(keys)
	best := keys[0]
	for _, k := range keys[1:] {
		if entries[k].UpdatedAt > entries[best].UpdatedAt {
			best = k
		}
	}
	return best, entries[best], true
}
