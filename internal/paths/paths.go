// Package paths centralizes file and directory names used across the project.
// All data directory file names are defined here as the single source of truth.
package paths

import "path/filepath"

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Data directory file names.
const (
	PIDFile    = "daemon.pid"
	PinFile    = "pin.json"
	ConfigFile = "config.toml"
	LogFile    = "daemon.log"
)

// Project constants.
const (
	BinaryName = "openclaw-status-pin"
	DataDirRel = ".openclaw-status-pin" // relative to $HOME
)

// Remote-fetched file paths (relative to repo root).
const (
	ReleaseManifest = ".release-manifest.json"
)

// OpenClaw registry layout relative to $HOME, parameterized by agent id:
// ~/.openclaw/agents/<id>/sessions/sessions.json.
const (
	OpenClawDirRel  = ".openclaw"
	AgentsDir       = "agents"
	SessionsDir     = "sessions"
	SessionRegistry = "sessions.json"
)

// RegistryForAgent returns the default session registry path for an agent,
// rooted at the given home directory.
func RegistryForAgent(home, agentID string) string {
	return filepath.Join(home, OpenClawDirRel, AgentsDir, agentID, SessionsDir, SessionRegistry)
}

// ///////////////////////////////////////////////
// DataDir
// ///////////////////////////////////////////////

// DataDir provides path construction methods rooted at a data directory.
type DataDir struct {
	Root string
}

// PID returns the full path to the PID file.
func (d DataDir) PID() string { return filepath.Join(d.Root, PIDFile) }

// Pin returns the full path to the persisted pin record.
func (d DataDir) Pin() string { return filepath.Join(d.Root, PinFile) }

// Config returns the full path to the config file.
func (d DataDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// Log returns the full path to the log file.
func (d DataDir) Log() string { return filepath.Join(d.Root, LogFile) }
