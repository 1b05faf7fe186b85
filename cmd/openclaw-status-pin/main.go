// Package main implements the openclaw-status-pin daemon, which keeps a
// pinned Telegram message in sync with the active OpenClaw session's token
// usage and the OpenRouter account balance.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	rootpkg "github.com/TorbenWetter/openclaw-status-pin"
	"github.com/TorbenWetter/openclaw-status-pin/internal/config"
	"github.com/TorbenWetter/openclaw-status-pin/internal/engine"
	"github.com/TorbenWetter/openclaw-status-pin/internal/logger"
	"github.com/TorbenWetter/openclaw-status-pin/internal/openrouter"
	"github.com/TorbenWetter/openclaw-status-pin/internal/paths"
	"github.com/TorbenWetter/openclaw-status-pin/internal/pinstate"
	"github.com/TorbenWetter/openclaw-status-pin/internal/publish"
	"github.com/TorbenWetter/openclaw-status-pin/internal/telegram"
	"github.com/TorbenWetter/openclaw-status-pin/internal/update"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags:
//   - goreleaser: -X main.version={{.Version}}  -> "0.1.0"
//   - make build: -X main.version=$(VERSION)    -> "0.0.0-dev+05ffee5"
//
// When ldflags are not set (bare go build), resolveVersion reads the VCS info
// that Go embeds automatically, so dev builds get a useful version string
// without needing git at runtime.
var version = "dev"

// resolveVersion returns the build version string. If [version] was set via
// ldflags at build time it is returned as-is; otherwise VCS revision and dirty
// state embedded by the Go toolchain are used to construct a "dev+<hash>" tag.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// ///////////////////////////////////////////////
// PID Management
// ///////////////////////////////////////////////

// pidToken generates a random 16-character hex token used to prove ownership
// of the PID file, so [removePID] only deletes the file if this instance wrote it.
func pidToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// writePID creates or opens the PID file at [DataPaths.PID], acquires an
// advisory file lock, and writes "PID:TOKEN" content. The returned file handle
// must be kept open for the lifetime of the daemon to hold the lock; pass it to
// [removePID] on shutdown.
func writePID(paths DataPaths, token string) (*os.File, error) {
	f, err := os.OpenFile(paths.PID(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open PID file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock PID file: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("truncate PID file: %w", err)
	}
	content := fmt.Sprintf("%d:%s", os.Getpid(), token)
	if _, err := f.WriteString(content); err != nil {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("write PID file: %w", err)
	}
	return f, nil
}

// removePID releases the advisory lock, closes the file handle, and removes the
// PID file only if the stored token matches, preventing accidental removal of a
// file owned by a different daemon instance.
func removePID(paths DataPaths, token string, f *os.File) {
	if f != nil {
		_ = unlockFile(f)
		f.Close()
	}
	data, err := os.ReadFile(paths.PID())
	if err != nil {
		return
	}
	parts := strings.SplitN(string(data), ":", 2)
	if len(parts) == 2 && parts[1] == token {
		os.Remove(paths.PID())
	}
}

// checkStalePID checks whether another daemon instance is running. It attempts
// to acquire the advisory lock on the PID file; if the lock fails, another
// instance holds it. If the lock succeeds, any previous instance is dead and
// the stale file is cleaned up.
func checkStalePID(paths DataPaths) (alive bool, pid int) {
	f, err := os.OpenFile(paths.PID(), os.O_RDWR, 0o600)
	if err != nil {
		return false, 0
	}

	if lockErr := lockFile(f); lockErr != nil {
		data, _ := os.ReadFile(paths.PID())
		f.Close()
		parts := strings.SplitN(string(data), ":", 2)
		if len(parts) >= 1 {
			if p, convErr := strconv.Atoi(parts[0]); convErr == nil {
				return true, p
			}
		}
		return true, 0
	}

	// Lock acquired -- previous instance is dead. Clean up stale file.
	_ = unlockFile(f)
	f.Close()
	os.Remove(paths.PID())
	return false, 0
}

// ///////////////////////////////////////////////
// Default Data Directory
// ///////////////////////////////////////////////

// defaultDataDir returns the platform default directory for daemon data,
// typically ~/.openclaw-status-pin. Falls back to ./.openclaw-status-pin if
// the home directory cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", paths.DataDirRel)
	}
	return filepath.Join(home, paths.DataDirRel)
}

// ///////////////////////////////////////////////
// Main
// ///////////////////////////////////////////////

func main() {
	dataDir := flag.String("data-dir", defaultDataDir(), "Data directory for config, state, and logs")
	flag.Parse()

	dataPaths := DataPaths{Root: *dataDir}

	if err := os.MkdirAll(dataPaths.Root, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: create data dir: %v\n", err)
		os.Exit(1)
	}

	if alive, pid := checkStalePID(dataPaths); alive {
		fmt.Fprintf(os.Stderr, "daemon already running (pid %d)\n", pid)
		os.Exit(1)
	}

	if _, err := os.Stat(dataPaths.Config()); os.IsNotExist(err) {
		if writeErr := os.WriteFile(dataPaths.Config(), rootpkg.DefaultConfigTOML, 0o644); writeErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write default config: %v\n", writeErr)
		}
	}

	cfg, err := config.Load(dataPaths.Root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: load config: %v\n", err)
		os.Exit(1)
	}

	logLevel := logger.ParseLevel(cfg.Log.Level)
	log, logCloser, err := logger.NewLogger(dataPaths.Log(), logLevel, cfg.Log.MaxSizeMB)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: init logger: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(log)

	ver := resolveVersion()
	slog.Info("openclaw-status-pin starting", "version", ver, "data_dir", dataPaths.Root)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("update check panic", "error", r)
			}
		}()
		update.Check(ver)
	}()

	creds, err := config.LoadCredentials()
	if err != nil {
		slog.Error("missing credentials", "error", err)
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	token := pidToken()
	pidFile, err := writePID(dataPaths, token)
	if err != nil {
		slog.Error("failed to write PID file", "error", err)
		os.Exit(1)
	}
	defer removePID(dataPaths, token, pidFile)

	home, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("home directory unresolved, using working directory", "error", err)
		home = "."
	}

	tg := telegram.NewClient(cfg.Telegram.APIBase, creds.BotToken)
	or := openrouter.NewClient(cfg.OpenRouter.APIBase, creds.APIKey)
	store := pinstate.NewStore(dataPaths.Pin())
	pub := publish.New(tg, store)

	eng := engine.New(engine.Config{
		RegistryPath:    cfg.RegistryPath(home),
		AgentID:         cfg.Agent.ID,
		ChatOverride:    cfg.Telegram.ChatID,
		ContextOverride: cfg.Update.ContextLimit,
		Cooldown:        time.Duration(cfg.Update.CooldownMS) * time.Millisecond,
		Debounce:        time.Duration(cfg.Update.DebounceMS) * time.Millisecond,
		PollInterval:    time.Duration(cfg.Update.PollIntervalSeconds) * time.Second,
		WatchRetry:      time.Duration(cfg.Update.WatchRetrySeconds) * time.Second,
	}, or, pub)

	run(eng)
}

// ///////////////////////////////////////////////
// Run Until Signal
// ///////////////////////////////////////////////

// run starts the engine and blocks until an OS shutdown signal arrives or the
// engine exits on its own. A startup failure inside the engine (for example a
// registry entry with no usable transcript) ends the process; a signal stops
// the engine and waits for its loop to drain.
func run(eng *engine.Engine) {
	errCh := make(chan error, 1)
	go func() {
		errCh <- eng.Run()
	}()

	sigCh := signalChannel()

	select {
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig.String())
		eng.Stop()
		<-errCh
	case err := <-errCh:
		if err != nil {
			slog.Error("engine stopped", "error", err)
		}
	}
	slog.Info("openclaw-status-pin stopped")
}
