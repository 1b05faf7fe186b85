// Package engine orchestrates the reconciliation loop that keeps the pinned
// status message consistent with the session transcript and the account
// balance.
//
// The engine owns all mutable run state: the active session descriptor, the
// cached balance snapshot, the capacity cache, and the log watcher handle.
// Work is triggered by two independent change streams (the transcript
// watcher and the registry watcher) which may interleave arbitrarily; the
// cooldown gate, not a lock, is what bounds the update rate.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/TorbenWetter/openclaw-status-pin/internal/openrouter"
	"github.com/TorbenWetter/openclaw-status-pin/internal/registry"
	"github.com/TorbenWetter/openclaw-status-pin/internal/status"
	"github.com/TorbenWetter/openclaw-status-pin/internal/usage"
	"github.com/TorbenWetter/openclaw-status-pin/internal/watch"
)

// ///////////////////////////////////////////////
// Collaborator Interfaces
// ///////////////////////////////////////////////

// Accounts queries the balance and capacity services.
// [openrouter.Client] implements it; tests substitute fakes.
type Accounts interface {
	FetchBalance() (*openrouter.Balance, error)
	FetchCapacity(cc *openrouter.CapacityCache, model string) (int64, error)
}

// Publisher reconciles rendered text against the messaging service.
type Publisher interface {
	Publish(chatID, sessionFile, text string) error
}

// ///////////////////////////////////////////////
// Configuration
// ///////////////////////////////////////////////

// Config holds the engine's timing and discovery settings.
type Config struct {
	// RegistryPath is the session registry file to watch.
	RegistryPath string
	// AgentID selects registry entries matching "agent:<id>:*".
	AgentID string
	// ChatOverride, when non-empty, overrides the discovered chat.
	ChatOverride string
	// ContextOverride, when non-zero, overrides the capacity lookup.
	ContextOverride int64
	// Cooldown is the minimum interval between reconciliation passes.
	// A pass arriving inside the window is dropped, not deferred.
	Cooldown time.Duration
	// Debounce is the quiet period after a registry change before
	// discovery re-runs.
	Debounce time.Duration
	// PollInterval is the stat interval while a watched file is missing.
	PollInterval time.Duration
	// WatchRetry is the reattach delay after a watch backend error.
	WatchRetry time.Duration
	// Now supplies the render timestamp; nil means [time.Now].
	Now func() time.Time
}

// ///////////////////////////////////////////////
// Engine
// ///////////////////////////////////////////////

// Engine drives the reconciliation loop.
type Engine struct {
	cfg      Config
	accounts Accounts
	pub      Publisher
	caps     *openrouter.CapacityCache

	// limiter implements the cooldown gate. Passes denied by the limiter
	// are skipped entirely.
	limiter *rate.Limiter

	// mu guards sess, balance, and logWatcher.
	mu sync.Mutex
	// sess is the active session descriptor, nil until discovery succeeds.
	sess *registry.Session
	// balance is the last successfully fetched snapshot, kept across
	// failed fetches and served with a stale marker.
	balance *openrouter.Balance
	// logWatcher watches the active session transcript. Replaced (old
	// handle closed first) when discovery switches transcripts.
	logWatcher *watch.Watcher

	// done is closed by [Engine.Stop] to end the run loop.
	done chan struct{}
	// once ensures [Engine.Stop] is idempotent.
	once sync.Once
}

// New creates an Engine. The capacity cache persists for the engine's
// lifetime, so the model listing is fetched at most once.
func New(cfg Config, accounts Accounts, pub Publisher) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	limit := rate.Inf
	if cfg.Cooldown > 0 {
		limit = rate.Every(cfg.Cooldown)
	}
	return &Engine{
		cfg:      cfg,
		accounts: accounts,
		pub:      pub,
		caps:     openrouter.NewCapacityCache(),
		limiter:  rate.NewLimiter(limit, 1),
		done:     make(chan struct{}),
	}
}

// Stop ends the run loop and releases the watch handles.
func (e *Engine) Stop() {
	e.once.Do(func() {
		close(e.done)
	})
}

// ///////////////////////////////////////////////
// Run Loop
// ///////////////////////////////////////////////

// Run performs initial discovery and then processes change notifications
// until [Engine.Stop] is called. A missing registry entry at startup is not
// fatal (the registry watcher retries discovery on the next change), but an
// entry that cannot yield a transcript path or target chat is a
// configuration error that halts initialization.
func (e *Engine) Run() error {
	if err := e.rediscover(); err != nil {
		if errors.Is(err, registry.ErrNoSessionFile) || errors.Is(err, registry.ErrNoChat) {
			return fmt.Errorf("session discovery: %w", err)
		}
		slog.Warn("no active session yet, waiting for registry change", "error", err)
	} else {
		e.dispatchUpdate()
	}

	regWatcher := watch.New(e.cfg.RegistryPath, e.cfg.PollInterval, e.cfg.WatchRetry)
	defer regWatcher.Close()
	defer e.closeLogWatcher()

	// Registry changes are debounced with a cancel-and-reschedule
	// single-shot timer so bursts coalesce into one discovery run.
	debounce := time.NewTimer(time.Hour)
	stopTimer(debounce)
	defer debounce.Stop()

	for {
		select {
		case <-e.done:
			return nil

		case <-e.logEvents():
			e.dispatchUpdate()

		case <-regWatcher.Events():
			stopTimer(debounce)
			debounce.Reset(e.cfg.Debounce)

		case <-debounce.C:
			if err := e.rediscover(); err != nil {
				slog.Warn("session discovery failed", "error", err)
				continue
			}
			e.dispatchUpdate()
		}
	}
}

// stopTimer stops t and drains a pending fire so a following Reset starts
// from a clean state.
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

// logEvents returns the active transcript watcher's event channel, or nil
// (blocking forever in select) when no session is active yet.
func (e *Engine) logEvents() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.logWatcher == nil {
		return nil
	}
	return e.logWatcher.Events()
}

// dispatchUpdate runs one reconciliation pass in a supervised goroutine.
// A failure in a dispatched pass is logged and never reaches the run loop.
func (e *Engine) dispatchUpdate() {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("update pass panic", "error", r)
			}
		}()
		if err := e.UpdateCycle(); err != nil {
			slog.Warn("update pass failed", "error", err)
		}
	}()
}

// ///////////////////////////////////////////////
// Session Discovery
// ///////////////////////////////////////////////

// rediscover re-reads the session registry. When the discovered transcript
// matches the active one, only the session metadata (model, chat, capacity)
// is refreshed in place; when it differs, the capacity for the new session
// is resolved, the transcript watcher is re-attached (old handle closed
// first), and the descriptor is replaced wholesale.
func (e *Engine) rediscover() error {
	sess, err := registry.Discover(e.cfg.RegistryPath, registry.Options{
		AgentID:         e.cfg.AgentID,
		ChatOverride:    e.cfg.ChatOverride,
		ContextOverride: e.cfg.ContextOverride,
		CapacityLookup:  e.caps.Lookup,
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	current := e.sess
	e.mu.Unlock()

	if current != nil && current.SessionFile == sess.SessionFile {
		// Replace the descriptor wholesale; in-flight passes hold their own
		// copy, so published fields are never mutated under a reader.
		e.mu.Lock()
		updated := *e.sess
		updated.Model = sess.Model
		updated.ChatID = sess.ChatID
		if sess.ContextLimit > 0 {
			updated.ContextLimit = sess.ContextLimit
		}
		e.sess = &updated
		e.mu.Unlock()
		slog.Debug("session metadata refreshed", "key", sess.Key)
		return nil
	}

	e.resolveCapacity(sess)

	e.closeLogWatcher()
	w := watch.New(sess.SessionFile, e.cfg.PollInterval, e.cfg.WatchRetry)

	e.mu.Lock()
	e.sess = sess
	e.logWatcher = w
	e.mu.Unlock()

	slog.Info("watching session",
		"key", sess.Key,
		"transcript", sess.SessionFile,
		"chat_id", sess.ChatID,
	)
	return nil
}

// resolveCapacity fills the session's context limit when discovery left it
// unresolved. Fetch failures degrade to the default limit, never propagate.
func (e *Engine) resolveCapacity(sess *registry.Session) {
	if sess.ContextLimit > 0 {
		return
	}
	if sess.Model == "" {
		sess.ContextLimit = openrouter.DefaultContextLimit
		return
	}
	limit, err := e.accounts.FetchCapacity(e.caps, sess.Model)
	if err != nil {
		slog.Warn("capacity lookup failed, using default", "model", sess.Model, "error", err)
	}
	sess.ContextLimit = limit
}

// closeLogWatcher tears down the transcript watcher if one is attached.
// The handle is released before any replacement is created, closing the
// window for duplicate notifications from a stale watch.
func (e *Engine) closeLogWatcher() {
	e.mu.Lock()
	w := e.logWatcher
	e.logWatcher = nil
	e.mu.Unlock()
	if w != nil {
		w.Close()
	}
}

// ///////////////////////////////////////////////
// Update Cycle
// ///////////////////////////////////////////////

// UpdateCycle runs one reconciliation pass: cooldown gate, usage extraction,
// balance refresh (cached fallback with a stale marker on failure), render,
// publish. Running it twice with no underlying change produces a no-op edit,
// so the pass is idempotent.
func (e *Engine) UpdateCycle() error {
	// Snapshot the descriptor by value so a concurrent rediscover can
	// never touch the fields this pass reads.
	e.mu.Lock()
	active := e.sess
	var sess registry.Session
	if active != nil {
		sess = *active
	}
	e.mu.Unlock()
	if active == nil {
		return nil
	}

	// The gate sits after the session check so an event arriving before
	// discovery succeeds cannot burn the burst token.
	if !e.limiter.Allow() {
		slog.Debug("update skipped, within cooldown window")
		return nil
	}

	snap, err := usage.Latest(sess.SessionFile)
	if err != nil {
		slog.Warn("usage extraction failed", "transcript", sess.SessionFile, "error", err)
	}

	balance, stale := e.refreshBalance()

	text := status.Render(status.Input{
		Model:        sess.Model,
		ContextLimit: sess.ContextLimit,
		Usage:        snap,
		Balance:      balance,
		BalanceStale: stale,
		Now:          e.cfg.Now(),
	})

	return e.pub.Publish(sess.ChatID, sess.SessionFile, text)
}

// refreshBalance fetches a fresh balance snapshot, overwriting the cache on
// success. On failure the previous snapshot is served with the stale flag
// set; balance staleness is a degraded state, not an error.
func (e *Engine) refreshBalance() (*openrouter.Balance, bool) {
	balance, err := e.accounts.FetchBalance()
	if err == nil {
		e.mu.Lock()
		e.balance = balance
		e.mu.Unlock()
		return balance, false
	}

	slog.Warn("balance fetch failed, serving cached snapshot", "error", err)
	e.mu.Lock()
	cached := e.balance
	e.mu.Unlock()
	return cached, cached != nil
}
