// Package watch monitors a single file for changes using fsnotify with a
// polling fallback.
//
// A watcher never gives up: if the file does not exist yet it polls until it
// appears, and if the watch backend errors it tears the watch down and
// reattaches after a fixed delay, indefinitely. Change notifications are
// delivered on a coalescing channel so bursts of writes collapse into one
// pending event.
package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// errReplaced reports that the watched inode was removed or renamed out from
// under the watch. An atomic rewrite is normal operation, not a backend
// failure, so the run loop reattaches without the retry delay.
var errReplaced = errors.New("watched file replaced")

// ///////////////////////////////////////////////
// Watcher
// ///////////////////////////////////////////////

// Watcher monitors one file for writes, creations, and replacements.
type Watcher struct {
	// path is the absolute path to the file being monitored.
	path string
	// events delivers a signal each time the file changes.
	// The channel is buffered to 1 so back-to-back writes coalesce.
	events chan struct{}
	// done is closed by [Watcher.Close] to signal the run loop to exit.
	done chan struct{}
	// once ensures [Watcher.Close] is idempotent.
	once sync.Once
	// polling is true while the watcher is in stat-based polling mode.
	polling atomic.Bool
	// pollInterval is the duration between stat calls in polling mode.
	pollInterval time.Duration
	// retryDelay is how long the watcher waits before reattaching after a
	// watch backend error.
	retryDelay time.Duration
}

// New creates a Watcher for the given file path and starts watching.
// pollInterval controls stat polling while the file does not exist;
// retryDelay controls how long to wait before reattaching after a watch
// backend error.
func New(path string, pollInterval, retryDelay time.Duration) *Watcher {
	w := &Watcher{
		path:         path,
		events:       make(chan struct{}, 1),
		done:         make(chan struct{}),
		pollInterval: pollInterval,
		retryDelay:   retryDelay,
	}
	go w.run()
	return w
}

// Events returns a channel that receives a signal when the file changes.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Polling reports whether the watcher is currently in polling mode.
func (w *Watcher) Polling() bool {
	return w.polling.Load()
}

// Close stops the watcher and releases its resources. Calling Close more
// than once is a no-op.
func (w *Watcher) Close() error {
	w.once.Do(func() {
		close(w.done)
	})
	return nil
}

// ///////////////////////////////////////////////
// Run Loop
// ///////////////////////////////////////////////

// run alternates between a native fsnotify watch and stat polling until the
// watcher is closed. Each failed attach or backend error falls back to
// polling, and each poll cycle that sees the file retries the native watch,
// so a transient backend failure never permanently stops watching.
func (w *Watcher) run() {
	for {
		if w.closed() {
			return
		}

		fsw, err := w.attach()
		if err != nil {
			w.polling.Store(true)
			if !w.pollOnce() {
				return
			}
			continue
		}

		w.polling.Store(false)
		err = w.watch(fsw)
		fsw.Close()
		if w.closed() {
			return
		}
		if errors.Is(err, errReplaced) {
			slog.Debug("watched file replaced, reattaching", "path", w.path)
			continue
		}
		slog.Warn("watch backend error, reattaching", "path", w.path, "error", err)
		if !w.sleep(w.retryDelay) {
			return
		}
	}
}

// attach creates an fsnotify watcher for the path. The watch handle is
// closed on failure so an unwatchable path never leaks a handle.
func (w *Watcher) attach() (*fsnotify.Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(w.path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", w.path, err)
	}
	return fsw, nil
}

// watch forwards fsnotify events for the path until the watcher is closed or
// the backend errors. A Remove or Rename of the watched file also returns:
// atomic rewrites replace the inode, so the watch must be reattached.
func (w *Watcher) watch(fsw *fsnotify.Watcher) error {
	for {
		select {
		case <-w.done:
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("event stream closed")
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.notify()
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.notify()
				return errReplaced
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("error stream closed")
			}
			return err
		}
	}
}

// pollOnce stats the file over poll intervals until it changes or appears,
// then notifies and returns so the run loop can retry a native watch.
// Returns false when the watcher was closed.
func (w *Watcher) pollOnce() bool {
	var lastMod time.Time
	exists := false
	if info, err := os.Stat(w.path); err == nil {
		lastMod = info.ModTime()
		exists = true
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return false
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				exists = false
				continue
			}
			if !exists || info.ModTime().After(lastMod) {
				w.notify()
				return true
			}
			// File exists unchanged; retry the native watch anyway.
			return true
		}
	}
}

// sleep waits for d or until the watcher is closed. Returns false on close.
func (w *Watcher) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.done:
		return false
	case <-t.C:
		return true
	}
}

// closed reports whether Close has been called.
func (w *Watcher) closed() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// notify sends a single signal to the events channel. If a signal is already
// pending the call is a no-op, coalescing rapid successive changes.
func (w *Watcher) notify() {
	select {
	case w.events <- struct{}{}:
	default:
		// Channel already has a pending event, skip
	}
}
