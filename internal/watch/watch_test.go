// Package watch tests cover native watch delivery, the poll fallback for
// files that do not exist yet, replacement (rename) handling, and close
// semantics.
package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// waitEvent waits for one event or fails the test after a timeout.
func waitEvent(t *testing.T, w *Watcher) {
	t.Helper()
	select {
	case <-w.Events():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watch event")
	}
}

func TestWatchExistingFileWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.jsonl")
	if err := os.WriteFile(path, []byte("initial\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	w := New(path, 10*time.Millisecond, 10*time.Millisecond)
	defer w.Close()

	// Give the watcher a moment to attach before writing.
	time.Sleep(100 * time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("appended\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	waitEvent(t, w)
}

func TestWatchMissingFileAppears(t *testing.T) {
	path := filepath.Join(t.TempDir(), "later.jsonl")

	w := New(path, 10*time.Millisecond, 10*time.Millisecond)
	defer w.Close()

	// The path does not exist, so the watcher must fall back to polling.
	deadline := time.Now().Add(2 * time.Second)
	for !w.Polling() {
		if time.Now().After(deadline) {
			t.Fatal("watcher never entered polling mode")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := os.WriteFile(path, []byte("born\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitEvent(t, w)
}

func TestWatchSurvivesAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.json")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	w := New(path, 10*time.Millisecond, 10*time.Millisecond)
	defer w.Close()

	time.Sleep(100 * time.Millisecond)

	// Simulate a temp-and-rename rewrite, which replaces the watched inode.
	tmp := filepath.Join(dir, "watched.json.tmp")
	if err := os.WriteFile(tmp, []byte("v2"), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	waitEvent(t, w)

	// The watcher must have reattached to the new inode and still deliver.
	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(path, []byte("v3"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	waitEvent(t, w)
}

func TestWatchReplaceSkipsRetryDelay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.json")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The retry delay only applies to backend errors; an atomic replace
	// must reattach right away. With an hour-long delay, delivery after
	// the replace proves the fast path was taken.
	w := New(path, 10*time.Millisecond, time.Hour)
	defer w.Close()

	time.Sleep(100 * time.Millisecond)

	tmp := filepath.Join(dir, "watched.json.tmp")
	if err := os.WriteFile(tmp, []byte("v2"), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	waitEvent(t, w)

	time.Sleep(200 * time.Millisecond)
	if err := os.WriteFile(path, []byte("v3"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	waitEvent(t, w)
}

func TestWatchCloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watched.json")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	w := New(path, 10*time.Millisecond, 10*time.Millisecond)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
