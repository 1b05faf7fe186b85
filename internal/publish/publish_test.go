// Package publish tests cover the edit-vs-create state machine: edit when a
// record exists, recreate only on confirmed-gone, record retention across
// transient failures, and at most one send per pass.
package publish

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/TorbenWetter/openclaw-status-pin/internal/pinstate"
	"github.com/TorbenWetter/openclaw-status-pin/internal/telegram"
)

// ///////////////////////////////////////////////
// Fake Messenger
// ///////////////////////////////////////////////

// fakeMessenger records calls and returns scripted errors.
type fakeMessenger struct {
	sends, edits, pins int

	editErr error
	sendErr error
	pinErr  error

	nextID   int64
	lastText string
	lastEdit int64
}

func (f *fakeMessenger) SendMessage(chatID, text string) (int64, error) {
	f.sends++
	f.lastText = text
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	return f.nextID, nil
}

func (f *fakeMessenger) EditMessageText(chatID string, messageID int64, text string) error {
	f.edits++
	f.lastEdit = messageID
	f.lastText = text
	return f.editErr
}

func (f *fakeMessenger) PinChatMessage(chatID string, messageID int64) error {
	f.pins++
	return f.pinErr
}

func newTestPublisher(t *testing.T, msgr *fakeMessenger) (*Publisher, *pinstate.Store) {
	t.Helper()
	store := pinstate.NewStore(filepath.Join(t.TempDir(), "pin.json"))
	return New(msgr, store), store
}

// ///////////////////////////////////////////////
// Creation Path
// ///////////////////////////////////////////////

func TestPublishCreatesWhenNoRecord(t *testing.T) {
	msgr := &fakeMessenger{nextID: 42}
	pub, store := newTestPublisher(t, msgr)

	if err := pub.Publish("555", "/logs/s.jsonl", "hello"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if msgr.sends != 1 || msgr.pins != 1 || msgr.edits != 0 {
		t.Errorf("sends=%d pins=%d edits=%d, want 1/1/0", msgr.sends, msgr.pins, msgr.edits)
	}

	rec, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec == nil || rec.MessageID != 42 || rec.ChatID != "555" || rec.SessionFile != "/logs/s.jsonl" {
		t.Errorf("record = %+v, want message 42 in chat 555", rec)
	}
}

func TestPublishCreatesWhenChatChanged(t *testing.T) {
	msgr := &fakeMessenger{nextID: 7}
	pub, store := newTestPublisher(t, msgr)
	if err := store.Save(&pinstate.Record{MessageID: 42, ChatID: "old"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := pub.Publish("new", "/logs/s.jsonl", "text"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if msgr.edits != 0 {
		t.Errorf("edits = %d, a record for another chat must not be edited", msgr.edits)
	}
	if msgr.sends != 1 {
		t.Errorf("sends = %d, want 1", msgr.sends)
	}

	rec, _ := store.Load()
	if rec == nil || rec.ChatID != "new" || rec.MessageID != 7 {
		t.Errorf("record = %+v, want message 7 in chat new", rec)
	}
}

func TestPublishPinFailureIsNonFatal(t *testing.T) {
	msgr := &fakeMessenger{nextID: 9, pinErr: errors.New("not enough rights")}
	pub, store := newTestPublisher(t, msgr)

	if err := pub.Publish("555", "/logs/s.jsonl", "text"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	rec, _ := store.Load()
	if rec == nil || rec.MessageID != 9 {
		t.Errorf("record = %+v, want message 9 despite pin failure", rec)
	}
}

func TestPublishSendFailureKeepsNoRecord(t *testing.T) {
	msgr := &fakeMessenger{sendErr: errors.New("network down")}
	pub, store := newTestPublisher(t, msgr)

	if err := pub.Publish("555", "/logs/s.jsonl", "text"); err == nil {
		t.Fatal("expected error when send fails")
	}
	if msgr.pins != 0 {
		t.Errorf("pins = %d, want 0 after failed send", msgr.pins)
	}

	rec, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec != nil {
		t.Errorf("record = %+v, want none after failed send", rec)
	}
}

// ///////////////////////////////////////////////
// Edit Path
// ///////////////////////////////////////////////

func TestPublishEditsExistingMessage(t *testing.T) {
	msgr := &fakeMessenger{}
	pub, store := newTestPublisher(t, msgr)
	if err := store.Save(&pinstate.Record{MessageID: 42, ChatID: "555"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := pub.Publish("555", "/logs/s.jsonl", "updated"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if msgr.edits != 1 || msgr.sends != 0 {
		t.Errorf("edits=%d sends=%d, want 1/0", msgr.edits, msgr.sends)
	}
	if msgr.lastEdit != 42 {
		t.Errorf("edited message = %d, want 42", msgr.lastEdit)
	}
}

func TestPublishNotModifiedIsSuccess(t *testing.T) {
	msgr := &fakeMessenger{
		editErr: fmt.Errorf("telegram editMessageText: %w", telegram.ErrNotModified),
	}
	pub, store := newTestPublisher(t, msgr)
	if err := store.Save(&pinstate.Record{MessageID: 42, ChatID: "555"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := pub.Publish("555", "/logs/s.jsonl", "same text"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if msgr.sends != 0 {
		t.Errorf("sends = %d, not-modified must not trigger a create", msgr.sends)
	}
}

func TestPublishRecreatesOnMessageGone(t *testing.T) {
	msgr := &fakeMessenger{
		nextID:  99,
		editErr: fmt.Errorf("telegram editMessageText: %w", telegram.ErrMessageNotFound),
	}
	pub, store := newTestPublisher(t, msgr)
	if err := store.Save(&pinstate.Record{MessageID: 42, ChatID: "555"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := pub.Publish("555", "/logs/s.jsonl", "text"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if msgr.edits != 1 || msgr.sends != 1 || msgr.pins != 1 {
		t.Errorf("edits=%d sends=%d pins=%d, want 1/1/1", msgr.edits, msgr.sends, msgr.pins)
	}

	rec, _ := store.Load()
	if rec == nil || rec.MessageID != 99 {
		t.Errorf("record = %+v, want replacement message 99", rec)
	}
}

func TestPublishTransientEditFailureKeepsRecord(t *testing.T) {
	msgr := &fakeMessenger{editErr: errors.New("gateway timeout")}
	pub, store := newTestPublisher(t, msgr)
	if err := store.Save(&pinstate.Record{MessageID: 42, ChatID: "555"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := pub.Publish("555", "/logs/s.jsonl", "text"); err == nil {
		t.Fatal("expected error for transient edit failure")
	}
	if msgr.sends != 0 {
		t.Errorf("sends = %d, a transient failure must not create a duplicate", msgr.sends)
	}

	rec, _ := store.Load()
	if rec == nil || rec.MessageID != 42 {
		t.Errorf("record = %+v, want original message 42 retained", rec)
	}
}

// ///////////////////////////////////////////////
// Corrupt Record
// ///////////////////////////////////////////////

func TestPublishTreatsCorruptRecordAsAbsent(t *testing.T) {
	msgr := &fakeMessenger{nextID: 5}
	path := filepath.Join(t.TempDir(), "pin.json")
	if err := os.WriteFile(path, []byte("{corrupt"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	pub := New(msgr, pinstate.NewStore(path))

	if err := pub.Publish("555", "/logs/s.jsonl", "text"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if msgr.sends != 1 {
		t.Errorf("sends = %d, corrupt record should fall back to create", msgr.sends)
	}
}
