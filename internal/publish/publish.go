// Package publish reconciles the rendered status text against the messaging
// service, ensuring exactly one pinned message carries it.
//
// The decision between editing and creating follows the persisted pin
// record. A new message is created only when the record is absent, targets a
// different chat, or the edit reports the message gone; never speculatively,
// and at most once per pass. Transient edit failures keep the current record
// so a flaky network can never fan out into duplicate pins.
package publish

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/TorbenWetter/openclaw-status-pin/internal/pinstate"
	"github.com/TorbenWetter/openclaw-status-pin/internal/telegram"
)

// Messenger is the subset of the Bot API the publisher consumes.
// [telegram.Client] implements it; tests substitute fakes.
type Messenger interface {
	SendMessage(chatID, text string) (int64, error)
	EditMessageText(chatID string, messageID int64, text string) error
	PinChatMessage(chatID string, messageID int64) error
}

// Publisher applies the edit-vs-create state machine.
type Publisher struct {
	msgr  Messenger
	store *pinstate.Store
}

// New creates a Publisher backed by the given messenger and pin store.
func New(msgr Messenger, store *pinstate.Store) *Publisher {
	return &Publisher{msgr: msgr, store: store}
}

// Publish ensures the pinned message in chatID shows text.
//
// With a record for this chat, the message is edited in place; "not
// modified" counts as success. Any edit failure other than "message not
// found" returns an error while keeping the record, so the next cycle
// retries the same identity. Only a confirmed-gone message falls through to
// creation: send, pin (pin failure is non-fatal), then atomically persist
// the new identity.
func (p *Publisher) Publish(chatID, sessionFile, text string) error {
	rec, err := p.store.Load()
	if err != nil {
		// A corrupt record cannot be trusted as an edit target.
		slog.Warn("pin record unreadable, treating as absent", "error", err)
		rec = nil
	}

	if rec != nil && rec.ChatID == chatID {
		err := p.msgr.EditMessageText(chatID, rec.MessageID, text)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, telegram.ErrNotModified):
			slog.Debug("status message unchanged", "message_id", rec.MessageID)
			return nil
		case errors.Is(err, telegram.ErrMessageNotFound):
			slog.Info("pinned message gone, recreating", "message_id", rec.MessageID)
		default:
			return fmt.Errorf("edit pinned message %d: %w", rec.MessageID, err)
		}
	}

	msgID, err := p.msgr.SendMessage(chatID, text)
	if err != nil {
		return fmt.Errorf("send status message: %w", err)
	}

	if err := p.msgr.PinChatMessage(chatID, msgID); err != nil {
		// The message is delivered; it just isn't pinned yet.
		slog.Warn("failed to pin status message", "message_id", msgID, "error", err)
	}

	newRec := &pinstate.Record{MessageID: msgID, ChatID: chatID, SessionFile: sessionFile}
	if err := p.store.Save(newRec); err != nil {
		return fmt.Errorf("persist pin record: %w", err)
	}

	slog.Info("status message created", "chat_id", chatID, "message_id", msgID)
	return nil
}
