// Package telegram provides a minimal Telegram Bot API client covering the
// three operations the publisher needs: sendMessage, editMessageText, and
// pinChatMessage.
//
// Bot API failures carry a human-readable description rather than a machine
// error code; the two descriptions the pin state machine must distinguish
// ("message is not modified", "message to edit not found") are classified
// into the sentinel errors [ErrNotModified] and [ErrMessageNotFound]. Every
// other failure is transient from the publisher's point of view.
package telegram

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// maxResponseBytes caps API response bodies read into memory.
const maxResponseBytes = 1 << 20 // 1 MiB

// ///////////////////////////////////////////////
// Sentinel Errors
// ///////////////////////////////////////////////

// ErrNotModified is returned when an edit would not change the message.
// The publisher treats it as idempotent success.
var ErrNotModified = errors.New("message is not modified")

// ErrMessageNotFound is returned when the edit target no longer exists.
// The publisher reacts by recreating the pinned message.
var ErrMessageNotFound = errors.New("message to edit not found")

// APIError is a Bot API failure that is neither of the semantic sentinels.
type APIError struct {
	// Method is the Bot API method that failed.
	Method string
	// Code is the error_code field of the response, 0 when absent.
	Code int
	// Description is the human-readable failure description.
	Description string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %s (code %d)", e.Method, e.Description, e.Code)
}

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

// Client calls the Telegram Bot API over HTTPS.
type Client struct {
	// base is the API base URL without trailing slash.
	base string
	// token is the bot credential embedded in request paths. It is never
	// logged.
	token string
	// http is the shared retryable HTTP client. Telegram rate limits with
	// 429 + Retry-After, which retryablehttp honors.
	http *retryablehttp.Client
}

// NewClient creates a Bot API client for the given base URL and bot token.
func NewClient(base, token string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = 10 * time.Second
	rc.Logger = nil // suppress retryablehttp's default logging
	return &Client{base: base, token: token, http: rc}
}

// apiResponse is the Bot API envelope common to all methods.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

// call posts params to the named Bot API method and returns the raw result.
// API-level failures are classified into the package's error types.
func (c *Client) call(method string, params any) (json.RawMessage, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s params: %w", method, err)
	}

	url := c.base + "/bot" + c.token + "/" + method
	req, err := retryablehttp.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", method, err)
	}

	var ar apiResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, fmt.Errorf("parsing %s response (status %d): %w", method, resp.StatusCode, err)
	}
	if !ar.OK {
		return nil, classify(method, ar)
	}
	return ar.Result, nil
}

// classify maps a Bot API failure description onto the sentinel errors the
// pin state machine distinguishes.
func classify(method string, ar apiResponse) error {
	desc := strings.ToLower(ar.Description)
	switch {
	case strings.Contains(desc, "message is not modified"):
		return fmt.Errorf("telegram %s: %w", method, ErrNotModified)
	case strings.Contains(desc, "message to edit not found"),
		strings.Contains(desc, "message can't be edited"):
		return fmt.Errorf("telegram %s: %w", method, ErrMessageNotFound)
	default:
		return &APIError{Method: method, Code: ar.ErrorCode, Description: ar.Description}
	}
}

// ///////////////////////////////////////////////
// Methods
// ///////////////////////////////////////////////

// sentMessage is the subset of the Message object the client decodes.
type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

// SendMessage posts an HTML-formatted message to the chat and returns its
// message id. The message is sent silently.
func (c *Client) SendMessage(chatID, text string) (int64, error) {
	result, err := c.call("sendMessage", map[string]any{
		"chat_id":              chatID,
		"text":                 text,
		"parse_mode":           "HTML",
		"disable_notification": true,
	})
	if err != nil {
		return 0, err
	}
	var msg sentMessage
	if err := json.Unmarshal(result, &msg); err != nil {
		return 0, fmt.Errorf("parsing sendMessage result: %w", err)
	}
	return msg.MessageID, nil
}

// EditMessageText replaces the text of an existing message.
func (c *Client) EditMessageText(chatID string, messageID int64, text string) error {
	_, err := c.call("editMessageText", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
		"parse_mode": "HTML",
	})
	return err
}

// PinChatMessage pins a message in the chat without notifying members.
func (c *Client) PinChatMessage(chatID string, messageID int64) error {
	_, err := c.call("pinChatMessage", map[string]any{
		"chat_id":              chatID,
		"message_id":           messageID,
		"disable_notification": true,
	})
	return err
}
