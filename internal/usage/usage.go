// Package usage extracts the most recent token-usage figures from a session's
// JSONL transcript.
//
// The transcript is append-only and unbounded, and only the latest assistant
// usage matters, so the scan walks the file backward from the tail and stops
// at the first qualifying record. Malformed lines are silently skipped.
package usage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Snapshot holds the token counts of the most recent assistant turn.
type Snapshot struct {
	// InputTokens is the prompt size of the latest turn, which approximates
	// the current context fill.
	InputTokens int64
	// OutputTokens is the number of tokens produced by the latest turn.
	OutputTokens int64
	// CacheReadTokens is the number of tokens served from prompt cache.
	CacheReadTokens int64
}

// tokenBlock holds the usage sub-object of a transcript record.
type tokenBlock struct {
	InputTokens     int64 `json:"input_tokens"`
	OutputTokens    int64 `json:"output_tokens"`
	CacheReadTokens int64 `json:"cache_read_input_tokens"`
}

// record represents a single transcript line. Transcripts vary in nesting:
// some carry role and usage at the top level, others inside a message object,
// so both shapes are decoded.
type record struct {
	Role    string      `json:"role"`
	Type    string      `json:"type"`
	Usage   *tokenBlock `json:"usage"`
	Message struct {
		Role  string      `json:"role"`
		Usage *tokenBlock `json:"usage"`
	} `json:"message"`
}

// role returns the record's effective role, preferring the top-level field.
func (r *record) role() string {
	if r.Role != "" {
		return r.Role
	}
	if r.Type != "" {
		return r.Type
	}
	return r.Message.Role
}

// tokens returns the record's usage block, or nil if it has none.
func (r *record) tokens() *tokenBlock {
	if r.Usage != nil {
		return r.Usage
	}
	return r.Message.Usage
}

// ///////////////////////////////////////////////
// Extraction
// ///////////////////////////////////////////////

// Latest returns the usage of the last assistant record with a usage block,
// or nil if the transcript does not exist or contains no qualifying record.
func Latest(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	lines := bytes.Split(data, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}

		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.role() != "assistant" {
			continue
		}
		tok := rec.tokens()
		if tok == nil {
			continue
		}

		return &Snapshot{
			InputTokens:     tok.InputTokens,
			OutputTokens:    tok.OutputTokens,
			CacheReadTokens: tok.CacheReadTokens,
		}, nil
	}

	return nil, nil
}
