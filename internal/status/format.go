// Package status renders the pinned status message text.
//
// Render is a pure function over its inputs; it performs no I/O and holds no
// state, so identical inputs always produce identical text. The output uses
// Telegram HTML markup, and every free-text value is escaped before it is
// interpolated.
package status

import (
	"fmt"
	"html"
	"math"
	"strings"
	"time"

	"github.com/TorbenWetter/openclaw-status-pin/internal/openrouter"
	"github.com/TorbenWetter/openclaw-status-pin/internal/usage"
)

// ContextPlaceholder is rendered in place of the context-fill percentage
// when no usage snapshot exists yet.
const ContextPlaceholder = "–%"

// staleMarker is appended to the balance value when the snapshot is a
// cached fallback rather than a fresh fetch.
const staleMarker = " (stale)"

// Indicator glyphs for the balance level.
const (
	levelNeutral  = "⚪"
	levelHealthy  = "🟢"
	levelCaution  = "🟡"
	levelCritical = "🔴"
)

// Input carries everything Render needs.
type Input struct {
	// Model is the display model identifier, escaped before rendering.
	Model string
	// ContextLimit is the model's context window in tokens.
	ContextLimit int64
	// Usage is the latest usage snapshot, nil when none exists yet.
	Usage *usage.Snapshot
	// Balance is the latest balance snapshot, nil when never fetched.
	Balance *openrouter.Balance
	// BalanceStale marks Balance as a cached fallback after a failed fetch.
	BalanceStale bool
	// Now supplies the wall-clock timestamp appended to the message.
	Now time.Time
}

// Render composes the status message. Segment order is fixed: model, context
// fill, balance, today's spend, output tokens, cache reads, timestamp. The
// token segments appear only when their counts are nonzero; the balance
// segments appear only when a snapshot exists.
func Render(in Input) string {
	segments := make([]string, 0, 7)

	if in.Model != "" {
		segments = append(segments, "🦞 <b>"+html.EscapeString(in.Model)+"</b>")
	}

	segments = append(segments, "🧠 "+contextFill(in.Usage, in.ContextLimit))

	if in.Balance != nil {
		segments = append(segments, balanceSegment(in.Balance, in.BalanceStale))
		segments = append(segments, fmt.Sprintf("📅 $%.2f today", in.Balance.UsageDaily))
	}

	if in.Usage != nil && in.Usage.OutputTokens > 0 {
		segments = append(segments, "⬆️ "+formatTokens(in.Usage.OutputTokens)+" out")
	}
	if in.Usage != nil && in.Usage.CacheReadTokens > 0 {
		segments = append(segments, "📦 "+formatTokens(in.Usage.CacheReadTokens)+" cached")
	}

	segments = append(segments, "🕓 "+in.Now.Format("15:04"))

	return strings.Join(segments, " | ")
}

// contextFill renders the context-fill percentage, or the placeholder when
// no usage exists or the limit is unresolved.
func contextFill(u *usage.Snapshot, limit int64) string {
	if u == nil || limit <= 0 {
		return ContextPlaceholder
	}
	pct := math.Round(float64(u.InputTokens) / float64(limit) * 100)
	return fmt.Sprintf("%d%%", int64(pct))
}

// balanceSegment renders the spending segment. Keys with a spending limit
// show the remaining amount with a level indicator; unlimited keys show
// cumulative usage with the neutral indicator.
func balanceSegment(b *openrouter.Balance, stale bool) string {
	marker := ""
	if stale {
		marker = staleMarker
	}

	if b.Limit == nil {
		return fmt.Sprintf("💰 %s $%.2f used%s", levelNeutral, b.Usage, marker)
	}

	var remaining float64
	if b.LimitRemaining != nil {
		remaining = *b.LimitRemaining
	}
	return fmt.Sprintf("💰 %s $%.2f left%s", indicator(remaining, *b.Limit), remaining, marker)
}

// indicator maps the remaining fraction of the spending limit onto a level
// glyph: >25% healthy, >10% caution, otherwise critical.
func indicator(remaining, limit float64) string {
	if limit <= 0 {
		return levelCritical
	}
	frac := remaining / limit
	switch {
	case frac > 0.25:
		return levelHealthy
	case frac > 0.10:
		return levelCaution
	default:
		return levelCritical
	}
}

// formatTokens formats a token count as a short human-readable string
// (1.5M, 234K, 500).
func formatTokens(n int64) string {
	switch {
	case n >= 1_000_000:
		val := float64(n) / 1_000_000
		if val == float64(int64(val)) {
			return fmt.Sprintf("%dM", int64(val))
		}
		return fmt.Sprintf("%.1fM", val)
	case n >= 1_000:
		val := float64(n) / 1_000
		if val == float64(int64(val)) {
			return fmt.Sprintf("%dK", int64(val))
		}
		return fmt.Sprintf("%.1fK", val)
	default:
		return fmt.Sprintf("%d", n)
	}
}
