// Package usage meters token consumption and cost per exchange and
// persists the audit trail. Records are append-only and indexed by
// session for per-user reporting.
package usage

import (
	"time"
	"unicode/utf8"

	"github.com/ctonline/salesagent/internal/config"
)

// EstimateTokens returns a rough token estimate for a string. Uses the
// common ~4 characters per token approximation over runes, so accented
// Spanish text is not overcounted for its multi-byte encoding; exact
// counts come from the model backend when it reports them.
func EstimateTokens(s string) int {
	return utf8.RuneCountInString(s) / 4
}

// Cost computes the USD cost of an exchange from the per-1K-token
// price table. Unknown models cost zero rather than erroring: metering
// must never break a chat.
func Cost(pricing map[string]config.PricingEntry, model string, inputTokens, outputTokens int) float64 {
	entry, ok := pricing[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)*entry.InputPer1K/1000 +
		float64(outputTokens)*entry.OutputPer1K/1000
}

// TokensPerSecond computes output throughput over a wall-clock span.
func TokensPerSecond(outputTokens int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(outputTokens) / elapsed.Seconds()
}
