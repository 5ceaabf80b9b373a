// Package history reduces stored conversation history to a bounded
// window before the reasoning loop sees it.
package history

import (
	"strings"

	"github.com/ctonline/salesagent/internal/session"
)

// Words counts whitespace-separated words in a message's content. The
// whole codebase uses word count as the truncation unit; exact token
// counting is reserved for usage metering where the numbers feed cost.
func Words(m session.Message) int {
	return len(strings.Fields(m.Content))
}

// Window returns the longest suffix of msgs whose total word count does
// not exceed budget, adjusted so the suffix starts on a human turn.
// Deterministic: identical input and budget always yield the identical
// suffix. A budget <= 0 returns nil.
func Window(msgs []session.Message, budget int) []session.Message {
	if budget <= 0 || len(msgs) == 0 {
		return nil
	}

	total := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		w := Words(msgs[i])
		if total+w > budget {
			break
		}
		total += w
		start = i
	}

	// Drop leading assistant turns so the window opens on a human turn.
	for start < len(msgs) && msgs[start].Type != session.TypeHuman {
		start++
	}

	if start >= len(msgs) {
		return nil
	}
	return msgs[start:]
}

// LastHumanTurns returns the content of the last n human messages in
// chronological order. Used to give the classifier enough context to
// resolve short follow-ups like "¿y en rojo?".
func LastHumanTurns(msgs []session.Message, n int) []string {
	if n <= 0 {
		return nil
	}
	var turns []string
	for i := len(msgs) - 1; i >= 0 && len(turns) < n; i-- {
		if msgs[i].Type == session.TypeHuman {
			turns = append(turns, msgs[i].Content)
		}
	}
	// Collected newest-first; restore chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns
}
