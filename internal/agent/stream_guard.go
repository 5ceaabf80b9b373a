package agent

import (
	"strings"

	"github.com/ctonline/salesagent/internal/llm"
)

// streamGuard sits between the model's token stream and the caller.
// Some models emit tool calls as JSON in the content stream instead of
// the tool_calls field; forwarding those tokens would leak raw JSON
// into the chat. The guard buffers tokens until the first non-space
// characters show whether the content is narrative or a tool call:
// narrative forwards live from then on, tool-call-shaped content stays
// held (the client promotes it to a structured call afterwards).
type streamGuard struct {
	emit       llm.StreamCallback
	buf        strings.Builder
	sent       strings.Builder
	decided    bool
	forwarding bool
}

func newStreamGuard(emit llm.StreamCallback) *streamGuard {
	return &streamGuard{emit: emit}
}

func (g *streamGuard) write(token string) {
	if g.emit == nil {
		return
	}
	if g.forwarding {
		g.sent.WriteString(token)
		g.emit(token)
		return
	}

	g.buf.WriteString(token)
	if g.decided {
		return
	}

	trimmed := strings.TrimSpace(g.buf.String())
	if trimmed == "" {
		return
	}

	switch trimmed[0] {
	case '{', '[', '<':
		// Looks like an embedded tool call; hold everything back.
		g.decided = true
	default:
		g.decided = true
		g.forwarding = true
		g.sent.WriteString(g.buf.String())
		g.emit(g.buf.String())
	}
}

// release forwards held content. Called when the response turned out
// to carry no tool calls, so whatever was buffered is the real answer.
func (g *streamGuard) release() {
	if g.emit == nil || g.forwarding {
		return
	}
	if g.buf.Len() > 0 {
		g.sent.WriteString(g.buf.String())
		g.emit(g.buf.String())
	}
	g.forwarding = true
}

// forwarded returns everything the caller has already seen. The loop
// uses it to account for partial answers when a stream dies mid-reply.
func (g *streamGuard) forwarded() string { return g.sent.String() }
