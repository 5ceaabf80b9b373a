// Package agent implements the bounded tool-augmented reasoning loop.
// Each exchange runs at most maxIterations think/act cycles; tool
// failures feed back to the model as error strings instead of aborting,
// and accounting survives caller disconnects.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ctonline/salesagent/internal/config"
	"github.com/ctonline/salesagent/internal/history"
	"github.com/ctonline/salesagent/internal/llm"
	"github.com/ctonline/salesagent/internal/prompts"
	"github.com/ctonline/salesagent/internal/session"
	"github.com/ctonline/salesagent/internal/usage"
)

// apologyAnswer is returned when the loop cannot produce any answer.
const apologyAnswer = "Lo siento, ocurrió un problema al procesar tu solicitud. Por favor intenta de nuevo en unos momentos."

// ToolExecutor is the registry surface the loop consumes.
type ToolExecutor interface {
	List() []map[string]any
	Execute(ctx context.Context, name, argsJSON string) (string, error)
}

// HistoryAppender persists conversation turns.
type HistoryAppender interface {
	AppendMessage(ctx context.Context, id, msgType, content string, metadata map[string]any) error
}

// Auditor persists per-exchange usage records.
type Auditor interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Agent drives the reasoning loop for relevant queries.
type Agent struct {
	llm           llm.Client
	registry      ToolExecutor
	store         HistoryAppender
	audit         Auditor
	pricing       map[string]config.PricingEntry
	model         string
	maxIterations int
	historyBudget int
	logger        *slog.Logger
}

// Options configures an Agent.
type Options struct {
	Model         string
	MaxIterations int
	HistoryBudget int
	Pricing       map[string]config.PricingEntry
}

// New creates an Agent.
func New(client llm.Client, registry ToolExecutor, store HistoryAppender, audit Auditor, opts Options, logger *slog.Logger) *Agent {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 40
	}
	if opts.HistoryBudget <= 0 {
		opts.HistoryBudget = 800
	}
	return &Agent{
		llm:           client,
		registry:      registry,
		store:         store,
		audit:         audit,
		pricing:       opts.Pricing,
		model:         opts.Model,
		maxIterations: opts.MaxIterations,
		historyBudget: opts.HistoryBudget,
		logger:        logger,
	}
}

// Result summarizes one completed exchange.
type Result struct {
	Answer       string
	Iterations   int
	InputTokens  int
	OutputTokens int
	Exhausted    bool
}

// Respond runs the reasoning loop for one relevant query and streams
// the final narrative to emit. Conversation history and the usage
// record are written in a defer against a background context, so an
// aborted caller never loses accounting.
func (a *Agent) Respond(ctx context.Context, sessionID string, past []session.Message, query string, listaPrecio int, emit llm.StreamCallback) (res *Result, err error) {
	start := time.Now()

	messages := []llm.Message{{Role: "system", Content: prompts.System(listaPrecio, sessionID)}}
	for _, m := range history.Window(past, a.historyBudget) {
		role := "user"
		if m.Type == session.TypeAssistant {
			role = "assistant"
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: query})

	toolDefs := a.registry.List()
	var totalInput, totalOutput int
	var answer string

	defer func() {
		if totalInput == 0 {
			// The backend reported nothing; estimate over the full
			// prompt, not just the query.
			for _, m := range messages {
				totalInput += usage.EstimateTokens(m.Content)
			}
		}
		a.bookkeep(sessionID, query, answer, totalInput, totalOutput, start)
		if res != nil {
			res.Answer = answer
			res.InputTokens = totalInput
			res.OutputTokens = totalOutput
		}
	}()

	var lastContent string
	var seen strings.Builder // content already forwarded to the caller

	for i := 0; i < a.maxIterations; i++ {
		if cerr := ctx.Err(); cerr != nil {
			answer = partialAnswer(seen.String())
			return nil, fmt.Errorf("exchange cancelled: %w", cerr)
		}

		guard := newStreamGuard(emit)
		resp, cerr := a.llm.ChatStream(ctx, a.model, messages, toolDefs, guard.write)
		if cerr != nil {
			// Whatever streamed before the failure reached the user;
			// the transcript and audit trail must say the same thing.
			seen.WriteString(guard.forwarded())
			answer = partialAnswer(seen.String())
			a.logger.Error("llm call failed", "session", sessionID, "iter", i, "error", cerr)
			return nil, fmt.Errorf("llm call failed (iter %d): %w", i, cerr)
		}

		totalInput += resp.InputTokens
		totalOutput += resp.OutputTokens

		// No tool calls: this is the final narrative.
		if len(resp.Message.ToolCalls) == 0 {
			guard.release()
			answer = resp.Message.Content
			if answer == "" {
				answer = lastContent
			}
			a.logger.Info("exchange completed",
				"session", sessionID,
				"iterations", i+1,
				"input_tokens", totalInput,
				"output_tokens", totalOutput,
			)
			return &Result{Iterations: i + 1}, nil
		}

		seen.WriteString(guard.forwarded())
		if resp.Message.Content != "" {
			lastContent = resp.Message.Content
		}

		messages = append(messages, resp.Message)
		for _, tc := range resp.Message.ToolCalls {
			argsJSON := ""
			if tc.Function.Arguments != nil {
				argsBytes, _ := json.Marshal(tc.Function.Arguments)
				argsJSON = string(argsBytes)
			}

			a.logger.Debug("tool call", "session", sessionID, "iter", i, "tool", tc.Function.Name)

			result, terr := a.registry.Execute(ctx, tc.Function.Name, argsJSON)
			if terr != nil {
				// The model recovers from tool failures better than
				// from a dropped conversation.
				result = "ERROR: " + terr.Error()
				a.logger.Warn("tool failed", "session", sessionID, "tool", tc.Function.Name, "error", terr)
			}

			messages = append(messages, llm.Message{Role: "tool", Content: result})
		}
	}

	// Iteration budget exhausted: return the best partial answer.
	a.logger.Warn("iteration budget exhausted", "session", sessionID, "max", a.maxIterations)
	answer = lastContent
	if strings.TrimSpace(answer) == "" {
		answer = apologyAnswer
	}
	if emit != nil && seen.Len() == 0 {
		emit(answer)
	}
	return &Result{Iterations: a.maxIterations, Exhausted: true}, nil
}

// partialAnswer keeps already-streamed content as the answer of record
// when an exchange dies mid-reply, so bookkeeping matches what the
// caller saw. Whitespace-only streams count as nothing.
func partialAnswer(streamed string) string {
	if strings.TrimSpace(streamed) == "" {
		return ""
	}
	return streamed
}

// bookkeep persists the human turn, the assistant turn, and the usage
// record. It runs with its own context so a caller abort cannot cancel
// it; store failures are logged, never returned, because the answer
// (if any) already reached the user.
func (a *Agent) bookkeep(sessionID, query, answer string, inputTokens, outputTokens int, start time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if outputTokens == 0 {
		outputTokens = usage.EstimateTokens(answer)
	}

	elapsed := time.Since(start)
	cost := usage.Cost(a.pricing, a.model, inputTokens, outputTokens)

	if err := a.store.AppendMessage(ctx, sessionID, session.TypeHuman, query, nil); err != nil {
		a.logger.Error("append human turn failed", "session", sessionID, "error", err)
	}
	if answer != "" {
		meta := map[string]any{
			"model":          a.model,
			"input_tokens":   inputTokens,
			"output_tokens":  outputTokens,
			"total_tokens":   inputTokens + outputTokens,
			"cost_usd":       cost,
			"duration_secs":  elapsed.Seconds(),
			"tokens_per_sec": usage.TokensPerSecond(outputTokens, elapsed),
		}
		if err := a.store.AppendMessage(ctx, sessionID, session.TypeAssistant, answer, meta); err != nil {
			a.logger.Error("append assistant turn failed", "session", sessionID, "error", err)
		}
	}

	rec := usage.Record{
		SessionID:    sessionID,
		Question:     query,
		Answer:       answer,
		Model:        a.model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		DurationSecs: elapsed.Seconds(),
		TokensPerSec: usage.TokensPerSecond(outputTokens, elapsed),
		Relevant:     true,
	}
	if err := a.audit.Record(ctx, rec); err != nil {
		a.logger.Error("usage record failed", "session", sessionID, "error", err)
	}
}
