package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/ctonline/salesagent/internal/config"
	"github.com/ctonline/salesagent/internal/llm"
	"github.com/ctonline/salesagent/internal/session"
	"github.com/ctonline/salesagent/internal/usage"
)

// scriptedLLM replays canned responses, pushing optional stream tokens
// through the callback first.
type scriptedLLM struct {
	responses []*llm.ChatResponse
	errs      []error
	streams   [][]string

	calls [][]llm.Message
}

func (s *scriptedLLM) ChatStream(ctx context.Context, model string, messages []llm.Message, tools []map[string]any, cb llm.StreamCallback) (*llm.ChatResponse, error) {
	i := len(s.calls)
	snapshot := make([]llm.Message, len(messages))
	copy(snapshot, messages)
	s.calls = append(s.calls, snapshot)

	if cb != nil && i < len(s.streams) {
		for _, tok := range s.streams[i] {
			cb(tok)
		}
	}
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

func (s *scriptedLLM) Chat(ctx context.Context, model string, messages []llm.Message, tools []map[string]any) (*llm.ChatResponse, error) {
	return s.ChatStream(ctx, model, messages, tools, nil)
}

func (s *scriptedLLM) Ping(ctx context.Context) error { return nil }

type fakeExecutor struct {
	results map[string]string
	errs    map[string]error
	calls   []string
	args    []string
}

func (f *fakeExecutor) List() []map[string]any { return nil }

func (f *fakeExecutor) Execute(ctx context.Context, name, argsJSON string) (string, error) {
	f.calls = append(f.calls, name)
	f.args = append(f.args, argsJSON)
	if err := f.errs[name]; err != nil {
		return "", err
	}
	return f.results[name], nil
}

type fakeAppender struct {
	types    []string
	contents []string
	metas    []map[string]any
	err      error
}

func (f *fakeAppender) AppendMessage(ctx context.Context, id, msgType, content string, metadata map[string]any) error {
	f.types = append(f.types, msgType)
	f.contents = append(f.contents, content)
	f.metas = append(f.metas, metadata)
	return f.err
}

type fakeAuditor struct {
	records []usage.Record
	err     error
}

func (f *fakeAuditor) Record(ctx context.Context, rec usage.Record) error {
	f.records = append(f.records, rec)
	return f.err
}

func finalResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Message:      llm.Message{Role: "assistant", Content: content},
		Done:         true,
		InputTokens:  100,
		OutputTokens: 20,
	}
}

func toolCallResponse(name string, args map[string]any) *llm.ChatResponse {
	var tc llm.ToolCall
	tc.Function.Name = name
	tc.Function.Arguments = args
	return &llm.ChatResponse{
		Message:      llm.Message{Role: "assistant", ToolCalls: []llm.ToolCall{tc}},
		Done:         true,
		InputTokens:  50,
		OutputTokens: 10,
	}
}

func testAgent(client llm.Client, exec ToolExecutor, store HistoryAppender, audit Auditor, maxIter int) *Agent {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(client, exec, store, audit, Options{
		Model:         "gpt-4.1",
		MaxIterations: maxIter,
		HistoryBudget: 800,
		Pricing: map[string]config.PricingEntry{
			"gpt-4.1": {InputPer1K: 0.002, OutputPer1K: 0.008},
		},
	}, logger)
}

func TestRespond_DirectAnswer(t *testing.T) {
	client := &scriptedLLM{
		responses: []*llm.ChatResponse{finalResponse("Hola, tenemos varias laptops.")},
		streams:   [][]string{{"Hola, ", "tenemos varias laptops."}},
	}
	store := &fakeAppender{}
	audit := &fakeAuditor{}
	a := testAgent(client, &fakeExecutor{}, store, audit, 40)

	var streamed strings.Builder
	res, err := a.Respond(context.Background(), "C123_abc", nil, "¿venden laptops?", 3,
		func(token string) { streamed.WriteString(token) })
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}

	if res.Answer != "Hola, tenemos varias laptops." {
		t.Errorf("answer = %q", res.Answer)
	}
	if streamed.String() != "Hola, tenemos varias laptops." {
		t.Errorf("streamed = %q", streamed.String())
	}
	if res.Iterations != 1 || res.Exhausted {
		t.Errorf("result = %+v", res)
	}

	// Bookkeeping: human turn, assistant turn with metadata, audit row.
	if len(store.types) != 2 || store.types[0] != session.TypeHuman || store.types[1] != session.TypeAssistant {
		t.Fatalf("appended types = %v", store.types)
	}
	if store.metas[1]["model"] != "gpt-4.1" {
		t.Errorf("assistant metadata = %v", store.metas[1])
	}
	if len(audit.records) != 1 {
		t.Fatalf("audit records = %d, want 1", len(audit.records))
	}
	rec := audit.records[0]
	if !rec.Relevant || rec.InputTokens != 100 || rec.OutputTokens != 20 {
		t.Errorf("audit record = %+v", rec)
	}
	wantCost := 100*0.002/1000 + 20*0.008/1000
	if math.Abs(rec.CostUSD-wantCost) > 1e-12 {
		t.Errorf("cost = %v, want %v", rec.CostUSD, wantCost)
	}
}

func TestRespond_ToolCallThenAnswer(t *testing.T) {
	client := &scriptedLLM{
		responses: []*llm.ChatResponse{
			toolCallResponse("inventory_tool", map[string]any{"clave": "NBK123", "listaPrecio": 3}),
			finalResponse("NBK123 cuesta $1999.99 USD."),
		},
	}
	exec := &fakeExecutor{results: map[string]string{"inventory_tool": "NBK123: $1999.99 USD, 5 unidades"}}
	a := testAgent(client, exec, &fakeAppender{}, &fakeAuditor{}, 40)

	res, err := a.Respond(context.Background(), "C123_abc", nil, "precio de NBK123", 3, nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if res.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", res.Iterations)
	}
	if len(exec.calls) != 1 || exec.calls[0] != "inventory_tool" {
		t.Fatalf("tool calls = %v", exec.calls)
	}
	if !strings.Contains(exec.args[0], `"clave":"NBK123"`) {
		t.Errorf("tool args = %q", exec.args[0])
	}

	// The second LLM call must carry the tool result back.
	second := client.calls[1]
	last := second[len(second)-1]
	if last.Role != "tool" || !strings.Contains(last.Content, "$1999.99") {
		t.Errorf("tool result message = %+v", last)
	}

	// Tokens accumulate across iterations.
	if res.InputTokens != 150 || res.OutputTokens != 30 {
		t.Errorf("tokens = %d/%d, want 150/30", res.InputTokens, res.OutputTokens)
	}
}

func TestRespond_ToolErrorFedBack(t *testing.T) {
	client := &scriptedLLM{
		responses: []*llm.ChatResponse{
			toolCallResponse("status_tool", map[string]any{"factura": "F-1"}),
			finalResponse("No pude consultar el pedido."),
		},
	}
	exec := &fakeExecutor{errs: map[string]error{"status_tool": errors.New("timeout")}}
	a := testAgent(client, exec, &fakeAppender{}, &fakeAuditor{}, 40)

	res, err := a.Respond(context.Background(), "07CTIN55", nil, "estatus F-1", 3, nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if res.Answer == "" {
		t.Error("expected an answer despite tool failure")
	}

	second := client.calls[1]
	last := second[len(second)-1]
	if last.Role != "tool" || !strings.HasPrefix(last.Content, "ERROR: ") {
		t.Errorf("tool error message = %+v", last)
	}
}

func TestRespond_IterationBudgetExhausted(t *testing.T) {
	client := &scriptedLLM{
		responses: []*llm.ChatResponse{
			toolCallResponse("search_information_tool", map[string]any{"query": "laptop"}),
		},
	}
	exec := &fakeExecutor{results: map[string]string{"search_information_tool": "resultados"}}
	audit := &fakeAuditor{}
	a := testAgent(client, exec, &fakeAppender{}, audit, 3)

	var streamed strings.Builder
	res, err := a.Respond(context.Background(), "C123_abc", nil, "laptop", 3,
		func(token string) { streamed.WriteString(token) })
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if !res.Exhausted || res.Iterations != 3 {
		t.Errorf("result = %+v", res)
	}
	if res.Answer != apologyAnswer {
		t.Errorf("answer = %q, want apology", res.Answer)
	}
	if streamed.String() != apologyAnswer {
		t.Errorf("streamed = %q", streamed.String())
	}
	if len(exec.calls) != 3 {
		t.Errorf("tool executions = %d, want 3", len(exec.calls))
	}
	if len(audit.records) != 1 {
		t.Errorf("audit records = %d, want 1", len(audit.records))
	}
}

func TestRespond_LLMFailureStillAudited(t *testing.T) {
	client := &scriptedLLM{
		responses: []*llm.ChatResponse{nil},
		errs:      []error{errors.New("connection refused")},
	}
	store := &fakeAppender{}
	audit := &fakeAuditor{}
	a := testAgent(client, &fakeExecutor{}, store, audit, 40)

	if _, err := a.Respond(context.Background(), "C123_abc", nil, "hola", 3, nil); err == nil {
		t.Fatal("expected error")
	}

	// The human turn and the audit record survive the failure.
	if len(store.types) != 1 || store.types[0] != session.TypeHuman {
		t.Errorf("appended types = %v", store.types)
	}
	if len(audit.records) != 1 {
		t.Fatalf("audit records = %d, want 1", len(audit.records))
	}
	if audit.records[0].Answer != "" {
		t.Errorf("audited answer = %q, want empty", audit.records[0].Answer)
	}
	// With no backend counts, the input estimate covers the whole
	// prompt (system message included), not just the query.
	if audit.records[0].InputTokens <= usage.EstimateTokens("hola") {
		t.Errorf("fallback input tokens = %d, want the full prompt counted", audit.records[0].InputTokens)
	}
}

func TestRespond_PartialStreamKeptOnDisconnect(t *testing.T) {
	client := &scriptedLLM{
		responses: []*llm.ChatResponse{nil},
		errs:      []error{context.Canceled},
		streams:   [][]string{{"Tenemos la laptop ", "NBK123 disponible"}},
	}
	store := &fakeAppender{}
	audit := &fakeAuditor{}
	a := testAgent(client, &fakeExecutor{}, store, audit, 40)

	var streamed strings.Builder
	_, err := a.Respond(context.Background(), "C123_abc", nil, "¿venden laptops?", 3,
		func(token string) { streamed.WriteString(token) })
	if err == nil {
		t.Fatal("expected the stream failure to propagate")
	}

	want := "Tenemos la laptop NBK123 disponible"
	if streamed.String() != want {
		t.Fatalf("streamed = %q", streamed.String())
	}
	// Whatever the caller already saw must land in the transcript and
	// the audit trail, even though the exchange failed.
	if len(store.types) != 2 || store.types[1] != session.TypeAssistant || store.contents[1] != want {
		t.Errorf("appended turns = %v / %v", store.types, store.contents)
	}
	if len(audit.records) != 1 {
		t.Fatalf("audit records = %d, want 1", len(audit.records))
	}
	if audit.records[0].Answer != want {
		t.Errorf("audited answer = %q, want the partial stream", audit.records[0].Answer)
	}
	if audit.records[0].OutputTokens != usage.EstimateTokens(want) {
		t.Errorf("output tokens = %d, want estimate of the partial answer", audit.records[0].OutputTokens)
	}
}

func TestRespond_HistoryWindowed(t *testing.T) {
	client := &scriptedLLM{responses: []*llm.ChatResponse{finalResponse("ok")}}
	a := testAgent(client, &fakeExecutor{}, &fakeAppender{}, &fakeAuditor{}, 40)

	past := []session.Message{
		{Type: session.TypeHuman, Content: "hola"},
		{Type: session.TypeAssistant, Content: "¡Hola! ¿En qué ayudo?"},
	}
	if _, err := a.Respond(context.Background(), "C123_abc", past, "¿venden monitores?", 3, nil); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	msgs := client.calls[0]
	if msgs[0].Role != "system" {
		t.Fatalf("first message role = %q", msgs[0].Role)
	}
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want system+2 history+query", len(msgs))
	}
	if msgs[1].Role != "user" || msgs[2].Role != "assistant" {
		t.Errorf("history roles = %q, %q", msgs[1].Role, msgs[2].Role)
	}
	if msgs[3].Content != "¿venden monitores?" {
		t.Errorf("final message = %q", msgs[3].Content)
	}
}

func TestStreamGuard_HoldsToolCallJSON(t *testing.T) {
	var out strings.Builder
	g := newStreamGuard(func(tok string) { out.WriteString(tok) })

	for _, tok := range []string{`{"name":`, `"inventory_tool",`, `"arguments":{}}`} {
		g.write(tok)
	}
	if out.Len() != 0 {
		t.Errorf("tool-call JSON leaked to stream: %q", out.String())
	}
}

func TestStreamGuard_ForwardsNarrative(t *testing.T) {
	var out strings.Builder
	g := newStreamGuard(func(tok string) { out.WriteString(tok) })

	g.write("  ")
	g.write("Hola")
	g.write(" mundo")
	if out.String() != "  Hola mundo" {
		t.Errorf("streamed = %q", out.String())
	}
}

func TestStreamGuard_ReleaseEmitsHeldContent(t *testing.T) {
	var out strings.Builder
	g := newStreamGuard(func(tok string) { out.WriteString(tok) })

	g.write("<b>negritas</b>")
	if out.Len() != 0 {
		t.Fatalf("held content emitted early: %q", out.String())
	}
	g.release()
	if out.String() != "<b>negritas</b>" {
		t.Errorf("released = %q", out.String())
	}
	// Idempotent.
	g.release()
	if out.String() != "<b>negritas</b>" {
		t.Errorf("double release changed output: %q", out.String())
	}
}
