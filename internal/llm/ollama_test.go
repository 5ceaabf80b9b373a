package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestChatStream_AccumulatesTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		chunks := []string{
			`{"model":"gpt-4.1","message":{"role":"assistant","content":"Hola"},"done":false}`,
			`{"model":"gpt-4.1","message":{"role":"assistant","content":" mundo"},"done":false}`,
			`{"model":"gpt-4.1","message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":12,"eval_count":2}`,
		}
		for _, c := range chunks {
			w.Write([]byte(c + "\n"))
		}
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL)
	var streamed strings.Builder
	resp, err := c.ChatStream(context.Background(), "gpt-4.1",
		[]Message{{Role: "user", Content: "hola"}}, nil,
		func(token string) { streamed.WriteString(token) })
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	if streamed.String() != "Hola mundo" {
		t.Errorf("streamed = %q, want %q", streamed.String(), "Hola mundo")
	}
	if resp.Message.Content != "Hola mundo" {
		t.Errorf("final content = %q, want %q", resp.Message.Content, "Hola mundo")
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 2 {
		t.Errorf("tokens = %d/%d, want 12/2", resp.InputTokens, resp.OutputTokens)
	}
}

func TestChat_NativeToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"gpt-4.1","message":{"role":"assistant","content":"",` +
			`"tool_calls":[{"function":{"name":"inventory_tool","arguments":{"clave":"NBK123","listaPrecio":3}}}]},"done":true}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL)
	resp, err := c.Chat(context.Background(), "gpt-4.1", nil, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.Message.ToolCalls))
	}
	if resp.Message.ToolCalls[0].Function.Name != "inventory_tool" {
		t.Errorf("tool name = %q", resp.Message.ToolCalls[0].Function.Name)
	}
}

func TestChat_APIErrorSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL)
	_, err := c.Chat(context.Background(), "missing", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Errorf("error = %v, want body included", err)
	}
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"response":"relevante"}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL)
	got, err := c.Generate(context.Background(), "gemma3:12b", "clasifica", "¿venden laptops?",
		&GenerateOptions{NumPredict: 10})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "relevante" {
		t.Errorf("Generate = %q, want relevante", got)
	}
}

func TestParseTextToolCalls(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantName string
		wantNone bool
	}{
		{"object", `{"name":"status_tool","arguments":{"factura":"F-1"}}`, "status_tool", false},
		{"array", `[{"name":"who_are_we","arguments":{}}]`, "who_are_we", false},
		{"tagged", `<tool_call>{"name":"inventory_tool","arguments":{"clave":"X"}}</tool_call>`, "inventory_tool", false},
		{"plain text", "Aquí tienes tres opciones de laptop.", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTextToolCalls(tt.content)
			if tt.wantNone {
				if len(got) != 0 {
					t.Errorf("parseTextToolCalls = %v, want none", got)
				}
				return
			}
			if len(got) == 0 || got[0].Function.Name != tt.wantName {
				t.Errorf("parseTextToolCalls = %v, want name %q", got, tt.wantName)
			}
		})
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
