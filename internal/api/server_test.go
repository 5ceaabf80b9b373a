package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ctonline/salesagent/internal/llm"
	"github.com/ctonline/salesagent/internal/session"
)

type fakeChatter struct {
	answer     string
	err        error
	gotSession string
	gotQuery   string
	gotLista   int
}

func (f *fakeChatter) Respond(ctx context.Context, sessionID, query string, listaPrecio int, emit llm.StreamCallback) (string, error) {
	f.gotSession = sessionID
	f.gotQuery = query
	f.gotLista = listaPrecio
	if f.err != nil {
		return "", f.err
	}
	if emit != nil {
		for _, chunk := range strings.SplitAfter(f.answer, " ") {
			emit(chunk)
		}
	}
	return f.answer, nil
}

type fakeHistory struct {
	msgs    []session.Message
	deleted bool
	err     error
}

func (f *fakeHistory) History(ctx context.Context, id string) ([]session.Message, error) {
	return f.msgs, f.err
}

func (f *fakeHistory) ClearHistory(ctx context.Context, id string) (bool, error) {
	return f.deleted, f.err
}

type fakePriceLists struct {
	lists map[string]int
}

func (f *fakePriceLists) PriceList(ctx context.Context, clave string) (int, error) {
	if lista, ok := f.lists[clave]; ok {
		return lista, nil
	}
	return 0, errors.New("not found")
}

type fakeReloader struct {
	calls int
	err   error
}

func (f *fakeReloader) Reload(ctx context.Context) error {
	f.calls++
	return f.err
}

func testServer(chatter *fakeChatter, hist *fakeHistory, prices *fakePriceLists, reloader *fakeReloader) *Server {
	if chatter == nil {
		chatter = &fakeChatter{answer: "ok"}
	}
	if hist == nil {
		hist = &fakeHistory{}
	}
	if prices == nil {
		prices = &fakePriceLists{lists: map[string]int{"C123": 3}}
	}
	if reloader == nil {
		reloader = &fakeReloader{}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer("127.0.0.1:0", chatter, hist, prices, reloader, logger)
}

func TestChat_StreamsAnswer(t *testing.T) {
	chatter := &fakeChatter{answer: "Hola, tenemos laptops."}
	srv := testServer(chatter, nil, nil, nil)

	body := `{"user_query":"¿venden laptops?","user_id":"C123_abc","cliente_clave":"C123"}`
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Body.String(); got != "Hola, tenemos laptops." {
		t.Errorf("body = %q", got)
	}
	if chatter.gotLista != 3 {
		t.Errorf("price list = %d, want 3 (resolved from C123)", chatter.gotLista)
	}
	if chatter.gotSession != "C123_abc" {
		t.Errorf("session = %q", chatter.gotSession)
	}
}

func TestChat_NumericClaveIsDirectPriceList(t *testing.T) {
	chatter := &fakeChatter{answer: "ok"}
	srv := testServer(chatter, nil, &fakePriceLists{}, nil)

	body := `{"user_query":"hola","user_id":"C123_abc","cliente_clave":"7"}`
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if chatter.gotLista != 7 {
		t.Errorf("price list = %d, want 7", chatter.gotLista)
	}
}

func TestChat_UnknownClaveIs400(t *testing.T) {
	srv := testServer(nil, nil, &fakePriceLists{}, nil)

	body := `{"user_query":"hola","user_id":"C123_abc","cliente_clave":"NOPE"}`
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Clave no válida") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestChat_MissingFieldsIs400(t *testing.T) {
	srv := testServer(nil, nil, nil, nil)

	body := `{"user_query":"","user_id":"C123_abc","cliente_clave":"C123"}`
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetHistory_RolesMapped(t *testing.T) {
	hist := &fakeHistory{msgs: []session.Message{
		{Type: session.TypeHuman, Content: "hola"},
		{Type: session.TypeAssistant, Content: "¡Hola! ¿En qué ayudo?"},
	}}
	srv := testServer(nil, hist, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/history/C123_abc", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var entries []historyEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Role != "user" || entries[1].Role != "bot" {
		t.Errorf("roles = %q, %q, want user/bot", entries[0].Role, entries[1].Role)
	}
}

func TestGetHistory_EmptyIsArray(t *testing.T) {
	srv := testServer(nil, &fakeHistory{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/history/nobody", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestDeleteHistory(t *testing.T) {
	srv := testServer(nil, &fakeHistory{deleted: true}, nil, nil)

	req := httptest.NewRequest(http.MethodDelete, "/history/C123_abc", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"deleted":true`) {
		t.Errorf("body = %q", rec.Body.String())
	}

	// Idempotent: a second delete reports deleted=false, same status.
	srv = testServer(nil, &fakeHistory{deleted: false}, nil, nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/history/C123_abc", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"deleted":false`) {
		t.Errorf("second delete = %d %q", rec.Code, rec.Body.String())
	}
}

func TestReloadVectorstores(t *testing.T) {
	reloader := &fakeReloader{}
	srv := testServer(nil, nil, nil, reloader)

	req := httptest.NewRequest(http.MethodPost, "/internal/reload_vectorstores", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if reloader.calls != 1 {
		t.Errorf("reload calls = %d, want 1", reloader.calls)
	}

	reloader.err = errors.New("index offline")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/reload_vectorstores", nil))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv := testServer(nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "version") {
		t.Errorf("body = %q", rec.Body.String())
	}
}
