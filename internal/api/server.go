// Package api implements the HTTP transport: the streaming chat
// endpoint, history read/delete, and the internal index reload hook.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ctonline/salesagent/internal/buildinfo"
	"github.com/ctonline/salesagent/internal/llm"
	"github.com/ctonline/salesagent/internal/session"
)

// Chatter handles one moderated exchange.
type Chatter interface {
	Respond(ctx context.Context, sessionID, query string, listaPrecio int, emit llm.StreamCallback) (string, error)
}

// HistoryStore reads and clears conversation transcripts.
type HistoryStore interface {
	History(ctx context.Context, id string) ([]session.Message, error)
	ClearHistory(ctx context.Context, id string) (bool, error)
}

// PriceLists resolves client keys to price lists.
type PriceLists interface {
	PriceList(ctx context.Context, clienteClave string) (int, error)
}

// Reloader rebuilds the semantic index stores.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Server is the HTTP API server.
type Server struct {
	chatter    Chatter
	sessions   HistoryStore
	priceLists PriceLists
	reloader   Reloader
	logger     *slog.Logger
	server     *http.Server
}

// NewServer wires the transport. listen is a host:port address.
func NewServer(listen string, chatter Chatter, sessions HistoryStore, priceLists PriceLists, reloader Reloader, logger *slog.Logger) *Server {
	s := &Server{
		chatter:    chatter,
		sessions:   sessions,
		priceLists: priceLists,
		reloader:   reloader,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/chat", s.handleChat)
	r.Get("/history/{id}", s.handleGetHistory)
	r.Delete("/history/{id}", s.handleDeleteHistory)
	r.Post("/internal/reload_vectorstores", s.handleReload)
	r.Get("/healthz", s.handleHealth)

	s.server = &http.Server{
		Addr:              listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.server.Addr, "version", buildinfo.Version)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, logger *slog.Logger) {
	writeJSON(w, status, map[string]string{"detail": msg}, logger)
}

type chatRequest struct {
	UserQuery    string `json:"user_query"`
	UserID       string `json:"user_id"`
	ClienteClave string `json:"cliente_clave"`
}

// resolvePriceList turns the request's client key into a price list.
// Pure digits pass through as an explicit list id; anything else is a
// client key resolved against the catalog.
func (s *Server) resolvePriceList(ctx context.Context, clave string) (int, error) {
	clave = strings.TrimSpace(clave)
	if clave == "" {
		return 0, fmt.Errorf("cliente_clave is required")
	}
	if n, err := strconv.Atoi(clave); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("invalid price list %d", n)
		}
		return n, nil
	}
	return s.priceLists.PriceList(ctx, clave)
}

// handleChat streams the assistant's reply as chunked text. The
// price-list gate runs before any moderation or model work.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", s.logger)
		return
	}
	if strings.TrimSpace(req.UserQuery) == "" || strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_query and user_id are required", s.logger)
		return
	}

	listaPrecio, err := s.resolvePriceList(r.Context(), req.ClienteClave)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Clave no válida. Verifique e intente de nuevo.", s.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", s.logger)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	emit := func(token string) {
		if _, werr := w.Write([]byte(token)); werr != nil {
			return
		}
		flusher.Flush()
	}

	if _, err := s.chatter.Respond(r.Context(), req.UserID, req.UserQuery, listaPrecio, emit); err != nil {
		// Headers are gone; best we can do is log and append an
		// apology the client can render.
		s.logger.Error("chat exchange failed", "session", req.UserID, "error", err)
		emit("\n\nLo siento, ocurrió un error al procesar tu mensaje.")
	}
}

type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	msgs, err := s.sessions.History(r.Context(), id)
	if err != nil {
		s.logger.Error("history read failed", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, "history unavailable", s.logger)
		return
	}

	entries := make([]historyEntry, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if m.Type == session.TypeAssistant {
			role = "bot"
		}
		entries = append(entries, historyEntry{Role: role, Content: m.Content})
	}
	writeJSON(w, http.StatusOK, entries, s.logger)
}

func (s *Server) handleDeleteHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := s.sessions.ClearHistory(r.Context(), id)
	if err != nil {
		s.logger.Error("history delete failed", "session", id, "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted}, s.logger)
}

// handleReload rebuilds the semantic index stores. Internal endpoint;
// rebuilds are slow, so the handler waits and reports the outcome.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := s.reloader.Reload(r.Context()); err != nil {
		s.logger.Error("vector store reload failed", "error", err)
		writeError(w, http.StatusBadGateway, "reload failed", s.logger)
		return
	}
	s.logger.Info("vector stores reloaded", "elapsed", time.Since(start).Round(time.Millisecond))
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info(), s.logger)
}
