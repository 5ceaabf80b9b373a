// Package responder is the front door for one chat exchange: it
// ensures the session exists, gates on active bans, classifies the
// query, and routes to the reasoning loop or a canned reply.
package responder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ctonline/salesagent/internal/agent"
	"github.com/ctonline/salesagent/internal/history"
	"github.com/ctonline/salesagent/internal/llm"
	"github.com/ctonline/salesagent/internal/moderation"
	"github.com/ctonline/salesagent/internal/session"
	"github.com/ctonline/salesagent/internal/usage"
)

// classificationContext is how many prior human turns accompany the
// query into the classifier, so short follow-ups resolve correctly.
const classificationContext = 5

// SessionStore is the session surface the responder needs.
type SessionStore interface {
	EnsureSession(ctx context.Context, id string) (*session.Session, error)
	History(ctx context.Context, id string) ([]session.Message, error)
	AppendMessage(ctx context.Context, id, msgType, content string, metadata map[string]any) error
	RecordInfraction(ctx context.Context, id string, tries int, bannedUntil *time.Time) error
}

// Moderation gates and classifies queries.
type Moderation interface {
	CheckIfBanned(ctx context.Context, sess *session.Session) (string, bool, error)
	Classify(ctx context.Context, query string, recentHumanTurns []string) (moderation.Label, error)
}

// Runner drives the reasoning loop for relevant queries.
type Runner interface {
	Respond(ctx context.Context, sessionID string, past []session.Message, query string, listaPrecio int, emit llm.StreamCallback) (*agent.Result, error)
}

// Auditor persists exchange records for canned replies; the reasoning
// loop audits its own exchanges.
type Auditor interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Responder orchestrates one exchange end to end.
type Responder struct {
	sessions  SessionStore
	moderator Moderation
	runner    Runner
	audit     Auditor
	logger    *slog.Logger
}

// New creates a Responder.
func New(sessions SessionStore, moderator Moderation, runner Runner, audit Auditor, logger *slog.Logger) *Responder {
	return &Responder{
		sessions:  sessions,
		moderator: moderator,
		runner:    runner,
		audit:     audit,
		logger:    logger,
	}
}

// Respond handles one user query and streams the reply through emit.
// The returned string is the complete answer.
func (r *Responder) Respond(ctx context.Context, sessionID, query string, listaPrecio int, emit llm.StreamCallback) (string, error) {
	sess, err := r.sessions.EnsureSession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("ensure session %s: %w", sessionID, err)
	}

	banMsg, banned, err := r.moderator.CheckIfBanned(ctx, sess)
	if err != nil {
		return "", err
	}
	if banned {
		// Banned sessions get the remaining-time notice and nothing
		// else; the exchange is not recorded as conversation.
		if emit != nil {
			emit(banMsg)
		}
		return banMsg, nil
	}

	past, err := r.sessions.History(ctx, sessionID)
	if err != nil {
		// A missing transcript degrades quality, not correctness.
		r.logger.Warn("history load failed, continuing without context", "session", sessionID, "error", err)
		past = nil
	}

	label, err := r.moderator.Classify(ctx, query, history.LastHumanTurns(past, classificationContext))
	if err != nil {
		r.logger.Error("classification failed", "session", sessionID, "error", err)
		label = moderation.LabelUnknown
	}

	switch label {
	case moderation.LabelRelevant:
		res, err := r.runner.Respond(ctx, sessionID, past, query, listaPrecio, emit)
		if err != nil {
			return "", err
		}
		return res.Answer, nil

	case moderation.LabelIrrelevant:
		return r.cannedReply(ctx, sessionID, query, moderation.PoliteAnswer, emit)

	case moderation.LabelInappropriate:
		return r.sanction(ctx, sess, query, emit)

	default:
		return r.cannedReply(ctx, sessionID, query, moderation.FallbackAnswer, emit)
	}
}

// sanction advances the escalation ladder and persists the new ban
// state. Persisting MUST succeed before the user sees the sanction:
// a ban that exists only in a reply is no ban at all.
func (r *Responder) sanction(ctx context.Context, sess *session.Session, query string, emit llm.StreamCallback) (string, error) {
	msg, tries, bannedUntil := moderation.EvaluateInappropriate(sess.Ban, time.Now().UTC())

	if err := r.sessions.RecordInfraction(ctx, sess.ID, tries, bannedUntil); err != nil {
		return "", fmt.Errorf("record infraction for %s: %w", sess.ID, err)
	}

	r.logger.Info("inappropriate query sanctioned",
		"session", sess.ID,
		"tries", tries,
		"banned", bannedUntil != nil,
	)

	r.recordCanned(sess.ID, query, msg)
	if emit != nil {
		emit(msg)
	}
	return msg, nil
}

// cannedReply answers without the reasoning loop, still keeping the
// transcript and audit trail complete.
func (r *Responder) cannedReply(ctx context.Context, sessionID, query, answer string, emit llm.StreamCallback) (string, error) {
	if err := r.sessions.AppendMessage(ctx, sessionID, session.TypeHuman, query, nil); err != nil {
		r.logger.Error("append human turn failed", "session", sessionID, "error", err)
	}
	if err := r.sessions.AppendMessage(ctx, sessionID, session.TypeAssistant, answer, nil); err != nil {
		r.logger.Error("append assistant turn failed", "session", sessionID, "error", err)
	}

	r.recordCanned(sessionID, query, answer)
	if emit != nil {
		emit(answer)
	}
	return answer, nil
}

// recordCanned audits a no-model exchange with a background context so
// caller aborts never lose the record.
func (r *Responder) recordCanned(sessionID, query, answer string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec := usage.Record{
		SessionID: sessionID,
		Question:  query,
		Answer:    answer,
		Model:     "none",
		Relevant:  false,
	}
	if err := r.audit.Record(ctx, rec); err != nil {
		r.logger.Error("usage record failed", "session", sessionID, "error", err)
	}
}
