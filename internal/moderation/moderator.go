// Package moderation classifies inbound queries and runs the
// ban-escalation state machine. The cheap classification step gates
// the strictly more expensive tool-augmented reasoning loop, bounding
// both latency and cost of abusive or off-topic traffic.
//
// The moderator depends only on the narrow llm.Generator and BanStore
// interfaces, never on a concrete agent, so the moderator/agent import
// cycle of naive designs cannot form.
package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ctonline/salesagent/internal/llm"
	"github.com/ctonline/salesagent/internal/prompts"
	"github.com/ctonline/salesagent/internal/session"
)

// Label is the classification of one inbound query.
type Label string

const (
	LabelRelevant      Label = "relevante"
	LabelIrrelevant    Label = "irrelevante"
	LabelInappropriate Label = "inapropiado"

	// LabelUnknown means the classifier answered outside the taxonomy.
	// Callers reply with a reformulation request rather than guessing.
	LabelUnknown Label = "desconocido"
)

// BanStore is the slice of the session store the moderator needs.
type BanStore interface {
	ClearBan(ctx context.Context, sessionID string) error
}

// Moderator classifies queries and evaluates the escalation ladder.
type Moderator struct {
	classifier llm.Generator
	model      string
	store      BanStore
	logger     *slog.Logger
}

// New creates a Moderator. model is the cheap classification model.
func New(classifier llm.Generator, model string, store BanStore, logger *slog.Logger) *Moderator {
	return &Moderator{
		classifier: classifier,
		model:      model,
		store:      store,
		logger:     logger,
	}
}

// escalation maps the infraction count to a ban duration. The first
// infraction is a warning without a ban; from the seventh on the
// duration stays capped at seven days.
var escalation = map[int]time.Duration{
	1: 0,
	2: 1 * time.Minute,
	3: 3 * time.Minute,
	4: 10 * time.Minute,
	5: time.Hour,
	6: 24 * time.Hour,
	7: 7 * 24 * time.Hour,
}

// maxSanction is the cap applied for tries beyond the ladder.
const maxSanction = 7 * 24 * time.Hour

// forgiveness is the window after which an isolated slip is pardoned.
const forgiveness = time.Hour

// CheckIfBanned reports whether the session is currently restricted.
// While banned it returns the remaining-time message and true; no
// classification runs in that case. An expired ban is cleared through
// the store before returning — a clear failure propagates, because the
// caller must not proceed with stale ban state.
func (m *Moderator) CheckIfBanned(ctx context.Context, sess *session.Session) (string, bool, error) {
	until := sess.Ban.BannedUntil
	if until == nil {
		return "", false, nil
	}

	now := time.Now().UTC()
	if until.After(now) {
		remaining := until.Sub(now)
		hours := int(remaining.Hours())
		minutes := int(remaining.Minutes()) % 60
		msg := fmt.Sprintf(
			"Tu acceso sigue restringido por conducta inapropiada.\n\n"+
				"Podrás volver a usar el asistente en aproximadamente %d horas y %d minutos.",
			hours, minutes)
		return msg, true, nil
	}

	if err := m.store.ClearBan(ctx, sess.ID); err != nil {
		return "", false, fmt.Errorf("clear expired ban for %s: %w", sess.ID, err)
	}
	sess.Ban.BannedUntil = nil
	m.logger.Info("ban expired and cleared", "session", sess.ID)
	return "", false, nil
}

// Classify labels a query using the fixed taxonomy. The last few human
// turns accompany the query so short follow-ups classify correctly.
func (m *Moderator) Classify(ctx context.Context, query string, recentHumanTurns []string) (Label, error) {
	raw, err := m.classifier.Generate(ctx, m.model,
		prompts.Classification,
		prompts.ClassificationInput(query, recentHumanTurns),
		&llm.GenerateOptions{
			Temperature: 0,
			TopP:        0.8,
			TopK:        3,
			NumPredict:  10,
			NumCtx:      36000,
		})
	if err != nil {
		return LabelUnknown, fmt.Errorf("classify query: %w", err)
	}

	label := normalizeLabel(raw)
	m.logger.Debug("query classified", "label", string(label), "raw", raw)
	return label, nil
}

// normalizeLabel maps raw model output onto the taxonomy. Models
// occasionally wrap the word in quotes or punctuation.
func normalizeLabel(raw string) Label {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, "'\"`.¡!¿? \n")
	switch {
	case strings.HasPrefix(s, "relevante"):
		return LabelRelevant
	case strings.HasPrefix(s, "irrelevante"):
		return LabelIrrelevant
	case strings.HasPrefix(s, "inapropiado"):
		return LabelInappropriate
	default:
		return LabelUnknown
	}
}

// EvaluateInappropriate computes the sanction for one more infraction.
// It is a pure function of the prior ban state and the clock: the
// caller persists the result via the session store.
//
// Amnesty: when more than an hour has passed since the last infraction
// and the prior ban (if any) lasted under an hour, the count resets to
// one — an isolated slip long ago should not carry someone up the
// ladder forever.
func EvaluateInappropriate(ban session.BanState, now time.Time) (msg string, tries int, bannedUntil *time.Time) {
	tries = ban.InappropriateTries + 1

	if last := ban.LastInappropriate; last != nil && now.Sub(*last) > forgiveness {
		if prior := ban.BannedUntil; prior != nil {
			if prior.Sub(*last) < forgiveness {
				tries = 1
			}
		} else {
			// Warning only, no prior ban: also pardoned.
			tries = 1
		}
	}

	sanction, ok := escalation[tries]
	if !ok {
		sanction = maxSanction
	}

	if sanction > 0 {
		t := now.Add(sanction)
		bannedUntil = &t
	}

	switch {
	case sanction == 0:
		msg = WarningAnswer
	case sanction < time.Hour:
		msg = fmt.Sprintf("Se ha restringido temporalmente tu acceso por %d minutos debido a lenguaje inapropiado.",
			int(sanction.Minutes()))
	case sanction < 24*time.Hour:
		msg = fmt.Sprintf("Tu acceso ha sido bloqueado por %d hora debido a múltiples incidentes.",
			int(sanction.Hours()))
	case sanction < 7*24*time.Hour:
		msg = "Tu acceso ha sido bloqueado por 1 día debido a repetidas conductas inapropiadas."
	default:
		msg = "Tu acceso ha sido bloqueado por 7 días debido a reiteradas violaciones."
	}

	return msg, tries, bannedUntil
}

// PoliteAnswer is the fixed reply for irrelevant queries. No model is
// involved, which keeps the reply fast and its tone under control.
const PoliteAnswer = "Gracias por tu mensaje. Nuestra empresa se especializa exclusivamente en productos de tecnología y cómputo, " +
	"como laptops, impresoras, accesorios, redes, software y partes electrónicas.\n\n" +
	"Tu consulta no parece estar relacionada con este tipo de productos. " +
	"Por favor, intenta con una nueva pregunta enfocada en productos tecnológicos. " +
	"Estaremos encantados de ayudarte. 😊"

// WarningAnswer is the first-infraction reply, before any ban applies.
const WarningAnswer = "Hemos detectado que tu mensaje contiene lenguaje o contenido inapropiado. " +
	"Te pedimos mantener un lenguaje respetuoso y adecuado.\n\n" +
	"Si continúas con este tipo de mensajes, podríamos restringir tu acceso al servicio. " +
	"Por favor, formula tus preguntas de manera cordial para que podamos ayudarte con gusto."

// FallbackAnswer is returned when the classifier output is unusable.
const FallbackAnswer = "Lo siento, no entendí tu mensaje. ¿Podrías reformularlo?"
