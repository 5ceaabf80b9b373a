// Package session persists per-user bounded conversation history and
// ban state, keyed by an opaque scoped session id.
//
// The store distinguishes two failure classes on purpose: message
// appends are best-effort (callers log and continue, losing one history
// entry is acceptable), while ban-state writes always propagate their
// error — silently losing a ban would defeat moderation entirely.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrBanPersist marks a failed write of moderation state. Callers
// branch on it with [errors.Is]: a sanction the store never accepted
// must not be shown to the user.
var ErrBanPersist = errors.New("ban state not persisted")

// Message types stored in session history.
const (
	TypeHuman     = "human"
	TypeAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Type      string         `json:"type"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// BanState tracks moderation escalation for one session.
// If BannedUntil is set it is the authoritative gate; once it has
// passed it must be cleared (via ClearBan) before further evaluation.
type BanState struct {
	InappropriateTries int
	LastInappropriate  *time.Time
	BannedUntil        *time.Time
}

// Session is the persisted per-user document. Messages are loaded
// separately via History to keep the hot ban-check path cheap.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time
	Ban          BanState
}

// Store is a SQLite-backed session store. All public methods are safe
// for concurrent use; writes for the same session are additionally
// serialized through a per-session lock so the append/sort/truncate
// invariant holds under concurrent writers, not just store atomicity.
type Store struct {
	db          *sql.DB
	maxMessages int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore opens (or creates) the session database at dbPath.
// maxMessages caps stored history per session; values <= 0 default to 24.
func NewStore(dbPath string, maxMessages int) (*Store, error) {
	if maxMessages <= 0 {
		maxMessages = 24
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}

	s := &Store{
		db:          db,
		maxMessages: maxMessages,
		locks:       make(map[string]*sync.Mutex),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate session schema: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id          TEXT PRIMARY KEY,
		created_at          TIMESTAMP NOT NULL,
		last_activity       TIMESTAMP NOT NULL,
		inappropriate_tries INTEGER NOT NULL DEFAULT 0,
		last_inappropriate  TIMESTAMP,
		banned_until        TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		type       TEXT NOT NULL,
		content    TEXT NOT NULL,
		timestamp  TIMESTAMP NOT NULL,
		metadata   TEXT,
		FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// sessionLock returns the write lock for one session id.
func (s *Store) sessionLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// EnsureSession upserts the session row, refreshes last_activity, and
// returns the current document. Idempotent and safe under concurrent
// calls for the same id.
func (s *Store) EnsureSession(ctx context.Context, id string) (*Session, error) {
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (session_id, created_at, last_activity) VALUES (?, ?, ?)`,
		id, now, now)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ? WHERE session_id = ?`, now, id)
	if err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}

	return s.Get(ctx, id)
}

// Get returns the session document, or an error if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, created_at, last_activity, inappropriate_tries, last_inappropriate, banned_until
		 FROM sessions WHERE session_id = ?`, id)

	var sess Session
	var lastInappropriate, bannedUntil sql.NullTime
	err := row.Scan(&sess.ID, &sess.CreatedAt, &sess.LastActivity,
		&sess.Ban.InappropriateTries, &lastInappropriate, &bannedUntil)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if lastInappropriate.Valid {
		t := lastInappropriate.Time
		sess.Ban.LastInappropriate = &t
	}
	if bannedUntil.Valid {
		t := bannedUntil.Time
		sess.Ban.BannedUntil = &t
	}
	return &sess, nil
}

// History returns the bounded message list in chronological order.
func (s *Store) History(ctx context.Context, id string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, content, timestamp, metadata
		 FROM messages WHERE session_id = ?
		 ORDER BY timestamp ASC, id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var metadata sql.NullString
		if err := rows.Scan(&m.Type, &m.Content, &m.Timestamp, &metadata); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			// Metadata is informational; a corrupt blob should not hide
			// the message itself.
			_ = json.Unmarshal([]byte(metadata.String), &m.Metadata)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AppendMessage pushes one message, re-establishes timestamp order, and
// truncates to the newest maxMessages entries, all in one transaction.
// Callers treat failures as non-fatal to the exchange.
func (s *Store) AppendMessage(ctx context.Context, id, msgType, content string, metadata map[string]any) error {
	if msgType != TypeHuman && msgType != TypeAssistant {
		return fmt.Errorf("invalid message type %q", msgType)
	}

	lock := s.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	msgID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate message id: %w", err)
	}

	var metaJSON sql.NullString
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metaJSON = sql.NullString{String: string(b), Valid: true}
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (session_id, created_at, last_activity) VALUES (?, ?, ?)`,
		id, now, now)
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, type, content, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msgID.String(), id, msgType, content, now, metaJSON)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	// Keep only the newest maxMessages by timestamp. UUIDv7 ids are
	// time-ordered, so the id tiebreak keeps same-timestamp appends stable.
	_, err = tx.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id = ? AND id NOT IN (
			SELECT id FROM messages WHERE session_id = ?
			ORDER BY timestamp DESC, id DESC LIMIT ?
		)`, id, id, s.maxMessages)
	if err != nil {
		return fmt.Errorf("truncate history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// ClearHistory empties the message list for a session. The returned
// bool reports whether any messages existed; it is for logging only —
// the operation is idempotent either way.
func (s *Store) ClearHistory(ctx context.Context, id string) (bool, error) {
	lock := s.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("clear history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("clear history rows: %w", err)
	}
	return n > 0, nil
}

// RecordInfraction upserts the moderation counters for a session.
// bannedUntil may be nil (warning without a ban). Unlike message
// appends, any error here MUST be propagated by callers.
func (s *Store) RecordInfraction(ctx context.Context, id string, tries int, bannedUntil *time.Time) error {
	now := time.Now().UTC()

	lock := s.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (session_id, created_at, last_activity) VALUES (?, ?, ?)`,
		id, now, now)
	if err != nil {
		return fmt.Errorf("ensure session for infraction: %w: %w", ErrBanPersist, err)
	}

	var until sql.NullTime
	if bannedUntil != nil {
		until = sql.NullTime{Time: bannedUntil.UTC(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET inappropriate_tries = ?, last_inappropriate = ?, banned_until = ?
		 WHERE session_id = ?`,
		tries, now, until, id)
	if err != nil {
		return fmt.Errorf("record infraction: %w: %w", ErrBanPersist, err)
	}
	return nil
}

// ClearBan unsets banned_until for a session. Called once a ban has
// expired; idempotent. Errors propagate — the same contract as
// RecordInfraction.
func (s *Store) ClearBan(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET banned_until = NULL WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("clear ban: %w: %w", ErrBanPersist, err)
	}
	return nil
}

// Stats returns store counters for diagnostics.
func (s *Store) Stats(ctx context.Context) (map[string]any, error) {
	var sessions, messages int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&sessions); err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&messages); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	return map[string]any{
		"sessions":     sessions,
		"messages":     messages,
		"max_per_sess": s.maxMessages,
	}, nil
}
