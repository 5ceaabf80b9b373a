package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Record is the audit row for one question/answer exchange.
type Record struct {
	ID           string
	Timestamp    time.Time
	SessionID    string
	Question     string
	Answer       string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	DurationSecs float64
	TokensPerSec float64
	Relevant     bool
}

// TotalTokens is the combined input and output count.
func (r Record) TotalTokens() int { return r.InputTokens + r.OutputTokens }

// Summary holds aggregated usage totals for a time range.
type Summary struct {
	TotalRecords      int
	TotalInputTokens  int64
	TotalOutputTokens int64
	TotalCostUSD      float64
}

// Store is an append-only SQLite store for exchange audit records. All
// public methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// NewStore creates an audit store at the given database path. The
// schema is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS usage_records (
		id             TEXT PRIMARY KEY,
		timestamp      TEXT NOT NULL,
		session_id     TEXT NOT NULL,
		question       TEXT NOT NULL,
		answer         TEXT NOT NULL,
		model          TEXT NOT NULL,
		input_tokens   INTEGER NOT NULL,
		output_tokens  INTEGER NOT NULL,
		total_tokens   INTEGER NOT NULL,
		cost_usd       REAL NOT NULL,
		duration_secs  REAL NOT NULL,
		tokens_per_sec REAL NOT NULL,
		relevant       INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_usage_session ON usage_records(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists an audit record. If rec.ID is empty, a UUIDv7 is
// generated. The context is used for cancellation only.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records
			(id, timestamp, session_id, question, answer, model,
			 input_tokens, output_tokens, total_tokens, cost_usd,
			 duration_secs, tokens_per_sec, relevant)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.SessionID,
		rec.Question,
		rec.Answer,
		rec.Model,
		rec.InputTokens,
		rec.OutputTokens,
		rec.TotalTokens(),
		rec.CostUSD,
		rec.DurationSecs,
		rec.TokensPerSec,
		rec.Relevant,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// BySession returns the most recent records for one session, newest
// first, up to limit.
func (s *Store) BySession(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, session_id, question, answer, model,
		        input_tokens, output_tokens, cost_usd, duration_secs,
		        tokens_per_sec, relevant
		 FROM usage_records
		 WHERE session_id = ?
		 ORDER BY timestamp DESC
		 LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query usage by session: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var ts string
		if err := rows.Scan(&rec.ID, &ts, &rec.SessionID, &rec.Question, &rec.Answer,
			&rec.Model, &rec.InputTokens, &rec.OutputTokens, &rec.CostUSD,
			&rec.DurationSecs, &rec.TokensPerSec, &rec.Relevant); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			rec.Timestamp = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SummaryRange aggregates totals over [start, end).
func (s *Store) SummaryRange(ctx context.Context, start, end time.Time) (Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(input_tokens), 0),
		        COALESCE(SUM(output_tokens), 0),
		        COALESCE(SUM(cost_usd), 0)
		 FROM usage_records
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339),
	).Scan(&sum.TotalRecords, &sum.TotalInputTokens, &sum.TotalOutputTokens, &sum.TotalCostUSD)
	if err != nil {
		return Summary{}, fmt.Errorf("query usage summary: %w", err)
	}
	return sum, nil
}
