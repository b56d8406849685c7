// Package transcriptlog persists committed conversation turns to SQLite.
//
// The log is strictly write-behind: the orchestrator appends a turn only after
// it has fully committed, and a failed write degrades to a log line rather
// than failing the turn. Interrupted or discarded turns never appear here.
package transcriptlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Turn is one committed utterance or reply.
type Turn struct {
	ID        int64
	Role      string // "user" or "assistant"
	Name      string // speaker name when known, empty otherwise
	Text      string
	CreatedAt time.Time
}

// Store wraps the SQLite-backed turn log.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Open creates or opens the turn log at path, creating parent directories as
// needed. The database runs in WAL mode so the single writer never blocks a
// concurrent reader.
func Open(ctx context.Context, path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("transcriptlog: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("transcriptlog: open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("transcriptlog: ping sqlite: %w", err)
	}

	s := &Store{db: db, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("transcriptlog: init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    role TEXT NOT NULL,
    name TEXT,
    text TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_turns_created ON turns(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// LogTurn appends one committed turn.
func (s *Store) LogTurn(ctx context.Context, role, name, text string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns(role, name, text, created_at) VALUES(?, ?, ?, ?)`,
		role, name, text, s.clock().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("transcriptlog: append turn: %w", err)
	}
	return nil
}

// Recent retrieves up to limit turns, oldest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, name, text, created_at FROM turns
		 ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("transcriptlog: query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var created string
		if err := rows.Scan(&t.ID, &t.Role, &t.Name, &t.Text, &created); err != nil {
			return nil, fmt.Errorf("transcriptlog: scan turn: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			t.CreatedAt = ts
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Ping reports whether the database handle is still usable. Used by the
// readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
