package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// Schema is the SQL DDL for the people table. SFace embeddings are 128-dim.
// Executed via [PGStore.Migrate] or applied manually during deployment.
const Schema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS people (
    name      TEXT PRIMARY KEY,
    embedding vector(128) NOT NULL,
    last_seen TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Compile-time assertion that PGStore satisfies Store.
var _ Store = (*PGStore)(nil)

// PGStore is a Store backed by PostgreSQL with the pgvector extension.
// Nearest-neighbour matching runs in the database via the <-> (L2 distance)
// operator, so several kiosks can share one memory.
type PGStore struct {
	pool      *pgxpool.Pool
	threshold float64
}

// NewPGStore connects to the database at dsn and ensures the schema exists.
func NewPGStore(ctx context.Context, dsn string, threshold float64) (*PGStore, error) {
	if dsn == "" {
		return nil, errors.New("identity: postgres DSN must not be empty")
	}
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("identity: connect postgres: %w", err)
	}

	s := &PGStore{pool: pool, threshold: threshold}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	slog.Info("identity postgres store opened")
	return s, nil
}

// Migrate executes the [Schema] DDL.
func (s *PGStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("identity: migrate: %w", err)
	}
	return nil
}

// Match implements Store.
func (s *PGStore) Match(ctx context.Context, embedding []float32) (*Person, bool, error) {
	const q = `
		SELECT name, embedding, last_seen, embedding <-> $1 AS distance
		FROM people
		ORDER BY distance ASC, last_seen DESC
		LIMIT 1`

	var (
		p    Person
		vec  pgvector.Vector
		dist float64
	)
	err := s.pool.QueryRow(ctx, q, pgvector.NewVector(embedding)).
		Scan(&p.Name, &vec, &p.LastSeen, &dist)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("identity: match query: %w", err)
	}
	if dist >= s.threshold {
		return nil, false, nil
	}
	p.Embedding = vec.Slice()
	return &p, true, nil
}

// Enroll implements Store. The phonetic duplicate check runs client-side over
// the (small) people table; the upsert itself is atomic.
func (s *PGStore) Enroll(ctx context.Context, name string, embedding []float32) (*Person, error) {
	if name == "" {
		return nil, errors.New("identity: enroll name must not be empty")
	}

	existing, err := s.People(ctx)
	if err != nil {
		return nil, err
	}
	target := name
	for _, p := range existing {
		if SameName(p.Name, name) {
			target = p.Name
			break
		}
	}
	if target == name {
		// Same face under a new name updates the nearest record.
		if match, ok, err := s.Match(ctx, embedding); err != nil {
			return nil, err
		} else if ok {
			target = match.Name
		}
	}

	now := time.Now()
	if target != name {
		// Rename the existing record to the freshly-spoken name.
		const q = `UPDATE people SET name = $1, embedding = $2, last_seen = $3 WHERE name = $4`
		if _, err := s.pool.Exec(ctx, q, name, pgvector.NewVector(embedding), now, target); err != nil {
			return nil, fmt.Errorf("identity: update person: %w", err)
		}
	} else {
		const q = `
			INSERT INTO people (name, embedding, last_seen) VALUES ($1, $2, $3)
			ON CONFLICT (name) DO UPDATE SET
			    embedding = EXCLUDED.embedding,
			    last_seen = EXCLUDED.last_seen`
		if _, err := s.pool.Exec(ctx, q, name, pgvector.NewVector(embedding), now); err != nil {
			return nil, fmt.Errorf("identity: upsert person: %w", err)
		}
	}

	slog.Info("person enrolled", "name", name)
	return &Person{Name: name, Embedding: embedding, LastSeen: now}, nil
}

// Touch implements Store.
func (s *PGStore) Touch(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE people SET last_seen = now() WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("identity: touch person: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("identity: unknown person %q", name)
	}
	return nil
}

// People implements Store.
func (s *PGStore) People(ctx context.Context) ([]Person, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, embedding, last_seen FROM people ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("identity: list people: %w", err)
	}
	defer rows.Close()

	var out []Person
	for rows.Next() {
		var (
			p   Person
			vec pgvector.Vector
		)
		if err := rows.Scan(&p.Name, &vec, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("identity: scan person: %w", err)
		}
		p.Embedding = vec.Slice()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("identity: iterate people: %w", err)
	}
	return out, nil
}

// Close implements Store.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
