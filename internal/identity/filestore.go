package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Compile-time assertion that FileStore satisfies Store.
var _ Store = (*FileStore)(nil)

// FileStore keeps the identity records in a single JSON file. Every mutation
// rewrites the whole file through a temp file and os.Rename, so a crash
// mid-write can never leave a torn store behind.
type FileStore struct {
	path      string
	threshold float64

	mu     sync.RWMutex
	people []Person
}

// fileSchema is the on-disk layout. Versioned so a future format change can
// migrate old stores instead of discarding them.
type fileSchema struct {
	Version int      `json:"version"`
	People  []Person `json:"people"`
}

const fileSchemaVersion = 1

// NewFileStore opens (or initialises) the store at path. An unreadable or
// corrupt file is logged and replaced by an empty store on the next write;
// the kiosk keeps running without memories rather than refusing to start.
func NewFileStore(path string, threshold float64) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("identity: store path must not be empty")
	}
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}

	s := &FileStore{path: path, threshold: threshold}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run.
	case err != nil:
		slog.Warn("identity store unreadable, starting empty", "path", path, "error", err)
	default:
		var schema fileSchema
		if err := json.Unmarshal(data, &schema); err != nil {
			slog.Warn("identity store corrupt, starting empty", "path", path, "error", err)
		} else {
			s.people = schema.People
		}
	}

	slog.Info("identity file store opened", "path", path, "people", len(s.people))
	return s, nil
}

// Match implements Store. Read-only; LastSeen updates go through Touch.
func (s *FileStore) Match(ctx context.Context, embedding []float32) (*Person, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := s.nearestLocked(embedding)
	if best < 0 {
		return nil, false, nil
	}
	p := s.people[best]
	return &p, true, nil
}

// nearestLocked returns the index of the closest person under the threshold,
// or -1. Caller holds at least the read lock.
func (s *FileStore) nearestLocked(embedding []float32) int {
	best := -1
	bestDist := s.threshold
	for i := range s.people {
		d := euclidean(embedding, s.people[i].Embedding)
		if d < bestDist || (d == bestDist && best >= 0 && s.people[i].LastSeen.After(s.people[best].LastSeen)) {
			best = i
			bestDist = d
		}
	}
	return best
}

// Enroll implements Store. An embedding-matched or phonetically-equal name
// updates the existing record in place.
func (s *FileStore) Enroll(ctx context.Context, name string, embedding []float32) (*Person, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errors.New("identity: enroll name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	idx := -1
	for i := range s.people {
		if SameName(s.people[i].Name, name) {
			idx = i
			break
		}
	}
	if idx < 0 {
		// The same face under a new name also updates the existing record:
		// the spoken name wins over the remembered spelling.
		if n := s.nearestLocked(embedding); n >= 0 {
			idx = n
		}
	}

	if idx >= 0 {
		s.people[idx].Name = name
		s.people[idx].Embedding = embedding
		s.people[idx].LastSeen = now
	} else {
		s.people = append(s.people, Person{Name: name, Embedding: embedding, LastSeen: now})
		idx = len(s.people) - 1
	}

	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	p := s.people[idx]
	slog.Info("person enrolled", "name", name, "people", len(s.people))
	return &p, nil
}

// Touch implements Store.
func (s *FileStore) Touch(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.people {
		if s.people[i].Name == name {
			s.people[i].LastSeen = time.Now()
			return s.persistLocked()
		}
	}
	return fmt.Errorf("identity: unknown person %q", name)
}

// People implements Store.
func (s *FileStore) People(ctx context.Context) ([]Person, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Person, len(s.people))
	copy(out, s.people)
	return out, nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

// persistLocked rewrites the store atomically. Caller holds the write lock.
func (s *FileStore) persistLocked() error {
	data, err := json.MarshalIndent(fileSchema{Version: fileSchemaVersion, People: s.people}, "", "  ")
	if err != nil {
		return fmt.Errorf("identity: marshal store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".identity-*.json")
	if err != nil {
		return fmt.Errorf("identity: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("identity: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("identity: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("identity: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("identity: replace store: %w", err)
	}
	return nil
}
