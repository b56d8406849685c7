package identity

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "people.json"), 0.6)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s
}

// emb builds a deterministic embedding with the given leading value.
func emb(lead float32) []float32 {
	e := make([]float32, 128)
	e[0] = lead
	return e
}

func TestEnrollAndMatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Enroll(ctx, "Ada", emb(1.0)); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	// Close to Ada's embedding: distance 0.1 < 0.6.
	p, ok, err := s.Match(ctx, emb(1.1))
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !ok || p.Name != "Ada" {
		t.Errorf("Match = %+v, %v; want Ada, true", p, ok)
	}

	// Far away: distance 2.0 > 0.6.
	if _, ok, _ := s.Match(ctx, emb(3.0)); ok {
		t.Error("Match far embedding: got ok, want no match")
	}
}

func TestMatchPicksNearest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Enroll(ctx, "Ada", emb(1.0)); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if _, err := s.Enroll(ctx, "Grace", emb(2.0)); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	p, ok, err := s.Match(ctx, emb(1.9))
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if !ok || p.Name != "Grace" {
		t.Errorf("Match = %v, %v; want Grace", p, ok)
	}
}

func TestEnrollSameNameUpdates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Enroll(ctx, "Ada", emb(1.0)); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if _, err := s.Enroll(ctx, "ada", emb(5.0)); err != nil {
		t.Fatalf("re-Enroll: %v", err)
	}

	people, err := s.People(ctx)
	if err != nil {
		t.Fatalf("People: %v", err)
	}
	if len(people) != 1 {
		t.Fatalf("people = %d, want 1 (no duplicate)", len(people))
	}
	if people[0].Embedding[0] != 5.0 {
		t.Errorf("embedding not updated: lead = %v", people[0].Embedding[0])
	}
}

func TestEnrollPhoneticMerge(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Enroll(ctx, "Sarah", emb(1.0)); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	// STT drift: "Sara" sounds like and nearly spells "Sarah".
	if _, err := s.Enroll(ctx, "Sara", emb(1.05)); err != nil {
		t.Fatalf("re-Enroll: %v", err)
	}

	people, err := s.People(ctx)
	if err != nil {
		t.Fatalf("People: %v", err)
	}
	if len(people) != 1 {
		t.Fatalf("people = %d, want 1 (phonetic merge)", len(people))
	}
	if people[0].Name != "Sara" {
		t.Errorf("name = %q, want the newly-spoken spelling Sara", people[0].Name)
	}
}

func TestEnrollSameFaceNewNameRenames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Enroll(ctx, "Stranger", emb(1.0)); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	// The same face (distance 0.05) introduces itself with a different name.
	if _, err := s.Enroll(ctx, "Bartholomew", emb(1.05)); err != nil {
		t.Fatalf("re-Enroll: %v", err)
	}

	people, err := s.People(ctx)
	if err != nil {
		t.Fatalf("People: %v", err)
	}
	if len(people) != 1 {
		t.Fatalf("people = %d, want 1 (face merge)", len(people))
	}
	if people[0].Name != "Bartholomew" {
		t.Errorf("name = %q, want Bartholomew", people[0].Name)
	}
}

func TestRoundTripPersistence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "people.json")

	s1, err := NewFileStore(path, 0.6)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := s1.Enroll(ctx, "Ada", emb(1.0)); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if _, err := s1.Enroll(ctx, "Grace", emb(2.0)); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	s2, err := NewFileStore(path, 0.6)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	people, err := s2.People(ctx)
	if err != nil {
		t.Fatalf("People: %v", err)
	}
	if len(people) != 2 {
		t.Fatalf("people after reopen = %d, want 2", len(people))
	}
	p, ok, err := s2.Match(ctx, emb(1.0))
	if err != nil || !ok || p.Name != "Ada" {
		t.Errorf("Match after reopen = %v, %v, %v; want Ada", p, ok, err)
	}
}

func TestCorruptStoreStartsEmpty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "people.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s, err := NewFileStore(path, 0.6)
	if err != nil {
		t.Fatalf("NewFileStore on corrupt file: %v", err)
	}
	people, err := s.People(context.Background())
	if err != nil {
		t.Fatalf("People: %v", err)
	}
	if len(people) != 0 {
		t.Errorf("people = %d, want 0", len(people))
	}
}

func TestTouchUpdatesLastSeen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	p, err := s.Enroll(ctx, "Ada", emb(1.0))
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	enrolledAt := p.LastSeen

	time.Sleep(5 * time.Millisecond)
	if err := s.Touch(ctx, "Ada"); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	people, _ := s.People(ctx)
	if !people[0].LastSeen.After(enrolledAt) {
		t.Error("LastSeen not advanced by Touch")
	}

	if err := s.Touch(ctx, "Nobody"); err == nil {
		t.Error("Touch(unknown): got nil error")
	}
}

func TestEmptyEmbeddingNeverMatches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Enroll(ctx, "Ada", emb(1.0)); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if _, ok, _ := s.Match(ctx, nil); ok {
		t.Error("Match(nil): got ok, want no match")
	}
	if _, ok, _ := s.Match(ctx, []float32{1.0}); ok {
		t.Error("Match(wrong length): got ok, want no match")
	}
}
