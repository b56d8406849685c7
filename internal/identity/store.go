// Package identity remembers who the kiosk has met.
//
// A Person pairs a display name with a face embedding. The Store matches a
// freshly-extracted embedding against everyone on record (nearest neighbour
// under a distance threshold) and enrolls new people by name. Two backends
// exist: a JSON file with atomic replace-on-write (the default) and a
// PostgreSQL/pgvector store for multi-kiosk deployments.
package identity

import (
	"context"
	"math"
	"time"
)

// DefaultMatchThreshold is the maximum Euclidean distance between two face
// embeddings that still counts as the same person. SFace embeddings of the
// same face typically sit well below this.
const DefaultMatchThreshold = 0.6

// Person is one remembered individual.
type Person struct {
	// Name as given during enrollment ("my name is ...").
	Name string `json:"name"`

	// Embedding is the face feature vector captured at enrollment.
	Embedding []float32 `json:"embedding"`

	// LastSeen is the most recent time this person was matched or enrolled.
	LastSeen time.Time `json:"last_seen"`
}

// Store is the identity persistence abstraction.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Match returns the person whose embedding is nearest to the query,
	// provided the distance is under the store's threshold. The boolean
	// reports whether a match was found. Distance ties are broken by the
	// most recent LastSeen.
	Match(ctx context.Context, embedding []float32) (*Person, bool, error)

	// Enroll records a person. A name already on record (exactly or
	// phonetically) updates that record's embedding and LastSeen instead of
	// creating a duplicate.
	Enroll(ctx context.Context, name string, embedding []float32) (*Person, error)

	// Touch updates LastSeen for a known person after a sighting.
	Touch(ctx context.Context, name string) error

	// People returns everyone on record.
	People(ctx context.Context) ([]Person, error)

	// Close releases the backing resource.
	Close() error
}

// euclidean returns the L2 distance between two embeddings. Mismatched
// lengths return +Inf so they can never match.
func euclidean(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
