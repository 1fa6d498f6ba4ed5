package vectorstore

import (
	"context"
	"math"

	"github.com/m-mizutani/goerr/v2"
)

// Backend identifies a driver implementation
type Backend string

const (
	BackendChromem   Backend = "chromem"
	BackendSQLite    Backend = "sqlite"
	BackendRedis     Backend = "redis"
	BackendFirestore Backend = "firestore"
)

// Networked reports whether the backend talks to a remote server and
// therefore needs an address and the connection pool.
func (b Backend) Networked() bool {
	return b == BackendRedis || b == BackendFirestore
}

// Record is a stored vector with its open key/value payload
type Record struct {
	ID      int64
	Vector  []float32
	Payload map[string]any
}

// SearchResult is a record with its normalized similarity score.
// Scores are normalized so 1.0 means identical regardless of the backend's
// native distance metric.
type SearchResult struct {
	Record
	Score float64
}

// Driver is the uniform contract implemented once per vector database.
// Every operation is bound to the single collection and dimension the
// driver was constructed with, and fails fast with a not-connected error
// before Connect.
type Driver interface {
	// Connect establishes or reuses a connection and creates the
	// collection if absent. Idempotent.
	Connect(ctx context.Context) error

	// Insert stores records with insert-or-replace semantics. The three
	// slices must be equal length; vectors are validated against the
	// collection dimension and ids must be positive.
	Insert(ctx context.Context, vectors [][]float32, ids []int64, payloads []map[string]any) error

	// Search returns up to limit results ordered by descending similarity
	Search(ctx context.Context, query []float32, limit int, filter *Filter) ([]SearchResult, error)

	// Get performs a point lookup. A missing id yields (nil, nil), not an
	// error.
	Get(ctx context.Context, id int64) (*Record, error)

	// Update fully replaces the record under id
	Update(ctx context.Context, id int64, vector []float32, payload map[string]any) error

	// Delete removes the record under id
	Delete(ctx context.Context, id int64) error

	// List returns records matching filter, up to limit
	List(ctx context.Context, filter *Filter, limit int) ([]Record, error)

	// DropCollection removes the whole collection
	DropCollection(ctx context.Context) error

	// Close releases the connection (or its pool reference)
	Close() error

	// Kind reports the backend type for diagnostics
	Kind() Backend
}

// RangeBound is a numeric range predicate, either bound optional
type RangeBound struct {
	Min *float64
	Max *float64
}

// Filter is an open predicate over payload fields. Drivers translate it
// into native filter syntax where the backend supports it and evaluate it
// client-side otherwise.
type Filter struct {
	Eq    map[string]any
	In    map[string][]any
	Range map[string]RangeBound
}

// Matches evaluates the filter against a payload map. Used by drivers
// without native filtering and for post-filtering partial translations.
func (f *Filter) Matches(payload map[string]any) bool {
	if f == nil {
		return true
	}
	for field, want := range f.Eq {
		if !looseEqual(payload[field], want) {
			return false
		}
	}
	for field, choices := range f.In {
		hit := false
		for _, want := range choices {
			if looseEqual(payload[field], want) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	for field, bound := range f.Range {
		num, ok := toFloat(payload[field])
		if !ok {
			return false
		}
		if bound.Min != nil && num < *bound.Min {
			return false
		}
		if bound.Max != nil && num > *bound.Max {
			return false
		}
	}
	return true
}

// ValidateBatch checks the shared insert preconditions: equal-length
// slices, positive ids and exact dimension. Drivers call it before
// touching the backend so a bad batch never causes a partial write.
func ValidateBatch(vectors [][]float32, ids []int64, payloads []map[string]any, dimension int) error {
	if len(vectors) != len(ids) || len(ids) != len(payloads) {
		return goerr.New("insert batch slices must be equal length",
			goerr.T(ErrTagValidation),
			goerr.V("vectors", len(vectors)), goerr.V("ids", len(ids)),
			goerr.V("payloads", len(payloads)))
	}
	for i, id := range ids {
		if id <= 0 {
			return goerr.New("record id must be a positive integer",
				goerr.T(ErrTagValidation), goerr.V("index", i), goerr.V("id", id))
		}
	}
	for i, v := range vectors {
		if err := ValidateVector(v, dimension); err != nil {
			return goerr.Wrap(err, "invalid vector in batch", goerr.V("index", i))
		}
	}
	return nil
}

// ValidateVector checks a single vector against the collection dimension
func ValidateVector(v []float32, dimension int) error {
	if len(v) != dimension {
		return goerr.New("vector dimension mismatch",
			goerr.T(ErrTagValidation),
			goerr.V("got", len(v)), goerr.V("want", dimension))
	}
	return nil
}

// CosineSimilarity computes normalized similarity between two vectors,
// 1.0 meaning identical direction. Zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func looseEqual(a, b any) bool {
	if a == b {
		return true
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	sa, aok := a.(string)
	sb, bok := b.(string)
	return aok && bok && sa == sb
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
