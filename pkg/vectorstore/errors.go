package vectorstore

import (
	"github.com/m-mizutani/goerr/v2"
)

// Error tags classify failures across all backends. Callers branch on tags
// with goerr.HasTag instead of matching backend-specific error strings.
var (
	// ErrTagValidation marks caller bugs: bad vector shape, dimension
	// mismatch, non-positive ids. Never retried.
	ErrTagValidation = goerr.NewTag("validation")

	// ErrTagConnection marks an unreachable backend. Retried with backoff
	// at connect time only.
	ErrTagConnection = goerr.NewTag("connection")

	// ErrTagBackend marks a server-side failure during an operation.
	// Surfaced to the caller, not retried automatically.
	ErrTagBackend = goerr.NewTag("backend")

	// ErrTagNotConnected marks an operation attempted before Connect
	ErrTagNotConnected = goerr.NewTag("not_connected")

	// ErrTagEmbedding marks an embedding capability failure. The first one
	// trips the process-wide circuit breaker.
	ErrTagEmbedding = goerr.NewTag("embedding")

	// ErrTagCollectionMissing marks an operation against a collection that
	// no longer exists. Recoverable once via reconnect in the reasoning
	// store, fatal thereafter.
	ErrTagCollectionMissing = goerr.NewTag("collection_missing")
)

// ErrNotConnected builds the standard fail-fast error for operations
// invoked before Connect.
func ErrNotConnected(backend Backend) error {
	return goerr.New("vector store is not connected",
		goerr.T(ErrTagNotConnected), goerr.V("backend", backend))
}

// IsValidation reports whether err is a validation failure
func IsValidation(err error) bool { return goerr.HasTag(err, ErrTagValidation) }

// IsConnection reports whether err is a connectivity failure
func IsConnection(err error) bool { return goerr.HasTag(err, ErrTagConnection) }

// IsNotConnected reports whether err is a use-before-connect failure
func IsNotConnected(err error) bool { return goerr.HasTag(err, ErrTagNotConnected) }

// IsCollectionMissing reports whether err indicates a dropped collection
func IsCollectionMissing(err error) bool { return goerr.HasTag(err, ErrTagCollectionMissing) }
