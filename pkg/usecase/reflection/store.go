// Package reflection persists reasoning traces alongside their quality
// evaluation. Traces live in their own collection, separate from
// knowledge memories, and are append-only.
package reflection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/aethonlab/mnemo/pkg/adapter"
	"github.com/aethonlab/mnemo/pkg/model"
	"github.com/aethonlab/mnemo/pkg/service/embedding"
	"github.com/aethonlab/mnemo/pkg/utils/logging"
	"github.com/aethonlab/mnemo/pkg/vectorstore"
)

// Input is one reasoning trace with its evaluation
type Input struct {
	Steps      []model.ReasoningStep `json:"steps"`
	Evaluation model.Evaluation      `json:"evaluation"`
	Context    string                `json:"context,omitempty"`
	Session    model.SessionMeta     `json:"session,omitempty"`
}

// Output reports what happened to the trace. Stored is false both for
// traces the evaluation rejected and for traces the store could not
// accept; Reason tells them apart.
type Output struct {
	Stored bool   `json:"stored"`
	ID     int64  `json:"id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Store writes reasoning traces to the reflection collection
type Store struct {
	dual         *vectorstore.DualManager
	embedder     adapter.Embedder
	availability *embedding.Availability
}

// New builds a reflection store. The dual manager may have no reflection
// collection configured; Record then reports the trace as not stored
// instead of failing.
func New(dual *vectorstore.DualManager, embedder adapter.Embedder, availability *embedding.Availability) *Store {
	return &Store{dual: dual, embedder: embedder, availability: availability}
}

// Record evaluates and persists a single trace. A disabled reflection
// collection and a rejecting evaluation are normal outcomes, not errors.
func (s *Store) Record(ctx context.Context, input *Input) (*Output, error) {
	store := s.dual.Store(model.KindReflection)
	if store == nil {
		return &Output{Stored: false, Reason: "reflection store not available"}, nil
	}

	if input.Evaluation.ShouldStore != nil && !*input.Evaluation.ShouldStore {
		return &Output{Stored: false, Reason: "evaluation marked trace as not worth storing"}, nil
	}

	if !s.availability.Enabled() {
		return &Output{Stored: false, Reason: "embedding unavailable: " + s.availability.Reason()}, nil
	}

	text := renderTrace(input)
	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.availability.Disable(err.Error())
		logging.From(ctx).Warn("embedding failed, disabling embeddings for this process", "error", err)
		return &Output{Stored: false, Reason: "embedding failed"}, nil
	}

	payload := &model.ReasoningPayload{
		ID:         model.NewID(model.KindReflection),
		Text:       text,
		Steps:      input.Steps,
		Evaluation: input.Evaluation,
		Context:    input.Context,
		Session:    input.Session,
		Timestamp:  time.Now(),
	}
	payload.Derive()
	if err := payload.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid reasoning trace")
	}

	if err := s.insert(ctx, store, vector, payload); err != nil {
		return nil, err
	}
	return &Output{Stored: true, ID: payload.ID}, nil
}

// insert retries exactly once after recreating a dropped collection.
// Backends that lose the collection out-of-band (a flushed redis, a
// dropped table) recover on the next trace instead of failing forever.
func (s *Store) insert(ctx context.Context, store *vectorstore.Manager, vector []float32, payload *model.ReasoningPayload) error {
	err := store.Insert(ctx,
		[][]float32{vector}, []int64{payload.ID}, []map[string]any{payload.Encode()})
	if err == nil || !vectorstore.IsCollectionMissing(err) {
		return err
	}

	logging.From(ctx).Warn("reflection collection missing, recreating", "error", err)
	if cerr := store.Reconnect(ctx); cerr != nil {
		return goerr.Wrap(cerr, "failed to recreate reflection collection")
	}
	return store.Insert(ctx,
		[][]float32{vector}, []int64{payload.ID}, []map[string]any{payload.Encode()})
}

// renderTrace flattens the trace into the text that gets embedded. The
// quality score is part of the text so searches can surface high or low
// quality reasoning by asking for it.
func renderTrace(input *Input) string {
	var b strings.Builder
	for _, step := range input.Steps {
		fmt.Fprintf(&b, "[%s] %s\n", step.Type, step.Content)
	}
	fmt.Fprintf(&b, "quality: %.2f", input.Evaluation.QualityScore)
	return b.String()
}
