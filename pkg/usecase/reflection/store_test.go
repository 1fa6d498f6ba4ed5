package reflection_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/aethonlab/mnemo/pkg/model"
	"github.com/aethonlab/mnemo/pkg/service/embedding"
	"github.com/aethonlab/mnemo/pkg/usecase/reflection"
	"github.com/aethonlab/mnemo/pkg/vectorstore"

	_ "github.com/aethonlab/mnemo/pkg/vectorstore/chromem"
)

type mockEmbedder struct {
	err   error
	calls int
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return []float32{1, 0, 0, 0}, nil
}

func (m *mockEmbedder) Dimensions() int { return 4 }

func newDual(t *testing.T, reflectionCollection string) *vectorstore.DualManager {
	t.Helper()
	dual, err := vectorstore.NewDualManager(vectorstore.Config{
		Backend:    vectorstore.BackendChromem,
		Collection: "memories",
		Dimension:  4,
	}, reflectionCollection)
	gt.NoError(t, err)
	gt.NoError(t, dual.Connect(context.Background()))
	t.Cleanup(func() { _ = dual.Disconnect() })
	return dual
}

func sampleInput() *reflection.Input {
	return &reflection.Input{
		Steps: []model.ReasoningStep{
			{Type: "analysis", Content: "read the stack trace"},
			{Type: "hypothesis", Content: "nil map write in the cache layer"},
			{Type: "verification", Content: "reproduced with a unit test"},
		},
		Evaluation: model.Evaluation{
			QualityScore: 0.85,
			Issues:       []string{"took two attempts"},
		},
		Context: "debugging a panic in the cache",
	}
}

func TestStoreRecord(t *testing.T) {
	ctx := context.Background()
	dual := newDual(t, "reflections")
	store := reflection.New(dual, &mockEmbedder{}, embedding.NewAvailability())

	out, err := store.Record(ctx, sampleInput())
	gt.NoError(t, err)
	gt.True(t, out.Stored)
	gt.Equal(t, model.KindOfID(out.ID), model.KindReflection)

	rec, err := dual.Store(model.KindReflection).Get(ctx, out.ID)
	gt.NoError(t, err)
	gt.NotNil(t, rec)

	payload, err := model.DecodeReasoning(rec.Payload)
	gt.NoError(t, err)
	gt.Equal(t, payload.StepCount, 3)
	gt.Equal(t, payload.StepTypes, []string{"analysis", "hypothesis", "verification"})
	gt.Equal(t, payload.IssueCount, 1)
	gt.Equal(t, payload.Evaluation.QualityScore, 0.85)
	gt.S(t, payload.Text).Contains("[hypothesis]")
	gt.S(t, payload.Text).Contains("quality: 0.85")
}

func TestStoreWithoutReflectionCollection(t *testing.T) {
	ctx := context.Background()
	dual := newDual(t, "")
	embedder := &mockEmbedder{}
	store := reflection.New(dual, embedder, embedding.NewAvailability())

	out, err := store.Record(ctx, sampleInput())
	gt.NoError(t, err)
	gt.False(t, out.Stored)
	gt.S(t, out.Reason).Contains("not available")
	gt.Equal(t, embedder.calls, 0)
}

func TestStoreRejectedByEvaluation(t *testing.T) {
	ctx := context.Background()
	dual := newDual(t, "reflections")
	embedder := &mockEmbedder{}
	store := reflection.New(dual, embedder, embedding.NewAvailability())

	input := sampleInput()
	no := false
	input.Evaluation.ShouldStore = &no

	out, err := store.Record(ctx, input)
	gt.NoError(t, err)
	gt.False(t, out.Stored)
	gt.Equal(t, embedder.calls, 0)

	records, err := dual.Store(model.KindReflection).List(ctx, nil, 0)
	gt.NoError(t, err)
	gt.A(t, records).Length(0)
}

func TestStoreEmbeddingFailureTripsBreaker(t *testing.T) {
	ctx := context.Background()
	dual := newDual(t, "reflections")
	embedder := &mockEmbedder{err: errors.New("quota exceeded")}
	availability := embedding.NewAvailability()
	store := reflection.New(dual, embedder, availability)

	out, err := store.Record(ctx, sampleInput())
	gt.NoError(t, err)
	gt.False(t, out.Stored)
	gt.False(t, availability.Enabled())

	// The breaker short-circuits the next trace before the embedder
	out, err = store.Record(ctx, sampleInput())
	gt.NoError(t, err)
	gt.False(t, out.Stored)
	gt.Equal(t, embedder.calls, 1)
}

func TestStoreInvalidTrace(t *testing.T) {
	ctx := context.Background()
	dual := newDual(t, "reflections")
	store := reflection.New(dual, &mockEmbedder{}, embedding.NewAvailability())

	input := sampleInput()
	input.Steps = []model.ReasoningStep{{Type: "analysis"}} // missing content

	_, err := store.Record(ctx, input)
	gt.Error(t, err)
}

func TestStoreRecoversDroppedCollection(t *testing.T) {
	ctx := context.Background()
	dual := newDual(t, "reflections")
	store := reflection.New(dual, &mockEmbedder{}, embedding.NewAvailability())

	out, err := store.Record(ctx, sampleInput())
	gt.NoError(t, err)
	gt.True(t, out.Stored)

	// Drop the collection behind the store's back; the next trace must
	// recreate it and land.
	gt.NoError(t, dual.Store(model.KindReflection).DropCollection(ctx))

	out, err = store.Record(ctx, sampleInput())
	gt.NoError(t, err)
	gt.True(t, out.Stored)

	rec, err := dual.Store(model.KindReflection).Get(ctx, out.ID)
	gt.NoError(t, err)
	gt.NotNil(t, rec)
}
