package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/aethonlab/mnemo/pkg/model"
	"github.com/aethonlab/mnemo/pkg/service/embedding"
	"github.com/aethonlab/mnemo/pkg/vectorstore"

	_ "github.com/aethonlab/mnemo/pkg/vectorstore/chromem"
)

// mockEmbedder returns canned vectors per text and counts calls
type mockEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0, 0}, nil
}

func (m *mockEmbedder) Dimensions() int { return 4 }

func newTestDual(t *testing.T) *vectorstore.DualManager {
	t.Helper()
	dual, err := vectorstore.NewDualManager(vectorstore.Config{
		Backend:    vectorstore.BackendChromem,
		Collection: "memories",
		Dimension:  4,
	}, "")
	gt.NoError(t, err)
	gt.NoError(t, dual.Connect(context.Background()))
	t.Cleanup(func() { _ = dual.Disconnect() })
	return dual
}

func TestEngineAddAndDuplicate(t *testing.T) {
	ctx := context.Background()
	dual := newTestDual(t)
	embedder := &mockEmbedder{}
	engine := New(dual, embedder, embedding.NewAvailability())

	fact := "Use pgx.Connect() for postgres access"

	result, err := engine.Process(ctx, []string{fact})
	gt.NoError(t, err)
	gt.Equal(t, result.Processed, 1)
	gt.A(t, result.Decisions).Length(1)

	decision := result.Decisions[0]
	gt.Equal(t, decision.Event, model.EventAdd)
	gt.True(t, decision.Persisted)
	gt.Equal(t, model.KindOfID(decision.TargetID), model.KindKnowledge)

	rec, err := dual.Store(model.KindKnowledge).Get(ctx, decision.TargetID)
	gt.NoError(t, err)
	gt.NotNil(t, rec)
	payload, err := model.DecodeKnowledge(rec.Payload)
	gt.NoError(t, err)
	gt.Equal(t, payload.Text, fact)
	gt.Equal(t, payload.Event, model.EventAdd)
	gt.True(t, payload.Session.SourceSessionID != "")

	// Processing the identical fact again is a no-op
	result, err = engine.Process(ctx, []string{fact})
	gt.NoError(t, err)
	gt.Equal(t, result.Decisions[0].Event, model.EventNone)
	gt.True(t, result.Decisions[0].Persisted)

	records, err := dual.Store(model.KindKnowledge).List(ctx, nil, 0)
	gt.NoError(t, err)
	gt.A(t, records).Length(1)
}

func TestEngineUpdate(t *testing.T) {
	ctx := context.Background()
	dual := newTestDual(t)

	short := "Use pgx.Connect() for postgres access"
	long := "Use pgx.Connect() for postgres access with a 5s statement timeout"
	embedder := &mockEmbedder{vectors: map[string][]float32{
		short: {1, 0, 0, 0},
		long:  {1, 0, 0, 0},
	}}
	engine := New(dual, embedder, embedding.NewAvailability())

	first, err := engine.Process(ctx, []string{short})
	gt.NoError(t, err)
	originalID := first.Decisions[0].TargetID

	second, err := engine.Process(ctx, []string{long})
	gt.NoError(t, err)
	decision := second.Decisions[0]
	gt.Equal(t, decision.Event, model.EventUpdate)
	gt.Equal(t, decision.TargetID, originalID)
	gt.True(t, decision.Persisted)

	rec, err := dual.Store(model.KindKnowledge).Get(ctx, originalID)
	gt.NoError(t, err)
	payload, err := model.DecodeKnowledge(rec.Payload)
	gt.NoError(t, err)
	gt.Equal(t, payload.Text, long)
	gt.Equal(t, payload.OldMemory, short)
	gt.Equal(t, payload.Event, model.EventUpdate)
}

func TestEngineDelete(t *testing.T) {
	ctx := context.Background()
	dual := newTestDual(t)

	stored := "Use pgx.Connect() for postgres access"
	negation := "pgx.Connect() is deprecated"
	embedder := &mockEmbedder{vectors: map[string][]float32{
		stored:   {1, 0, 0, 0},
		negation: {0.95, 0.05, 0, 0},
	}}
	engine := New(dual, embedder, embedding.NewAvailability())

	first, err := engine.Process(ctx, []string{stored})
	gt.NoError(t, err)
	id := first.Decisions[0].TargetID

	second, err := engine.Process(ctx, []string{negation})
	gt.NoError(t, err)
	gt.Equal(t, second.Decisions[0].Event, model.EventDelete)
	gt.True(t, second.Decisions[0].Persisted)

	rec, err := dual.Store(model.KindKnowledge).Get(ctx, id)
	gt.NoError(t, err)
	gt.Nil(t, rec)
}

func TestEngineSkipsInsignificantFacts(t *testing.T) {
	ctx := context.Background()
	dual := newTestDual(t)
	embedder := &mockEmbedder{}
	engine := New(dual, embedder, embedding.NewAvailability())

	result, err := engine.Process(ctx, []string{
		"My name is John Smith",
		"Use pgx.Connect() for postgres access",
	})
	gt.NoError(t, err)
	gt.Equal(t, result.Skipped, 1)
	gt.Equal(t, result.Processed, 1)
	gt.True(t, result.Decisions[0].Skipped)

	// Skipped facts never reach the embedder
	gt.Equal(t, embedder.calls, 1)
}

func TestEngineCircuitBreaker(t *testing.T) {
	ctx := context.Background()
	dual := newTestDual(t)
	embedder := &mockEmbedder{err: errors.New("embedding quota exceeded")}
	availability := embedding.NewAvailability()
	engine := New(dual, embedder, availability)

	result, err := engine.Process(ctx, []string{
		"Use pgx.Connect() for postgres access",
		"Set max_conns to 10 in the pgx pool",
		"Run go_test_all before pushing",
	})
	gt.NoError(t, err)
	gt.True(t, result.Degraded)
	gt.False(t, availability.Enabled())

	// Only the first fact hits the embedder; the breaker short-circuits
	// the rest.
	gt.Equal(t, embedder.calls, 1)

	for _, d := range result.Decisions {
		gt.Equal(t, d.Event, model.EventAdd)
		gt.False(t, d.Persisted)
	}

	// Nothing was written
	records, err := dual.Store(model.KindKnowledge).List(ctx, nil, 0)
	gt.NoError(t, err)
	gt.A(t, records).Length(0)

	// The breaker stays tripped for later batches on the same engine
	result, err = engine.Process(ctx, []string{"Use pgx.Connect() for postgres access"})
	gt.NoError(t, err)
	gt.Equal(t, embedder.calls, 1)
	gt.True(t, result.Degraded)
}

func TestEngineProcessText(t *testing.T) {
	ctx := context.Background()
	dual := newTestDual(t)
	embedder := &mockEmbedder{}
	engine := New(dual, embedder, embedding.NewAvailability())

	result, err := engine.ProcessText(ctx, "Use pgx.Connect() for postgres access\n\n   \nMy name is John Smith\n")
	gt.NoError(t, err)
	gt.A(t, result.Decisions).Length(2)
	gt.Equal(t, result.Processed, 1)
	gt.Equal(t, result.Skipped, 1)
}

func TestEngineSessionMeta(t *testing.T) {
	ctx := context.Background()
	dual := newTestDual(t)
	embedder := &mockEmbedder{}
	engine := New(dual, embedder, embedding.NewAvailability(),
		WithSession(model.SessionMeta{UserID: "alice", ProjectID: "mnemo"}))

	result, err := engine.Process(ctx, []string{"Use pgx.Connect() for postgres access"})
	gt.NoError(t, err)

	rec, err := dual.Store(model.KindKnowledge).Get(ctx, result.Decisions[0].TargetID)
	gt.NoError(t, err)
	payload, err := model.DecodeKnowledge(rec.Payload)
	gt.NoError(t, err)
	gt.Equal(t, payload.Session.UserID, "alice")
	gt.Equal(t, payload.Session.ProjectID, "mnemo")
	gt.Equal(t, payload.Session.SourceSessionID, result.SessionID)
}

func TestTruncate(t *testing.T) {
	gt.Equal(t, truncate("short", 80), "short")
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	gt.Equal(t, len(truncate(string(long), 80)), 83)
}
