package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/aethonlab/mnemo/pkg/adapter"
	"github.com/aethonlab/mnemo/pkg/model"
	"github.com/aethonlab/mnemo/pkg/service/embedding"
	"github.com/aethonlab/mnemo/pkg/utils/logging"
	"github.com/aethonlab/mnemo/pkg/vectorstore"
)

// DefaultTopK is how many candidate duplicates are fetched per fact
const DefaultTopK = 5

// Decision is the per-fact outcome. The event always reflects the
// classification even when persistence failed; Persisted tells the two
// apart.
type Decision struct {
	Fact       string              `json:"fact"`
	Event      model.Event         `json:"event"`
	Confidence float64             `json:"confidence"`
	Reason     string              `json:"reason"`
	Source     model.QualitySource `json:"source"`
	TargetID   int64               `json:"target_id,omitempty"`
	Persisted  bool                `json:"persisted"`
	Skipped    bool                `json:"skipped"`
}

// Result reports the whole batch. A single bad fact never fails the
// batch; failures are recorded per decision.
type Result struct {
	Decisions []Decision `json:"decisions"`
	Processed int        `json:"processed"`
	Skipped   int        `json:"skipped"`
	Failed    int        `json:"failed"`
	Degraded  bool       `json:"degraded"`
	SessionID string     `json:"session_id"`
}

// Engine turns raw interaction text into classified store operations
// against the knowledge collection.
type Engine struct {
	dual         *vectorstore.DualManager
	embedder     adapter.Embedder
	availability *embedding.Availability
	classifier   Classifier
	topK         int
	session      model.SessionMeta
}

type Option func(*Engine)

// WithTopK overrides how many similar memories are considered per fact
func WithTopK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithClassifier replaces the default heuristic classifier, e.g. with an
// LLM-assisted one wrapped in a fallback.
func WithClassifier(c Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithSession attaches ownership metadata to every stored memory
func WithSession(s model.SessionMeta) Option {
	return func(e *Engine) { e.session = s }
}

// New builds a decision engine over the knowledge store
func New(dual *vectorstore.DualManager, embedder adapter.Embedder, availability *embedding.Availability, opts ...Option) *Engine {
	e := &Engine{
		dual:         dual,
		embedder:     embedder,
		availability: availability,
		classifier:   NewHeuristicClassifier(0),
		topK:         DefaultTopK,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.session.SourceSessionID == "" {
		e.session.SourceSessionID = uuid.New().String()
	}
	return e
}

// ProcessText splits raw interaction text into candidate facts (one per
// non-empty line) and processes them.
func (e *Engine) ProcessText(ctx context.Context, text string) (*Result, error) {
	var facts []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			facts = append(facts, trimmed)
		}
	}
	return e.Process(ctx, facts)
}

// Process runs the full pipeline for each fact in order. Facts are
// handled sequentially so similarity search observes what earlier facts
// of the same batch persisted.
func (e *Engine) Process(ctx context.Context, facts []string) (*Result, error) {
	if e.dual == nil || e.embedder == nil {
		return nil, goerr.New("decision engine is missing required services")
	}
	store := e.dual.Store(model.KindKnowledge)
	if store == nil {
		return nil, goerr.New("knowledge store is not available")
	}

	logger := logging.From(ctx)
	result := &Result{SessionID: e.session.SourceSessionID}

	for _, fact := range facts {
		decision := e.processFact(ctx, store, fact)
		result.Decisions = append(result.Decisions, decision)

		switch {
		case decision.Skipped:
			result.Skipped++
			logger.Debug("fact discarded", "fact", truncate(fact, 80), "reason", decision.Reason)
		case !decision.Persisted && decision.Event != model.EventNone:
			result.Failed++
		default:
			result.Processed++
		}
	}
	result.Degraded = !e.availability.Enabled()
	return result, nil
}

func (e *Engine) processFact(ctx context.Context, store *vectorstore.Manager, fact string) Decision {
	logger := logging.From(ctx)

	if keep, reason := Significant(fact); !keep {
		return Decision{
			Fact: fact, Event: model.EventNone, Reason: reason,
			Source: model.QualityHeuristic, Skipped: true,
		}
	}

	if !e.availability.Enabled() {
		// Breaker already tripped: never touch the embedder again
		return Decision{
			Fact: fact, Event: model.EventAdd, Confidence: 0.5,
			Reason:    "embedding unavailable: " + e.availability.Reason(),
			Source:    model.QualityHeuristic,
			Persisted: false,
		}
	}

	vector, err := e.embedder.Embed(ctx, fact)
	if err != nil {
		e.availability.Disable(err.Error())
		logger.Warn("embedding failed, disabling embeddings for this process", "error", err)
		return Decision{
			Fact: fact, Event: model.EventAdd, Confidence: 0.5,
			Reason:    "embedding failed, similarity checking skipped",
			Source:    model.QualityHeuristic,
			Persisted: false,
		}
	}

	matches, err := store.Search(ctx, vector, e.topK, nil)
	if err != nil {
		logger.Warn("similarity search failed", "error", err, "fact", truncate(fact, 80))
		matches = nil
	}

	cls, err := e.classifier.Classify(ctx, fact, matches)
	if err != nil {
		// The fallback decorator already absorbed strategy failures, so
		// this is a genuine classification bug; record and move on.
		logger.Error("classification failed", "error", err, "fact", truncate(fact, 80))
		return Decision{
			Fact: fact, Event: model.EventNone, Reason: "classification failed: " + err.Error(),
			Source: model.QualityHeuristic,
		}
	}

	decision := Decision{
		Fact:       fact,
		Event:      cls.Event,
		Confidence: cls.Confidence,
		Reason:     cls.Reason,
		Source:     cls.Source,
		TargetID:   cls.TargetID,
	}

	if err := e.persist(ctx, store, fact, vector, matches, &decision); err != nil {
		logger.Warn("failed to persist decision",
			"error", err, "event", decision.Event,
			"target_id", decision.TargetID, "fact", truncate(fact, 80))
		decision.Persisted = false
		return decision
	}
	decision.Persisted = true
	return decision
}

func (e *Engine) persist(ctx context.Context, store *vectorstore.Manager, fact string, vector []float32, matches []vectorstore.SearchResult, decision *Decision) error {
	switch decision.Event {
	case model.EventAdd:
		id := model.NewID(model.KindKnowledge)
		payload := e.buildPayload(id, fact, decision, "")
		if err := payload.Validate(); err != nil {
			return err
		}
		decision.TargetID = id
		return store.Insert(ctx,
			[][]float32{vector}, []int64{id}, []map[string]any{payload.Encode()})

	case model.EventUpdate:
		old := matchText(matches, decision.TargetID)
		payload := e.buildPayload(decision.TargetID, fact, decision, old)
		if err := payload.Validate(); err != nil {
			return err
		}
		return store.Update(ctx, decision.TargetID, vector, payload.Encode())

	case model.EventDelete:
		return store.Delete(ctx, decision.TargetID)

	case model.EventNone:
		return nil
	}
	return goerr.New("unknown decision event", goerr.V("event", decision.Event))
}

func (e *Engine) buildPayload(id int64, fact string, decision *Decision, oldMemory string) *model.KnowledgePayload {
	return &model.KnowledgePayload{
		ID:            id,
		Text:          fact,
		Tags:          factTags(fact),
		Confidence:    decision.Confidence,
		Event:         decision.Event,
		QualitySource: decision.Source,
		OldMemory:     oldMemory,
		Session:       e.session,
		Timestamp:     time.Now(),
	}
}

func factTags(fact string) []string {
	var tags []string
	if strings.Contains(fact, "```") || strings.Count(fact, "`") >= 2 {
		tags = append(tags, "code")
	}
	if urlOrPathRe.MatchString(fact) {
		tags = append(tags, "reference")
	}
	return tags
}

func matchText(matches []vectorstore.SearchResult, id int64) string {
	for _, m := range matches {
		if m.ID == id {
			text, _ := m.Payload["text"].(string)
			return text
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
