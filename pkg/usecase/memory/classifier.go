package memory

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"

	"github.com/aethonlab/mnemo/pkg/adapter"
	"github.com/aethonlab/mnemo/pkg/model"
	"github.com/aethonlab/mnemo/pkg/utils/logging"
	"github.com/aethonlab/mnemo/pkg/vectorstore"
)

// Classification is the outcome of one fact's adjudication
type Classification struct {
	Event      model.Event
	Confidence float64
	Reason     string
	TargetID   int64
	Source     model.QualitySource
}

// Classifier turns a fact and its nearest stored memories into a store
// operation. Implementations must be safe for sequential reuse.
type Classifier interface {
	Classify(ctx context.Context, fact string, matches []vectorstore.SearchResult) (*Classification, error)
}

// DefaultSimilarityThreshold is the minimum similarity for a stored memory
// to be considered a duplicate candidate.
const DefaultSimilarityThreshold = 0.8

// HeuristicClassifier decides purely from similarity and text shape
type HeuristicClassifier struct {
	Threshold float64
}

// NewHeuristicClassifier builds a heuristic classifier; threshold <= 0
// selects the default.
func NewHeuristicClassifier(threshold float64) *HeuristicClassifier {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &HeuristicClassifier{Threshold: threshold}
}

var negationTokens = []string{
	"not ", "no longer", "never", "don't", "do not", "avoid", "instead of",
	"deprecated", "removed", "stop using", "obsolete",
}

func (c *HeuristicClassifier) Classify(ctx context.Context, fact string, matches []vectorstore.SearchResult) (*Classification, error) {
	if len(matches) == 0 || matches[0].Score < c.Threshold {
		return &Classification{
			Event:      model.EventAdd,
			Confidence: 0.85,
			Reason:     "no stored memory is similar enough",
			Source:     model.QualitySimilarity,
		}, nil
	}

	best := matches[0]
	bestText, _ := best.Payload["text"].(string)

	if strings.TrimSpace(fact) == strings.TrimSpace(bestText) {
		return &Classification{
			Event:      model.EventNone,
			Confidence: 1.0,
			Reason:     "identical memory already stored",
			TargetID:   best.ID,
			Source:     model.QualityHeuristic,
		}, nil
	}

	if len(fact) > len(bestText) {
		return &Classification{
			Event:      model.EventUpdate,
			Confidence: best.Score,
			Reason:     "fact extends the stored memory",
			TargetID:   best.ID,
			Source:     model.QualityHeuristic,
		}, nil
	}

	if negates(fact, bestText) {
		return &Classification{
			Event:      model.EventDelete,
			Confidence: best.Score,
			Reason:     "fact negates the stored memory",
			TargetID:   best.ID,
			Source:     model.QualityHeuristic,
		}, nil
	}

	return &Classification{
		Event:      model.EventNone,
		Confidence: best.Score,
		Reason:     "stored memory already covers the fact",
		TargetID:   best.ID,
		Source:     model.QualityHeuristic,
	}, nil
}

// negates reports whether the fact contains a negation token the stored
// text does not.
func negates(fact, stored string) bool {
	lowFact := strings.ToLower(fact)
	lowStored := strings.ToLower(stored)
	for _, tok := range negationTokens {
		if strings.Contains(lowFact, tok) && !strings.Contains(lowStored, tok) {
			return true
		}
	}
	return false
}

//go:embed prompt/classify.md
var classifyPromptRaw string

var classifyPromptTmpl = template.Must(template.New("classify").Funcs(template.FuncMap{
	"add": func(a, b int) int { return a + b },
}).Parse(classifyPromptRaw))

// LLMClassifier asks the injected LLM capability for a structured decision
type LLMClassifier struct {
	llm adapter.LLM
}

// NewLLMClassifier builds a classifier over the LLM capability
func NewLLMClassifier(llm adapter.LLM) *LLMClassifier {
	return &LLMClassifier{llm: llm}
}

type promptMatch struct {
	ID    int64
	Score float64
	Text  string
}

func (c *LLMClassifier) Classify(ctx context.Context, fact string, matches []vectorstore.SearchResult) (*Classification, error) {
	pm := make([]promptMatch, 0, len(matches))
	for _, m := range matches {
		text, _ := m.Payload["text"].(string)
		pm = append(pm, promptMatch{ID: m.ID, Score: m.Score, Text: text})
	}

	var buf bytes.Buffer
	if err := classifyPromptTmpl.Execute(&buf, map[string]any{
		"Fact":    fact,
		"Matches": pm,
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to build classify prompt")
	}

	raw, err := c.llm.DirectGenerate(ctx, buf.String())
	if err != nil {
		return nil, goerr.Wrap(err, "llm decision call failed")
	}
	return parseDecision(raw, matches)
}

// parseDecision extracts the JSON decision object from a free-text
// response. Any parse failure is a capability failure: the caller falls
// back to the heuristic classifier.
func parseDecision(raw string, matches []vectorstore.SearchResult) (*Classification, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, goerr.New("no JSON object in llm response", goerr.V("response", raw))
	}

	var decision struct {
		Operation      string  `json:"operation"`
		Confidence     float64 `json:"confidence"`
		Reasoning      string  `json:"reasoning"`
		TargetMemoryID int64   `json:"target_memory_id"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &decision); err != nil {
		return nil, goerr.Wrap(err, "failed to parse llm decision", goerr.V("json", raw[start:end+1]))
	}

	event := model.Event(strings.ToUpper(strings.TrimSpace(decision.Operation)))
	switch event {
	case model.EventAdd, model.EventNone:
	case model.EventUpdate, model.EventDelete:
		found := false
		for _, m := range matches {
			if m.ID == decision.TargetMemoryID {
				found = true
				break
			}
		}
		if !found {
			return nil, goerr.New("llm decision targets an unknown memory",
				goerr.V("target", decision.TargetMemoryID))
		}
	default:
		return nil, goerr.New("llm decision has an unknown operation",
			goerr.V("operation", decision.Operation))
	}

	if decision.Confidence < 0 || decision.Confidence > 1 {
		return nil, goerr.New("llm decision confidence out of range",
			goerr.V("confidence", decision.Confidence))
	}

	return &Classification{
		Event:      event,
		Confidence: decision.Confidence,
		Reason:     decision.Reasoning,
		TargetID:   decision.TargetMemoryID,
		Source:     model.QualityLLM,
	}, nil
}

// FallbackClassifier tries the primary strategy and falls back per fact
// when it fails.
type FallbackClassifier struct {
	primary  Classifier
	fallback Classifier
}

// NewFallbackClassifier composes two strategies
func NewFallbackClassifier(primary, fallback Classifier) *FallbackClassifier {
	return &FallbackClassifier{primary: primary, fallback: fallback}
}

func (c *FallbackClassifier) Classify(ctx context.Context, fact string, matches []vectorstore.SearchResult) (*Classification, error) {
	result, err := c.primary.Classify(ctx, fact, matches)
	if err == nil {
		return result, nil
	}
	logging.From(ctx).Warn("primary classifier failed, falling back",
		"error", err, "fact", truncate(fact, 80))
	return c.fallback.Classify(ctx, fact, matches)
}
