package model

import (
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// PayloadVersion is the current structure version written into every payload.
// Readers reject payloads with an unknown version instead of guessing fields.
const PayloadVersion = 2

// Kind distinguishes the two memory spaces
type Kind string

const (
	KindKnowledge  Kind = "knowledge"
	KindReflection Kind = "reflection"
)

// Event is the terminal state of a memory decision
type Event string

const (
	EventAdd    Event = "ADD"
	EventUpdate Event = "UPDATE"
	EventDelete Event = "DELETE"
	EventNone   Event = "NONE"
)

// QualitySource records which strategy produced a decision
type QualitySource string

const (
	QualitySimilarity QualitySource = "similarity"
	QualityLLM        QualitySource = "llm"
	QualityHeuristic  QualitySource = "heuristic"
)

// WorkspaceMode controls whether memories are shared across projects
type WorkspaceMode string

const (
	WorkspaceShared   WorkspaceMode = "shared"
	WorkspaceIsolated WorkspaceMode = "isolated"
)

// SessionMeta carries optional ownership attributes attached to every payload
type SessionMeta struct {
	SourceSessionID string
	UserID          string
	ProjectID       string
	WorkspaceMode   WorkspaceMode
}

// KnowledgePayload is the stored form of a knowledge memory (version 2).
// It is created by the decision engine at classification time and is
// immutable except through an explicit UPDATE event that replaces the
// whole record under the same id.
type KnowledgePayload struct {
	ID            int64
	Text          string
	Tags          []string
	Confidence    float64
	Event         Event
	QualitySource QualitySource
	Domain        string
	CodePattern   string
	OldMemory     string
	Session       SessionMeta
	Timestamp     time.Time
}

// ReasoningStep is one entry of a reasoning trace
type ReasoningStep struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Evaluation is the quality assessment attached to a reasoning trace
type Evaluation struct {
	QualityScore float64  `json:"quality_score"`
	Issues       []string `json:"issues"`
	Suggestions  []string `json:"suggestions"`

	// ShouldStore marks the trace as not worth persisting when explicitly
	// set to false. nil means store.
	ShouldStore *bool `json:"should_store,omitempty"`
}

// ReasoningPayload is the stored form of a reflection memory (version 2).
// Reflection records are append-only: there is no UPDATE or DELETE path.
type ReasoningPayload struct {
	ID         int64
	Text       string
	Steps      []ReasoningStep
	Evaluation Evaluation
	Context    string
	StepCount  int
	StepTypes  []string
	IssueCount int
	Session    SessionMeta
	Timestamp  time.Time
}

// Validate checks the payload before it crosses the storage boundary
func (p *KnowledgePayload) Validate() error {
	if p.ID <= 0 {
		return goerr.New("knowledge payload requires a positive id", goerr.V("id", p.ID))
	}
	if p.Text == "" {
		return goerr.New("knowledge payload requires text")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return goerr.New("confidence out of range", goerr.V("confidence", p.Confidence))
	}
	switch p.Event {
	case EventAdd, EventUpdate, EventDelete, EventNone:
	default:
		return goerr.New("unknown event", goerr.V("event", p.Event))
	}
	return nil
}

// Encode flattens the payload into the open key/value map stored by backends
func (p *KnowledgePayload) Encode() map[string]any {
	m := map[string]any{
		"version":        PayloadVersion,
		"kind":           string(KindKnowledge),
		"id":             p.ID,
		"text":           p.Text,
		"tags":           append([]string(nil), p.Tags...),
		"confidence":     p.Confidence,
		"event":          string(p.Event),
		"quality_source": string(p.QualitySource),
		"timestamp":      p.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	putOptional(m, "domain", p.Domain)
	putOptional(m, "code_pattern", p.CodePattern)
	putOptional(m, "old_memory", p.OldMemory)
	encodeSession(m, p.Session)
	return m
}

// Validate checks trace and evaluation shape before storage
func (p *ReasoningPayload) Validate() error {
	if p.ID <= 0 {
		return goerr.New("reasoning payload requires a positive id", goerr.V("id", p.ID))
	}
	if len(p.Steps) == 0 {
		return goerr.New("reasoning payload requires at least one step")
	}
	for i, s := range p.Steps {
		if s.Type == "" || s.Content == "" {
			return goerr.New("reasoning step is missing type or content", goerr.V("index", i))
		}
	}
	if p.Evaluation.QualityScore < 0 || p.Evaluation.QualityScore > 1 {
		return goerr.New("quality score out of range", goerr.V("score", p.Evaluation.QualityScore))
	}
	return nil
}

// Derive fills the fields computed from the trace: step count, unique step
// types and issue count.
func (p *ReasoningPayload) Derive() {
	p.StepCount = len(p.Steps)
	p.IssueCount = len(p.Evaluation.Issues)

	seen := map[string]bool{}
	p.StepTypes = p.StepTypes[:0]
	for _, s := range p.Steps {
		if !seen[s.Type] {
			seen[s.Type] = true
			p.StepTypes = append(p.StepTypes, s.Type)
		}
	}
}

// Encode flattens the payload into the open key/value map stored by backends
func (p *ReasoningPayload) Encode() map[string]any {
	steps := make([]map[string]any, 0, len(p.Steps))
	for _, s := range p.Steps {
		steps = append(steps, map[string]any{"type": s.Type, "content": s.Content})
	}
	m := map[string]any{
		"version":       PayloadVersion,
		"kind":          string(KindReflection),
		"id":            p.ID,
		"text":          p.Text,
		"steps":         steps,
		"quality_score": p.Evaluation.QualityScore,
		"issues":        append([]string(nil), p.Evaluation.Issues...),
		"suggestions":   append([]string(nil), p.Evaluation.Suggestions...),
		"step_count":    p.StepCount,
		"step_types":    append([]string(nil), p.StepTypes...),
		"issue_count":   p.IssueCount,
		"timestamp":     p.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	putOptional(m, "context", p.Context)
	encodeSession(m, p.Session)
	return m
}

// DecodeKnowledge rebuilds a KnowledgePayload from a stored map. Unknown
// versions are rejected.
func DecodeKnowledge(m map[string]any) (*KnowledgePayload, error) {
	if err := checkEnvelope(m, KindKnowledge); err != nil {
		return nil, err
	}
	p := &KnowledgePayload{
		ID:            asInt64(m["id"]),
		Text:          asString(m["text"]),
		Tags:          asStrings(m["tags"]),
		Confidence:    asFloat(m["confidence"]),
		Event:         Event(asString(m["event"])),
		QualitySource: QualitySource(asString(m["quality_source"])),
		Domain:        asString(m["domain"]),
		CodePattern:   asString(m["code_pattern"]),
		OldMemory:     asString(m["old_memory"]),
		Session:       decodeSession(m),
		Timestamp:     asTime(m["timestamp"]),
	}
	if err := p.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid stored knowledge payload")
	}
	return p, nil
}

// DecodeReasoning rebuilds a ReasoningPayload from a stored map
func DecodeReasoning(m map[string]any) (*ReasoningPayload, error) {
	if err := checkEnvelope(m, KindReflection); err != nil {
		return nil, err
	}
	p := &ReasoningPayload{
		ID:   asInt64(m["id"]),
		Text: asString(m["text"]),
		Evaluation: Evaluation{
			QualityScore: asFloat(m["quality_score"]),
			Issues:       asStrings(m["issues"]),
			Suggestions:  asStrings(m["suggestions"]),
		},
		Context:    asString(m["context"]),
		StepCount:  int(asInt64(m["step_count"])),
		StepTypes:  asStrings(m["step_types"]),
		IssueCount: int(asInt64(m["issue_count"])),
		Session:    decodeSession(m),
		Timestamp:  asTime(m["timestamp"]),
	}
	for _, raw := range asSlice(m["steps"]) {
		sm, ok := raw.(map[string]any)
		if !ok {
			return nil, goerr.New("malformed reasoning step", goerr.V("step", raw))
		}
		p.Steps = append(p.Steps, ReasoningStep{
			Type:    asString(sm["type"]),
			Content: asString(sm["content"]),
		})
	}
	if err := p.Validate(); err != nil {
		return nil, goerr.Wrap(err, "invalid stored reasoning payload")
	}
	return p, nil
}

// PayloadKind reports which memory kind a stored map belongs to
func PayloadKind(m map[string]any) Kind {
	return Kind(asString(m["kind"]))
}

func checkEnvelope(m map[string]any, want Kind) error {
	if v := asInt64(m["version"]); v != PayloadVersion {
		return goerr.New("unsupported payload version", goerr.V("version", v))
	}
	if k := PayloadKind(m); k != want {
		return goerr.New("payload kind mismatch",
			goerr.V("want", want), goerr.V("got", k))
	}
	return nil
}

func encodeSession(m map[string]any, s SessionMeta) {
	putOptional(m, "source_session_id", s.SourceSessionID)
	putOptional(m, "user_id", s.UserID)
	putOptional(m, "project_id", s.ProjectID)
	mode := s.WorkspaceMode
	if mode == "" {
		mode = WorkspaceShared
	}
	m["workspace_mode"] = string(mode)
}

func decodeSession(m map[string]any) SessionMeta {
	return SessionMeta{
		SourceSessionID: asString(m["source_session_id"]),
		UserID:          asString(m["user_id"]),
		ProjectID:       asString(m["project_id"]),
		WorkspaceMode:   WorkspaceMode(asString(m["workspace_mode"])),
	}
}

func putOptional(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// Conversion helpers tolerant of JSON round-trips, where integers come back
// as float64 and typed slices come back as []any.

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		var parsed int64
		if _, err := fmt.Sscanf(n, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return 0
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asStrings(v any) []string {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...)
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			out = append(out, asString(e))
		}
		return out
	}
	return nil
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}
