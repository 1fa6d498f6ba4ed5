// Package mcp exposes the memory subsystem as Model Context Protocol
// tools over stdio, so coding agents can store and recall memories
// without linking the Go API.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/aethonlab/mnemo/pkg/model"
	"github.com/aethonlab/mnemo/pkg/usecase/memory"
	"github.com/aethonlab/mnemo/pkg/usecase/reflection"
	"github.com/aethonlab/mnemo/pkg/vectorstore"
)

// Server bundles the usecases behind the MCP tool surface
type Server struct {
	engine     *memory.Engine
	reflection *reflection.Store
	dual       *vectorstore.DualManager
	embed      func(ctx context.Context, text string) ([]float32, error)
}

func New(engine *memory.Engine, refl *reflection.Store, dual *vectorstore.DualManager, embed func(ctx context.Context, text string) ([]float32, error)) *Server {
	return &Server{engine: engine, reflection: refl, dual: dual, embed: embed}
}

type storeMemoryParams struct {
	Text string `json:"text" jsonschema:"Interaction text to extract and store memories from"`
}

type searchMemoryParams struct {
	Query string `json:"query" jsonschema:"Natural language query to search memories for"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of memories to return (default 5)"`
}

type storeReasoningParams struct {
	Steps        []model.ReasoningStep `json:"steps" jsonschema:"Ordered reasoning steps, each with a type and content"`
	QualityScore float64               `json:"quality_score" jsonschema:"Quality score of the trace between 0 and 1"`
	Issues       []string              `json:"issues,omitempty" jsonschema:"Issues identified in the reasoning"`
	Suggestions  []string              `json:"suggestions,omitempty" jsonschema:"Improvement suggestions"`
	ShouldStore  *bool                 `json:"should_store,omitempty" jsonschema:"Set false to discard the trace"`
	Context      string                `json:"context,omitempty" jsonschema:"Free-form context about the task"`
}

// Run serves the tools over stdio until the transport closes
func (s *Server) Run(ctx context.Context) error {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "mnemo",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "store_memory",
		Description: "Extract significant facts from interaction text and store them as memories",
	}, s.storeMemory)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_memory",
		Description: "Search stored memories by semantic similarity",
	}, s.searchMemory)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "store_reasoning",
		Description: "Store a reasoning trace with its quality evaluation",
	}, s.storeReasoning)

	return server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) storeMemory(ctx context.Context, req *mcp.CallToolRequest, params *storeMemoryParams) (*mcp.CallToolResult, any, error) {
	if params.Text == "" {
		return nil, nil, fmt.Errorf("text is required")
	}

	result, err := s.engine.ProcessText(ctx, params.Text)
	if err != nil {
		return nil, nil, err
	}
	return textResult(result)
}

func (s *Server) searchMemory(ctx context.Context, req *mcp.CallToolRequest, params *searchMemoryParams) (*mcp.CallToolResult, any, error) {
	if params.Query == "" {
		return nil, nil, fmt.Errorf("query is required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 5
	}

	vector, err := s.embed(ctx, params.Query)
	if err != nil {
		return nil, nil, err
	}

	matches, err := s.dual.Store(model.KindKnowledge).Search(ctx, vector, limit, nil)
	if err != nil {
		return nil, nil, err
	}

	if len(matches) == 0 {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "No matching memories found"}},
		}, nil, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d memories:\n", len(matches))
	for _, m := range matches {
		text, _ := m.Payload["text"].(string)
		fmt.Fprintf(&b, "[%d] (%.3f) %s\n", m.ID, m.Score, text)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: b.String()}},
	}, nil, nil
}

func (s *Server) storeReasoning(ctx context.Context, req *mcp.CallToolRequest, params *storeReasoningParams) (*mcp.CallToolResult, any, error) {
	if len(params.Steps) == 0 {
		return nil, nil, fmt.Errorf("steps are required")
	}

	out, err := s.reflection.Record(ctx, &reflection.Input{
		Steps: params.Steps,
		Evaluation: model.Evaluation{
			QualityScore: params.QualityScore,
			Issues:       params.Issues,
			Suggestions:  params.Suggestions,
			ShouldStore:  params.ShouldStore,
		},
		Context: params.Context,
	})
	if err != nil {
		return nil, nil, err
	}
	return textResult(out)
}

func textResult(v any) (*mcp.CallToolResult, any, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(raw)}},
	}, nil, nil
}
