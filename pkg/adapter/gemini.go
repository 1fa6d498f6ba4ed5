package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"

	"github.com/aethonlab/mnemo/pkg/vectorstore"
)

// Embedder converts text into the fixed-length vector the collection is
// dimensioned for. Failures are errors, never error-shaped values.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// LLM is the optional decision capability consumed by the LLM classifier.
// The response is free text; callers parse structure out of it and treat
// parse failures as capability failures.
type LLM interface {
	DirectGenerate(ctx context.Context, prompt string) (string, error)
}

// GeminiClient provides both capabilities through the Gemini API
type GeminiClient struct {
	client          *genai.Client
	generativeModel string
	embeddingModel  string
	dimensions      int
}

type GeminiOption func(*GeminiClient)

func WithGenerativeModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.generativeModel = model
	}
}

func WithEmbeddingModel(model string) GeminiOption {
	return func(g *GeminiClient) {
		g.embeddingModel = model
	}
}

// WithDimensions overrides the embedding output dimensionality
func WithDimensions(dim int) GeminiOption {
	return func(g *GeminiClient) {
		g.dimensions = dim
	}
}

func NewGemini(ctx context.Context, projectID, location string, opts ...GeminiOption) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create genai client")
	}

	g := &GeminiClient{
		client:          client,
		generativeModel: "gemini-2.5-flash",
		embeddingModel:  "gemini-embedding-001",
		dimensions:      vectorstore.DefaultDimension,
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// Embed returns the embedding vector for text
func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := int32(g.dimensions)
	resp, err := g.client.Models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed content",
			goerr.T(vectorstore.ErrTagEmbedding))
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, goerr.New("empty embedding response",
			goerr.T(vectorstore.ErrTagEmbedding))
	}
	return resp.Embeddings[0].Values, nil
}

func (g *GeminiClient) Dimensions() int { return g.dimensions }

// DirectGenerate sends a single prompt and returns the raw text response
func (g *GeminiClient) DirectGenerate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.generativeModel, contents, &genai.GenerateContentConfig{})
	if err != nil {
		return "", goerr.Wrap(err, "failed to generate content")
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", goerr.New("invalid response structure from gemini")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
