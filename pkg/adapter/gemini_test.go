package adapter_test

import (
	"context"
	"os"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/aethonlab/mnemo/pkg/adapter"
)

func setupGemini(t *testing.T) *adapter.GeminiClient {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT is not set")
	}

	client, err := adapter.NewGemini(context.Background(), projectID, "us-central1",
		adapter.WithDimensions(768))
	gt.NoError(t, err)
	return client
}

func TestEmbed(t *testing.T) {
	client := setupGemini(t)

	vec, err := client.Embed(context.Background(), "Use context.Context for cancellation")
	gt.NoError(t, err)
	gt.A(t, vec).Length(768)
}

func TestDirectGenerate(t *testing.T) {
	client := setupGemini(t)

	resp, err := client.DirectGenerate(context.Background(), "Reply with the single word: ok")
	gt.NoError(t, err)
	gt.True(t, resp != "")
}
