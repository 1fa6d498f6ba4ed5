package adapter_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/aethonlab/mnemo/pkg/adapter"
)

type countingEmbedder struct {
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return []float32{float32(len(text)), 0, 0, 0}, nil
}

func (c *countingEmbedder) Dimensions() int { return 4 }

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	cached, err := adapter.NewCachedEmbedder(inner)
	gt.NoError(t, err)
	defer cached.Close()

	ctx := context.Background()

	first, err := cached.Embed(ctx, "some fact")
	gt.NoError(t, err)
	gt.A(t, first).Length(4)
	gt.Equal(t, inner.calls, 1)

	// ristretto admits entries asynchronously; wait for the write buffer
	cached.Wait()

	second, err := cached.Embed(ctx, "some fact")
	gt.NoError(t, err)
	gt.Equal(t, second, first)
	gt.Equal(t, inner.calls, 1)

	_, err = cached.Embed(ctx, "a different fact")
	gt.NoError(t, err)
	gt.Equal(t, inner.calls, 2)

	gt.Equal(t, cached.Dimensions(), 4)
}
