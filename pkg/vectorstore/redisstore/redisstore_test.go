package redisstore_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/m-mizutani/gt"

	"github.com/aethonlab/mnemo/pkg/vectorstore"
	"github.com/aethonlab/mnemo/pkg/vectorstore/redisstore"
)

func newDriver(t *testing.T, collection string) (*redisstore.Driver, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)

	d := redisstore.New(vectorstore.Config{
		Backend:    vectorstore.BackendRedis,
		Address:    srv.Addr(),
		Collection: collection,
		Dimension:  4,
	})
	gt.NoError(t, d.Connect(context.Background()))
	t.Cleanup(func() { _ = d.Close() })
	return d, srv
}

func TestDriverRoundTrip(t *testing.T) {
	ctx := context.Background()
	d, _ := newDriver(t, "memories")

	gt.NoError(t, d.Insert(ctx,
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}},
		[]int64{301, 302},
		[]map[string]any{
			{"text": "first", "user_id": "alice"},
			{"text": "second", "user_id": "bob"},
		}))

	t.Run("get preserves vector and payload", func(t *testing.T) {
		rec, err := d.Get(ctx, 301)
		gt.NoError(t, err)
		gt.NotNil(t, rec)
		gt.Equal(t, rec.Vector, []float32{1, 0, 0, 0})
		gt.Equal(t, rec.Payload["text"], "first")
	})

	t.Run("get missing yields nil", func(t *testing.T) {
		rec, err := d.Get(ctx, 999)
		gt.NoError(t, err)
		gt.Nil(t, rec)
	})

	t.Run("search orders by cosine similarity", func(t *testing.T) {
		results, err := d.Search(ctx, []float32{0.9, 0.1, 0, 0}, 2, nil)
		gt.NoError(t, err)
		gt.A(t, results).Length(2)
		gt.Equal(t, results[0].ID, int64(301))
		gt.True(t, results[0].Score > results[1].Score)
	})

	t.Run("search with filter", func(t *testing.T) {
		results, err := d.Search(ctx, []float32{1, 1, 0, 0}, 10,
			&vectorstore.Filter{Eq: map[string]any{"user_id": "bob"}})
		gt.NoError(t, err)
		gt.A(t, results).Length(1)
		gt.Equal(t, results[0].ID, int64(302))
	})

	t.Run("update replaces the record", func(t *testing.T) {
		gt.NoError(t, d.Update(ctx, 301, []float32{0, 0, 1, 0}, map[string]any{"text": "replaced"}))
		rec, err := d.Get(ctx, 301)
		gt.NoError(t, err)
		gt.Equal(t, rec.Payload["text"], "replaced")
	})

	t.Run("delete", func(t *testing.T) {
		gt.NoError(t, d.Delete(ctx, 301))
		rec, err := d.Get(ctx, 301)
		gt.NoError(t, err)
		gt.Nil(t, rec)

		records, err := d.List(ctx, nil, 0)
		gt.NoError(t, err)
		gt.A(t, records).Length(1)
	})
}

func TestDriverConnectFailure(t *testing.T) {
	d := redisstore.New(vectorstore.Config{
		Backend:    vectorstore.BackendRedis,
		Address:    "127.0.0.1:1", // nothing listens here
		Collection: "memories",
		Dimension:  4,
	})
	err := d.Connect(context.Background())
	gt.Error(t, err)
	gt.True(t, vectorstore.IsConnection(err))
}

func TestDriverCollectionMissing(t *testing.T) {
	ctx := context.Background()
	d, srv := newDriver(t, "memories")

	gt.NoError(t, d.Insert(ctx, [][]float32{{1, 0, 0, 0}}, []int64{1}, []map[string]any{{}}))

	// A flushed server loses the collection meta key
	srv.FlushAll()

	_, err := d.Get(ctx, 1)
	gt.Error(t, err)
	gt.True(t, vectorstore.IsCollectionMissing(err))

	// Connect re-provisions the collection on the live client
	gt.NoError(t, d.Connect(ctx))
	rec, err := d.Get(ctx, 1)
	gt.NoError(t, err)
	gt.Nil(t, rec)
}

func TestDriverNotConnected(t *testing.T) {
	d := redisstore.New(vectorstore.Config{
		Backend:    vectorstore.BackendRedis,
		Address:    "localhost:6379",
		Collection: "memories",
		Dimension:  4,
	})
	_, err := d.Get(context.Background(), 1)
	gt.Error(t, err)
	gt.True(t, vectorstore.IsNotConnected(err))
}

func TestDriverSharedClient(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)

	cfg := vectorstore.Config{
		Backend:    vectorstore.BackendRedis,
		Address:    srv.Addr(),
		Collection: "memories",
		Dimension:  4,
	}
	d1 := redisstore.New(cfg)
	gt.NoError(t, d1.Connect(ctx))

	cfg2 := cfg
	cfg2.Collection = "reflections"
	d2 := redisstore.New(cfg2)
	gt.NoError(t, d2.Connect(ctx))

	// Collections are isolated even though the client is shared
	gt.NoError(t, d1.Insert(ctx, [][]float32{{1, 0, 0, 0}}, []int64{1}, []map[string]any{{"text": "k"}}))
	rec, err := d2.Get(ctx, 1)
	gt.NoError(t, err)
	gt.Nil(t, rec)

	// Closing one driver must not break the other
	gt.NoError(t, d1.Close())
	gt.NoError(t, d2.Insert(ctx, [][]float32{{0, 1, 0, 0}}, []int64{2}, []map[string]any{{"text": "r"}}))
	gt.NoError(t, d2.Close())
}
