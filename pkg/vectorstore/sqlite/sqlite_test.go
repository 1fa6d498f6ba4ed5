package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/aethonlab/mnemo/pkg/vectorstore"
	"github.com/aethonlab/mnemo/pkg/vectorstore/sqlite"
)

func baseConfig() vectorstore.Config {
	return vectorstore.Config{
		Backend:    vectorstore.BackendSQLite,
		Collection: "memories",
		Dimension:  4,
	}
}

func newDriver(t *testing.T, cfg vectorstore.Config) *sqlite.Driver {
	t.Helper()
	d, err := sqlite.New(cfg)
	gt.NoError(t, err)
	gt.NoError(t, d.Connect(context.Background()))
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestNewRejectsBadCollectionName(t *testing.T) {
	cfg := baseConfig()
	cfg.Collection = "memories; DROP TABLE users"
	_, err := sqlite.New(cfg)
	gt.Error(t, err)
	gt.True(t, vectorstore.IsValidation(err))
}

func TestDriverRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t, baseConfig())

	gt.NoError(t, d.Insert(ctx,
		[][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}},
		[]int64{201, 202},
		[]map[string]any{
			{"text": "first", "confidence": 0.9},
			{"text": "second", "confidence": 0.4},
		}))

	t.Run("get preserves vector and payload", func(t *testing.T) {
		rec, err := d.Get(ctx, 201)
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
		results, err := d.Search(ctx, []float32{0.1, 0.9, 0, 0}, 2, nil)
		gt.NoError(t, err)
		gt.A(t, results).Length(2)
		gt.Equal(t, results[0].ID, int64(202))
	})

	t.Run("search with range filter", func(t *testing.T) {
		min := 0.5
		results, err := d.Search(ctx, []float32{1, 1, 0, 0}, 10,
			&vectorstore.Filter{Range: map[string]vectorstore.RangeBound{
				"confidence": {Min: &min},
			}})
		gt.NoError(t, err)
		gt.A(t, results).Length(1)
		gt.Equal(t, results[0].ID, int64(201))
	})

	t.Run("insert replaces under the same id", func(t *testing.T) {
		gt.NoError(t, d.Insert(ctx,
			[][]float32{{0, 0, 1, 0}}, []int64{201}, []map[string]any{{"text": "replaced"}}))
		rec, err := d.Get(ctx, 201)
		gt.NoError(t, err)
		gt.Equal(t, rec.Payload["text"], "replaced")

		records, err := d.List(ctx, nil, 0)
		gt.NoError(t, err)
		gt.A(t, records).Length(2)
	})

	t.Run("delete", func(t *testing.T) {
		gt.NoError(t, d.Delete(ctx, 201))
		rec, err := d.Get(ctx, 201)
		gt.NoError(t, err)
		gt.Nil(t, rec)
	})
}

func TestDriverFilePersistence(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig()
	cfg.Address = filepath.Join(t.TempDir(), "memories.db")

	d := newDriver(t, cfg)
	gt.NoError(t, d.Insert(ctx,
		[][]float32{{1, 0, 0, 0}}, []int64{1}, []map[string]any{{"text": "persisted"}}))
	gt.NoError(t, d.Close())

	// A fresh driver against the same file sees the record
	d2 := newDriver(t, cfg)
	rec, err := d2.Get(ctx, 1)
	gt.NoError(t, err)
	gt.NotNil(t, rec)
	gt.Equal(t, rec.Payload["text"], "persisted")
}

func TestDriverDroppedCollection(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t, baseConfig())

	gt.NoError(t, d.Insert(ctx, [][]float32{{1, 0, 0, 0}}, []int64{1}, []map[string]any{{}}))
	gt.NoError(t, d.DropCollection(ctx))

	_, err := d.Get(ctx, 1)
	gt.Error(t, err)
	gt.True(t, vectorstore.IsCollectionMissing(err))

	// Connect recreates the table
	gt.NoError(t, d.Connect(ctx))
	rec, err := d.Get(ctx, 1)
	gt.NoError(t, err)
	gt.Nil(t, rec)
}

func TestDriverNotConnected(t *testing.T) {
	d, err := sqlite.New(baseConfig())
	gt.NoError(t, err)
	_, err = d.Get(context.Background(), 1)
	gt.Error(t, err)
	gt.True(t, vectorstore.IsNotConnected(err))
}
