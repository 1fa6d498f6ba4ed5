// Package chromem implements the embedded in-process backend on top of
// chromem-go. It is the default backend and the fallback target when a
// networked backend is selected without an address.
package chromem

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"

	"github.com/aethonlab/mnemo/pkg/vectorstore"
)

func init() {
	vectorstore.RegisterDriver(vectorstore.BackendChromem, func(cfg vectorstore.Config) (vectorstore.Driver, error) {
		return New(cfg), nil
	})
}

// Driver keeps the authoritative record map in process memory and delegates
// similarity search to a chromem-go collection. chromem has no point-lookup
// or listing surface, so Get and List are served from the record map, which
// is kept in lockstep with the collection.
type Driver struct {
	cfg vectorstore.Config

	mu        sync.RWMutex
	db        *chromem.DB
	col       *chromem.Collection
	records   map[int64]vectorstore.Record
	connected bool
}

// New builds an embedded driver for the configured collection
func New(cfg vectorstore.Config) *Driver {
	return &Driver{
		cfg:     cfg,
		db:      chromem.NewDB(),
		records: make(map[int64]vectorstore.Record),
	}
}

func (d *Driver) Kind() vectorstore.Backend { return vectorstore.BackendChromem }

// Connect creates the collection if absent. Idempotent, and also used to
// recreate a dropped collection.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.col == nil {
		col, err := d.db.GetOrCreateCollection(d.cfg.Collection, nil, nil)
		if err != nil {
			return goerr.Wrap(err, "failed to create chromem collection",
				goerr.T(vectorstore.ErrTagBackend), goerr.V("collection", d.cfg.Collection))
		}
		d.col = col
	}
	d.connected = true
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}

func (d *Driver) Insert(ctx context.Context, vectors [][]float32, ids []int64, payloads []map[string]any) error {
	if err := vectorstore.ValidateBatch(vectors, ids, payloads, d.cfg.Dimension); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}

	added := 0
	for _, id := range ids {
		if _, exists := d.records[id]; !exists {
			added++
		}
	}
	if len(d.records)+added > d.cfg.MaxVectors {
		return goerr.New("embedded store capacity exceeded",
			goerr.T(vectorstore.ErrTagBackend),
			goerr.V("max_vectors", d.cfg.MaxVectors), goerr.V("stored", len(d.records)))
	}

	for i := range ids {
		if err := d.put(ctx, ids[i], vectors[i], payloads[i]); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) Search(ctx context.Context, query []float32, limit int, filter *vectorstore.Filter) ([]vectorstore.SearchResult, error) {
	if err := vectorstore.ValidateVector(query, d.cfg.Dimension); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.ready(); err != nil {
		return nil, err
	}

	count := d.col.Count()
	if count == 0 || limit <= 0 {
		return nil, nil
	}
	// chromem rejects nResults > count; fetch the whole collection when a
	// filter is present so post-filtering cannot starve the result set.
	n := limit
	if filter != nil || n > count {
		n = count
	}

	results, err := d.col.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "chromem query failed", goerr.T(vectorstore.ErrTagBackend))
	}

	out := make([]vectorstore.SearchResult, 0, limit)
	for _, res := range results {
		id, err := strconv.ParseInt(res.ID, 10, 64)
		if err != nil {
			continue
		}
		rec, ok := d.records[id]
		if !ok || !filter.Matches(rec.Payload) {
			continue
		}
		out = append(out, vectorstore.SearchResult{Record: rec, Score: float64(res.Similarity)})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (d *Driver) Get(ctx context.Context, id int64) (*vectorstore.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.ready(); err != nil {
		return nil, err
	}
	rec, ok := d.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (d *Driver) Update(ctx context.Context, id int64, vector []float32, payload map[string]any) error {
	if err := vectorstore.ValidateVector(vector, d.cfg.Dimension); err != nil {
		return err
	}
	if id <= 0 {
		return goerr.New("record id must be a positive integer",
			goerr.T(vectorstore.ErrTagValidation), goerr.V("id", id))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	return d.put(ctx, id, vector, payload)
}

func (d *Driver) Delete(ctx context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	if _, ok := d.records[id]; !ok {
		return nil
	}
	if err := d.col.Delete(ctx, nil, nil, strconv.FormatInt(id, 10)); err != nil {
		return goerr.Wrap(err, "chromem delete failed", goerr.T(vectorstore.ErrTagBackend))
	}
	delete(d.records, id)
	return nil
}

func (d *Driver) List(ctx context.Context, filter *vectorstore.Filter, limit int) ([]vectorstore.Record, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.ready(); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(d.records))
	for id := range d.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]vectorstore.Record, 0, limit)
	for _, id := range ids {
		rec := d.records[id]
		if !filter.Matches(rec.Payload) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (d *Driver) DropCollection(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ready(); err != nil {
		return err
	}
	if err := d.db.DeleteCollection(d.cfg.Collection); err != nil {
		return goerr.Wrap(err, "failed to delete chromem collection",
			goerr.T(vectorstore.ErrTagBackend))
	}
	d.col = nil
	d.records = make(map[int64]vectorstore.Record)
	return nil
}

// put writes one record through to the collection. Re-adding an existing
// chromem document id replaces it, which gives insert-or-replace semantics.
func (d *Driver) put(ctx context.Context, id int64, vector []float32, payload map[string]any) error {
	content, err := json.Marshal(payload)
	if err != nil {
		return goerr.Wrap(err, "failed to serialize payload",
			goerr.T(vectorstore.ErrTagValidation), goerr.V("id", id))
	}

	doc := chromem.Document{
		ID:        strconv.FormatInt(id, 10),
		Content:   string(content),
		Embedding: vector,
	}
	if err := d.col.AddDocument(ctx, doc); err != nil {
		return goerr.Wrap(err, "chromem add document failed",
			goerr.T(vectorstore.ErrTagBackend), goerr.V("id", id))
	}

	d.records[id] = vectorstore.Record{
		ID:      id,
		Vector:  append([]float32(nil), vector...),
		Payload: payload,
	}
	return nil
}

// ready is called with the lock held
func (d *Driver) ready() error {
	if !d.connected {
		return vectorstore.ErrNotConnected(vectorstore.BackendChromem)
	}
	if d.col == nil {
		return goerr.New("collection has been dropped",
			goerr.T(vectorstore.ErrTagCollectionMissing),
			goerr.V("collection", d.cfg.Collection))
	}
	return nil
}
