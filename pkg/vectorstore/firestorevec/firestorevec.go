// Package firestorevec implements a networked backend on Cloud Firestore.
// Each record is one document carrying a Vector32 embedding field, and
// similarity search uses Firestore's native FindNearest cosine query.
// Config.Address is the Google Cloud project ID and Config.Database the
// Firestore database ID. Clients are shared through the connection pool.
package firestorevec

import (
	"context"
	"strconv"
	"sync"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/aethonlab/mnemo/pkg/vectorstore"
)

func init() {
	vectorstore.RegisterDriver(vectorstore.BackendFirestore, func(cfg vectorstore.Config) (vectorstore.Driver, error) {
		return New(cfg), nil
	})
}

const distanceField = "vector_distance"

var clientPool = vectorstore.NewPool(
	func(ctx context.Context, cfg vectorstore.Config) (*firestore.Client, error) {
		database := cfg.Database
		if database == "" {
			database = firestore.DefaultDatabaseID
		}
		var opts []option.ClientOption
		if cfg.Credentials != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Credentials))
		}
		return firestore.NewClientWithDatabase(ctx, cfg.Address, database, opts...)
	},
	func(c *firestore.Client) error { return c.Close() },
)

// Driver stores one collection of vector documents in Firestore
type Driver struct {
	cfg vectorstore.Config

	mu        sync.Mutex
	client    *firestore.Client
	connected bool
}

// New builds a firestore driver; the client is dialed on Connect
func New(cfg vectorstore.Config) *Driver {
	return &Driver{cfg: cfg}
}

func (d *Driver) Kind() vectorstore.Backend { return vectorstore.BackendFirestore }

// Connect acquires the pooled client. Firestore collections are implicit,
// so no provisioning call is needed beyond verifying reachability.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connected {
		return nil
	}

	client, err := clientPool.Acquire(ctx, d.cfg)
	if err != nil {
		return err
	}
	if _, err := client.Collection(d.cfg.Collection).Limit(1).Documents(ctx).GetAll(); err != nil {
		_ = clientPool.Release(d.cfg)
		return goerr.Wrap(err, "firestore is unreachable",
			goerr.T(vectorstore.ErrTagConnection), goerr.V("project", d.cfg.Address))
	}

	d.client = client
	d.connected = true
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil
	}
	d.connected = false
	d.client = nil
	return clientPool.Release(d.cfg)
}

func (d *Driver) Insert(ctx context.Context, vectors [][]float32, ids []int64, payloads []map[string]any) error {
	if err := vectorstore.ValidateBatch(vectors, ids, payloads, d.cfg.Dimension); err != nil {
		return err
	}
	client, err := d.handle()
	if err != nil {
		return err
	}

	// Set overwrites existing documents, giving insert-or-replace
	// semantics per id.
	writer := client.BulkWriter(ctx)
	col := client.Collection(d.cfg.Collection)
	for i := range ids {
		doc := map[string]any{
			"id":      ids[i],
			"vector":  firestore.Vector32(vectors[i]),
			"payload": payloads[i],
		}
		if _, err := writer.Set(col.Doc(strconv.FormatInt(ids[i], 10)), doc); err != nil {
			writer.End()
			return goerr.Wrap(err, "firestore write enqueue failed",
				goerr.T(vectorstore.ErrTagBackend), goerr.V("id", ids[i]))
		}
	}
	writer.End()
	return nil
}

func (d *Driver) Search(ctx context.Context, query []float32, limit int, filter *vectorstore.Filter) ([]vectorstore.SearchResult, error) {
	if err := vectorstore.ValidateVector(query, d.cfg.Dimension); err != nil {
		return nil, err
	}
	client, err := d.handle()
	if err != nil {
		return nil, err
	}

	q := d.applyFilter(client.Collection(d.cfg.Collection).Query, filter)
	vq := q.FindNearest("vector", firestore.Vector32(query), limit,
		firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{DistanceResultField: distanceField})

	docs, err := vq.Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "firestore vector query failed",
			goerr.T(vectorstore.ErrTagBackend))
	}

	out := make([]vectorstore.SearchResult, 0, len(docs))
	for _, doc := range docs {
		rec, err := decodeDocument(doc.Data())
		if err != nil {
			return nil, err
		}
		distance, _ := doc.Data()[distanceField].(float64)
		// Cosine distance is in [0,2]; normalize to similarity with 1.0
		// meaning identical.
		out = append(out, vectorstore.SearchResult{Record: *rec, Score: 1 - distance})
	}
	return out, nil
}

func (d *Driver) Get(ctx context.Context, id int64) (*vectorstore.Record, error) {
	client, err := d.handle()
	if err != nil {
		return nil, err
	}
	snap, err := client.Collection(d.cfg.Collection).Doc(strconv.FormatInt(id, 10)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "firestore read failed",
			goerr.T(vectorstore.ErrTagBackend), goerr.V("id", id))
	}
	return decodeDocument(snap.Data())
}

func (d *Driver) Update(ctx context.Context, id int64, vector []float32, payload map[string]any) error {
	return d.Insert(ctx, [][]float32{vector}, []int64{id}, []map[string]any{payload})
}

func (d *Driver) Delete(ctx context.Context, id int64) error {
	client, err := d.handle()
	if err != nil {
		return err
	}
	if _, err := client.Collection(d.cfg.Collection).Doc(strconv.FormatInt(id, 10)).Delete(ctx); err != nil {
		return goerr.Wrap(err, "firestore delete failed",
			goerr.T(vectorstore.ErrTagBackend), goerr.V("id", id))
	}
	return nil
}

func (d *Driver) List(ctx context.Context, filter *vectorstore.Filter, limit int) ([]vectorstore.Record, error) {
	client, err := d.handle()
	if err != nil {
		return nil, err
	}

	q := d.applyFilter(client.Collection(d.cfg.Collection).Query, filter)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []vectorstore.Record
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "firestore listing failed",
				goerr.T(vectorstore.ErrTagBackend))
		}
		rec, err := decodeDocument(snap.Data())
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (d *Driver) DropCollection(ctx context.Context) error {
	client, err := d.handle()
	if err != nil {
		return err
	}

	iter := client.Collection(d.cfg.Collection).Documents(ctx)
	defer iter.Stop()

	writer := client.BulkWriter(ctx)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			writer.End()
			return goerr.Wrap(err, "firestore listing failed",
				goerr.T(vectorstore.ErrTagBackend))
		}
		if _, err := writer.Delete(snap.Ref); err != nil {
			writer.End()
			return goerr.Wrap(err, "firestore delete enqueue failed",
				goerr.T(vectorstore.ErrTagBackend))
		}
	}
	writer.End()
	return nil
}

// applyFilter translates the generic filter into native Firestore
// predicates over the payload map.
func (d *Driver) applyFilter(q firestore.Query, filter *vectorstore.Filter) firestore.Query {
	if filter == nil {
		return q
	}
	for field, want := range filter.Eq {
		q = q.Where("payload."+field, "==", want)
	}
	for field, choices := range filter.In {
		q = q.Where("payload."+field, "in", choices)
	}
	for field, bound := range filter.Range {
		if bound.Min != nil {
			q = q.Where("payload."+field, ">=", *bound.Min)
		}
		if bound.Max != nil {
			q = q.Where("payload."+field, "<=", *bound.Max)
		}
	}
	return q
}

func (d *Driver) handle() (*firestore.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected || d.client == nil {
		return nil, vectorstore.ErrNotConnected(vectorstore.BackendFirestore)
	}
	return d.client, nil
}

func decodeDocument(data map[string]any) (*vectorstore.Record, error) {
	id, ok := data["id"].(int64)
	if !ok || id <= 0 {
		return nil, goerr.New("document is missing its record id",
			goerr.T(vectorstore.ErrTagBackend))
	}

	var vector []float32
	switch v := data["vector"].(type) {
	case firestore.Vector32:
		vector = []float32(v)
	case []float32:
		vector = v
	case []any:
		for _, e := range v {
			if f, ok := e.(float64); ok {
				vector = append(vector, float32(f))
			}
		}
	}

	payload, _ := data["payload"].(map[string]any)
	if payload == nil {
		return nil, goerr.New("document is missing its payload",
			goerr.T(vectorstore.ErrTagBackend), goerr.V("id", id))
	}
	return &vectorstore.Record{ID: id, Vector: vector, Payload: payload}, nil
}
