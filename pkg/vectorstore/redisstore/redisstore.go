// Package redisstore implements a networked backend on Redis. Records are
// plain hashes (vector BLOB plus payload JSON) under an id index set, and
// similarity search is a client-side cosine scan over the collection.
// Driver instances sharing one server address share a pooled client.
package redisstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"

	"github.com/aethonlab/mnemo/pkg/vectorstore"
)

func init() {
	vectorstore.RegisterDriver(vectorstore.BackendRedis, func(cfg vectorstore.Config) (vectorstore.Driver, error) {
		return New(cfg), nil
	})
}

var clientPool = vectorstore.NewPool(
	func(ctx context.Context, cfg vectorstore.Config) (redis.UniversalClient, error) {
		db := 0
		if cfg.Database != "" {
			parsed, err := strconv.Atoi(cfg.Database)
			if err != nil {
				return nil, goerr.Wrap(err, "redis database must be numeric",
					goerr.T(vectorstore.ErrTagValidation), goerr.V("database", cfg.Database))
			}
			db = parsed
		}
		return redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Credentials,
			DB:       db,
		}), nil
	},
	func(c redis.UniversalClient) error { return c.Close() },
)

// Driver stores one collection under a key prefix in a shared Redis client
type Driver struct {
	cfg vectorstore.Config

	mu        sync.Mutex
	client    redis.UniversalClient
	connected bool
}

// New builds a redis driver; the client is dialed on Connect
func New(cfg vectorstore.Config) *Driver {
	return &Driver{cfg: cfg}
}

func (d *Driver) Kind() vectorstore.Backend { return vectorstore.BackendRedis }

func (d *Driver) metaKey() string         { return d.cfg.Collection + ":meta" }
func (d *Driver) idsKey() string          { return d.cfg.Collection + ":ids" }
func (d *Driver) recKey(id int64) string  { return d.cfg.Collection + ":rec:" + strconv.FormatInt(id, 10) }

// Connect dials (or reuses) the pooled client and provisions the
// collection meta key. Calling it again on a live connection re-creates
// the meta key, which is how a dropped collection is recovered.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client == nil {
		client, err := clientPool.Acquire(ctx, d.cfg)
		if err != nil {
			return err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			_ = clientPool.Release(d.cfg)
			return goerr.Wrap(err, "redis server is unreachable",
				goerr.T(vectorstore.ErrTagConnection), goerr.V("address", d.cfg.Address))
		}
		d.client = client
	}

	if err := d.client.HSet(ctx, d.metaKey(), "dimension", d.cfg.Dimension).Err(); err != nil {
		return goerr.Wrap(err, "failed to provision redis collection",
			goerr.T(vectorstore.ErrTagBackend), goerr.V("collection", d.cfg.Collection))
	}
	d.connected = true
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	if d.client == nil {
		return nil
	}
	d.client = nil
	return clientPool.Release(d.cfg)
}

func (d *Driver) Insert(ctx context.Context, vectors [][]float32, ids []int64, payloads []map[string]any) error {
	if err := vectorstore.ValidateBatch(vectors, ids, payloads, d.cfg.Dimension); err != nil {
		return err
	}
	client, err := d.ensure(ctx)
	if err != nil {
		return err
	}

	pipe := client.TxPipeline()
	for i := range ids {
		payload, err := json.Marshal(payloads[i])
		if err != nil {
			return goerr.Wrap(err, "failed to serialize payload",
				goerr.T(vectorstore.ErrTagValidation), goerr.V("id", ids[i]))
		}
		pipe.HSet(ctx, d.recKey(ids[i]),
			"vector", string(encodeVector(vectors[i])),
			"payload", string(payload))
		pipe.SAdd(ctx, d.idsKey(), ids[i])
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return goerr.Wrap(err, "redis insert failed", goerr.T(vectorstore.ErrTagBackend))
	}
	return nil
}

func (d *Driver) Search(ctx context.Context, query []float32, limit int, filter *vectorstore.Filter) ([]vectorstore.SearchResult, error) {
	if err := vectorstore.ValidateVector(query, d.cfg.Dimension); err != nil {
		return nil, err
	}
	records, err := d.scan(ctx, filter, 0)
	if err != nil {
		return nil, err
	}

	results := make([]vectorstore.SearchResult, 0, len(records))
	for _, rec := range records {
		results = append(results, vectorstore.SearchResult{
			Record: rec,
			Score:  vectorstore.CosineSimilarity(query, rec.Vector),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (d *Driver) Get(ctx context.Context, id int64) (*vectorstore.Record, error) {
	client, err := d.ensure(ctx)
	if err != nil {
		return nil, err
	}
	fields, err := client.HGetAll(ctx, d.recKey(id)).Result()
	if err != nil {
		return nil, goerr.Wrap(err, "redis read failed", goerr.T(vectorstore.ErrTagBackend))
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeRecord(id, fields)
}

func (d *Driver) Update(ctx context.Context, id int64, vector []float32, payload map[string]any) error {
	return d.Insert(ctx, [][]float32{vector}, []int64{id}, []map[string]any{payload})
}

func (d *Driver) Delete(ctx context.Context, id int64) error {
	client, err := d.ensure(ctx)
	if err != nil {
		return err
	}
	pipe := client.TxPipeline()
	pipe.Del(ctx, d.recKey(id))
	pipe.SRem(ctx, d.idsKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return goerr.Wrap(err, "redis delete failed", goerr.T(vectorstore.ErrTagBackend))
	}
	return nil
}

func (d *Driver) List(ctx context.Context, filter *vectorstore.Filter, limit int) ([]vectorstore.Record, error) {
	return d.scan(ctx, filter, limit)
}

func (d *Driver) DropCollection(ctx context.Context) error {
	client, err := d.ensure(ctx)
	if err != nil {
		return err
	}
	ids, err := client.SMembers(ctx, d.idsKey()).Result()
	if err != nil {
		return goerr.Wrap(err, "redis listing failed", goerr.T(vectorstore.ErrTagBackend))
	}

	pipe := client.TxPipeline()
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		pipe.Del(ctx, d.recKey(id))
	}
	pipe.Del(ctx, d.idsKey())
	pipe.Del(ctx, d.metaKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return goerr.Wrap(err, "redis drop failed", goerr.T(vectorstore.ErrTagBackend))
	}
	return nil
}

func (d *Driver) scan(ctx context.Context, filter *vectorstore.Filter, limit int) ([]vectorstore.Record, error) {
	client, err := d.ensure(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := client.SMembers(ctx, d.idsKey()).Result()
	if err != nil {
		return nil, goerr.Wrap(err, "redis listing failed", goerr.T(vectorstore.ErrTagBackend))
	}
	ids := make([]int64, 0, len(raw))
	for _, r := range raw {
		if id, err := strconv.ParseInt(r, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []vectorstore.Record
	for _, id := range ids {
		fields, err := client.HGetAll(ctx, d.recKey(id)).Result()
		if err != nil {
			return nil, goerr.Wrap(err, "redis read failed", goerr.T(vectorstore.ErrTagBackend))
		}
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeRecord(id, fields)
		if err != nil {
			return nil, err
		}
		if !filter.Matches(rec.Payload) {
			continue
		}
		out = append(out, *rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ensure checks the connect-state and that the collection meta key still
// exists; a vanished meta key is reported as collection-missing so the
// reasoning store can trigger its one recreate cycle.
func (d *Driver) ensure(ctx context.Context) (redis.UniversalClient, error) {
	d.mu.Lock()
	client := d.client
	connected := d.connected
	d.mu.Unlock()

	if !connected || client == nil {
		return nil, vectorstore.ErrNotConnected(vectorstore.BackendRedis)
	}
	n, err := client.Exists(ctx, d.metaKey()).Result()
	if err != nil {
		return nil, goerr.Wrap(err, "redis meta check failed", goerr.T(vectorstore.ErrTagBackend))
	}
	if n == 0 {
		return nil, goerr.New("collection has been dropped",
			goerr.T(vectorstore.ErrTagCollectionMissing),
			goerr.V("collection", d.cfg.Collection))
	}
	return client, nil
}

func decodeRecord(id int64, fields map[string]string) (*vectorstore.Record, error) {
	vector, err := decodeVector([]byte(fields["vector"]))
	if err != nil {
		return nil, goerr.Wrap(err, "corrupt vector field",
			goerr.T(vectorstore.ErrTagBackend), goerr.V("id", id))
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(fields["payload"]), &payload); err != nil {
		return nil, goerr.Wrap(err, "corrupt payload field",
			goerr.T(vectorstore.ErrTagBackend), goerr.V("id", id))
	}
	return &vectorstore.Record{ID: id, Vector: vector, Payload: payload}, nil
}

func encodeVector(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, goerr.New("vector field length is not a multiple of 4",
			goerr.V("length", len(b)))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}
