// Package sqlite implements a local-file backend on the pure Go
// modernc.org/sqlite driver. Vectors are stored as little-endian float32
// BLOBs and similarity search is a brute-force cosine scan, which is
// adequate for the collection sizes a single agent accumulates.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"github.com/aethonlab/mnemo/pkg/vectorstore"
)

func init() {
	vectorstore.RegisterDriver(vectorstore.BackendSQLite, func(cfg vectorstore.Config) (vectorstore.Driver, error) {
		return New(cfg)
	})
}

var collectionNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Driver persists one collection as one table in a SQLite database file.
// Config.Address is the database path; empty means an in-memory database.
type Driver struct {
	cfg vectorstore.Config
	dsn string

	mu        sync.Mutex
	db        *sql.DB
	connected bool
}

// New validates the collection name (it becomes a table identifier) and
// builds the driver.
func New(cfg vectorstore.Config) (*Driver, error) {
	if !collectionNameRe.MatchString(cfg.Collection) {
		return nil, goerr.New("collection name is not a valid identifier",
			goerr.T(vectorstore.ErrTagValidation), goerr.V("collection", cfg.Collection))
	}
	dsn := cfg.Address
	if dsn == "" {
		dsn = ":memory:"
	}
	return &Driver{cfg: cfg, dsn: dsn}, nil
}

func (d *Driver) Kind() vectorstore.Backend { return vectorstore.BackendSQLite }

func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		db, err := sql.Open("sqlite", d.dsn)
		if err != nil {
			return goerr.Wrap(err, "failed to open sqlite database",
				goerr.T(vectorstore.ErrTagConnection), goerr.V("dsn", d.dsn))
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return goerr.Wrap(err, "sqlite database is unreachable",
				goerr.T(vectorstore.ErrTagConnection), goerr.V("dsn", d.dsn))
		}
		d.db = db
	}
	if _, err := d.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS "`+d.cfg.Collection+`" (
			id INTEGER PRIMARY KEY,
			vector BLOB NOT NULL,
			payload TEXT NOT NULL
		)`); err != nil {
		return goerr.Wrap(err, "failed to create collection table",
			goerr.T(vectorstore.ErrTagBackend), goerr.V("collection", d.cfg.Collection))
	}
	d.connected = true
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

func (d *Driver) Insert(ctx context.Context, vectors [][]float32, ids []int64, payloads []map[string]any) error {
	if err := vectorstore.ValidateBatch(vectors, ids, payloads, d.cfg.Dimension); err != nil {
		return err
	}
	db, err := d.handle()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return d.opError(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO "`+d.cfg.Collection+`" (id, vector, payload) VALUES (?, ?, ?)`)
	if err != nil {
		return d.opError(err, "failed to prepare insert")
	}
	defer stmt.Close()

	for i := range ids {
		payload, err := json.Marshal(payloads[i])
		if err != nil {
			return goerr.Wrap(err, "failed to serialize payload",
				goerr.T(vectorstore.ErrTagValidation), goerr.V("id", ids[i]))
		}
		if _, err := stmt.ExecContext(ctx, ids[i], encodeVector(vectors[i]), string(payload)); err != nil {
			return d.opError(err, "failed to insert record")
		}
	}
	if err := tx.Commit(); err != nil {
		return d.opError(err, "failed to commit insert")
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
	db, err := d.handle()
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx,
		`SELECT vector, payload FROM "`+d.cfg.Collection+`" WHERE id = ?`, id)
	var blob []byte
	var payloadJSON string
	if err := row.Scan(&blob, &payloadJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, d.opError(err, "failed to read record")
	}
	return d.decodeRecord(id, blob, payloadJSON)
}

func (d *Driver) Update(ctx context.Context, id int64, vector []float32, payload map[string]any) error {
	return d.Insert(ctx, [][]float32{vector}, []int64{id}, []map[string]any{payload})
}

func (d *Driver) Delete(ctx context.Context, id int64) error {
	db, err := d.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx,
		`DELETE FROM "`+d.cfg.Collection+`" WHERE id = ?`, id); err != nil {
		return d.opError(err, "failed to delete record")
	}
	return nil
}

func (d *Driver) List(ctx context.Context, filter *vectorstore.Filter, limit int) ([]vectorstore.Record, error) {
	return d.scan(ctx, filter, limit)
}

func (d *Driver) DropCollection(ctx context.Context) error {
	db, err := d.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS "`+d.cfg.Collection+`"`); err != nil {
		return d.opError(err, "failed to drop collection table")
	}
	return nil
}

func (d *Driver) scan(ctx context.Context, filter *vectorstore.Filter, limit int) ([]vectorstore.Record, error) {
	db, err := d.handle()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, vector, payload FROM "`+d.cfg.Collection+`" ORDER BY id`)
	if err != nil {
		return nil, d.opError(err, "failed to scan collection")
	}
	defer rows.Close()

	var out []vectorstore.Record
	for rows.Next() {
		var id int64
		var blob []byte
		var payloadJSON string
		if err := rows.Scan(&id, &blob, &payloadJSON); err != nil {
			return nil, d.opError(err, "failed to scan row")
		}
		rec, err := d.decodeRecord(id, blob, payloadJSON)
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
	if err := rows.Err(); err != nil {
		return nil, d.opError(err, "failed to iterate rows")
	}
	return out, nil
}

func (d *Driver) decodeRecord(id int64, blob []byte, payloadJSON string) (*vectorstore.Record, error) {
	vector, err := decodeVector(blob)
	if err != nil {
		return nil, goerr.Wrap(err, "corrupt vector blob",
			goerr.T(vectorstore.ErrTagBackend), goerr.V("id", id))
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return nil, goerr.Wrap(err, "corrupt payload",
			goerr.T(vectorstore.ErrTagBackend), goerr.V("id", id))
	}
	return &vectorstore.Record{ID: id, Vector: vector, Payload: payload}, nil
}

func (d *Driver) handle() (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected || d.db == nil {
		return nil, vectorstore.ErrNotConnected(vectorstore.BackendSQLite)
	}
	return d.db, nil
}

func (d *Driver) opError(err error, msg string) error {
	tag := vectorstore.ErrTagBackend
	if strings.Contains(err.Error(), "no such table") {
		tag = vectorstore.ErrTagCollectionMissing
	}
	return goerr.Wrap(err, msg, goerr.T(tag), goerr.V("collection", d.cfg.Collection))
}

// encodeVector packs float32 values as a little-endian BLOB
func encodeVector(vec []float32) []byte {
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// decodeVector unpacks a BLOB produced by encodeVector
func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, goerr.New("vector blob length is not a multiple of 4",
			goerr.V("length", len(b)))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}
