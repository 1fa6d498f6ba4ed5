package vectorstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/aethonlab/mnemo/pkg/utils/logging"
)

// DriverFactory builds a driver for a normalized, validated config
type DriverFactory func(cfg Config) (Driver, error)

var (
	factoryMu sync.RWMutex
	factories = map[Backend]DriverFactory{}
)

// RegisterDriver makes a backend available to Managers. Driver packages
// call it from init, in the manner of database/sql drivers; importing a
// driver package is what enables its backend.
func RegisterDriver(backend Backend, factory DriverFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, dup := factories[backend]; dup {
		panic("vectorstore: duplicate driver registration: " + string(backend))
	}
	factories[backend] = factory
}

// RegisteredBackends lists the currently importable backends
func RegisteredBackends() []Backend {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	out := make([]Backend, 0, len(factories))
	for b := range factories {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Info is the diagnostic state a Manager reports
type Info struct {
	Backend         Backend `json:"backend"`
	Collection      string  `json:"collection"`
	Dimension       int     `json:"dimension"`
	Connected       bool    `json:"connected"`
	FallbackApplied bool    `json:"fallback_applied"`
}

// Manager owns the lifecycle of exactly one driver bound to one collection.
// It exposes the driver contract with connect-state checking and handles
// connect retries; operation errors pass through unchanged.
type Manager struct {
	cfg    Config
	driver Driver

	mu        sync.RWMutex
	connected bool
}

// NewManager normalizes the config (including the embedded-store fallback
// for address-less networked backends) and constructs the driver.
func NewManager(cfg Config) (*Manager, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	factoryMu.RLock()
	factory, ok := factories[cfg.Backend]
	factoryMu.RUnlock()
	if !ok {
		return nil, goerr.New("unknown or unimported backend",
			goerr.T(ErrTagValidation), goerr.V("backend", cfg.Backend),
			goerr.V("registered", RegisteredBackends()))
	}

	driver, err := factory(cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build driver", goerr.V("backend", cfg.Backend))
	}

	return &Manager{cfg: cfg, driver: driver}, nil
}

// Config returns the normalized configuration, with FallbackApplied set
// when the embedded store was substituted for a networked backend.
func (m *Manager) Config() Config { return m.cfg }

// Connect establishes the backend connection, retrying connection-class
// failures with linear backoff up to the configured attempt count.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return nil
	}

	logger := logging.From(ctx)
	var lastErr error
	for attempt := 1; attempt <= m.cfg.ConnectRetries; attempt++ {
		err := m.driver.Connect(ctx)
		if err == nil {
			m.connected = true
			logger.Debug("vector store connected",
				"backend", m.cfg.Backend, "collection", m.cfg.Collection)
			return nil
		}
		lastErr = err
		if !IsConnection(err) {
			break
		}
		logger.Warn("vector store connect failed, retrying",
			"backend", m.cfg.Backend, "attempt", attempt, "error", err)

		select {
		case <-time.After(time.Duration(attempt) * m.cfg.ConnectBackoff):
		case <-ctx.Done():
			return goerr.Wrap(ctx.Err(), "connect canceled", goerr.T(ErrTagConnection))
		}
	}
	return goerr.Wrap(lastErr, "failed to connect vector store",
		goerr.V("backend", m.cfg.Backend), goerr.V("collection", m.cfg.Collection))
}

// Reconnect re-runs collection provisioning on the driver regardless of
// connect state. Used to recover from a collection dropped behind the
// manager's back, which Connect's idempotency would otherwise mask.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.driver.Connect(ctx); err != nil {
		return goerr.Wrap(err, "failed to reconnect vector store",
			goerr.V("backend", m.cfg.Backend), goerr.V("collection", m.cfg.Collection))
	}
	m.connected = true
	return nil
}

// Disconnect releases the backend connection
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil
	}
	m.connected = false
	return m.driver.Close()
}

// IsConnected reports the current connection state
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// HealthCheck verifies the store answers a cheap read
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.check(); err != nil {
		return err
	}
	if _, err := m.driver.List(ctx, nil, 1); err != nil {
		return goerr.Wrap(err, "health check failed", goerr.V("backend", m.cfg.Backend))
	}
	return nil
}

// Info reports diagnostic state
func (m *Manager) Info() Info {
	return Info{
		Backend:         m.cfg.Backend,
		Collection:      m.cfg.Collection,
		Dimension:       m.cfg.Dimension,
		Connected:       m.IsConnected(),
		FallbackApplied: m.cfg.FallbackApplied,
	}
}

func (m *Manager) check() error {
	if !m.IsConnected() {
		return ErrNotConnected(m.cfg.Backend)
	}
	return nil
}

// Driver contract pass-throughs. Errors from the driver propagate
// unchanged; only the connect-state precondition is added here.

func (m *Manager) Insert(ctx context.Context, vectors [][]float32, ids []int64, payloads []map[string]any) error {
	if err := m.check(); err != nil {
		return err
	}
	return m.driver.Insert(ctx, vectors, ids, payloads)
}

func (m *Manager) Search(ctx context.Context, query []float32, limit int, filter *Filter) ([]SearchResult, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	return m.driver.Search(ctx, query, limit, filter)
}

func (m *Manager) Get(ctx context.Context, id int64) (*Record, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	return m.driver.Get(ctx, id)
}

func (m *Manager) Update(ctx context.Context, id int64, vector []float32, payload map[string]any) error {
	if err := m.check(); err != nil {
		return err
	}
	return m.driver.Update(ctx, id, vector, payload)
}

func (m *Manager) Delete(ctx context.Context, id int64) error {
	if err := m.check(); err != nil {
		return err
	}
	return m.driver.Delete(ctx, id)
}

func (m *Manager) List(ctx context.Context, filter *Filter, limit int) ([]Record, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	return m.driver.List(ctx, filter, limit)
}

func (m *Manager) DropCollection(ctx context.Context) error {
	if err := m.check(); err != nil {
		return err
	}
	return m.driver.DropCollection(ctx)
}
