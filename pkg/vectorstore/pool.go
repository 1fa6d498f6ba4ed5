package vectorstore

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
)

// Pool shares live backend clients between driver instances. Entries are
// keyed by Config.PoolKey (normalized address plus credentials) and
// reference counted: Release closes the underlying client only when the
// last holder lets go. Multiple collections in one process must not each
// open their own connection to the same server.
type Pool[C any] struct {
	mu      sync.Mutex
	entries map[string]*poolEntry[C]
	dial    func(ctx context.Context, cfg Config) (C, error)
	close   func(C) error
}

type poolEntry[C any] struct {
	client C
	refs   int
}

// NewPool creates a pool with the given dial and close functions
func NewPool[C any](dial func(ctx context.Context, cfg Config) (C, error), close func(C) error) *Pool[C] {
	return &Pool[C]{
		entries: make(map[string]*poolEntry[C]),
		dial:    dial,
		close:   close,
	}
}

// Acquire returns the live client for cfg, dialing one if none exists
func (p *Pool[C]) Acquire(ctx context.Context, cfg Config) (C, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := cfg.PoolKey()
	if e, ok := p.entries[key]; ok {
		e.refs++
		return e.client, nil
	}

	client, err := p.dial(ctx, cfg)
	if err != nil {
		var zero C
		return zero, goerr.Wrap(err, "failed to dial backend",
			goerr.T(ErrTagConnection), goerr.V("address", cfg.Address))
	}
	p.entries[key] = &poolEntry[C]{client: client, refs: 1}
	return client, nil
}

// Release decrements the reference count for cfg's client and closes it
// when it reaches zero. Releasing an unknown key is a no-op.
func (p *Pool[C]) Release(cfg Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := cfg.PoolKey()
	e, ok := p.entries[key]
	if !ok {
		return nil
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}
	delete(p.entries, key)
	if err := p.close(e.client); err != nil {
		return goerr.Wrap(err, "failed to close pooled client", goerr.V("address", cfg.Address))
	}
	return nil
}

// Refs reports the current reference count for cfg's client
func (p *Pool[C]) Refs(cfg Config) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[cfg.PoolKey()]; ok {
		return e.refs
	}
	return 0
}
