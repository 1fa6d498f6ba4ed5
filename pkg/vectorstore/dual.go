package vectorstore

import (
	"context"

	"github.com/m-mizutani/goerr/v2"

	"github.com/aethonlab/mnemo/pkg/model"
)

// DualManager composes the knowledge store with an optional reflection
// store. The knowledge collection is always provisioned; the reflection
// collection only when a non-empty reflection collection name is
// configured. Store returns nil for a disabled reflection store and
// callers are expected to degrade (skip reflection storage) rather than
// treat that as an error.
type DualManager struct {
	knowledge  *Manager
	reflection *Manager
}

// NewDualManager builds both managers from one backend config. The
// reflection store reuses the backend settings with its own collection
// name, so pooled backends share a single connection.
func NewDualManager(cfg Config, reflectionCollection string) (*DualManager, error) {
	knowledge, err := NewManager(cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build knowledge store")
	}

	d := &DualManager{knowledge: knowledge}

	if reflectionCollection != "" {
		rcfg := cfg
		rcfg.Collection = reflectionCollection
		reflection, err := NewManager(rcfg)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to build reflection store")
		}
		d.reflection = reflection
	}

	return d, nil
}

// Store returns the manager for the given memory kind. Reflection yields
// nil when not configured.
func (d *DualManager) Store(kind model.Kind) *Manager {
	switch kind {
	case model.KindReflection:
		return d.reflection
	default:
		return d.knowledge
	}
}

// HasReflection reports whether the reflection collection is configured
func (d *DualManager) HasReflection() bool { return d.reflection != nil }

// Connect connects both stores in sequence. Reflection is opt-in, but
// once configured a reflection connect failure fails the whole call.
func (d *DualManager) Connect(ctx context.Context) error {
	if err := d.knowledge.Connect(ctx); err != nil {
		return goerr.Wrap(err, "failed to connect knowledge store")
	}
	if d.reflection != nil {
		if err := d.reflection.Connect(ctx); err != nil {
			return goerr.Wrap(err, "failed to connect reflection store")
		}
	}
	return nil
}

// Disconnect releases both stores, reporting the first failure
func (d *DualManager) Disconnect() error {
	err := d.knowledge.Disconnect()
	if d.reflection != nil {
		if rerr := d.reflection.Disconnect(); err == nil {
			err = rerr
		}
	}
	return err
}

// Info reports diagnostics for all configured stores keyed by kind
func (d *DualManager) Info() map[model.Kind]Info {
	out := map[model.Kind]Info{model.KindKnowledge: d.knowledge.Info()}
	if d.reflection != nil {
		out[model.KindReflection] = d.reflection.Info()
	}
	return out
}
