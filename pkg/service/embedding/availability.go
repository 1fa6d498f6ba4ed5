// Package embedding tracks process-wide embedding availability. The first
// embedding failure trips a circuit breaker shared by the decision engine
// and the reasoning store: every later call that would need embeddings
// short-circuits to its degraded path instead of retry-storming the
// provider. The breaker resets only with the process.
package embedding

import (
	"sync"
)

// Availability is the circuit breaker state. The zero value is enabled.
type Availability struct {
	mu       sync.RWMutex
	disabled bool
	reason   string
}

// NewAvailability returns an enabled breaker
func NewAvailability() *Availability {
	return &Availability{}
}

// Enabled reports whether embedding calls may be attempted
func (a *Availability) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !a.disabled
}

// Disable trips the breaker. The first reason wins; later calls are no-ops
// so the recorded reason always names the original failure.
func (a *Availability) Disable(reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disabled {
		return
	}
	a.disabled = true
	a.reason = reason
}

// Reason returns the recorded cause when tripped, empty otherwise
func (a *Availability) Reason() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.reason
}
