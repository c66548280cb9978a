// Package operational implements the per-layer pause switch. The app
// and data layers each hold their own Guard; a guard is toggled only by
// its own owner, so pausing business logic never pauses storage and
// vice versa.
package operational

import (
	"fmt"
	"sync"

	"github.com/terminal-bench/flightsurety/internal/faults"
)

// Guard is an owner-gated operational flag for one layer.
type Guard struct {
	owner string

	mu          sync.RWMutex
	operational bool
}

// NewGuard creates a guard in the operational state.
func NewGuard(owner string) *Guard {
	return &Guard{owner: owner, operational: true}
}

// Owner returns the identity allowed to toggle this guard.
func (g *Guard) Owner() string {
	return g.owner
}

// IsOperational reports the current flag. Reads are never gated.
func (g *Guard) IsOperational() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.operational
}

// SetOperational toggles the flag. Only the owner may call it.
func (g *Guard) SetOperational(mode bool, caller string) error {
	if caller != g.owner {
		return fmt.Errorf("caller %s does not own this layer: %w", caller, faults.ErrAuthorization)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.operational = mode
	return nil
}

// Require returns ErrOperational when the layer is paused. Every
// mutating entry point of the layer calls this first.
func (g *Guard) Require() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.operational {
		return faults.ErrOperational
	}
	return nil
}
