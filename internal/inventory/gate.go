package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/ariefcatur/ramro-storefront/internal/clock"
)

// MemoryGate is the single-process LowStockGate.
type MemoryGate struct {
	mu     sync.Mutex
	clock  clock.Clock
	window time.Duration
	last   map[string]time.Time
}

func NewMemoryGate(clk clock.Clock, window time.Duration) *MemoryGate {
	return &MemoryGate{clock: clk, window: window, last: map[string]time.Time{}}
}

func (g *MemoryGate) Allow(_ context.Context, productID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	if at, ok := g.last[productID]; ok && now.Sub(at) < g.window {
		return false, nil
	}
	g.last[productID] = now
	return true, nil
}
