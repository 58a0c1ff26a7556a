package checkout

import (
	"context"
	"sync"
)

// Guard claims a checkout token so a duplicate submit cannot run the
// workflow twice. Acquire returns the recorded order id when the token
// already completed, or "" while it is still running.
type Guard interface {
	Acquire(ctx context.Context, token string) (orderID string, acquired bool, err error)
	Complete(ctx context.Context, token, orderID string) error
	Release(ctx context.Context, token string) error
}

// MemoryGuard is the single-process Guard.
type MemoryGuard struct {
	mu     sync.Mutex
	tokens map[string]string
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{tokens: map[string]string{}}
}

func (g *MemoryGuard) Acquire(_ context.Context, token string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if orderID, ok := g.tokens[token]; ok {
		return orderID, false, nil
	}
	g.tokens[token] = ""
	return "", true, nil
}

func (g *MemoryGuard) Complete(_ context.Context, token, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tokens[token] = orderID
	return nil
}

func (g *MemoryGuard) Release(_ context.Context, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.tokens, token)
	return nil
}
