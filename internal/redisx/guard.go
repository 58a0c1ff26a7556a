package redisx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pendingMark = "pending"
	donePrefix  = "done:"

	// PendingSlack covers the steps around the payment wait.
	PendingSlack = 5 * time.Minute
)

// Guard is the checkout idempotency guard shared by every API instance.
type Guard struct {
	rdb     redis.Cmdable
	pending time.Duration
}

type GuardOption func(*Guard)

// WithPendingTTL bounds how long an in-flight claim lives. It must outlast
// the longest checkout, or a duplicate submit can start a second run.
func WithPendingTTL(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.pending = d
		}
	}
}

// ForPaymentTimeout sizes the in-flight claim for checkouts that wait up to
// d for a payment.
func ForPaymentTimeout(d time.Duration) GuardOption {
	return WithPendingTTL(d + PendingSlack)
}

func NewGuard(rdb redis.Cmdable, opts ...GuardOption) *Guard {
	g := &Guard{rdb: rdb, pending: TTLCheckoutPending}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Acquire claims the token. When the token is already taken it returns the
// recorded order id for a finished checkout, or "" while it is in flight.
func (g *Guard) Acquire(ctx context.Context, token string) (string, bool, error) {
	key := fmt.Sprintf(KeyCheckout, token)
	ok, err := g.rdb.SetNX(ctx, key, pendingMark, g.pending).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire checkout %s: %w", token, err)
	}
	if ok {
		return "", true, nil
	}
	v, err := g.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		ok, err = g.rdb.SetNX(ctx, key, pendingMark, g.pending).Result()
		if err != nil {
			return "", false, fmt.Errorf("acquire checkout %s: %w", token, err)
		}
		return "", ok, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read checkout %s: %w", token, err)
	}
	if !strings.HasPrefix(v, donePrefix) {
		return "", false, nil
	}
	return strings.TrimPrefix(v, donePrefix), false, nil
}

func (g *Guard) Complete(ctx context.Context, token, orderID string) error {
	return g.rdb.Set(ctx, fmt.Sprintf(KeyCheckout, token), donePrefix+orderID, TTLIdempotency).Err()
}

func (g *Guard) Release(ctx context.Context, token string) error {
	return g.rdb.Del(ctx, fmt.Sprintf(KeyCheckout, token)).Err()
}
