package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// LowStockGate lets one low-stock alert per product through every
// TTLLowStock, across all instances.
type LowStockGate struct {
	rdb redis.Cmdable
}

func NewLowStockGate(rdb redis.Cmdable) *LowStockGate { return &LowStockGate{rdb: rdb} }

func (g *LowStockGate) Allow(ctx context.Context, productID string) (bool, error) {
	return g.rdb.SetNX(ctx, fmt.Sprintf(KeyLowStock, productID), "1", TTLLowStock).Result()
}
