package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Dedup binds MarkSeen and Forget to one consumer name.
type Dedup struct {
	rdb     redis.Cmdable
	service string
}

func NewDedup(rdb redis.Cmdable, service string) *Dedup { return &Dedup{rdb: rdb, service: service} }

func (d *Dedup) MarkSeen(ctx context.Context, eventID string) (bool, error) {
	return MarkSeen(ctx, d.rdb, d.service, eventID)
}

func (d *Dedup) Forget(ctx context.Context, eventID string) error {
	return Forget(ctx, d.rdb, d.service, eventID)
}

// MarkSeen records an event id for a consumer and reports whether it was
// already there.
func MarkSeen(ctx context.Context, rdb redis.Cmdable, service, eventID string) (bool, error) {
	ok, err := rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, service, eventID), "1", TTLDedup).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Forget drops a dedup mark so the event can be processed again.
func Forget(ctx context.Context, rdb redis.Cmdable, service, eventID string) error {
	return rdb.Del(ctx, fmt.Sprintf(KeyDedup, service, eventID)).Err()
}
