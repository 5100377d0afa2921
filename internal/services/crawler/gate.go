package crawler

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"gitrank/internal/core/keys"
	perr "gitrank/internal/platform/errors"
)

// RedisGate implements Gate over the shared counter store. The admission
// counter is INCRed unconditionally and DECRed on every exit path, so a
// declined entry leaves the count where it found it
type RedisGate struct {
	rds  *redis.Client
	ring keys.Ring
	cap  int64
}

// NewRedisGate builds a gate that admits at most cap concurrent passes
func NewRedisGate(rds *redis.Client, ring keys.Ring, cap int64) *RedisGate {
	if cap <= 0 {
		cap = 1
	}
	return &RedisGate{rds: rds, ring: ring, cap: cap}
}

func (g *RedisGate) Enter(ctx context.Context, task string) (bool, error) {
	n, err := g.rds.Incr(ctx, g.ring.Concurrency(task)).Result()
	if err != nil {
		return false, perr.Wrapf(err, perr.ErrorCodeStore, "admission incr failed")
	}
	if n > g.cap {
		if err := g.Leave(ctx, task); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (g *RedisGate) Leave(ctx context.Context, task string) error {
	if err := g.rds.Decr(ctx, g.ring.Concurrency(task)).Err(); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStore, "admission decr failed")
	}
	return nil
}

func (g *RedisGate) QuotaLatched(ctx context.Context) (bool, error) {
	n, err := g.rds.Exists(ctx, g.ring.GeoQuota()).Result()
	if err != nil {
		return false, perr.Wrapf(err, perr.ErrorCodeStore, "quota latch check failed")
	}
	return n > 0, nil
}

func (g *RedisGate) LatchQuota(ctx context.Context, ttl time.Duration) error {
	if err := g.rds.Set(ctx, g.ring.GeoQuota(), "1", ttl).Err(); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStore, "quota latch set failed")
	}
	return nil
}
