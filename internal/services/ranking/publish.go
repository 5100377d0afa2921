package ranking

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	perr "gitrank/internal/platform/errors"
)

// publishChunk bounds one ZADD round trip
const publishChunk = 512

// RedisBoards implements Boards with a two-phase publish: members go into a
// fresh staging key in chunks, then RENAME swaps it over the serving key in
// one step. A crashed pass leaves only an orphaned staging key behind, never
// a partial board
type RedisBoards struct {
	rds *redis.Client
}

// NewRedisBoards builds a RedisBoards over an open client
func NewRedisBoards(rds *redis.Client) *RedisBoards {
	return &RedisBoards{rds: rds}
}

func (b *RedisBoards) Publish(ctx context.Context, key string, members map[string]int64) error {
	if len(members) == 0 {
		return nil
	}
	staging := key + ":staging:" + uuid.NewString()

	chunk := make([]redis.Z, 0, publishChunk)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := b.rds.ZAdd(ctx, staging, chunk...).Err(); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeStore, "board staging failed")
		}
		chunk = chunk[:0]
		return nil
	}
	for member, score := range members {
		chunk = append(chunk, redis.Z{Member: member, Score: float64(score)})
		if len(chunk) == publishChunk {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	if err := b.rds.Rename(ctx, staging, key).Err(); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStore, "board swap failed")
	}
	return nil
}
