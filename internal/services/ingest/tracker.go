package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"gitrank/internal/core/keys"
	perr "gitrank/internal/platform/errors"
)

// FnEvents names the aggregation function in the tracker keyspace
const FnEvents = "events"

// Tracker records which hour slices and which in-flight batches an
// aggregation function has already applied, making reprocessing a no-op
type Tracker struct {
	rds  *redis.Client
	ring keys.Ring
}

// NewTracker builds a Tracker over an open client
func NewTracker(rds *redis.Client, ring keys.Ring) *Tracker {
	return &Tracker{rds: rds, ring: ring}
}

func batchMember(slice string, idx int) string {
	return fmt.Sprintf("%s-%d", slice, idx)
}

// SliceDone reports whether the whole slice was already applied
func (t *Tracker) SliceDone(ctx context.Context, fn, slice string) (bool, error) {
	ok, err := t.rds.SIsMember(ctx, t.ring.FuncSlices(fn), slice).Result()
	if err != nil {
		return false, perr.Wrapf(err, perr.ErrorCodeStore, "slice membership check failed")
	}
	return ok, nil
}

// MarkSlice records the whole slice as applied
func (t *Tracker) MarkSlice(ctx context.Context, fn, slice string) error {
	if err := t.rds.SAdd(ctx, t.ring.FuncSlices(fn), slice).Err(); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStore, "slice mark failed")
	}
	return nil
}

// BatchDone reports whether one batch of the slice was already applied
func (t *Tracker) BatchDone(ctx context.Context, fn, slice string, idx int) (bool, error) {
	ok, err := t.rds.SIsMember(ctx, t.ring.FuncBatches(fn), batchMember(slice, idx)).Result()
	if err != nil {
		return false, perr.Wrapf(err, perr.ErrorCodeStore, "batch membership check failed")
	}
	return ok, nil
}

// MarkBatch records one batch of the slice as applied
func (t *Tracker) MarkBatch(ctx context.Context, fn, slice string, idx int) error {
	if err := t.rds.SAdd(ctx, t.ring.FuncBatches(fn), batchMember(slice, idx)).Err(); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStore, "batch mark failed")
	}
	return nil
}

// ClearBatches drops the slice's batch markers once the slice itself is
// marked done. Bookkeeping only: correctness never depends on it
func (t *Tracker) ClearBatches(ctx context.Context, fn, slice string) error {
	members, err := t.rds.SMembers(ctx, t.ring.FuncBatches(fn)).Result()
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStore, "batch listing failed")
	}
	var stale []any
	for _, m := range members {
		if strings.HasPrefix(m, slice+"-") {
			stale = append(stale, m)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := t.rds.SRem(ctx, t.ring.FuncBatches(fn), stale...).Err(); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStore, "batch clear failed")
	}
	return nil
}
