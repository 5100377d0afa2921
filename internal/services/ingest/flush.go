package ingest

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"gitrank/internal/core/tally"
	perr "gitrank/internal/platform/errors"
)

// Flusher applies one accumulated batch: a single counter-store pipeline
// plus one bulk write per document collection. Every operation is an
// increment or an upsert, so replaying a half-applied batch after a crash
// is prevented by the batch marker, not by the writes themselves
type Flusher struct {
	rds  *redis.Client
	docs *mongo.Database
}

// NewFlusher builds a Flusher over open clients
func NewFlusher(rds *redis.Client, docs *mongo.Database) *Flusher {
	return &Flusher{rds: rds, docs: docs}
}

// Flush applies all pending writes of the batch
func (f *Flusher) Flush(ctx context.Context, b *tally.Batch) error {
	if b.Empty() {
		return nil
	}
	if err := f.flushCounters(ctx, b); err != nil {
		return err
	}
	return f.flushDocs(ctx, b)
}

func (f *Flusher) flushCounters(ctx context.Context, b *tally.Batch) error {
	pipe := f.rds.TxPipeline()
	for key, n := range b.Counters {
		pipe.IncrBy(ctx, key, n)
	}
	for key, fields := range b.Hashes {
		for field, n := range fields {
			pipe.HIncrBy(ctx, key, field, n)
		}
	}
	for key, members := range b.ZSets {
		for member, n := range members {
			pipe.ZIncrBy(ctx, key, float64(n), member)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStore, "counter flush failed")
	}
	return nil
}

func (f *Flusher) flushDocs(ctx context.Context, b *tally.Batch) error {
	var users []mongo.WriteModel
	for id, u := range b.Users {
		users = append(users, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": id}).
			SetUpdate(bson.M{"$inc": u.Inc}).
			SetUpsert(true))
		// repo associations need the element present before the
		// positional increment, so ordering matters here
		for repo, n := range u.Repos {
			users = append(users,
				mongo.NewUpdateOneModel().
					SetFilter(bson.M{"_id": id, "repos.repo": bson.M{"$ne": repo}}).
					SetUpdate(bson.M{"$addToSet": bson.M{"repos": bson.M{"repo": repo, "events": 0}}}),
				mongo.NewUpdateOneModel().
					SetFilter(bson.M{"_id": id, "repos.repo": repo}).
					SetUpdate(bson.M{"$inc": bson.M{"repos.$.events": n}}),
			)
		}
	}
	if err := f.bulk(ctx, "users", users); err != nil {
		return err
	}
	if err := f.bulk(ctx, "repos", incModels(b.Repos)); err != nil {
		return err
	}
	return f.bulk(ctx, "languages", incModels(b.Languages))
}

func incModels(deltas map[string]*tally.DocDelta) []mongo.WriteModel {
	var models []mongo.WriteModel
	for id, d := range deltas {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": id}).
			SetUpdate(bson.M{"$inc": d.Inc}).
			SetUpsert(true))
	}
	return models
}

func (f *Flusher) bulk(ctx context.Context, coll string, models []mongo.WriteModel) error {
	if len(models) == 0 {
		return nil
	}
	if _, err := f.docs.Collection(coll).BulkWrite(ctx, models); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStore, "%s bulk write failed", coll)
	}
	return nil
}
