package api

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	perr "gitrank/internal/platform/errors"
)

// RedisBoards implements Boards over the published sorted sets
type RedisBoards struct {
	rds *redis.Client
}

// NewRedisBoards builds a RedisBoards
func NewRedisBoards(rds *redis.Client) *RedisBoards { return &RedisBoards{rds: rds} }

func (b *RedisBoards) Page(ctx context.Context, key string, start, stop int64) ([]string, error) {
	ids, err := b.rds.ZRevRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeStore, "board page failed")
	}
	return ids, nil
}

func (b *RedisBoards) Size(ctx context.Context, key string) (int64, error) {
	n, err := b.rds.ZCard(ctx, key).Result()
	if err != nil {
		return 0, perr.Wrapf(err, perr.ErrorCodeStore, "board size failed")
	}
	return n, nil
}

func (b *RedisBoards) Rank(ctx context.Context, key, member string) (int64, bool, error) {
	r, err := b.rds.ZRevRank(ctx, key, member).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, perr.Wrapf(err, perr.ErrorCodeStore, "board rank failed")
	}
	return r, true, nil
}

// MongoDocs implements Docs over the serving collections
type MongoDocs struct {
	docs *mongo.Database
}

// NewMongoDocs builds a MongoDocs
func NewMongoDocs(docs *mongo.Database) *MongoDocs { return &MongoDocs{docs: docs} }

func (d *MongoDocs) User(ctx context.Context, id string) (UserDoc, bool, error) {
	return d.findUser(ctx, id, nil)
}

func (d *MongoDocs) UserCard(ctx context.Context, id string) (UserDoc, bool, error) {
	return d.findUser(ctx, id, bson.M{"info": 1, "contrib": 1})
}

func (d *MongoDocs) findUser(ctx context.Context, id string, projection bson.M) (UserDoc, bool, error) {
	opts := options.FindOne()
	if projection != nil {
		opts = opts.SetProjection(projection)
	}
	var doc UserDoc
	err := d.docs.Collection("users").FindOne(ctx, bson.M{"_id": id}, opts).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return UserDoc{}, false, nil
	}
	if err != nil {
		return UserDoc{}, false, perr.Wrapf(err, perr.ErrorCodeStore, "user read failed")
	}
	return doc, true, nil
}

func (d *MongoDocs) TopLanguages(ctx context.Context, monthField string, limit int64) ([]string, error) {
	cur, err := d.docs.Collection("languages").Find(ctx, bson.M{},
		options.Find().
			SetSort(bson.D{{Key: monthField, Value: -1}}).
			SetLimit(limit).
			SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeStore, "language index failed")
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeStore, "language index decode failed")
		}
		out = append(out, doc.ID)
	}
	if err := cur.Err(); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeStore, "language index cursor failed")
	}
	return out, nil
}
