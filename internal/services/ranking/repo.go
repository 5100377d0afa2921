package ranking

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	perr "gitrank/internal/platform/errors"
)

// UserScan implements Scanner over the users collection, restricted to docs
// the pass can actually rank
type UserScan struct {
	docs *mongo.Database
}

// NewUserScan builds a UserScan
func NewUserScan(docs *mongo.Database) *UserScan { return &UserScan{docs: docs} }

type rankUserDoc struct {
	ID  string `bson:"_id"`
	Loc struct {
		Country string `bson:"country"`
		City    string `bson:"city"`
	} `bson:"loc"`
	Contrib map[string]map[string]map[string]int64 `bson:"contrib"`
}

func (s *UserScan) ScanUsers(ctx context.Context, fn func(u User) error) error {
	cur, err := s.docs.Collection("users").Find(ctx, bson.M{
		"loc.country": bson.M{"$exists": true, "$ne": ""},
		"contrib":     bson.M{"$exists": true},
	}, options.Find().SetProjection(bson.M{"loc": 1, "contrib": 1}))
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStore, "rank scan failed")
	}
	defer func() { _ = cur.Close(ctx) }()

	for cur.Next(ctx) {
		var doc rankUserDoc
		if err := cur.Decode(&doc); err != nil {
			return perr.Wrapf(err, perr.ErrorCodeStore, "rank scan decode failed")
		}
		u := User{
			ID:      doc.ID,
			Country: doc.Loc.Country,
			City:    doc.Loc.City,
			Contrib: doc.Contrib,
		}
		if err := fn(u); err != nil {
			return err
		}
	}
	if err := cur.Err(); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStore, "rank scan cursor failed")
	}
	return nil
}

// RollupRepo implements Rollups over the countries and cities collections
type RollupRepo struct {
	docs *mongo.Database
}

// NewRollupRepo builds a RollupRepo
func NewRollupRepo(docs *mongo.Database) *RollupRepo { return &RollupRepo{docs: docs} }

func (r *RollupRepo) SaveCountry(ctx context.Context, doc GeoDoc) error {
	return r.save(ctx, "countries", doc)
}

func (r *RollupRepo) SaveCity(ctx context.Context, doc GeoDoc) error {
	return r.save(ctx, "cities", doc)
}

func (r *RollupRepo) save(ctx context.Context, coll string, doc GeoDoc) error {
	_, err := r.docs.Collection(coll).ReplaceOne(ctx,
		bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStore, "%s rollup save failed", coll)
	}
	return nil
}
