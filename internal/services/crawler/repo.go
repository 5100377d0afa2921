package crawler

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"gitrank/internal/adapters/geo"
	"gitrank/internal/core/keys"
	perr "gitrank/internal/platform/errors"
)

// UserRepo implements Users over the users collection
type UserRepo struct {
	docs *mongo.Database
}

// NewUserRepo builds a UserRepo
func NewUserRepo(docs *mongo.Database) *UserRepo { return &UserRepo{docs: docs} }

type userInfoDoc struct {
	Info map[string]any `bson:"info"`
}

func (r *UserRepo) ProfileState(ctx context.Context, username string) (string, string, bool, error) {
	var doc userInfoDoc
	err := r.docs.Collection("users").FindOne(ctx,
		bson.M{"_id": username},
		options.FindOne().SetProjection(bson.M{"info": 1}),
	).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, perr.Wrapf(err, perr.ErrorCodeStore, "user lookup failed")
	}
	etag, _ := doc.Info["etag"].(string)
	location, _ := doc.Info["location"].(string)
	return etag, location, true, nil
}

func (r *UserRepo) SaveProfile(ctx context.Context, username string, info map[string]any, etag string) error {
	if info == nil {
		info = map[string]any{}
	}
	info["etag"] = etag
	_, err := r.docs.Collection("users").UpdateOne(ctx,
		bson.M{"_id": username},
		bson.M{"$set": bson.M{"info": info}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStore, "profile save failed")
	}
	return nil
}

func (r *UserRepo) SaveLocation(ctx context.Context, username string, g geo.Geo) error {
	loc := bson.M{"country": g.Country, "code": g.CountryCode, "state": g.State, "city": g.City}
	if g.Timezone != nil {
		loc["timezone"] = *g.Timezone
	}
	_, err := r.docs.Collection("users").UpdateOne(ctx,
		bson.M{"_id": username},
		bson.M{"$set": bson.M{"loc": loc}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStore, "location embed failed")
	}
	return nil
}

// PlaceRepo implements Places over the locations collection
type PlaceRepo struct {
	docs *mongo.Database
}

// NewPlaceRepo builds a PlaceRepo
func NewPlaceRepo(docs *mongo.Database) *PlaceRepo { return &PlaceRepo{docs: docs} }

type placeDoc struct {
	Country *struct {
		LongName  string `bson:"long_name"`
		ShortName string `bson:"short_name"`
	} `bson:"country"`
	State    string `bson:"state"`
	City     string `bson:"city"`
	Timezone *int   `bson:"timezone"`
	Loc      *struct {
		Lat float64 `bson:"lat"`
		Lng float64 `bson:"lng"`
	} `bson:"loc"`
}

func (r *PlaceRepo) Find(ctx context.Context, location string) (geo.Geo, bool, error) {
	var doc placeDoc
	err := r.docs.Collection("locations").FindOne(ctx, bson.M{
		"_id": location,
		"$or": bson.A{
			bson.M{"country": bson.M{"$exists": true}},
			bson.M{"timezone": bson.M{"$exists": true}},
		},
	}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return geo.Geo{}, false, nil
	}
	if err != nil {
		return geo.Geo{}, false, perr.Wrapf(err, perr.ErrorCodeStore, "location lookup failed")
	}
	g := geo.Geo{State: doc.State, City: doc.City, Timezone: doc.Timezone}
	if doc.Country != nil {
		g.Country = doc.Country.LongName
		g.CountryCode = doc.Country.ShortName
	}
	if doc.Loc != nil {
		g.Lat, g.Lng = doc.Loc.Lat, doc.Loc.Lng
	}
	return g, true, nil
}

func (r *PlaceRepo) Save(ctx context.Context, location string, g geo.Geo, resolved bool) error {
	set := bson.M{}
	if resolved {
		if g.Country != "" {
			set["country"] = bson.M{"long_name": g.Country, "short_name": g.CountryCode}
		}
		if g.State != "" {
			set["state"] = g.State
		}
		if g.City != "" {
			set["city"] = g.City
		}
		if g.Timezone != nil {
			set["timezone"] = *g.Timezone
		}
		set["loc"] = bson.M{"lat": g.Lat, "lng": g.Lng}
	}
	update := bson.M{"$setOnInsert": bson.M{"_id": location}}
	if len(set) > 0 {
		update = bson.M{"$set": set}
	}
	_, err := r.docs.Collection("locations").UpdateOne(ctx,
		bson.M{"_id": location}, update, options.Update().SetUpsert(true))
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeStore, "location save failed")
	}
	return nil
}

// SeedScan implements Seeds over the activity leaderboard, walking members
// by descending score the way the pass has always been seeded
type SeedScan struct {
	rds  *redis.Client
	ring keys.Ring
}

// NewSeedScan builds a SeedScan
func NewSeedScan(rds *redis.Client, ring keys.Ring) *SeedScan {
	return &SeedScan{rds: rds, ring: ring}
}

func (s *SeedScan) Page(ctx context.Context, start, count int64) ([]string, error) {
	names, err := s.rds.ZRevRange(ctx, s.ring.Users(), start, start+count-1).Result()
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeStore, "seed scan failed")
	}
	return names, nil
}
