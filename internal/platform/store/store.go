// Package store provides a unified interface to the shared storage backends.
// The counter/ranking store is Redis; the per-entity document store is Mongo.
// Both are opened once at process start, shared by all workers, and closed
// at shutdown; correctness relies on the atomicity of individual store
// operations, never on client-side locking
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gitrank/internal/platform/logger"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Store is the facade for the storage backends
// zero value is safe but does nothing
type Store struct {
	// Log is the logger used by subclients
	Log logger.Logger

	// RDS is the redis client, nil when disabled
	RDS *redis.Client

	// Docs is the mongo database handle, nil when disabled
	Docs *mongo.Database

	mongoClient *mongo.Client
}

// Option mutates the Store during Open
type Option func(*Store) error

// WithLogger sets the logger used by the store and its subclients
func WithLogger(l logger.Logger) Option {
	return func(s *Store) error {
		s.Log = l
		return nil
	}
}

// Open constructs a Store with the requested backends
// backends not enabled in cfg remain nil on the Store
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	s := &Store{}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}
	s.Log = s.Log.With().Logger()

	if cfg.Redis.Enabled {
		c, err := openRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		s.RDS = c
	}

	if cfg.Mongo.Enabled {
		cl, err := openMongo(ctx, cfg.Mongo)
		if err != nil {
			if s.RDS != nil {
				_ = s.RDS.Close()
			}
			return nil, err
		}
		s.mongoClient = cl
		s.Docs = cl.Database(cfg.Mongo.Database)
	}

	return s, nil
}

// openRedis dials redis and pings with retry/backoff before handing it out
func openRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB})

	attempts := cfg.ConnectRetries
	if attempts <= 0 {
		attempts = 20
	}
	pingTO := cfg.PingTimeout
	if pingTO <= 0 {
		pingTO = 3 * time.Second
	}

	var lastErr error
	backoff := 150 * time.Millisecond
	for i := 0; i < attempts; i++ {
		toCtx, cancel := context.WithTimeout(ctx, pingTO)
		lastErr = c.Ping(toCtx).Err()
		cancel()
		if lastErr == nil {
			return c, nil
		}
		if ctx.Err() != nil {
			_ = c.Close()
			return nil, ctx.Err()
		}
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}
	}
	_ = c.Close()
	return nil, fmt.Errorf("redis ping failed after %d attempts: %w", attempts, lastErr)
}

// openMongo connects and pings with retry/backoff before handing it out
func openMongo(ctx context.Context, cfg MongoConfig) (*mongo.Client, error) {
	cl, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}

	attempts := cfg.ConnectRetries
	if attempts <= 0 {
		attempts = 20
	}
	pingTO := cfg.PingTimeout
	if pingTO <= 0 {
		pingTO = 3 * time.Second
	}

	var lastErr error
	backoff := 150 * time.Millisecond
	for i := 0; i < attempts; i++ {
		toCtx, cancel := context.WithTimeout(ctx, pingTO)
		lastErr = cl.Ping(toCtx, readpref.Primary())
		cancel()
		if lastErr == nil {
			return cl, nil
		}
		if ctx.Err() != nil {
			_ = cl.Disconnect(context.Background())
			return nil, ctx.Err()
		}
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
			if backoff > 2*time.Second {
				backoff = 2 * time.Second
			}
		}
	}
	_ = cl.Disconnect(context.Background())
	return nil, fmt.Errorf("mongo ping failed after %d attempts: %w", attempts, lastErr)
}

// Guard verifies all configured backends respond to a ping
func (s *Store) Guard(ctx context.Context) error {
	if s == nil {
		return errors.New("nil store")
	}
	var errs []error
	if s.RDS != nil {
		if err := s.RDS.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if s.mongoClient != nil {
		if err := s.mongoClient.Ping(ctx, readpref.Primary()); err != nil {
			errs = append(errs, fmt.Errorf("mongo: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close closes all initialized backends gracefully
// nil backends are ignored
func (s *Store) Close(ctx context.Context) error {
	var errs []error
	if s.RDS != nil {
		if err := s.RDS.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.mongoClient != nil {
		if err := s.mongoClient.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
