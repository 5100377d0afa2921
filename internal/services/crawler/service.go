// Package crawler enriches known users with profile blobs and resolved
// locations. One username is the unit of work; rate limiting holds the unit,
// admission control bounds whole passes across processes
package crawler

import (
	"context"
	"strings"
	"time"

	"gitrank/internal/adapters/geo"
	"gitrank/internal/adapters/github"
	perr "gitrank/internal/platform/errors"
	"gitrank/internal/platform/logger"
	"gitrank/internal/platform/metrics"
	"gitrank/internal/platform/workpool"
)

// TaskUpdateUsers names the crawl pass in the admission keyspace
const TaskUpdateUsers = "update_users"

// Profiles fetches one profile conditionally
type Profiles interface {
	FetchProfile(ctx context.Context, username, etag string) (github.Profile, github.Outcome, error)
}

// Locator resolves a free-text location string
type Locator interface {
	Resolve(ctx context.Context, location string) (geo.Geo, bool, error)
}

// Users is the profile side of the user documents
type Users interface {
	// ProfileState returns the stored etag and location for a username;
	// known is false when the aggregator has never seen the user
	ProfileState(ctx context.Context, username string) (etag, location string, known bool, err error)
	SaveProfile(ctx context.Context, username string, info map[string]any, etag string) error
	// SaveLocation embeds the resolved place on the user doc so the
	// ranking scan never has to join
	SaveLocation(ctx context.Context, username string, g geo.Geo) error
}

// Places is the resolved-location ledger
type Places interface {
	// Find returns the stored resolution; ok is true only when the doc
	// exists with a country or timezone, which makes it terminal
	Find(ctx context.Context, location string) (geo.Geo, bool, error)
	Save(ctx context.Context, location string, g geo.Geo, resolved bool) error
}

// Gate is the cross-process admission counter plus the geocoder quota latch
type Gate interface {
	Enter(ctx context.Context, task string) (bool, error)
	Leave(ctx context.Context, task string) error
	QuotaLatched(ctx context.Context) (bool, error)
	LatchQuota(ctx context.Context, ttl time.Duration) error
}

// Seeds pages usernames out of the activity leaderboard
type Seeds interface {
	Page(ctx context.Context, start, count int64) ([]string, error)
}

// Config for the crawler service
type Config struct {
	// Hold is the cooldown after a rate-limited fetch
	Hold time.Duration
	// MaxHolds is how many cooldowns one username is worth
	MaxHolds int
	// QuotaTTL is how long the geocoder quota latch stays set
	QuotaTTL time.Duration
	// PageSize is the seed scan stride
	PageSize int64
}

// Service runs crawl passes
type Service struct {
	profiles Profiles
	locator  Locator
	users    Users
	places   Places
	gate     Gate
	seeds    Seeds
	cfg      Config
	log      logger.Logger
}

// New constructs the crawler service
func New(profiles Profiles, locator Locator, users Users, places Places, gate Gate, seeds Seeds, cfg Config) *Service {
	if cfg.Hold <= 0 {
		cfg.Hold = 10 * time.Minute
	}
	if cfg.MaxHolds <= 0 {
		cfg.MaxHolds = 3
	}
	if cfg.QuotaTTL <= 0 {
		cfg.QuotaTTL = time.Hour
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &Service{
		profiles: profiles,
		locator:  locator,
		users:    users,
		places:   places,
		gate:     gate,
		seeds:    seeds,
		cfg:      cfg,
		log:      *logger.Named("crawler"),
	}
}

// UpdateUser refreshes one user's profile and resolves its location.
// Unknown users are a no-op; a rate-limited pass holds and retries up to the
// ceiling, then abandons the user until the next pass
func (s *Service) UpdateUser(ctx context.Context, username string) error {
	username = strings.ToLower(username)

	etag, location, known, err := s.users.ProfileState(ctx, username)
	if err != nil {
		return err
	}
	if !known {
		return nil
	}

	for holds := 0; ; {
		profile, outcome, err := s.profiles.FetchProfile(ctx, username, etag)
		metrics.CrawlTotal.WithLabelValues(outcome.String()).Inc()
		switch outcome {
		case github.OutcomeFetched:
			if err := s.users.SaveProfile(ctx, username, profile.Info, profile.ETag); err != nil {
				return err
			}
			location = profile.Location()
		case github.OutcomeNotModified, github.OutcomeNotFound:
			// keep whatever location we already had
		case github.OutcomeRateLimited:
			holds++
			if holds > s.cfg.MaxHolds {
				return perr.RateLimitedf("user %s abandoned after %d holds", username, s.cfg.MaxHolds)
			}
			s.log.Info().Str("user", username).Int("hold", holds).Dur("for", s.cfg.Hold).
				Msg("rate limited, holding")
			if err := sleepCtx(ctx, s.cfg.Hold); err != nil {
				return err
			}
			continue
		default:
			return err
		}
		break
	}

	g, resolved, err := s.ResolveLocation(ctx, location)
	if err != nil {
		return err
	}
	if resolved {
		return s.users.SaveLocation(ctx, username, g)
	}
	return nil
}

// ResolveLocation resolves one free-text location at most once, returning
// the place whether it came from the ledger or a fresh lookup. While the
// geocoder quota latch is set the location is skipped, not failed, so a
// later pass picks it up
func (s *Service) ResolveLocation(ctx context.Context, location string) (geo.Geo, bool, error) {
	location = strings.ToLower(strings.TrimSpace(location))
	if location == "" {
		return geo.Geo{}, false, nil
	}

	if g, ok, err := s.places.Find(ctx, location); err != nil {
		return geo.Geo{}, false, err
	} else if ok {
		return g, true, nil
	}

	latched, err := s.gate.QuotaLatched(ctx)
	if err != nil {
		return geo.Geo{}, false, err
	}
	if latched {
		s.log.Debug().Str("location", location).Msg("geocoder quota latched, skipping")
		return geo.Geo{}, false, nil
	}

	g, ok, err := s.locator.Resolve(ctx, location)
	if perr.IsCode(err, perr.ErrorCodeQuota) {
		s.log.Warn().Str("location", location).Msg("geocoder over quota, latching")
		if lerr := s.gate.LatchQuota(ctx, s.cfg.QuotaTTL); lerr != nil {
			return geo.Geo{}, false, lerr
		}
		return geo.Geo{}, false, nil
	}
	if err != nil {
		return geo.Geo{}, false, err
	}
	if err := s.places.Save(ctx, location, g, ok); err != nil {
		return geo.Geo{}, false, err
	}
	return g, ok, nil
}

// Run executes one crawl pass: admission gate, then a worker pool over the
// seed scan. limit > 0 caps how many usernames are visited
func (s *Service) Run(ctx context.Context, workers int, limit int64) error {
	admitted, err := s.gate.Enter(ctx, TaskUpdateUsers)
	if err != nil {
		return err
	}
	if !admitted {
		s.log.Info().Msg("crawl pass declined, too many already running")
		return nil
	}
	defer func() {
		if err := s.gate.Leave(context.WithoutCancel(ctx), TaskUpdateUsers); err != nil {
			s.log.Warn().Err(err).Msg("admission release failed")
		}
	}()

	pool := workpool.New[string](workpool.Options{Name: "crawl", Workers: workers}, func(ctx context.Context, name string) error {
		return s.UpdateUser(ctx, name)
	})
	pool.Start(ctx)

	var visited int64
	for start := int64(0); ; start += s.cfg.PageSize {
		names, err := s.seeds.Page(ctx, start, s.cfg.PageSize)
		if err != nil {
			pool.Close()
			pool.Wait()
			return err
		}
		for _, name := range names {
			if limit > 0 && visited >= limit {
				pool.Close()
				pool.Wait()
				return nil
			}
			if err := pool.Submit(ctx, name); err != nil {
				pool.Close()
				pool.Wait()
				return err
			}
			visited++
		}
		if int64(len(names)) < s.cfg.PageSize {
			break
		}
	}
	pool.Close()
	pool.Wait()
	s.log.Info().Int64("visited", visited).Msg("crawl pass finished")
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
