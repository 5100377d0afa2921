package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"gitrank/internal/adapters/geo"
	"gitrank/internal/adapters/github"
	"gitrank/internal/core/keys"
	"gitrank/internal/platform/config"
	"gitrank/internal/platform/logger"
	"gitrank/internal/platform/metrics"
	"gitrank/internal/platform/store"
	"gitrank/internal/services/crawler"
)

func main() {
	var (
		workers = flag.Int("workers", 8, "concurrent username workers")
		limit   = flag.Int64("limit", 0, "max usernames to visit, 0 for all")
	)
	flag.Parse()

	root := config.New()
	crawlCfg := root.Prefix("CRAWL_")
	redisCfg := root.Prefix("STORE_REDIS_")
	mongoCfg := root.Prefix("STORE_MONGO_")
	l := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{
		AppName: "gitrank-crawl",
		Redis: store.RedisConfig{
			Enabled: true,
			Addr:    redisCfg.MustString("ADDR"),
			DB:      redisCfg.MayInt("DB", 0),
		},
		Mongo: store.MongoConfig{
			Enabled:  true,
			URI:      mongoCfg.MustString("URI"),
			Database: mongoCfg.MayString("DATABASE", "gitrank"),
		},
	}, store.WithLogger(*l))
	if err != nil {
		l.Fatal().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()

	if addr := crawlCfg.MayString("METRICS_ADDR", ""); addr != "" {
		metrics.Serve(addr)
	}

	profiles := github.NewClient(github.Options{
		TokensCSV:  crawlCfg.MayString("GITHUB_TOKENS", ""),
		RatePerSec: crawlCfg.MayFloat64("RATE_PER_SEC", 1),
		Burst:      crawlCfg.MayInt("RATE_BURST", 2),
		Timeout:    crawlCfg.MayDuration("HTTP_TIMEOUT", 10*time.Second),
	})
	locator := geo.NewClient(geo.Options{
		Timeout: crawlCfg.MayDuration("GEO_TIMEOUT", 10*time.Second),
	})

	ring := keys.New(crawlCfg.MayString("KEY_PREFIX", ""))
	svc := crawler.New(
		profiles,
		locator,
		crawler.NewUserRepo(st.Docs),
		crawler.NewPlaceRepo(st.Docs),
		crawler.NewRedisGate(st.RDS, ring, int64(crawlCfg.MayInt("ADMISSION_CAP", 1))),
		crawler.NewSeedScan(st.RDS, ring),
		crawler.Config{
			Hold:     crawlCfg.MayDuration("HOLD", 10*time.Minute),
			MaxHolds: crawlCfg.MayInt("MAX_HOLDS", 3),
			QuotaTTL: crawlCfg.MayDuration("GEO_QUOTA_TTL", time.Hour),
		},
	)

	if err := svc.Run(ctx, *workers, *limit); err != nil {
		l.Fatal().Err(err).Msg("crawl pass failed")
	}
}
