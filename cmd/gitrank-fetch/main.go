package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"gitrank/internal/adapters/archive"
	"gitrank/internal/core/keys"
	"gitrank/internal/platform/config"
	"gitrank/internal/platform/logger"
	"gitrank/internal/platform/metrics"
	"gitrank/internal/platform/store"
	"gitrank/internal/platform/workpool"
	"gitrank/internal/services/ingest"
)

func main() {
	var (
		sinceFlag = flag.String("since", "", "first hour slice, YYYY-MM-DD-H")
		untilFlag = flag.String("until", "", "last hour slice inclusive, YYYY-MM-DD-H (default: follow horizon)")
		follow    = flag.Bool("follow", false, "keep trailing the archive after the range is done")
		workers   = flag.Int("workers", 4, "concurrent slice workers")
	)
	flag.Parse()

	root := config.New()
	fetchCfg := root.Prefix("FETCH_")
	redisCfg := root.Prefix("STORE_REDIS_")
	mongoCfg := root.Prefix("STORE_MONGO_")
	l := logger.Get()

	since, err := archive.ParseSliceRef(*sinceFlag)
	if err != nil {
		l.Fatal().Err(err).Msg("bad -since")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{
		AppName: "gitrank-fetch",
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

	if addr := fetchCfg.MayString("METRICS_ADDR", ""); addr != "" {
		metrics.Serve(addr)
	}

	fetcher := archive.NewFetcher(
		fetchCfg.MayString("DIR", "./data"),
		fetchCfg.MayDuration("HTTP_TIMEOUT", 2*time.Minute),
	)
	ring := keys.New(fetchCfg.MayString("KEY_PREFIX", ""))
	svc := ingest.New(
		fetcher,
		ingest.NewTracker(st.RDS, ring),
		ingest.NewFlusher(st.RDS, st.Docs),
		ring,
		ingest.Config{BatchSize: fetchCfg.MayInt("BATCH_SIZE", ingest.DefaultBatchSize)},
	)

	pool := workpool.New[archive.SliceRef](
		workpool.Options{Name: "fetch", Workers: *workers},
		func(ctx context.Context, ref archive.SliceRef) error {
			return svc.ProcessSlice(ctx, ref)
		},
	)
	pool.Start(ctx)

	lag := fetchCfg.MayDuration("FOLLOW_LAG", 6*time.Hour)
	sweep := fetchCfg.MayDuration("FOLLOW_SWEEP", 15*time.Minute)

	horizon := func() archive.SliceRef { return archive.NewSliceRef(time.Now().Add(-lag)) }

	until := horizon()
	if *untilFlag != "" {
		until, err = archive.ParseSliceRef(*untilFlag)
		if err != nil {
			l.Fatal().Err(err).Msg("bad -until")
		}
	}

	next := since
	submitThrough := func(last archive.SliceRef) bool {
		for !next.Time().After(last.Time()) {
			if err := pool.Submit(ctx, next); err != nil {
				return false
			}
			next = next.Next()
		}
		return true
	}

	ok := submitThrough(until)
	for ok && *follow {
		select {
		case <-ctx.Done():
			ok = false
		case <-time.After(sweep):
			ok = submitThrough(horizon())
		}
	}

	pool.Close()
	pool.Wait()
	l.Info().Str("next", next.String()).Msg("fetch run finished")
}
