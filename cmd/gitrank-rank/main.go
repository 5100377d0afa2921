package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"gitrank/internal/adapters/translate"
	"gitrank/internal/core/keys"
	"gitrank/internal/platform/config"
	"gitrank/internal/platform/logger"
	"gitrank/internal/platform/store"
	"gitrank/internal/services/ranking"
)

func main() {
	var (
		window  = flag.Int("window", ranking.DefaultWindowMonths, "trailing contribution window in months")
		rollups = flag.Bool("rollups", true, "also recompute the country and city rollups")
	)
	flag.Parse()

	root := config.New()
	rankCfg := root.Prefix("RANK_")
	redisCfg := root.Prefix("STORE_REDIS_")
	mongoCfg := root.Prefix("STORE_MONGO_")
	l := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{
		AppName: "gitrank-rank",
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

	ring := keys.New(rankCfg.MayString("KEY_PREFIX", ""))

	var roll ranking.Rollups
	var trans ranking.Translator
	targetLang := rankCfg.MayString("LABEL_LANG", "")
	if *rollups {
		roll = ranking.NewRollupRepo(st.Docs)
		if targetLang != "" {
			trans = translate.NewClient(translate.Options{
				BaseURL: rankCfg.MustString("TRANSLATE_URL"),
				APIKey:  rankCfg.MayString("TRANSLATE_KEY", ""),
			}, translate.NewRedisCache(st.RDS, ring))
		}
	}

	svc := ranking.New(
		ranking.NewUserScan(st.Docs),
		ranking.NewRedisBoards(st.RDS),
		roll,
		trans,
		ring,
		ranking.Config{
			WindowMonths: rankCfg.MayInt("WINDOW_MONTHS", *window),
			TargetLang:   targetLang,
		},
	)

	started := time.Now()
	if err := svc.Publish(ctx, started); err != nil {
		l.Fatal().Err(err).Msg("ranking pass failed")
	}
	l.Info().Dur("elapsed", time.Since(started)).Msg("ranking pass finished")
}
