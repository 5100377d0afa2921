package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"gitrank/internal/core/keys"
	"gitrank/internal/platform/config"
	"gitrank/internal/platform/logger"
	"gitrank/internal/platform/store"
	"gitrank/internal/services/api"
)

func main() {
	flag.Parse()

	root := config.New()
	apiCfg := root.Prefix("API_")
	redisCfg := root.Prefix("STORE_REDIS_")
	mongoCfg := root.Prefix("STORE_MONGO_")
	l := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{
		AppName: "gitrank-api",
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

	svc := api.New(
		api.NewRedisBoards(st.RDS),
		api.NewMongoDocs(st.Docs),
		keys.New(apiCfg.MayString("KEY_PREFIX", "")),
		api.Config{
			DefaultCountry:  apiCfg.MayString("DEFAULT_COUNTRY", "China"),
			DefaultLanguage: apiCfg.MayString("DEFAULT_LANGUAGE", "JavaScript"),
		},
	)

	srv := &http.Server{
		Addr:              apiCfg.MayString("ADDR", ":5000"),
		Handler:           api.Router(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		l.Info().Str("addr", srv.Addr).Msg("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			l.Error().Err(err).Msg("shutdown failed")
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal().Err(err).Msg("http server stopped")
		}
	}
}
