package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/walks/internal/api"
	"example.com/walks/internal/auth"
	"example.com/walks/internal/config"
	"example.com/walks/internal/diagnostics"
	"example.com/walks/internal/log"
	"example.com/walks/internal/repository"
	"example.com/walks/internal/repository/cache"
	"example.com/walks/internal/repository/postgres"
	"example.com/walks/internal/tracker"
	httptransport "example.com/walks/internal/transport/http"
)

func main() {
	cfg := config.Load()
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "walk-api"})
	logger := log.WithComponent("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	var store cache.Store
	if cfg.CachePath != "" {
		badger, err := cache.OpenBadger(cfg.CachePath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.CachePath).Msg("failed to open cache")
		}
		store = badger
	} else {
		store = cache.NewMemory()
	}
	defer store.Close()

	kafkaSink := diagnostics.NewKafkaSink(cfg.KafkaBrokers)
	defer kafkaSink.Close()
	sink := diagnostics.Fanout{diagnostics.NewLogSink(), kafkaSink}

	engine := repository.NewEngine(repository.Config{
		Cache:       store,
		Remote:      postgres.NewStore(pool),
		Identity:    auth.ContextIdentity{},
		Sink:        sink,
		SaveTimeout: cfg.SaveTimeout,
		ListTimeout: cfg.ListTimeout,
	})
	defer engine.Close()

	registry := tracker.NewRegistry(auth.ContextIdentity{}, func(string) *tracker.Tracker {
		return tracker.New(tracker.Options{
			Saver:            engine,
			Sink:             sink,
			AccuracyCeilingM: cfg.AccuracyCeilingM,
		})
	})

	// Remote writes that failed are retried on a fixed schedule. The engine
	// itself never retries; the schedule lives here.
	go func() {
		ticker := time.NewTicker(cfg.ResyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if remaining := engine.Flush(ctx); remaining > 0 {
					logger.Warn().Int("remaining", remaining).Msg("resync left pending writes")
				}
			}
		}
	}()

	go func() {
		for failure := range engine.Failures() {
			logger.Debug().
				Str("walk_id", failure.WalkID).
				Str("op", failure.Op).
				Err(failure.Err).
				Msg("remote write queued for resync")
		}
	}()

	handler := api.NewHandler(registry, engine)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	skipAuth := func(r *http.Request) bool {
		return r.URL.Path == "/healthz" || r.URL.Path == "/metrics"
	}
	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, skipAuth)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, authMiddleware.Wrap(mux))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info().Str("address", cfg.HTTPAddress).Msg("walk-api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("graceful shutdown failed")
	}
}
