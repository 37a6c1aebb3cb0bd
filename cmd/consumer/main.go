package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"example.com/walks/internal/config"
	"example.com/walks/internal/consumer"
	"example.com/walks/internal/diagnostics"
	"example.com/walks/internal/log"
	"example.com/walks/internal/tracker"
)

func main() {
	cfg := config.Load()
	log.Configure(log.Config{Level: cfg.LogLevel, Service: "walk-consumer"})
	logger := log.WithComponent("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Mirror trackers carry no saver: persistence happens in the process
	// that owns the walk. This process only folds telemetry into the live
	// session state.
	registry := tracker.NewRegistry(nil, func(string) *tracker.Tracker {
		return tracker.New(tracker.Options{
			Sink:             diagnostics.NewLogSink(),
			AccuracyCeilingM: cfg.AccuracyCeilingM,
		})
	})

	telemetry := consumer.NewTelemetryHandler(registry)
	lifecycle := consumer.NewLifecycleHandler(registry)

	handlers := map[string]consumer.Handler{
		diagnostics.TopicStateChanged: lifecycle,
		consumer.TopicPositionSamples: telemetry,
		consumer.TopicStepReadings:    telemetry,
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}

	go func() {
		logger.Info().Str("address", cfg.MetricsAddress).Msg("consumer metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn().Err(err).Msg("metrics server error")
		}
	}()

	var wg sync.WaitGroup
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	for topic, handler := range handlers {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.KafkaBrokers,
			GroupID:         cfg.ConsumerGroupID,
			Topic:           topic,
			MinBytes:        1e3,
			MaxBytes:        10e6,
			CommitInterval:  time.Second,
			RetentionTime:   24 * time.Hour,
			ReadLagInterval: -1,
		})

		proc := consumer.NewProcessor(reader, handler)

		wg.Add(1)
		go func(topic string, r *kafka.Reader) {
			defer wg.Done()
			defer r.Close()

			logger.Info().Str("topic", topic).Str("group", cfg.ConsumerGroupID).Msg("consumer started")
			if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Str("topic", topic).Msg("consumer stopped with error")
			}
		}(topic, reader)
	}

	<-stop
	logger.Info().Msg("consumer shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("metrics server shutdown error")
	}

	wg.Wait()
}
