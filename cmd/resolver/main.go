package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/location-resolver/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/location-resolver/internal/adapter/kafka"
	"github.com/couchcryptid/location-resolver/internal/config"
	"github.com/couchcryptid/location-resolver/internal/gazetteer"
	"github.com/couchcryptid/location-resolver/internal/lexicon"
	"github.com/couchcryptid/location-resolver/internal/matching"
	"github.com/couchcryptid/location-resolver/internal/observability"
	"github.com/couchcryptid/location-resolver/internal/pipeline"
	"github.com/couchcryptid/location-resolver/internal/suggest"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	store, err := gazetteer.Open(cfg.DBPath, clock)
	if err != nil {
		logger.Error("failed to open gazetteer store", "error", err, "path", cfg.DBPath)
		os.Exit(1)
	}

	lex := lexicon.NewBuilder(store, clock, logger)
	lex.OnRebuild(metrics.LexiconRebuilds.Inc)
	matcher := matching.New(store, lex, logger, metrics)

	computer := suggest.NewComputer(store, clock, logger, cfg.TrustedSources)
	worker := suggest.NewWorker(computer, store, clock, logger, metrics, cfg.SuggestionQueueSize)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	resolver := pipeline.NewResolver(matcher, store, worker, logger, metrics)

	p := pipeline.New(reader, resolver, writer, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start suggestion worker.
	go func() {
		if err := worker.Run(ctx); err != nil {
			logger.Error("suggestion worker error", "error", err)
		}
	}()

	// Start resolver pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}
	if err := store.Close(); err != nil {
		logger.Error("gazetteer store close error", "error", err)
	}

	logger.Info("shutdown complete")
}
