// Command server runs the crisis data API: dashboard endpoints backed by a
// Databricks SQL warehouse and Genie space, plus the crisis map refresh loop.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/crisis-data-service/internal/adapter/databricks"
	"github.com/couchcryptid/crisis-data-service/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/crisis-data-service/internal/adapter/kafka"
	"github.com/couchcryptid/crisis-data-service/internal/adapter/naturalearth"
	"github.com/couchcryptid/crisis-data-service/internal/config"
	"github.com/couchcryptid/crisis-data-service/internal/insight"
	"github.com/couchcryptid/crisis-data-service/internal/observability"
	"github.com/couchcryptid/crisis-data-service/internal/pipeline"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"golang.org/x/sync/errgroup"
)

func main() {
	provider, err := config.NewProvider(sharedcfg.EnvOrDefault("ENV_FILE", ".env"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := provider.Current()

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	sw := databricks.NewSwitch(cfg, metrics, logger)
	provider.OnReload(sw.Apply)
	logger.Info("databricks clients ready",
		"warehouse", cfg.DatabricksConfigured(),
		"genie", cfg.GenieConfigured(),
		"table", cfg.QualifiedTable(),
	)

	loader := naturalearth.NewLoader(cfg.BoundariesPath, cfg.BoundariesURL, cfg.HTTPTimeout, logger)

	var (
		pub    pipeline.Publisher
		writer *kafkaadapter.Writer
	)
	if cfg.PublishEnabled() {
		writer = kafkaadapter.NewWriter(cfg, logger)
		pub = writer
		logger.Info("crisis map publishing enabled", "topic", cfg.KafkaMapTopic, "brokers", cfg.KafkaBrokers)
	}

	// The refresh loop idles until a reload supplies warehouse credentials.
	refresher := pipeline.New(sw, loader, pub, logger, metrics, pipeline.Options{
		Statement: func() string { return insight.TopCrisesSQL(provider.Current().QualifiedTable()) },
		Enabled:   func() bool { return provider.Current().DatabricksConfigured() },
		Interval:  cfg.MapRefreshInterval,
	})

	deps := httpadapter.Deps{
		Config:   provider,
		Executor: sw,
		Genie:    sw,
		Map:      refresher,
		Ready:    refresher,
	}

	srv := httpadapter.NewServer(deps, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := refresher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("crisis map refresh error", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), provider.Current().ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("http server error", "error", err)
	}

	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
