package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kailas-cloud/problemdex"
	"github.com/kailas-cloud/problemdex/internal/config"
	logpkg "github.com/kailas-cloud/problemdex/internal/logger"
	"github.com/kailas-cloud/problemdex/internal/metrics"
	"github.com/kailas-cloud/problemdex/internal/telemetry"
	chiTransport "github.com/kailas-cloud/problemdex/internal/transport/chi"
	natsTransport "github.com/kailas-cloud/problemdex/internal/transport/nats"
	"github.com/kailas-cloud/problemdex/internal/version"
)

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting problemdex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("collection", cfg.Store.Collection),
		zap.String("embedding_provider", cfg.Embedding.Provider),
	)

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterStoreMetrics()

	// W3C trace context and baggage for the HTTP server and the NATS consumer
	telemetry.Setup()

	ctx := context.Background()
	ix, err := problemdex.Open(ctx, problemdex.FromConfig(cfg), problemdex.WithLogger(logger))
	if err != nil {
		logger.Fatal("Failed to open index", zap.Error(err))
	}
	defer func() {
		if err := ix.Close(); err != nil {
			logger.Error("Error closing index", zap.Error(err))
		}
	}()

	var nc *nats.Conn
	var consumer *natsTransport.Consumer
	if cfg.Ingest.NATSURL != "" {
		nc, consumer, err = startConsumer(ix, &cfg.Ingest, logger)
		if err != nil {
			logger.Fatal("Failed to start ingest consumer", zap.Error(err))
		}
	}

	server := chiTransport.NewServer(ix, logger)
	handler := chiTransport.NewRouter(server, chiTransport.RouterConfig{
		APIKeys: cfg.Auth.APIKeys,
		Service: "problemdex",
	}, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.Error("Error stopping ingest consumer", zap.Error(err))
		}
		nc.Close()
	}

	logger.Info("Server stopped gracefully")
}

func startConsumer(
	ix *problemdex.Index, cfg *config.IngestConfig, logger *zap.Logger,
) (*nats.Conn, *natsTransport.Consumer, error) {
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("problemdex"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}

	consumer := natsTransport.New(ix, natsTransport.Config{
		Subject: cfg.Subject,
		Queue:   cfg.Queue,
	}, logger)
	if err := consumer.Start(nc); err != nil {
		nc.Close()
		return nil, nil, err
	}
	return nc, consumer, nil
}
