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

	"github.com/weiawesome/blog-chat/internal/bootstrap"
	"github.com/weiawesome/blog-chat/internal/config"
	"github.com/weiawesome/blog-chat/internal/consumer"
	pkglog "github.com/weiawesome/blog-chat/pkg/log"
)

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	cfg.Log.ServiceName = "chat-persist-service"
	pkglog.Init(cfg.Log)
	logger := pkglog.L()
	ctx := pkglog.WithLogger(context.Background(), logger)

	repo, err := bootstrap.OpenRepository(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open message store")
	}
	defer repo.Close()

	cons, err := consumer.NewConsumer(cfg.Kafka, repo)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create kafka consumer")
	}
	logger.Info().
		Str("brokers", cfg.Kafka.Brokers).
		Str("topic", cfg.Kafka.Topic).
		Str("group", cfg.Kafka.GroupID).
		Msg("kafka consumer created")

	mux := http.NewServeMux()
	health := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
	mux.HandleFunc("/health", health)
	mux.HandleFunc("/healthz", health)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Persister.HealthPort),
		Handler:      pkglog.HTTPMiddleware(logger)(mux),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("health server failed")
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- cons.Run(runCtx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	running := true
	select {
	case <-quit:
		logger.Info().Msg("received shutdown signal")
	case err := <-consumerDone:
		running = false
		if err != nil {
			logger.Error().Err(err).Msg("consumer exited")
		}
	}

	logger.Info().Msg("shutting down chat-persist-service")
	cancel()

	if running {
		select {
		case <-consumerDone:
		case <-time.After(10 * time.Second):
			logger.Warn().Msg("consumer shutdown timed out")
		}
	}

	if err := cons.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close consumer")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)

	logger.Info().Msg("chat-persist-service stopped")
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "./config"
}
