package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/blog-chat/internal/bootstrap"
	"github.com/weiawesome/blog-chat/internal/config"
	"github.com/weiawesome/blog-chat/internal/handler"
	"github.com/weiawesome/blog-chat/internal/hub"
	"github.com/weiawesome/blog-chat/internal/kafka"
	"github.com/weiawesome/blog-chat/internal/presence"
	"github.com/weiawesome/blog-chat/internal/service"
	"github.com/weiawesome/blog-chat/internal/uploader"
	pkglog "github.com/weiawesome/blog-chat/pkg/log"
)

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	cfg.Log.ServiceName = "chat-service"
	pkglog.Init(cfg.Log)
	logger := pkglog.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = pkglog.WithLogger(ctx, logger)

	repo, err := bootstrap.OpenRepository(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open message store")
	}
	defer repo.Close()

	// Accepted messages go straight to the store or through Kafka to
	// chat-persist-service.
	var sink service.MessageSink = repo
	if cfg.Persist.Mode == "kafka" {
		producer, err := kafka.NewConfluentProducer(cfg.Kafka)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create kafka producer")
		}
		defer producer.Close()
		sink = producer
		logger.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("persisting through kafka")
	}

	store, local, err := bootstrap.OpenStorage(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open image storage")
	}
	images := uploader.New(store, cfg.Upload)

	registry := presence.NewRegistry()
	wsHub := hub.NewHub(registry, cfg.WebSocket)

	chatSvc := service.NewChatService(wsHub, registry, repo, sink, images, service.ChatOptions{
		HistoryLimit:   cfg.Chat.HistoryLimit,
		PersistTimeout: cfg.Chat.PersistTimeout,
		UploadTimeout:  cfg.Chat.UploadTimeout,
	})
	msgSvc := service.NewMessageService(repo, registry, wsHub, images, service.MessageOptions{
		MaxLimit:      cfg.Chat.APIMaxLimit,
		UploadTimeout: cfg.Chat.UploadTimeout,
	})

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	handler.NewWSHandler(wsHub, chatSvc, cfg.WebSocket).RegisterRoutes(r)
	handler.NewHTTPHandler(msgSvc, cfg.Chat.HistoryLimit).RegisterRoutes(r)
	if local != nil {
		r.Static(cfg.Storage.Local.URLPrefix, local.BasePath())
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsHub.Run(hubCtx)
		return nil
	})
	g.Go(func() error {
		logger.Info().
			Str("addr", server.Addr).
			Str("store", cfg.Store.Driver).
			Str("persist", cfg.Persist.Mode).
			Str("storage", cfg.Storage.Type).
			Msg("chat-service starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down chat-service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Hijacked websocket connections are not tracked by Shutdown; the hub
		// closes them.
		err := server.Shutdown(shutdownCtx)
		stopHub()
		if stopErr := chatSvc.Stop(shutdownCtx); stopErr != nil {
			logger.Warn().Err(stopErr).Msg("pending messages were not persisted before shutdown")
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("chat-service stopped with error")
		stopHub()
		return
	}
	logger.Info().Msg("chat-service stopped")
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "./config"
}
