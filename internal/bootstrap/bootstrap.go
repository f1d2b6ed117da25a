// Package bootstrap builds the backends shared by the chat binaries from
// configuration.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/weiawesome/blog-chat/internal/cache"
	"github.com/weiawesome/blog-chat/internal/config"
	"github.com/weiawesome/blog-chat/internal/repository"
	"github.com/weiawesome/blog-chat/pkg/log"
	"github.com/weiawesome/blog-chat/pkg/storage"
)

// OpenRepository opens the configured message store, fronted by the Redis
// history cache when caching is enabled.
func OpenRepository(ctx context.Context, cfg *config.Config) (repository.MessageRepository, error) {
	logger := log.Ctx(ctx)

	repo, err := repository.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}
	logger.Info().Str("driver", cfg.Store.Driver).Msg("message store opened")

	if !cfg.Cache.Enabled {
		return repo, nil
	}

	historyCache, err := cache.NewRedisHistoryCache(cfg.Redis, cfg.Cache.Prefix)
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("addr", cfg.Redis.Address).Dur("ttl", cfg.Cache.TTL).Msg("history cache enabled")
	return cache.NewCachedRepository(repo, historyCache, cfg.Cache.TTL), nil
}

// OpenStorage returns the object storage uploads are written to. The local
// backend is also returned so callers can serve its directory.
func OpenStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, *storage.LocalStorage, error) {
	switch cfg.Type {
	case "local":
		local, err := storage.NewLocalStorage(cfg.Local)
		if err != nil {
			return nil, nil, err
		}
		return local, local, nil
	case "s3":
		s3, err := storage.NewS3Storage(ctx, cfg.S3)
		if err != nil {
			return nil, nil, err
		}
		return s3, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage type: %q", cfg.Type)
	}
}
