package repository

import (
	"context"
	"fmt"

	"github.com/weiawesome/blog-chat/internal/config"
	"github.com/weiawesome/blog-chat/internal/domain"
	"github.com/weiawesome/blog-chat/pkg/database"
)

// Open builds the repository selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (MessageRepository, error) {
	switch cfg.Driver {
	case "gorm":
		db, err := database.New(&cfg.Database, &domain.ChatMessageModel{})
		if err != nil {
			return nil, err
		}
		return NewGormMessageRepository(db), nil
	case "cassandra":
		return NewCassandraMessageRepository(cfg.Cassandra)
	case "mongo":
		return NewMongoMessageRepository(ctx, cfg.Mongo)
	case "pebble":
		return NewPebbleMessageRepository(cfg.Pebble.Path)
	default:
		return nil, fmt.Errorf("unsupported store driver: %q", cfg.Driver)
	}
}
