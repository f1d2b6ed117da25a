package cache

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/blog-chat/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// HistoryCache stores recent-history pages. Keys embed a per-room
// generation; bumping the generation orphans every page of that room.
type HistoryCache interface {
	Get(ctx context.Context, key string) ([]domain.ChatMessage, error)
	Set(ctx context.Context, key string, msgs []domain.ChatMessage, ttl time.Duration) error
	Generation(ctx context.Context, room string) (int64, error)
	Bump(ctx context.Context, room string) error
	BuildKey(room string, generation int64, limit int) string
	Close() error
}
