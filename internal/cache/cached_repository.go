package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/blog-chat/internal/domain"
	"github.com/weiawesome/blog-chat/internal/repository"
	"github.com/weiawesome/blog-chat/pkg/log"
)

// CachedRepository serves Recent through a HistoryCache. Writes go to the
// repository first and then bump the room generation, so a page filled
// concurrently with a write ends up under a generation nobody reads.
type CachedRepository struct {
	repository.MessageRepository
	cache HistoryCache
	ttl   time.Duration
	sf    singleflight.Group
}

var _ repository.MessageRepository = (*CachedRepository)(nil)

func NewCachedRepository(repo repository.MessageRepository, c HistoryCache, ttl time.Duration) *CachedRepository {
	return &CachedRepository{MessageRepository: repo, cache: c, ttl: ttl}
}

func (r *CachedRepository) Recent(ctx context.Context, room string, limit int) ([]domain.ChatMessage, error) {
	gen, err := r.cache.Generation(ctx, room)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoom, room).Msg("cache generation lookup failed, reading store")
		return r.MessageRepository.Recent(ctx, room, limit)
	}

	key := r.cache.BuildKey(room, gen, limit)
	v, err, _ := r.sf.Do(key, func() (interface{}, error) {
		return r.fetchWithCache(ctx, room, limit, key)
	})
	if err != nil {
		return nil, err
	}

	msgs, ok := v.([]domain.ChatMessage)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}
	// Callers sharing a flight must not alias each other's slice.
	return append([]domain.ChatMessage(nil), msgs...), nil
}

func (r *CachedRepository) fetchWithCache(ctx context.Context, room string, limit int, key string) ([]domain.ChatMessage, error) {
	cached, err := r.cache.Get(ctx, key)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("cache get error")
	}

	msgs, err := r.MessageRepository.Recent(ctx, room, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages from repository: %w", err)
	}

	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.cache.Set(cacheCtx, key, msgs, r.ttl); err != nil {
			l := log.L()
			l.Warn().Err(err).Msg("cache set error")
		}
	}()

	return msgs, nil
}

func (r *CachedRepository) Append(ctx context.Context, msg *domain.ChatMessage) error {
	if err := r.MessageRepository.Append(ctx, msg); err != nil {
		return err
	}
	r.invalidate(ctx, msg.Room)
	return nil
}

func (r *CachedRepository) Delete(ctx context.Context, id string) (*domain.ChatMessage, error) {
	msg, err := r.MessageRepository.Delete(ctx, id)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, msg.Room)
	return msg, nil
}

// invalidate failures leave stale pages until their TTL runs out.
func (r *CachedRepository) invalidate(ctx context.Context, room string) {
	if err := r.cache.Bump(ctx, room); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoom, room).Msg("cache invalidation failed")
	}
}

func (r *CachedRepository) Close() error {
	return errors.Join(r.MessageRepository.Close(), r.cache.Close())
}
