package repository

import (
	"context"
	"errors"

	"github.com/weiawesome/blog-chat/internal/domain"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageStore is the durable chat log. Recent returns the newest limit
// messages of room ordered oldest first. Append is idempotent on the
// message id, so a redelivered message is stored once.
type MessageStore interface {
	Append(ctx context.Context, msg *domain.ChatMessage) error
	Recent(ctx context.Context, room string, limit int) ([]domain.ChatMessage, error)
}

// MessageRepository adds the lookups the HTTP API needs.
type MessageRepository interface {
	MessageStore
	GetByID(ctx context.Context, id string) (*domain.ChatMessage, error)
	// Delete removes the message and returns what was removed.
	Delete(ctx context.Context, id string) (*domain.ChatMessage, error)
	Close() error
}

// reverse flips a newest-first page into chronological order in place.
func reverse(msgs []domain.ChatMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
