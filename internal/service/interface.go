package service

import (
	"context"
	"errors"

	"github.com/weiawesome/blog-chat/internal/domain"
	"github.com/weiawesome/blog-chat/internal/uploader"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidLimit = errors.New("limit must be a positive integer")
)

// Broadcaster delivers events to connections.
type Broadcaster interface {
	BroadcastToRoom(room string, evt *domain.Outbound, exclude string) error
	SendTo(connID string, evt *domain.Outbound) error
}

// PresenceRegistry is the view of presence.Registry the services need.
type PresenceRegistry interface {
	Register(connID, userID, username, room string) (prev domain.Session, moved bool)
	Unregister(connID string) (domain.Session, bool)
	Lookup(connID string) (domain.Session, bool)
	ListRoom(room string) []domain.Session
	Count(room string) int
}

type HistoryReader interface {
	Recent(ctx context.Context, room string, limit int) ([]domain.ChatMessage, error)
}

// MessageSink accepts messages for durable storage: the store itself or a
// Kafka producer in front of it.
type MessageSink interface {
	Append(ctx context.Context, msg *domain.ChatMessage) error
}

type ImageUploader interface {
	Store(ctx context.Context, payload string, meta uploader.Metadata) (string, error)
}

type ImageStore interface {
	ImageUploader
	Remove(ctx context.Context, url string) error
}

// ChatService handles the events of one websocket connection. Calls for the
// same connection must not overlap.
type ChatService interface {
	HandleJoin(ctx context.Context, connID string, e domain.JoinEvent) error
	HandleMessage(ctx context.Context, connID string, e domain.TextMessageEvent) error
	HandleImage(ctx context.Context, connID string, e domain.ImageMessageEvent) error
	HandleTyping(ctx context.Context, connID string, e domain.TypingEvent) error
	HandleDisconnect(ctx context.Context, connID string) error
	// Stop waits for in-flight persistence to finish or ctx to expire.
	Stop(ctx context.Context) error
}

// PostMessageInput is a message submitted over HTTP. Image may be a data
// URL, which is uploaded, or the URL of an already hosted image.
type PostMessageInput struct {
	User   string `json:"user"`
	UserID string `json:"userId"`
	Text   string `json:"text"`
	Image  string `json:"image"`
	Room   string `json:"room"`
}

type MessageService interface {
	Recent(ctx context.Context, room string, limit int) ([]domain.ChatMessage, error)
	OnlineUsers(room string) []domain.OnlineUser
	Post(ctx context.Context, in PostMessageInput) (*domain.ChatMessage, error)
	Delete(ctx context.Context, id string) (*domain.ChatMessage, error)
}
