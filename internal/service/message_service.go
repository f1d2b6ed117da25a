package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/weiawesome/blog-chat/internal/audit"
	"github.com/weiawesome/blog-chat/internal/domain"
	"github.com/weiawesome/blog-chat/internal/repository"
	"github.com/weiawesome/blog-chat/internal/uploader"
	"github.com/weiawesome/blog-chat/pkg/log"
)

// APIUserPrefix marks user ids synthesized for HTTP posts that carry only a
// display name.
const APIUserPrefix = "api:"

type MessageOptions struct {
	MaxLimit      int
	UploadTimeout time.Duration
}

type messageService struct {
	repo        repository.MessageRepository
	registry    PresenceRegistry
	broadcaster Broadcaster
	images      ImageStore
	opts        MessageOptions
}

func NewMessageService(
	repo repository.MessageRepository,
	reg PresenceRegistry,
	b Broadcaster,
	images ImageStore,
	opts MessageOptions,
) MessageService {
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = 500
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 30 * time.Second
	}
	return &messageService{
		repo:        repo,
		registry:    reg,
		broadcaster: b,
		images:      images,
		opts:        opts,
	}
}

// Recent caps limit at the configured maximum.
func (s *messageService) Recent(ctx context.Context, room string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if limit > s.opts.MaxLimit {
		limit = s.opts.MaxLimit
	}
	msgs, err := s.repo.Recent(ctx, room, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	return msgs, nil
}

// OnlineUsers is sorted by username so repeated calls are comparable.
func (s *messageService) OnlineUsers(room string) []domain.OnlineUser {
	users := domain.OnlineUsers(s.registry.ListRoom(room))
	sort.Slice(users, func(i, j int) bool {
		if users[i].Username != users[j].Username {
			return users[i].Username < users[j].Username
		}
		return users[i].UserID < users[j].UserID
	})
	return users
}

// Post stores the message before broadcasting it, so a 201 means it is
// durable.
func (s *messageService) Post(ctx context.Context, in PostMessageInput) (*domain.ChatMessage, error) {
	user := strings.TrimSpace(in.User)
	room := strings.TrimSpace(in.Room)
	if user == "" || room == "" {
		return nil, fmt.Errorf("%w: user and room are required", ErrInvalidInput)
	}
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		userID = APIUserPrefix + user
	}

	msg := &domain.ChatMessage{
		ID:        uuid.NewString(),
		UserID:    userID,
		Username:  user,
		Room:      room,
		Text:      in.Text,
		Timestamp: time.Now().UTC(),
	}

	if image := strings.TrimSpace(in.Image); image != "" {
		ref, err := s.resolveImage(ctx, image, msg)
		if err != nil {
			return nil, err
		}
		msg.Image = &ref
	}

	if err := s.repo.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}

	if err := s.broadcaster.BroadcastToRoom(room, domain.NewChatEvent(msg), ""); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoom, room).Msg("broadcast of posted message failed")
	}

	audit.LogTarget(ctx, audit.ActionPostMessage, userID, room, msg.ID, "message posted over http")
	return msg, nil
}

func (s *messageService) resolveImage(ctx context.Context, image string, msg *domain.ChatMessage) (string, error) {
	if !uploader.IsInline(image) {
		u, err := url.Parse(image)
		if err != nil || !(u.Scheme == "http" || u.Scheme == "https" || (u.Scheme == "" && strings.HasPrefix(u.Path, "/"))) {
			return "", fmt.Errorf("%w: image must be a data URL or an http(s) URL", ErrInvalidInput)
		}
		return image, nil
	}

	upCtx, cancel := context.WithTimeout(ctx, s.opts.UploadTimeout)
	defer cancel()
	ref, err := s.images.Store(upCtx, image, uploader.Metadata{
		UserID:   msg.UserID,
		Username: msg.Username,
		Room:     msg.Room,
	})
	if err != nil {
		return "", err
	}
	return ref, nil
}

// Delete removes the record and, best effort, the image it points to.
func (s *messageService) Delete(ctx context.Context, id string) (*domain.ChatMessage, error) {
	msg, err := s.repo.Delete(ctx, id)
	if err != nil {
		return nil, err
	}

	if msg.HasImage() {
		if err := s.images.Remove(ctx, *msg.Image); err != nil && !errors.Is(err, uploader.ErrForeignURL) {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldMessageID, id).Msg("failed to remove message image")
		}
	}

	audit.LogTarget(ctx, audit.ActionDeleteMessage, msg.UserID, msg.Room, msg.ID, "message deleted")
	return msg, nil
}
