package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/weiawesome/blog-chat/internal/audit"
	"github.com/weiawesome/blog-chat/internal/domain"
	"github.com/weiawesome/blog-chat/internal/uploader"
	"github.com/weiawesome/blog-chat/pkg/log"
)

const msgUploadFailed = "image upload failed, please retry"

// ChatOptions tunes the connection handler.
type ChatOptions struct {
	HistoryLimit   int
	PersistTimeout time.Duration
	UploadTimeout  time.Duration
}

type chatService struct {
	broadcaster Broadcaster
	registry    PresenceRegistry
	history     HistoryReader
	sink        MessageSink
	uploader    ImageUploader
	opts        ChatOptions

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
}

func NewChatService(
	b Broadcaster,
	reg PresenceRegistry,
	history HistoryReader,
	sink MessageSink,
	up ImageUploader,
	opts ChatOptions,
) ChatService {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 100
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 30 * time.Second
	}
	return &chatService{
		broadcaster: b,
		registry:    reg,
		history:     history,
		sink:        sink,
		uploader:    up,
		opts:        opts,
	}
}

func (s *chatService) HandleJoin(ctx context.Context, connID string, e domain.JoinEvent) error {
	prev, moved := s.registry.Register(connID, e.UserID, e.Username, e.Room)
	if moved {
		s.announceLeave(ctx, prev)
		audit.Log(ctx, audit.ActionSwitchRoom, prev.UserID, prev.Room, "user switched room")
	}

	sess, ok := s.registry.Lookup(connID)
	if !ok {
		// Disconnected between the two calls.
		return nil
	}

	s.broadcast(ctx, sess.Room, domain.NewUserJoined(sess, s.registry.Count(sess.Room)), "")
	s.broadcast(ctx, sess.Room, domain.NewUserList(domain.OnlineUsers(s.registry.ListRoom(sess.Room))), "")

	msgs, err := s.history.Recent(ctx, sess.Room, s.opts.HistoryLimit)
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoom, sess.Room).Msg("failed to load room history")
		msgs = nil
	}
	if err := s.broadcaster.SendTo(connID, domain.NewRoomHistory(msgs)); err != nil {
		return err
	}

	audit.Log(ctx, audit.ActionJoinRoom, sess.UserID, sess.Room, "user joined room")
	return nil
}

func (s *chatService) HandleMessage(ctx context.Context, connID string, e domain.TextMessageEvent) error {
	sess, ok := s.registry.Lookup(connID)
	if !ok {
		return nil
	}

	msg := domain.NewChatMessage(sess, e.Text, nil)
	s.broadcast(ctx, sess.Room, domain.NewChatEvent(msg), "")
	s.persistAsync(ctx, msg)

	audit.LogTarget(ctx, audit.ActionSendMessage, sess.UserID, sess.Room, msg.ID, "message sent")
	return nil
}

// HandleImage uploads before anything is announced; a failed upload is
// reported to the sender only.
func (s *chatService) HandleImage(ctx context.Context, connID string, e domain.ImageMessageEvent) error {
	sess, ok := s.registry.Lookup(connID)
	if !ok {
		return nil
	}

	upCtx, cancel := context.WithTimeout(ctx, s.opts.UploadTimeout)
	url, err := s.uploader.Store(upCtx, e.Image, uploader.Metadata{
		UserID:   sess.UserID,
		Username: sess.Username,
		Room:     sess.Room,
	})
	cancel()
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldRoom, sess.Room).Msg("image upload failed")
		audit.Log(ctx, audit.ActionImageRejected, sess.UserID, sess.Room, err.Error())
		return s.broadcaster.SendTo(connID, domain.NewError(uploadErrorMessage(err)))
	}

	msg := domain.NewChatMessage(sess, e.Text, &url)
	s.broadcast(ctx, sess.Room, domain.NewChatEvent(msg), "")
	s.persistAsync(ctx, msg)

	audit.LogTarget(ctx, audit.ActionSendImage, sess.UserID, sess.Room, msg.ID, "image sent")
	return nil
}

func uploadErrorMessage(err error) string {
	for _, known := range []error{
		uploader.ErrEmptyPayload,
		uploader.ErrMalformedPayload,
		uploader.ErrUnsupportedType,
		uploader.ErrTooLarge,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return msgUploadFailed
}

func (s *chatService) HandleTyping(ctx context.Context, connID string, e domain.TypingEvent) error {
	sess, ok := s.registry.Lookup(connID)
	if !ok {
		return nil
	}
	s.broadcast(ctx, sess.Room, domain.NewUserTyping(sess, e.IsTyping), connID)
	return nil
}

func (s *chatService) HandleDisconnect(ctx context.Context, connID string) error {
	sess, ok := s.registry.Unregister(connID)
	if !ok {
		return nil
	}
	s.announceLeave(ctx, sess)
	audit.Log(ctx, audit.ActionDisconnect, sess.UserID, sess.Room, "user left room")
	return nil
}

// announceLeave tells whoever is left in the room. An empty room has no
// one to tell.
func (s *chatService) announceLeave(ctx context.Context, sess domain.Session) {
	remaining := s.registry.Count(sess.Room)
	if remaining == 0 {
		return
	}
	s.broadcast(ctx, sess.Room, domain.NewUserLeft(sess, remaining), "")
	s.broadcast(ctx, sess.Room, domain.NewUserList(domain.OnlineUsers(s.registry.ListRoom(sess.Room))), "")
}

func (s *chatService) broadcast(ctx context.Context, room string, evt *domain.Outbound, exclude string) {
	if err := s.broadcaster.BroadcastToRoom(room, evt, exclude); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoom, room).Str("event", evt.Type).Msg("broadcast failed")
	}
}

// persistAsync stores msg off the connection's goroutine. The broadcast has
// already happened and is not undone on failure. Once Stop has begun the
// write happens inline so nothing is added to the wait group behind it.
func (s *chatService) persistAsync(ctx context.Context, msg *domain.ChatMessage) {
	logger := log.Ctx(ctx)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.persist(logger, msg)
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.inflight.Done()
		s.persist(logger, msg)
	}()
}

func (s *chatService) persist(logger zerolog.Logger, msg *domain.ChatMessage) {
	pctx, cancel := context.WithTimeout(log.WithLogger(context.Background(), logger), s.opts.PersistTimeout)
	defer cancel()
	if err := s.sink.Append(pctx, msg); err != nil {
		logger.Error().Err(err).
			Str(log.FieldMessageID, msg.ID).
			Str(log.FieldRoom, msg.Room).
			Msg("failed to persist message")
	}
}

func (s *chatService) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
