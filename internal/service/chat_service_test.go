package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/blog-chat/internal/domain"
	"github.com/weiawesome/blog-chat/internal/presence"
	"github.com/weiawesome/blog-chat/internal/uploader"
)

type chatFixture struct {
	svc      ChatService
	registry *presence.Registry
	bc       *fakeBroadcaster
	repo     *memoryRepo
	up       *fakeUploader
}

func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	reg := presence.NewRegistry()
	bc := newFakeBroadcaster(reg)
	repo := newMemoryRepo()
	up := &fakeUploader{url: "/uploads/chat/img.png"}
	svc := NewChatService(bc, reg, repo, repo, up, ChatOptions{
		HistoryLimit:   3,
		PersistTimeout: time.Second,
		UploadTimeout:  time.Second,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		svc.Stop(ctx)
	})
	return &chatFixture{svc: svc, registry: reg, bc: bc, repo: repo, up: up}
}

func (f *chatFixture) join(t *testing.T, connID, userID, username, room string) {
	t.Helper()
	require.NoError(t, f.svc.HandleJoin(context.Background(), connID, domain.JoinEvent{
		UserID: userID, Username: username, Room: room,
	}))
}

func (f *chatFixture) waitPersisted(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.repo.appended:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for append %d", i+1)
		}
	}
}

func TestHandleJoin_SendsPresenceAndHistory(t *testing.T) {
	f := newChatFixture(t)
	f.join(t, "c1", "u1", "alice", "go")

	assert.Equal(t, []string{domain.EventUserJoined, domain.EventUserList, domain.EventRoomHistory}, f.bc.types("c1"))

	evts := f.bc.received("c1")
	joined := evts[0].Data.(domain.PresenceNotice)
	assert.Equal(t, 1, joined.OnlineCount)
	assert.Equal(t, "alice joined the chat room", joined.Message)

	users := evts[1].Data.([]domain.OnlineUser)
	assert.Equal(t, []domain.OnlineUser{{UserID: "u1", Username: "alice", Room: "go"}}, users)

	assert.Empty(t, evts[2].Data.([]domain.ChatMessage))
}

func TestHandleJoin_HistoryIsPrivateAndBounded(t *testing.T) {
	f := newChatFixture(t)
	f.join(t, "c1", "u1", "alice", "go")
	for i := 0; i < 5; i++ {
		require.NoError(t, f.svc.HandleMessage(context.Background(), "c1", domain.TextMessageEvent{Text: fmt.Sprintf("m%d", i)}))
		f.waitPersisted(t, 1)
	}
	f.bc.reset()

	f.join(t, "c2", "u2", "bob", "go")

	history := f.bc.received("c2")[2]
	require.Equal(t, domain.EventRoomHistory, history.Type)
	msgs := history.Data.([]domain.ChatMessage)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"m2", "m3", "m4"}, []string{msgs[0].Text, msgs[1].Text, msgs[2].Text})

	// The existing member sees the join but not bob's history.
	assert.Equal(t, []string{domain.EventUserJoined, domain.EventUserList}, f.bc.types("c1"))
}

func TestHandleJoin_HistoryFailureDegradesToEmpty(t *testing.T) {
	f := newChatFixture(t)
	f.repo.recentErr = errBackend

	f.join(t, "c1", "u1", "alice", "go")

	evts := f.bc.received("c1")
	require.Len(t, evts, 3)
	assert.Equal(t, domain.EventRoomHistory, evts[2].Type)
	assert.Empty(t, evts[2].Data.([]domain.ChatMessage))
}

func TestHandleJoin_SwitchRoomAnnouncesLeave(t *testing.T) {
	f := newChatFixture(t)
	f.join(t, "c1", "u1", "alice", "go")
	f.join(t, "c2", "u2", "bob", "go")
	f.bc.reset()

	f.join(t, "c1", "u1", "alice", "rust")

	assert.Equal(t, []string{domain.EventUserLeft, domain.EventUserList}, f.bc.types("c2"))
	left := f.bc.received("c2")[0].Data.(domain.PresenceNotice)
	assert.Equal(t, 1, left.OnlineCount)
	assert.Equal(t, "alice left the chat room", left.Message)

	assert.Equal(t, []string{domain.EventUserJoined, domain.EventUserList, domain.EventRoomHistory}, f.bc.types("c1"))
	assert.Equal(t, 1, f.registry.Count("go"))
	assert.Equal(t, 1, f.registry.Count("rust"))
}

func TestHandleMessage_BroadcastsToRoomOnly(t *testing.T) {
	f := newChatFixture(t)
	f.join(t, "c1", "u1", "alice", "go")
	f.join(t, "c2", "u2", "bob", "go")
	f.join(t, "c3", "u3", "carol", "rust")
	f.bc.reset()

	require.NoError(t, f.svc.HandleMessage(context.Background(), "c1", domain.TextMessageEvent{Text: "hello"}))

	for _, id := range []string{"c1", "c2"} {
		evts := f.bc.received(id)
		require.Len(t, evts, 1, id)
		assert.Equal(t, domain.EventMessage, evts[0].Type)
		msg := evts[0].Data.(*domain.ChatMessage)
		assert.Equal(t, "hello", msg.Text)
		assert.Equal(t, "alice", msg.Username)
		assert.Equal(t, "go", msg.Room)
	}
	assert.Empty(t, f.bc.received("c3"))

	f.waitPersisted(t, 1)
	stored := f.repo.all()
	require.Len(t, stored, 1)
	assert.Equal(t, "hello", stored[0].Text)
}

func TestHandleMessage_SinkFailureStillBroadcasts(t *testing.T) {
	f := newChatFixture(t)
	f.repo.appendErr = errBackend
	f.join(t, "c1", "u1", "alice", "go")
	f.bc.reset()

	require.NoError(t, f.svc.HandleMessage(context.Background(), "c1", domain.TextMessageEvent{Text: "hi"}))
	f.waitPersisted(t, 1)

	assert.Equal(t, []string{domain.EventMessage}, f.bc.types("c1"))
	assert.Empty(t, f.repo.all())
}

func TestHandleMessage_BeforeJoinIsDropped(t *testing.T) {
	f := newChatFixture(t)

	require.NoError(t, f.svc.HandleMessage(context.Background(), "c1", domain.TextMessageEvent{Text: "hi"}))
	require.NoError(t, f.svc.HandleImage(context.Background(), "c1", domain.ImageMessageEvent{Image: "data:image/png;base64,AA"}))
	require.NoError(t, f.svc.HandleTyping(context.Background(), "c1", domain.TypingEvent{IsTyping: true}))

	assert.Empty(t, f.bc.deliveries())
	assert.Empty(t, f.up.calls)
	assert.Empty(t, f.repo.all())
}

func TestHandleImage_UploadsThenBroadcasts(t *testing.T) {
	f := newChatFixture(t)
	f.join(t, "c1", "u1", "alice", "go")
	f.join(t, "c2", "u2", "bob", "go")
	f.bc.reset()

	require.NoError(t, f.svc.HandleImage(context.Background(), "c1", domain.ImageMessageEvent{
		Image: "data:image/png;base64,AAAA",
		Text:  "look",
	}))

	require.Len(t, f.up.calls, 1)
	assert.Equal(t, uploader.Metadata{UserID: "u1", Username: "alice", Room: "go"}, f.up.calls[0])

	evts := f.bc.received("c2")
	require.Len(t, evts, 1)
	assert.Equal(t, domain.EventImageMessage, evts[0].Type)
	msg := evts[0].Data.(*domain.ChatMessage)
	require.NotNil(t, msg.Image)
	assert.Equal(t, "/uploads/chat/img.png", *msg.Image)
	assert.Equal(t, "look", msg.Text)

	f.waitPersisted(t, 1)
	stored := f.repo.all()
	require.Len(t, stored, 1)
	assert.Equal(t, "/uploads/chat/img.png", *stored[0].Image)
}

func TestHandleImage_FailureIsPrivate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"too large", fmt.Errorf("decode: %w", uploader.ErrTooLarge), uploader.ErrTooLarge.Error()},
		{"unsupported", uploader.ErrUnsupportedType, uploader.ErrUnsupportedType.Error()},
		{"storage down", errors.New("s3: connection refused"), msgUploadFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newChatFixture(t)
			f.up.err = tt.err
			f.join(t, "c1", "u1", "alice", "go")
			f.join(t, "c2", "u2", "bob", "go")
			f.bc.reset()

			require.NoError(t, f.svc.HandleImage(context.Background(), "c1", domain.ImageMessageEvent{Image: "data:image/png;base64,AA"}))

			evts := f.bc.received("c1")
			require.Len(t, evts, 1)
			assert.Equal(t, domain.EventError, evts[0].Type)
			assert.Equal(t, tt.want, evts[0].Data.(domain.ErrorNotice).Message)
			assert.Empty(t, f.bc.received("c2"))
			assert.Empty(t, f.repo.all())
		})
	}
}

func TestHandleTyping_ExcludesSender(t *testing.T) {
	f := newChatFixture(t)
	f.join(t, "c1", "u1", "alice", "go")
	f.join(t, "c2", "u2", "bob", "go")
	f.bc.reset()

	require.NoError(t, f.svc.HandleTyping(context.Background(), "c1", domain.TypingEvent{IsTyping: true}))

	assert.Empty(t, f.bc.received("c1"))
	evts := f.bc.received("c2")
	require.Len(t, evts, 1)
	notice := evts[0].Data.(domain.TypingNotice)
	assert.Equal(t, "alice", notice.Username)
	assert.True(t, notice.IsTyping)
}

func TestHandleTyping_AloneInRoomDeliversNothing(t *testing.T) {
	f := newChatFixture(t)
	f.join(t, "c1", "u1", "alice", "go")
	f.bc.reset()

	require.NoError(t, f.svc.HandleTyping(context.Background(), "c1", domain.TypingEvent{IsTyping: true}))
	require.NoError(t, f.svc.HandleTyping(context.Background(), "c1", domain.TypingEvent{IsTyping: false}))

	assert.Empty(t, f.bc.deliveries())
}

func TestHandleDisconnect(t *testing.T) {
	f := newChatFixture(t)
	f.join(t, "c1", "u1", "alice", "go")
	f.join(t, "c2", "u2", "bob", "go")
	f.bc.reset()

	require.NoError(t, f.svc.HandleDisconnect(context.Background(), "c1"))

	assert.Equal(t, []string{domain.EventUserLeft, domain.EventUserList}, f.bc.types("c2"))
	users := f.bc.received("c2")[1].Data.([]domain.OnlineUser)
	assert.Equal(t, []domain.OnlineUser{{UserID: "u2", Username: "bob", Room: "go"}}, users)

	_, ok := f.registry.Lookup("c1")
	assert.False(t, ok)
}

func TestHandleDisconnect_LastMemberIsSilent(t *testing.T) {
	f := newChatFixture(t)
	f.join(t, "c1", "u1", "alice", "go")
	f.bc.reset()

	require.NoError(t, f.svc.HandleDisconnect(context.Background(), "c1"))
	assert.Empty(t, f.bc.deliveries())
	assert.Equal(t, 0, f.registry.RoomCount())

	// Unknown connection is a no-op.
	require.NoError(t, f.svc.HandleDisconnect(context.Background(), "c1"))
	assert.Empty(t, f.bc.deliveries())
}

func TestStop_WaitsForPendingPersistence(t *testing.T) {
	reg := presence.NewRegistry()
	bc := newFakeBroadcaster(reg)
	sink := &blockingSink{release: make(chan struct{})}
	svc := NewChatService(bc, reg, newMemoryRepo(), sink, &fakeUploader{}, ChatOptions{PersistTimeout: time.Second})

	require.NoError(t, svc.HandleJoin(context.Background(), "c1", domain.JoinEvent{UserID: "u1", Username: "alice", Room: "go"}))
	require.NoError(t, svc.HandleMessage(context.Background(), "c1", domain.TextMessageEvent{Text: "hi"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Stop(ctx), context.DeadlineExceeded)

	close(sink.release)
	assert.NoError(t, svc.Stop(context.Background()))
}

func TestStop_LaterMessagesPersistInline(t *testing.T) {
	f := newChatFixture(t)
	f.join(t, "c1", "u1", "alice", "go")
	require.NoError(t, f.svc.Stop(context.Background()))

	require.NoError(t, f.svc.HandleMessage(context.Background(), "c1", domain.TextMessageEvent{Text: "late"}))

	stored := f.repo.all()
	require.Len(t, stored, 1, "persisted before HandleMessage returns")
	assert.Equal(t, "late", stored[0].Text)
}

func TestStop_ConcurrentWithMessages(t *testing.T) {
	f := newChatFixture(t)
	const senders, perSender = 4, 10
	for i := 0; i < senders; i++ {
		f.join(t, fmt.Sprintf("c%d", i), fmt.Sprintf("u%d", i), fmt.Sprintf("user%d", i), "go")
	}

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(conn string) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				assert.NoError(t, f.svc.HandleMessage(context.Background(), conn, domain.TextMessageEvent{Text: "x"}))
			}
		}(fmt.Sprintf("c%d", i))
	}
	require.NoError(t, f.svc.Stop(context.Background()))
	wg.Wait()
	require.NoError(t, f.svc.Stop(context.Background()))

	assert.Len(t, f.repo.all(), senders*perSender)
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Append(ctx context.Context, _ *domain.ChatMessage) error {
	select {
	case <-s.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
