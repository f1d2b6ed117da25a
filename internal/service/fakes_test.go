package service

import (
	"context"
	"errors"
	"sync"

	"github.com/weiawesome/blog-chat/internal/domain"
	"github.com/weiawesome/blog-chat/internal/presence"
	"github.com/weiawesome/blog-chat/internal/repository"
	"github.com/weiawesome/blog-chat/internal/uploader"
)

type delivery struct {
	room    string // empty for SendTo
	connID  string // target of SendTo, or the excluded connection
	evt     *domain.Outbound
	private bool
}

// fakeBroadcaster records events and resolves room recipients through a
// real registry, so tests can ask what a given connection would receive.
type fakeBroadcaster struct {
	mu       sync.Mutex
	registry *presence.Registry
	inbox    map[string][]*domain.Outbound
	log      []delivery
}

func newFakeBroadcaster(reg *presence.Registry) *fakeBroadcaster {
	return &fakeBroadcaster{registry: reg, inbox: make(map[string][]*domain.Outbound)}
}

func (b *fakeBroadcaster) BroadcastToRoom(room string, evt *domain.Outbound, exclude string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = append(b.log, delivery{room: room, connID: exclude, evt: evt})
	for _, id := range b.registry.Members(room) {
		if id != exclude {
			b.inbox[id] = append(b.inbox[id], evt)
		}
	}
	return nil
}

func (b *fakeBroadcaster) SendTo(connID string, evt *domain.Outbound) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = append(b.log, delivery{connID: connID, evt: evt, private: true})
	b.inbox[connID] = append(b.inbox[connID], evt)
	return nil
}

func (b *fakeBroadcaster) received(connID string) []*domain.Outbound {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*domain.Outbound(nil), b.inbox[connID]...)
}

func (b *fakeBroadcaster) types(connID string) []string {
	var out []string
	for _, e := range b.received(connID) {
		out = append(out, e.Type)
	}
	return out
}

func (b *fakeBroadcaster) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inbox = make(map[string][]*domain.Outbound)
	b.log = nil
}

func (b *fakeBroadcaster) deliveries() []delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]delivery(nil), b.log...)
}

// memoryRepo is an in-memory MessageRepository.
type memoryRepo struct {
	mu        sync.Mutex
	messages  []domain.ChatMessage
	appendErr error
	recentErr error
	appended  chan struct{}
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{appended: make(chan struct{}, 64)}
}

func (r *memoryRepo) Append(_ context.Context, msg *domain.ChatMessage) error {
	defer func() { r.appended <- struct{}{} }()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	r.messages = append(r.messages, *msg)
	return nil
}

func (r *memoryRepo) Recent(_ context.Context, room string, limit int) ([]domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recentErr != nil {
		return nil, r.recentErr
	}
	var out []domain.ChatMessage
	for _, m := range r.messages {
		if m.Room == room {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *memoryRepo) GetByID(_ context.Context, id string) (*domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		if r.messages[i].ID == id {
			m := r.messages[i]
			return &m, nil
		}
	}
	return nil, repository.ErrMessageNotFound
}

func (r *memoryRepo) Delete(_ context.Context, id string) (*domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		if r.messages[i].ID == id {
			m := r.messages[i]
			r.messages = append(r.messages[:i], r.messages[i+1:]...)
			return &m, nil
		}
	}
	return nil, repository.ErrMessageNotFound
}

func (r *memoryRepo) Close() error { return nil }

func (r *memoryRepo) all() []domain.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ChatMessage(nil), r.messages...)
}

type fakeUploader struct {
	mu      sync.Mutex
	url     string
	err     error
	calls   []uploader.Metadata
	removed []string
}

func (u *fakeUploader) Store(_ context.Context, _ string, meta uploader.Metadata) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, meta)
	if u.err != nil {
		return "", u.err
	}
	return u.url, nil
}

func (u *fakeUploader) Remove(_ context.Context, url string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.removed = append(u.removed, url)
	return nil
}

var errBackend = errors.New("backend unavailable")
