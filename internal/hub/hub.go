package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/weiawesome/blog-chat/internal/config"
	"github.com/weiawesome/blog-chat/internal/domain"
	"github.com/weiawesome/blog-chat/pkg/log"
)

var ErrHubClosed = errors.New("hub is closed")

// MemberLister resolves the connections currently joined to a room.
type MemberLister interface {
	Members(room string) []string
}

// Hub owns the live connections and fans encoded events out to them.
// Send channels are only closed while holding mu for writing, so a send made
// under the read lock never hits a closed channel.
type Hub struct {
	clients    map[string]*Client
	members    MemberLister
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	config     config.WebSocketConfig
}

func NewHub(members MemberLister, cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		members:    members,
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
		config:     cfg,
	}
}

// Run processes evictions until ctx is cancelled, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.unregister:
			h.remove(c)
		case <-ctx.Done():
			h.shutdown()
			return
		}
	}
}

// Register makes c reachable by id. It completes before returning so events
// addressed to c right after are not lost.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}
	h.clients[c.ID] = c

	l := log.L()
	l.Debug().Str(log.FieldConnID, c.ID).Int("clients", len(h.clients)).Msg("client registered")
	return nil
}

// Unregister asks the run loop to drop c. It never blocks once the hub has
// shut down.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.clients[c.ID]; !ok || cur != c {
		return
	}
	delete(h.clients, c.ID)
	close(c.send)

	l := log.L()
	l.Debug().Str(log.FieldConnID, c.ID).Int("clients", len(h.clients)).Msg("client unregistered")
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
	}
	close(h.done)
}

// BroadcastToRoom delivers evt to every connection joined to room except
// exclude, which may be empty.
func (h *Hub) BroadcastToRoom(room string, evt *domain.Outbound, exclude string) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	ids := h.members.Members(room)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range ids {
		if id == exclude {
			continue
		}
		if c, ok := h.clients[id]; ok {
			h.enqueueLocked(c, data)
		}
	}
	return nil
}

// SendTo delivers evt to a single connection. Unknown ids are ignored.
func (h *Hub) SendTo(connID string, evt *domain.Outbound) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[connID]; ok {
		h.enqueueLocked(c, data)
	}
	return nil
}

// enqueueLocked drops the frame and evicts c when its buffer is full.
func (h *Hub) enqueueLocked(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		l := log.L()
		l.Warn().Str(log.FieldConnID, c.ID).Msg("send buffer full, evicting client")
		go h.Unregister(c)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
