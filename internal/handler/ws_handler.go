package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/blog-chat/internal/config"
	"github.com/weiawesome/blog-chat/internal/domain"
	"github.com/weiawesome/blog-chat/internal/hub"
	"github.com/weiawesome/blog-chat/internal/service"
	"github.com/weiawesome/blog-chat/pkg/log"
)

const (
	msgInvalidFormat = "Invalid message format"
	msgUnknownType   = "Unknown message type"
)

type WSHandler struct {
	hub      *hub.Hub
	service  service.ChatService
	wsCfg    config.WebSocketConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(h *hub.Hub, svc service.ChatService, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:     h,
		service: svc,
		wsCfg:   wsCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(wsCfg.AllowedOrigins),
		},
	}
}

// originChecker allows any origin when allowed is empty. Entries match the
// full origin or its host.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[strings.ToLower(origin)]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Host)]
		return ok
	}
}

func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l := log.Ctx(c.Request.Context())
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.NewString(), h.hub, conn, h.wsCfg)
	if err := h.hub.Register(client); err != nil {
		l := client.Logger()
		l.Warn().Err(err).Msg("rejecting connection")
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	l := client.Logger()
	l.Debug().Str(log.FieldClientIP, c.ClientIP()).Msg("websocket connected")

	go client.WritePump()
	go client.ReadPump(h.handleMessage, h.handleClose)
}

func (h *WSHandler) context(client *hub.Client) context.Context {
	return log.WithLogger(context.Background(), client.Logger())
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	ctx := h.context(client)

	evt, err := domain.DecodeInbound(message)
	if err != nil {
		h.sendError(ctx, client, decodeErrorMessage(err))
		return
	}

	switch e := evt.(type) {
	case domain.JoinEvent:
		err = h.service.HandleJoin(ctx, client.ID, e)
	case domain.TextMessageEvent:
		err = h.service.HandleMessage(ctx, client.ID, e)
	case domain.ImageMessageEvent:
		err = h.service.HandleImage(ctx, client.ID, e)
	case domain.TypingEvent:
		err = h.service.HandleTyping(ctx, client.ID, e)
	default:
		h.sendError(ctx, client, msgUnknownType)
		return
	}
	if err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str("event", evt.Kind()).Msg("event handling failed")
	}
}

func (h *WSHandler) handleClose(client *hub.Client) {
	ctx := h.context(client)
	if err := h.service.HandleDisconnect(ctx, client.ID); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("disconnect handling failed")
	}
}

func (h *WSHandler) sendError(ctx context.Context, client *hub.Client, message string) {
	if err := h.hub.SendTo(client.ID, domain.NewError(message)); err != nil {
		l := log.Ctx(ctx)
		l.Debug().Err(err).Msg("failed to send error event")
	}
}

func decodeErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrUnknownEvent):
		return msgUnknownType
	case errors.Is(err, domain.ErrInvalidJoin):
		return domain.ErrInvalidJoin.Error()
	default:
		return msgInvalidFormat
	}
}

func (h *WSHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/chat/ws", h.HandleWebSocket)
}
