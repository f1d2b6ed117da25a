package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/blog-chat/internal/repository"
	"github.com/weiawesome/blog-chat/internal/service"
	"github.com/weiawesome/blog-chat/internal/uploader"
	"github.com/weiawesome/blog-chat/pkg/log"
	"github.com/weiawesome/blog-chat/pkg/response"
)

const defaultLimit = 100

type HTTPHandler struct {
	messages     service.MessageService
	defaultLimit int
}

func NewHTTPHandler(messages service.MessageService, defaultHistoryLimit int) *HTTPHandler {
	if defaultHistoryLimit <= 0 {
		defaultHistoryLimit = defaultLimit
	}
	return &HTTPHandler{
		messages:     messages,
		defaultLimit: defaultHistoryLimit,
	}
}

func (h *HTTPHandler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api/v1/chat")
	{
		api.GET("/rooms/:room/messages", h.GetMessages)
		api.GET("/rooms/:room/users", h.GetOnlineUsers)
		api.POST("/messages", h.PostMessage)
		api.DELETE("/messages/:id", h.DeleteMessage)
	}

	r.GET("/health", h.HealthCheck)
}

func (h *HTTPHandler) GetMessages(c *gin.Context) {
	room := c.Param("room")

	limit := h.defaultLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	msgs, err := h.messages.Recent(c.Request.Context(), room, limit)
	if err != nil {
		if errors.Is(err, service.ErrInvalidLimit) {
			response.BadRequest(c, err.Error())
			return
		}
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Str(log.FieldRoom, room).Msg("failed to load messages")
		response.InternalError(c, "failed to load messages")
		return
	}

	response.Success(c, msgs)
}

func (h *HTTPHandler) GetOnlineUsers(c *gin.Context) {
	response.Success(c, h.messages.OnlineUsers(c.Param("room")))
}

func (h *HTTPHandler) PostMessage(c *gin.Context) {
	var in service.PostMessageInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	msg, err := h.messages.Post(c.Request.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput),
			errors.Is(err, uploader.ErrEmptyPayload),
			errors.Is(err, uploader.ErrMalformedPayload),
			errors.Is(err, uploader.ErrUnsupportedType):
			response.BadRequest(c, err.Error())
		case errors.Is(err, uploader.ErrTooLarge):
			response.TooLarge(c, err.Error())
		default:
			l := log.Ctx(c.Request.Context())
			l.Error().Err(err).Str(log.FieldRoom, in.Room).Msg("failed to post message")
			response.InternalError(c, "failed to post message")
		}
		return
	}

	response.Created(c, msg)
}

func (h *HTTPHandler) DeleteMessage(c *gin.Context) {
	id := c.Param("id")

	msg, err := h.messages.Delete(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrMessageNotFound) {
			response.NotFound(c, "message not found")
			return
		}
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Str(log.FieldMessageID, id).Msg("failed to delete message")
		response.InternalError(c, "failed to delete message")
		return
	}

	response.Success(c, msg)
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}
