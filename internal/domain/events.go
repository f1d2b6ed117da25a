package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Event types sent by clients.
const (
	EventJoin         = "join"
	EventMessage      = "message"
	EventImageMessage = "imageMessage"
	EventTyping       = "typing"
)

// Event types sent to clients.
const (
	EventUserJoined  = "userJoined"
	EventUserLeft    = "userLeft"
	EventUserList    = "userList"
	EventRoomHistory = "roomHistory"
	EventUserTyping  = "userTyping"
	EventError       = "error"
)

var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrUnknownEvent   = errors.New("unknown event type")
	ErrInvalidJoin    = errors.New("join requires userId, username and room")
)

// Envelope is the frame shape in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// InboundEvent is one decoded client event. The concrete types are
// JoinEvent, TextMessageEvent, ImageMessageEvent and TypingEvent.
type InboundEvent interface {
	Kind() string
}

type JoinEvent struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Room     string `json:"room"`
}

type TextMessageEvent struct {
	Text string `json:"text"`
}

type ImageMessageEvent struct {
	Image string `json:"image"`
	Text  string `json:"text"`
}

type TypingEvent struct {
	IsTyping bool
}

func (JoinEvent) Kind() string         { return EventJoin }
func (TextMessageEvent) Kind() string  { return EventMessage }
func (ImageMessageEvent) Kind() string { return EventImageMessage }
func (TypingEvent) Kind() string       { return EventTyping }

// DecodeInbound parses a client frame into its typed event. Join fields are
// trimmed and must all be present.
func DecodeInbound(raw []byte) (InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch env.Type {
	case EventJoin:
		var e JoinEvent
		if err := decodeData(env.Data, &e); err != nil {
			return nil, err
		}
		e.UserID = strings.TrimSpace(e.UserID)
		e.Username = strings.TrimSpace(e.Username)
		e.Room = strings.TrimSpace(e.Room)
		if e.UserID == "" || e.Username == "" || e.Room == "" {
			return nil, ErrInvalidJoin
		}
		return e, nil

	case EventMessage:
		var e TextMessageEvent
		if err := decodeData(env.Data, &e); err != nil {
			return nil, err
		}
		return e, nil

	case EventImageMessage:
		var e ImageMessageEvent
		if err := decodeData(env.Data, &e); err != nil {
			return nil, err
		}
		if e.Image == "" {
			return nil, fmt.Errorf("%w: image is required", ErrMalformedEvent)
		}
		return e, nil

	case EventTyping:
		var typing bool
		if err := decodeData(env.Data, &typing); err != nil {
			return nil, err
		}
		return TypingEvent{IsTyping: typing}, nil

	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

func decodeData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("%w: missing data", ErrMalformedEvent)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// Outbound is a server event ready to be marshaled onto the wire.
type Outbound struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// PresenceNotice is the payload of userJoined and userLeft.
type PresenceNotice struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	Message     string `json:"message"`
	OnlineCount int    `json:"onlineCount"`
}

type TypingNotice struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

type ErrorNotice struct {
	Message string `json:"message"`
}

func NewUserJoined(s Session, onlineCount int) *Outbound {
	return &Outbound{Type: EventUserJoined, Data: PresenceNotice{
		UserID:      s.UserID,
		Username:    s.Username,
		Message:     s.Username + " joined the chat room",
		OnlineCount: onlineCount,
	}}
}

func NewUserLeft(s Session, onlineCount int) *Outbound {
	return &Outbound{Type: EventUserLeft, Data: PresenceNotice{
		UserID:      s.UserID,
		Username:    s.Username,
		Message:     s.Username + " left the chat room",
		OnlineCount: onlineCount,
	}}
}

func NewUserList(users []OnlineUser) *Outbound {
	if users == nil {
		users = []OnlineUser{}
	}
	return &Outbound{Type: EventUserList, Data: users}
}

func NewRoomHistory(messages []ChatMessage) *Outbound {
	if messages == nil {
		messages = []ChatMessage{}
	}
	return &Outbound{Type: EventRoomHistory, Data: messages}
}

// NewChatEvent wraps m as a message or imageMessage event depending on
// whether it carries an attachment.
func NewChatEvent(m *ChatMessage) *Outbound {
	if m.HasImage() {
		return &Outbound{Type: EventImageMessage, Data: m}
	}
	return &Outbound{Type: EventMessage, Data: m}
}

func NewUserTyping(s Session, typing bool) *Outbound {
	return &Outbound{Type: EventUserTyping, Data: TypingNotice{
		UserID:   s.UserID,
		Username: s.Username,
		IsTyping: typing,
	}}
}

func NewError(message string) *Outbound {
	return &Outbound{Type: EventError, Data: ErrorNotice{Message: message}}
}
