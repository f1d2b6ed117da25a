package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidMessage = errors.New("message requires a room and a username")

// ChatMessage is one persisted chat line. Text may be empty; Image is the
// URL of an uploaded attachment.
type ChatMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Room      string    `json:"room"`
	Text      string    `json:"text"`
	Image     *string   `json:"image,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewChatMessage stamps a message from s with a fresh id and the current
// time.
func NewChatMessage(s Session, text string, image *string) *ChatMessage {
	return &ChatMessage{
		ID:        uuid.NewString(),
		UserID:    s.UserID,
		Username:  s.Username,
		Room:      s.Room,
		Text:      text,
		Image:     image,
		Timestamp: time.Now().UTC(),
	}
}

func (m *ChatMessage) Validate() error {
	if strings.TrimSpace(m.Room) == "" || strings.TrimSpace(m.Username) == "" {
		return ErrInvalidMessage
	}
	return nil
}

// HasImage reports whether the message carries an attachment.
func (m *ChatMessage) HasImage() bool {
	return m.Image != nil && *m.Image != ""
}
