package domain

import "time"

// ChatMessageModel is the GORM model for the chat_messages table.
type ChatMessageModel struct {
	ID       string    `gorm:"type:varchar(36);primaryKey"`
	Room     string    `gorm:"type:varchar(128);not null;index:idx_chat_room_sent,priority:1"`
	UserID   string    `gorm:"type:varchar(64);not null"`
	Username string    `gorm:"type:varchar(100);not null"`
	Text     string    `gorm:"type:text"`
	Image    *string   `gorm:"type:varchar(1024)"`
	SentAt   time.Time `gorm:"not null;index:idx_chat_room_sent,priority:2"`
}

func (ChatMessageModel) TableName() string {
	return "chat_messages"
}

func (m *ChatMessageModel) ToDomain() ChatMessage {
	return ChatMessage{
		ID:        m.ID,
		UserID:    m.UserID,
		Username:  m.Username,
		Room:      m.Room,
		Text:      m.Text,
		Image:     m.Image,
		Timestamp: m.SentAt.UTC(),
	}
}

func ChatMessageToModel(m *ChatMessage) *ChatMessageModel {
	return &ChatMessageModel{
		ID:       m.ID,
		Room:     m.Room,
		UserID:   m.UserID,
		Username: m.Username,
		Text:     m.Text,
		Image:    m.Image,
		SentAt:   m.Timestamp,
	}
}
