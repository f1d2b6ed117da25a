package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/weiawesome/blog-chat/internal/domain"
	"github.com/weiawesome/blog-chat/pkg/database"
	"github.com/weiawesome/blog-chat/pkg/log"
)

// GormMessageRepository stores messages in a relational database.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository expects the chat_messages table to exist; open db
// through database.New with domain.ChatMessageModel to migrate it.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

func (r *GormMessageRepository) Append(ctx context.Context, msg *domain.ChatMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(domain.ChatMessageToModel(msg))
	if result.Error != nil {
		l := log.Ctx(ctx)
		l.Error().Err(result.Error).Str(log.FieldMessageID, msg.ID).Msg("failed to insert chat message")
		return result.Error
	}
	return nil
}

func (r *GormMessageRepository) Recent(ctx context.Context, room string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		return []domain.ChatMessage{}, nil
	}

	var models []domain.ChatMessageModel
	err := r.db.WithContext(ctx).
		Where("room = ?", room).
		Order("sent_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	msgs := make([]domain.ChatMessage, len(models))
	for i := range models {
		msgs[i] = models[i].ToDomain()
	}
	reverse(msgs)
	return msgs, nil
}

func (r *GormMessageRepository) GetByID(ctx context.Context, id string) (*domain.ChatMessage, error) {
	var model domain.ChatMessageModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	msg := model.ToDomain()
	return &msg, nil
}

func (r *GormMessageRepository) Delete(ctx context.Context, id string) (*domain.ChatMessage, error) {
	var deleted *domain.ChatMessage
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model domain.ChatMessageModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMessageNotFound
			}
			return err
		}
		if err := tx.Delete(&model).Error; err != nil {
			return err
		}
		msg := model.ToDomain()
		deleted = &msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (r *GormMessageRepository) Close() error {
	return database.Close(r.db)
}
