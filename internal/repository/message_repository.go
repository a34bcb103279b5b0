package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"chat_web/internal/models"
	"chat_web/internal/storage"
)

type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	FindByRoomID(ctx context.Context, roomID uint, offset, limit int) ([]models.Message, error)
}

type messageRepository struct {
	db *storage.DB
}

func NewMessageRepository(db *storage.DB) MessageRepository {
	return &messageRepository{db: db}
}

// Create 在同一個交易中確認房間存在並寫入訊息
// 房間不存在時回傳 ErrNotFound, 不會留下任何資料
func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Room{}).Where("id = ?", message.RoomID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("room %d: %w", message.RoomID, ErrNotFound)
		}
		return tx.Create(message).Error
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("room %d: %w", message.RoomID, ErrNotFound)
		}
		return err
	}
	return nil
}

// FindByRoomID 依寫入順序 (id 遞增) 分頁查詢
func (r *messageRepository) FindByRoomID(ctx context.Context, roomID uint, offset, limit int) ([]models.Message, error) {
	messages := make([]models.Message, 0, limit)
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}
