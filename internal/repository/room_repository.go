package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"chat_web/internal/models"
	"chat_web/internal/storage"
)

type RoomRepository interface {
	Create(ctx context.Context, room *models.Room) error
	FindByID(ctx context.Context, id uint) (*models.Room, error)
	FindByName(ctx context.Context, name string) (*models.Room, error)
	FindAll(ctx context.Context) ([]models.Room, error) // 簡單的列表查詢
}

type roomRepository struct {
	db *storage.DB
}

func NewRoomRepository(db *storage.DB) RoomRepository {
	return &roomRepository{db: db}
}

// Create 名稱重複時回傳 ErrDuplicate
func (r *roomRepository) Create(ctx context.Context, room *models.Room) error {
	if err := r.db.WithContext(ctx).Create(room).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("room %q: %w", room.Name, ErrDuplicate)
		}
		return fmt.Errorf("failed to create room: %w", err)
	}
	return nil
}

func (r *roomRepository) FindByID(ctx context.Context, id uint) (*models.Room, error) {
	var room models.Room
	if err := r.db.WithContext(ctx).First(&room, id).Error; err != nil {
		return nil, notFound(err, "room")
	}
	return &room, nil
}

func (r *roomRepository) FindByName(ctx context.Context, name string) (*models.Room, error) {
	var room models.Room
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&room).Error; err != nil {
		return nil, notFound(err, "room")
	}
	return &room, nil
}

// FindAll 依 id 遞增列出所有房間
func (r *roomRepository) FindAll(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rooms, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to find %s: %w", what, err)
}
