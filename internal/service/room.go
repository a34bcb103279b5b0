package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"chat_web/internal/models"
	"chat_web/internal/repository"
)

const maxRoomNameLength = 255

// RoomService 負責房間的建立與查詢
// 房間建立後不可變也不會刪除, 因此查詢結果可以永久快取
type RoomService struct {
	roomRepo repository.RoomRepository
	log      *slog.Logger

	mu     sync.RWMutex
	byID   map[uint]models.Room
	byName map[string]models.Room
}

func NewRoomService(roomRepo repository.RoomRepository, log *slog.Logger) *RoomService {
	return &RoomService{
		roomRepo: roomRepo,
		log:      log,
		byID:     make(map[uint]models.Room),
		byName:   make(map[string]models.Room),
	}
}

// CreateRoom 建立新房間, 名稱重複時回傳 ErrDuplicateName
func (s *RoomService) CreateRoom(ctx context.Context, name string) (*models.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxRoomNameLength {
		return nil, fmt.Errorf("%w: room name must be 1-%d characters", ErrInvalidArgument, maxRoomNameLength)
	}

	room := &models.Room{Name: name}
	if err := s.roomRepo.Create(ctx, room); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, name)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}

	s.remember(*room)
	s.log.Info("room created", "room_id", room.ID, "name", room.Name)
	return room, nil
}

// GetRoom 房間不存在時回傳 ErrUnknownRoom
func (s *RoomService) GetRoom(ctx context.Context, id uint) (*models.Room, error) {
	s.mu.RLock()
	room, ok := s.byID[id]
	s.mu.RUnlock()
	if ok {
		return &room, nil
	}

	found, err := s.roomRepo.FindByID(ctx, id)
	if err != nil {
		return nil, s.lookupError(err, fmt.Sprintf("id %d", id))
	}
	s.remember(*found)
	return found, nil
}

func (s *RoomService) GetRoomByName(ctx context.Context, name string) (*models.Room, error) {
	s.mu.RLock()
	room, ok := s.byName[name]
	s.mu.RUnlock()
	if ok {
		return &room, nil
	}

	found, err := s.roomRepo.FindByName(ctx, name)
	if err != nil {
		return nil, s.lookupError(err, fmt.Sprintf("name %q", name))
	}
	s.remember(*found)
	return found, nil
}

// ResolveRoom 以 id 為主, id 為 0 時改用名稱
// 兩者都提供但指向不同房間時回傳 ErrInvalidArgument
func (s *RoomService) ResolveRoom(ctx context.Context, id uint, name string) (*models.Room, error) {
	name = strings.TrimSpace(name)
	switch {
	case id != 0:
		room, err := s.GetRoom(ctx, id)
		if err != nil {
			return nil, err
		}
		if name != "" && name != room.Name {
			return nil, fmt.Errorf("%w: room %q does not match room_id %d", ErrInvalidArgument, name, id)
		}
		return room, nil
	case name != "":
		return s.GetRoomByName(ctx, name)
	default:
		return nil, fmt.Errorf("%w: room or room_id is required", ErrInvalidArgument)
	}
}

// Exists 供 Registry 檢查房間是否存在
func (s *RoomService) Exists(ctx context.Context, id uint) (bool, error) {
	_, err := s.GetRoom(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrUnknownRoom):
		return false, nil
	default:
		return false, err
	}
}

// ListRooms 依 id 遞增列出所有房間
func (s *RoomService) ListRooms(ctx context.Context) ([]models.Room, error) {
	rooms, err := s.roomRepo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return rooms, nil
}

func (s *RoomService) remember(room models.Room) {
	room.Messages = nil

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[room.ID] = room
	s.byName[room.Name] = room
}

func (s *RoomService) lookupError(err error, key string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrUnknownRoom, key)
	}
	return fmt.Errorf("%w: %v", ErrStorageFailure, err)
}
