package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chat_web/internal/models"
	"chat_web/internal/repository"
)

// NewMessage 待寫入的訊息
type NewMessage struct {
	RoomID      uint
	Sender      string
	Content     string
	ContentType models.ContentType
}

// roomSequence 同一房間的寫入序列化點
type roomSequence struct {
	mu   sync.Mutex
	last time.Time
}

// MessageStore 訊息的持久化與分頁查詢
//
// 同一房間的寫入在 roomSequence 上序列化: id 與 timestamp 依序指定,
// PersistThen 的回呼也在同一個臨界區內執行, 因此廣播順序與寫入順序一致。
// 不同房間之間互不阻塞。
type MessageStore struct {
	repo repository.MessageRepository
	log  *slog.Logger
	now  func() time.Time

	defaultLimit int
	maxLimit     int

	mu    sync.Mutex
	rooms map[uint]*roomSequence
}

func NewMessageStore(repo repository.MessageRepository, log *slog.Logger, defaultLimit, maxLimit int) *MessageStore {
	return &MessageStore{
		repo:         repo,
		log:          log,
		now:          time.Now,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		rooms:        make(map[uint]*roomSequence),
	}
}

// Persist 寫入訊息並回傳包含 id 與 timestamp 的紀錄
func (s *MessageStore) Persist(ctx context.Context, in NewMessage) (*models.Message, error) {
	return s.PersistThen(ctx, in, nil)
}

// PersistThen 寫入成功後, 在仍持有房間序列化鎖時呼叫 then
// then 不應阻塞 (只做非阻塞的投遞)
func (s *MessageStore) PersistThen(ctx context.Context, in NewMessage, then func(*models.Message)) (*models.Message, error) {
	if in.RoomID == 0 {
		return nil, fmt.Errorf("%w: room_id is required", ErrInvalidRoom)
	}
	if !in.ContentType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidContentType, in.ContentType)
	}

	seq := s.sequence(in.RoomID)
	seq.mu.Lock()
	defer seq.mu.Unlock()

	// PostgreSQL 只保存到微秒; 時鐘回撥時沿用上一筆的時間, 保持非遞減
	ts := s.now().UTC().Truncate(time.Microsecond)
	if ts.Before(seq.last) {
		ts = seq.last
	}

	msg := &models.Message{
		RoomID:      in.RoomID,
		Sender:      in.Sender,
		Content:     in.Content,
		ContentType: in.ContentType,
		Timestamp:   ts,
	}

	if err := s.repo.Create(ctx, msg); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.forget(in.RoomID, seq)
			return nil, fmt.Errorf("%w: id %d", ErrInvalidRoom, in.RoomID)
		}
		s.log.Error("persist message failed", "room_id", in.RoomID, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	seq.last = ts

	if then != nil {
		then(msg)
	}
	return msg, nil
}

// List 依寫入順序回傳房間訊息
// limit 為 0 代表未指定, 使用預設值; 超過上限時截斷; 負數回傳 ErrInvalidArgument
func (s *MessageStore) List(ctx context.Context, roomID uint, offset, limit int) ([]models.Message, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("%w: skip and limit must not be negative", ErrInvalidArgument)
	}
	if limit == 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	messages, err := s.repo.FindByRoomID(ctx, roomID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
	return messages, nil
}

func (s *MessageStore) sequence(roomID uint) *roomSequence {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq, ok := s.rooms[roomID]
	if !ok {
		seq = &roomSequence{}
		s.rooms[roomID] = seq
	}
	return seq
}

// forget 移除不存在房間的序列, 避免無效 id 讓 map 成長
func (s *MessageStore) forget(roomID uint, seq *roomSequence) {
	if !seq.last.IsZero() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rooms[roomID] == seq {
		delete(s.rooms, roomID)
	}
}
