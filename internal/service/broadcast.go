package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"chat_web/internal/models"
)

// Sender 將事件投遞給指定的連線, 回傳成功放入佇列的數量
// 單一連線失敗不影響其他連線
type Sender interface {
	Multicast(connIDs []string, event string, payload any) int
}

// EventHandler 處理連線上的入站事件
type EventHandler interface {
	Dispatch(ctx context.Context, connID string, ev Event) error
}

type EngineConfig struct {
	MaxContentLength int
	PersistTimeout   time.Duration
}

// Engine 訊息管線: 驗證 -> 持久化 -> 廣播給房間目前的成員
type Engine struct {
	rooms    *RoomService
	store    *MessageStore
	registry *Registry
	sender   Sender
	log      *slog.Logger
	cfg      EngineConfig
}

func NewEngine(rooms *RoomService, store *MessageStore, registry *Registry, sender Sender, log *slog.Logger, cfg EngineConfig) *Engine {
	return &Engine{
		rooms:    rooms,
		store:    store,
		registry: registry,
		sender:   sender,
		log:      log,
		cfg:      cfg,
	}
}

// Dispatch 依事件類型分派
func (e *Engine) Dispatch(ctx context.Context, connID string, ev Event) error {
	switch ev := ev.(type) {
	case JoinEvent:
		return e.HandleJoin(ctx, connID, ev.RoomRequest)
	case LeaveEvent:
		return e.HandleLeave(ctx, connID, ev.RoomRequest)
	case SendEvent:
		_, err := e.HandleSend(ctx, connID, ev.SendMessageRequest)
		return err
	case ConnectEvent, DisconnectEvent:
		// 生命週期由 Gateway 處理
		return nil
	default:
		return fmt.Errorf("%w: unsupported event %T", ErrInvalidArgument, ev)
	}
}

// HandleSend 驗證並寫入訊息, 成功後廣播 receive_message
//
// 寫入完成當下在 Registry 快照中的成員都會收到; 寫入後才加入的連線可能收不到。
// 個別連線投遞失敗只記錄, 不影響結果。寫入成功即代表操作成功。
func (e *Engine) HandleSend(ctx context.Context, connID string, req SendMessageRequest) (*models.Message, error) {
	contentType := models.ContentType(req.ContentType)
	if contentType == "" {
		contentType = models.ContentTypeText
	}
	if !contentType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidContentType, req.ContentType)
	}
	if e.cfg.MaxContentLength > 0 && utf8.RuneCountInString(req.Content) > e.cfg.MaxContentLength {
		return nil, fmt.Errorf("%w: content exceeds %d characters", ErrInvalidArgument, e.cfg.MaxContentLength)
	}

	room, err := e.rooms.ResolveRoom(ctx, req.RoomID, req.Room)
	if err != nil {
		if errors.Is(err, ErrUnknownRoom) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRoom, err)
		}
		return nil, err
	}

	// 斷線不取消進行中的寫入
	persistCtx, cancel := e.persistContext(ctx)
	defer cancel()

	msg, err := e.store.PersistThen(persistCtx, NewMessage{
		RoomID:      room.ID,
		Sender:      req.Sender,
		Content:     req.Content,
		ContentType: contentType,
	}, func(m *models.Message) {
		members := e.registry.Members(room.ID)
		delivered := e.sender.Multicast(members, EventReceiveMessage, NewMessagePayload(m, room.Name))
		if delivered < len(members) {
			e.log.Warn("broadcast partially delivered",
				"room_id", room.ID, "message_id", m.ID, "members", len(members), "delivered", delivered)
		}
	})
	if err != nil {
		return nil, err
	}

	e.log.Debug("message sent", "conn", connID, "room_id", room.ID, "message_id", msg.ID)
	return msg, nil
}

// HandleJoin 加入房間並通知房內所有成員 (包含自己)
func (e *Engine) HandleJoin(ctx context.Context, connID string, req RoomRequest) error {
	room, err := e.rooms.ResolveRoom(ctx, req.RoomID, req.Room)
	if err != nil {
		return err
	}
	if err := e.registry.Join(ctx, connID, room.ID); err != nil {
		return err
	}

	e.notify(room.ID, fmt.Sprintf("%s joined %s", req.User, room.Name))
	e.log.Info("room joined", "conn", connID, "room_id", room.ID, "user", req.User)
	return nil
}

// HandleLeave 離開房間並通知剩下的成員
func (e *Engine) HandleLeave(ctx context.Context, connID string, req RoomRequest) error {
	room, err := e.rooms.ResolveRoom(ctx, req.RoomID, req.Room)
	if err != nil {
		return err
	}
	if err := e.registry.Leave(ctx, connID, room.ID); err != nil {
		return err
	}

	e.notify(room.ID, fmt.Sprintf("%s left %s", req.User, room.Name))
	e.log.Info("room left", "conn", connID, "room_id", room.ID, "user", req.User)
	return nil
}

// notify 系統通知, 不持久化
func (e *Engine) notify(roomID uint, msg string) {
	e.sender.Multicast(e.registry.Members(roomID), EventNotification, NotificationPayload{Msg: msg})
}

func (e *Engine) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if e.cfg.PersistTimeout <= 0 {
		return context.WithCancel(base)
	}
	return context.WithTimeout(base, e.cfg.PersistTimeout)
}
