package service

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"chat_web/internal/models"
)

// 即時事件名稱
const (
	EventConnect        = "connect"
	EventDisconnect     = "disconnect"
	EventJoinRoom       = "join_room"
	EventLeaveRoom      = "leave_room"
	EventSendMessage    = "send_message"
	EventConnected      = "connected"
	EventNotification   = "notification"
	EventReceiveMessage = "receive_message"
	EventError          = "error"
)

var validate = validator.New()

// Envelope WebSocket 上的訊框格式: {"event": "...", "data": {...}}
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// RoomRequest join_room / leave_room 的內容
type RoomRequest struct {
	Room   string `json:"room" validate:"required_without=RoomID,max=255"`
	RoomID uint   `json:"room_id"`
	User   string `json:"user" validate:"required,max=255"`
}

// SendMessageRequest send_message 的內容, content_type 省略時為 text
type SendMessageRequest struct {
	Room        string `json:"room" validate:"max=255"`
	RoomID      uint   `json:"room_id" validate:"required_without=Room"`
	Sender      string `json:"sender" validate:"required,max=255"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

// Event 連線上的入站事件 (tagged variant)
type Event interface {
	Name() string
}

type ConnectEvent struct{}

type DisconnectEvent struct{}

type JoinEvent struct{ RoomRequest }

type LeaveEvent struct{ RoomRequest }

type SendEvent struct{ SendMessageRequest }

func (ConnectEvent) Name() string    { return EventConnect }
func (DisconnectEvent) Name() string { return EventDisconnect }
func (JoinEvent) Name() string       { return EventJoinRoom }
func (LeaveEvent) Name() string      { return EventLeaveRoom }
func (SendEvent) Name() string       { return EventSendMessage }

// DecodeEvent 解析並驗證客戶端送來的訊框
// 回傳的事件名稱即使在錯誤時也會盡量填入, 方便回報 error 事件
func DecodeEvent(raw []byte) (string, Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", nil, fmt.Errorf("%w: malformed frame: %v", ErrInvalidArgument, err)
	}

	var ev Event
	var payload any
	switch env.Event {
	case EventJoinRoom:
		e := &JoinEvent{}
		ev, payload = e, &e.RoomRequest
	case EventLeaveRoom:
		e := &LeaveEvent{}
		ev, payload = e, &e.RoomRequest
	case EventSendMessage:
		e := &SendEvent{}
		ev, payload = e, &e.SendMessageRequest
	default:
		return env.Event, nil, fmt.Errorf("%w: unknown event %q", ErrInvalidArgument, env.Event)
	}

	if len(env.Data) == 0 {
		return env.Event, nil, fmt.Errorf("%w: missing data", ErrInvalidArgument)
	}
	if err := json.Unmarshal(env.Data, payload); err != nil {
		return env.Event, nil, fmt.Errorf("%w: malformed data: %v", ErrInvalidArgument, err)
	}
	if err := validate.Struct(payload); err != nil {
		return env.Event, nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	// 以值型別回傳, 方便 type switch
	switch e := ev.(type) {
	case *JoinEvent:
		return env.Event, *e, nil
	case *LeaveEvent:
		return env.Event, *e, nil
	case *SendEvent:
		return env.Event, *e, nil
	}
	return env.Event, ev, nil
}

// MessagePayload receive_message 的內容, 帶伺服器指定的 id 與 timestamp
type MessagePayload struct {
	ID          uint               `json:"id"`
	RoomID      uint               `json:"room_id"`
	Room        string             `json:"room"`
	Sender      string             `json:"sender"`
	Content     string             `json:"content"`
	ContentType models.ContentType `json:"content_type"`
	Timestamp   time.Time          `json:"timestamp"`
}

func NewMessagePayload(m *models.Message, roomName string) MessagePayload {
	return MessagePayload{
		ID:          m.ID,
		RoomID:      m.RoomID,
		Room:        roomName,
		Sender:      m.Sender,
		Content:     m.Content,
		ContentType: m.ContentType,
		Timestamp:   m.Timestamp,
	}
}

type NotificationPayload struct {
	Msg string `json:"msg"`
}

type ConnectedPayload struct {
	ConnectionID string `json:"connection_id"`
}

type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorPayload(event string, err error) ErrorPayload {
	return ErrorPayload{Event: event, Code: ErrorCode(err), Message: err.Error()}
}

func encodeFrame(event string, payload any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: payload})
}
