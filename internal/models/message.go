package models

import (
	"time"
)

// ContentType 訊息內容的類型
type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image" // content 為圖片 URL, 不是二進位資料
)

var contentTypes = map[ContentType]struct{}{
	ContentTypeText:  {},
	ContentTypeImage: {},
}

// Valid 是否為已知的內容類型
func (t ContentType) Valid() bool {
	_, ok := contentTypes[t]
	return ok
}

// Message 代表一條已持久化的聊天訊息
// ID 與 Timestamp 由伺服器在寫入時指定, 同一房間內依寫入順序遞增
type Message struct {
	ID          uint        `gorm:"primarykey;index:idx_messages_room_id_id,priority:2" json:"id"`
	RoomID      uint        `gorm:"not null;index:idx_messages_room_id_id,priority:1" json:"room_id"`
	Sender      string      `gorm:"not null;size:255" json:"sender"`
	Content     string      `gorm:"type:text;not null" json:"content"`
	ContentType ContentType `gorm:"type:varchar(20);not null;default:text" json:"content_type"`
	Timestamp   time.Time   `gorm:"not null" json:"timestamp"`
}

func (Message) TableName() string {
	return "messages"
}
