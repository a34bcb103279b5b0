package repository

import "chat_web/internal/storage"

type Repositories struct {
	Room    RoomRepository
	Message MessageRepository
}

func NewRepositories(db *storage.DB) *Repositories {
	return &Repositories{
		Room:    NewRoomRepository(db),
		Message: NewMessageRepository(db),
	}
}
