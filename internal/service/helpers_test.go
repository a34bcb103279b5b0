package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"chat_web/internal/models"
	"chat_web/internal/repository"
	"chat_web/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupRepos(t *testing.T) (*storage.DB, *repository.Repositories) {
	t.Helper()

	db, err := storage.NewSQLiteDB(storage.MemoryPath, "silent")
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Room{}, &models.Message{}))
	t.Cleanup(func() { _ = db.Close() })

	return db, repository.NewRepositories(db)
}

// delivery 一次投遞紀錄
type delivery struct {
	ConnID  string
	Event   string
	Payload any
}

// recordingSender 記錄所有投遞, 可標記失敗的連線
type recordingSender struct {
	mu         sync.Mutex
	deliveries []delivery
	failing    map[string]bool
}

func newRecordingSender() *recordingSender {
	return &recordingSender{failing: make(map[string]bool)}
}

func (s *recordingSender) Multicast(connIDs []string, event string, payload any) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, id := range connIDs {
		if s.failing[id] {
			continue
		}
		s.deliveries = append(s.deliveries, delivery{ConnID: id, Event: event, Payload: payload})
		n++
	}
	return n
}

func (s *recordingSender) For(connID, event string) []any {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []any
	for _, d := range s.deliveries {
		if d.ConnID == connID && d.Event == event {
			out = append(out, d.Payload)
		}
	}
	return out
}

func (s *recordingSender) Count(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, d := range s.deliveries {
		if d.Event == event {
			n++
		}
	}
	return n
}

type testCore struct {
	db       *storage.DB
	rooms    *RoomService
	store    *MessageStore
	registry *Registry
	sender   *recordingSender
	engine   *Engine
}

func setupCore(t *testing.T) *testCore {
	t.Helper()

	db, repos := setupRepos(t)
	log := discardLogger()
	rooms := NewRoomService(repos.Room, log)
	store := NewMessageStore(repos.Message, log, 20, 100)
	registry := NewRegistry(rooms, 100)
	sender := newRecordingSender()
	engine := NewEngine(rooms, store, registry, sender, log, EngineConfig{MaxContentLength: 100})

	return &testCore{db: db, rooms: rooms, store: store, registry: registry, sender: sender, engine: engine}
}

func (c *testCore) createRoom(t *testing.T, name string) *models.Room {
	t.Helper()
	room, err := c.rooms.CreateRoom(context.Background(), name)
	require.NoError(t, err)
	return room
}

func (c *testCore) connect(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, c.registry.Register(id))
	}
}

func (c *testCore) messageCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, c.db.Model(&models.Message{}).Count(&n).Error)
	return n
}
