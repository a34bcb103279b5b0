package service

import (
	"log/slog"

	"chat_web/internal/repository"
	"chat_web/pkg/config"
)

type Services struct {
	Room     *RoomService
	Messages *MessageStore
	Registry *Registry
	Gateway  *Gateway
	Engine   *Engine
	Upload   *UploadService
}

func NewServices(repos *repository.Repositories, cfg *config.Config, log *slog.Logger) (*Services, error) {
	roomService := NewRoomService(repos.Room, log.With("component", "rooms"))
	messageStore := NewMessageStore(repos.Message, log.With("component", "messages"),
		cfg.Chat.DefaultPageSize, cfg.Chat.MaxPageSize)
	registry := NewRegistry(roomService, cfg.Chat.MaxConnections)

	gateway := NewGateway(registry, log.With("component", "gateway"), GatewayConfig{
		SendBuffer:     cfg.Chat.SendBuffer,
		MaxMessageSize: cfg.Chat.MaxMessageSize,
		PingPeriod:     cfg.Chat.PingPeriod,
		PongWait:       cfg.Chat.PongWait,
		WriteWait:      cfg.Chat.WriteWait,
		RateLimit:      cfg.Chat.RateLimit,
		RateBurst:      cfg.Chat.RateBurst,
	})

	engine := NewEngine(roomService, messageStore, registry, gateway, log.With("component", "engine"), EngineConfig{
		MaxContentLength: cfg.Chat.MaxContentLength,
		PersistTimeout:   cfg.Chat.PersistTimeout,
	})

	upload, err := NewUploadService(cfg.Upload.Dir, cfg.Upload.URLPrefix, cfg.Upload.MaxSize, log.With("component", "upload"))
	if err != nil {
		return nil, err
	}

	return &Services{
		Room:     roomService,
		Messages: messageStore,
		Registry: registry,
		Gateway:  gateway,
		Engine:   engine,
		Upload:   upload,
	}, nil
}
