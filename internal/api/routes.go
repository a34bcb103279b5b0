package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat_web/internal/api/handlers"
	"chat_web/internal/middleware"
	"chat_web/internal/service"
	"chat_web/pkg/config"
)

func SetupRoutes(r *gin.Engine, services *service.Services, cfg *config.Config, log *slog.Logger) {
	// 初始化 handlers
	roomHandler := handlers.NewRoomHandler(services.Room, services.Messages)
	uploadHandler := handlers.NewUploadHandler(services.Upload, cfg.Upload.MaxSize)
	wsHandler := handlers.NewWebSocketHandler(services.Gateway, services.Engine,
		middleware.OriginChecker(cfg.Server.AllowedOrigins), log.With("component", "ws"))

	// 處理 404 錯誤
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "route not found",
		})
	})

	// 基本的健康檢查
	health := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": services.Gateway.ConnectionCount(),
		})
	}
	r.GET("/", health)
	r.GET("/health", health)

	// 聊天室相關
	rooms := r.Group("/rooms")
	{
		rooms.GET("/", roomHandler.ListRooms)                     // 房間列表
		rooms.POST("/", roomHandler.CreateRoom)                   // 創建房間
		rooms.GET("/:room_id", roomHandler.GetRoom)               // 房間資訊
		rooms.GET("/:room_id/messages/", roomHandler.GetMessages) // 歷史訊息
	}

	// 檔案上傳與靜態檔案
	r.POST("/upload/", uploadHandler.Upload)
	r.Static(services.Upload.URLPrefix(), services.Upload.Dir())

	// WebSocket 連接點
	r.GET("/ws", wsHandler.HandleWebSocket)
}
