package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chat_web/internal/service"
)

// WebSocketHandler 處理 WebSocket 連接
type WebSocketHandler struct {
	gateway  *service.Gateway
	engine   *service.Engine
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewWebSocketHandler checkOrigin 為 nil 時使用 gorilla 預設的同源檢查
func NewWebSocketHandler(gateway *service.Gateway, engine *service.Engine, checkOrigin func(*http.Request) bool, log *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		gateway: gateway,
		engine:  engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		log: log,
	}
}

// HandleWebSocket 處理 WebSocket 連接請求, 直到連線結束才返回
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	// 升級前先擋下, 才能回一般的 HTTP 錯誤
	if h.gateway.AtCapacity() {
		writeError(c, service.ErrCapacityExceeded)
		return
	}

	// 升級 HTTP 連接為 WebSocket 連接
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已經寫出錯誤回應
		h.log.Debug("websocket upgrade failed", "err", err)
		return
	}

	if err := h.gateway.Serve(c.Request.Context(), conn, h.engine); err != nil {
		h.log.Warn("websocket session rejected", "err", err)
	}
}
