package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat_web/internal/models"
	"chat_web/internal/service"
)

// RoomHandler 處理房間與歷史訊息相關的請求
type RoomHandler struct {
	roomService  *service.RoomService
	messageStore *service.MessageStore
}

// NewRoomHandler 創建一個新的 RoomHandler 實例
func NewRoomHandler(roomService *service.RoomService, messageStore *service.MessageStore) *RoomHandler {
	return &RoomHandler{roomService: roomService, messageStore: messageStore}
}

type roomResponse struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

func toRoomResponse(room *models.Room) roomResponse {
	return roomResponse{ID: room.ID, Name: room.Name}
}

// CreateRoom 處理創建新房間的請求
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	var input struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		writeError(c, fmt.Errorf("%w: %v", service.ErrInvalidArgument, err))
		return
	}

	room, err := h.roomService.CreateRoom(c.Request.Context(), input.Name)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toRoomResponse(room))
}

// ListRooms 列出所有房間
func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.roomService.ListRooms(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]roomResponse, 0, len(rooms))
	for i := range rooms {
		out = append(out, toRoomResponse(&rooms[i]))
	}
	c.JSON(http.StatusOK, out)
}

// GetRoom 處理獲取房間訊息的請求
func (h *RoomHandler) GetRoom(c *gin.Context) {
	roomID, err := parseRoomID(c)
	if err != nil {
		writeError(c, err)
		return
	}

	room, err := h.roomService.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toRoomResponse(room))
}

// GetMessages 依持久化順序分頁取得歷史訊息
// 不存在的房間回傳空陣列
func (h *RoomHandler) GetMessages(c *gin.Context) {
	roomID, err := parseRoomID(c)
	if err != nil {
		writeError(c, err)
		return
	}
	skip, err := queryInt(c, "skip")
	if err != nil {
		writeError(c, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		writeError(c, err)
		return
	}

	messages, err := h.messageStore.List(c.Request.Context(), roomID, skip, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}

	c.JSON(http.StatusOK, messages)
}

func parseRoomID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("room_id"), 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid room id %q", service.ErrInvalidArgument, c.Param("room_id"))
	}
	return uint(id), nil
}

// queryInt 參數省略時回傳 0
func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", service.ErrInvalidArgument, key)
	}
	return n, nil
}
