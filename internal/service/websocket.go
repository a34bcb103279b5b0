package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

type GatewayConfig struct {
	SendBuffer     int
	MaxMessageSize int64
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	RateLimit      float64
	RateBurst      int
}

// Client 代表一個 WebSocket 客戶端連接
type Client struct {
	ID       string
	Conn     *websocket.Conn
	SendChan chan []byte // 已編碼的訊框, 由 writePump 依序寫出

	limiter   *rate.Limiter
	writeWait time.Duration
	done      chan struct{}
	closeOnce sync.Once
}

// close 送出關閉訊框後關閉底層連線, 可重複呼叫
// 寫入鎖被 writePump 占用時最多等待 writeWait, 不可在房間的寫入臨界區內呼叫
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.writeWait))
		_ = c.Conn.Close()
	})
}

// abort 不送關閉訊框, 直接關閉底層連線; 不會阻塞
func (c *Client) abort() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.Conn.Close()
	})
}

// Gateway 管理所有 WebSocket 連線的生命週期, 並提供投遞訊息的介面
type Gateway struct {
	registry *Registry
	log      *slog.Logger
	cfg      GatewayConfig

	clientsMux sync.RWMutex
	clients    map[string]*Client // connID -> client
	closing    bool               // Shutdown 開始後不再接受新連線
	wg         sync.WaitGroup     // 每個已登記的連線一個, OnDisconnect 時釋放
}

func NewGateway(registry *Registry, log *slog.Logger, cfg GatewayConfig) *Gateway {
	return &Gateway{
		registry: registry,
		log:      log,
		cfg:      cfg,
		clients:  make(map[string]*Client),
	}
}

// AtCapacity 連線數是否已達上限, 供升級前先行拒絕
func (g *Gateway) AtCapacity() bool {
	return g.registry.maxConnections > 0 && g.registry.ConnectionCount() >= g.registry.maxConnections
}

// OnConnect 配置新的連線 id 並登記到 Registry
func (g *Gateway) OnConnect(conn *websocket.Conn) (*Client, error) {
	client := &Client{
		ID:        uuid.NewString(),
		Conn:      conn,
		SendChan:  make(chan []byte, g.cfg.SendBuffer),
		limiter:   rate.NewLimiter(rate.Limit(g.cfg.RateLimit), g.cfg.RateBurst),
		writeWait: g.cfg.WriteWait,
		done:      make(chan struct{}),
	}

	// closing 與 wg.Add 在同一把鎖下, Shutdown 的 Wait 之後不會再有新連線
	g.clientsMux.Lock()
	if g.closing {
		g.clientsMux.Unlock()
		return nil, ErrShuttingDown
	}
	if err := g.registry.Register(client.ID); err != nil {
		g.clientsMux.Unlock()
		return nil, err
	}
	g.clients[client.ID] = client
	g.wg.Add(1)
	g.clientsMux.Unlock()

	g.log.Info("client connected", "conn", client.ID, "remote", conn.RemoteAddr().String())
	return client, nil
}

// OnDisconnect 從所有房間移除並釋放連線資源
func (g *Gateway) OnDisconnect(connID string) {
	rooms := g.registry.RemoveConnection(connID)

	g.clientsMux.Lock()
	client, ok := g.clients[connID]
	delete(g.clients, connID)
	g.clientsMux.Unlock()

	if !ok {
		return
	}
	client.close()
	g.wg.Done()
	g.log.Info("client disconnected", "conn", connID, "rooms", rooms)
}

// Send 投遞給單一連線; 連線已不存在時不做事
func (g *Gateway) Send(connID, event string, payload any) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	return g.sendFrame(connID, frame)
}

// Multicast 編碼一次後投遞給多個連線, 回傳成功數
func (g *Gateway) Multicast(connIDs []string, event string, payload any) int {
	if len(connIDs) == 0 {
		return 0
	}
	frame, err := encodeFrame(event, payload)
	if err != nil {
		g.log.Error("encode event failed", "event", event, "err", err)
		return 0
	}

	delivered := 0
	for _, id := range connIDs {
		if err := g.sendFrame(id, frame); err != nil {
			g.log.Warn("deliver failed", "conn", id, "event", event, "err", err)
			continue
		}
		delivered++
	}
	return delivered
}

// BroadcastToRoom 向房間內的所有連線廣播
func (g *Gateway) BroadcastToRoom(roomID uint, event string, payload any) int {
	return g.Multicast(g.registry.Members(roomID), event, payload)
}

// ConnectionCount 目前的連線數
func (g *Gateway) ConnectionCount() int {
	g.clientsMux.RLock()
	defer g.clientsMux.RUnlock()

	return len(g.clients)
}

// sendFrame 非阻塞地放入發送佇列
// 佇列已滿代表客戶端跟不上, 直接關閉連線, 不影響其他房間或連線
func (g *Gateway) sendFrame(connID string, frame []byte) error {
	g.clientsMux.RLock()
	client, ok := g.clients[connID]
	g.clientsMux.RUnlock()
	if !ok {
		return nil
	}

	select {
	case <-client.done:
		return nil
	default:
	}

	select {
	case client.SendChan <- frame:
		return nil
	default:
		// 呼叫端可能持有房間的寫入鎖, 這裡不能等待 writePump
		g.log.Warn("send buffer full, closing connection", "conn", connID)
		client.abort()
		return fmt.Errorf("%w: %s", ErrSlowConsumer, connID)
	}
}

// Serve 處理一條已升級的 WebSocket 連線, 直到連線結束才返回
func (g *Gateway) Serve(ctx context.Context, conn *websocket.Conn, handler EventHandler) error {
	client, err := g.OnConnect(conn)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(g.cfg.WriteWait))
		_ = conn.Close()
		return err
	}

	// 確保連線關閉時清理資源
	defer g.OnDisconnect(client.ID)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writePump(client)
	}()

	if err := g.Send(client.ID, EventConnected, ConnectedPayload{ConnectionID: client.ID}); err != nil {
		g.log.Warn("send connected event failed", "conn", client.ID, "err", err)
	}

	g.readPump(ctx, client, handler)

	client.close()
	<-writerDone
	return nil
}

// readPump 依序處理客戶端事件; 同一連線的事件不會重排
func (g *Gateway) readPump(ctx context.Context, client *Client, handler EventHandler) {
	conn := client.Conn
	conn.SetReadLimit(g.cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.log.Warn("websocket unexpected close error", "conn", client.ID, "err", err)
			}
			return
		}
		// 有任何資料進來都視為存活
		_ = conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))

		if !client.limiter.Allow() {
			g.replyError(client.ID, "", ErrRateLimited)
			continue
		}

		name, ev, err := DecodeEvent(raw)
		if err != nil {
			g.replyError(client.ID, name, err)
			continue
		}

		if err := handler.Dispatch(ctx, client.ID, ev); err != nil {
			g.replyError(client.ID, name, err)
		}
	}
}

// writePump 處理向客戶端發送消息的邏輯
func (g *Gateway) writePump(client *Client) {
	// 設置心跳檢查計時器
	ticker := time.NewTicker(g.cfg.PingPeriod)
	defer ticker.Stop()

	conn := client.Conn
	for {
		select {
		case frame := <-client.SendChan:
			_ = conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				g.log.Debug("write failed", "conn", client.ID, "err", err)
				client.abort()
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.abort()
				return
			}

		case <-client.done:
			return
		}
	}
}

func (g *Gateway) replyError(connID, event string, err error) {
	level := slog.LevelDebug
	if errors.Is(err, ErrStorageFailure) {
		level = slog.LevelError
	}
	g.log.Log(context.Background(), level, "event rejected", "conn", connID, "event", event, "err", err)

	if sendErr := g.Send(connID, EventError, NewErrorPayload(event, err)); sendErr != nil {
		g.log.Debug("send error event failed", "conn", connID, "err", sendErr)
	}
}

// Shutdown 關閉所有連線並等待處理中的連線結束
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.clientsMux.Lock()
	g.closing = true
	clients := make([]*Client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.clientsMux.Unlock()

	// 各自送出關閉訊框, 一條卡住的連線不拖慢其他連線
	for _, c := range clients {
		go c.close()
	}
	g.log.Info("closing client connections", "count", len(clients))

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
