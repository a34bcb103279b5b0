package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type gatewayHarness struct {
	*testCore
	gateway *Gateway
	engine  *Engine
	server  *httptest.Server
}

func testGatewayConfig() GatewayConfig {
	return GatewayConfig{
		SendBuffer:     16,
		MaxMessageSize: 4096,
		PingPeriod:     time.Second,
		PongWait:       2 * time.Second,
		WriteWait:      time.Second,
		RateLimit:      100,
		RateBurst:      100,
	}
}

func setupGateway(t *testing.T, maxConnections int, cfg GatewayConfig) *gatewayHarness {
	t.Helper()

	core := setupCore(t)
	log := discardLogger()
	registry := NewRegistry(core.rooms, maxConnections)
	gateway := NewGateway(registry, log, cfg)
	engine := NewEngine(core.rooms, core.store, registry, gateway, log, EngineConfig{MaxContentLength: 2 << 20, PersistTimeout: time.Second})
	core.registry = registry

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = gateway.Serve(r.Context(), conn, engine)
	}))
	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = gateway.Shutdown(ctx)
	})

	return &gatewayHarness{testCore: core, gateway: gateway, engine: engine, server: server}
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func (h *gatewayHarness) dial(t *testing.T) *wsClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &wsClient{t: t, conn: conn}
	var connected ConnectedPayload
	c.expect(EventConnected, &connected)
	require.NotEmpty(t, connected.ConnectionID)
	c.id = connected.ConnectionID
	return c
}

func (c *wsClient) emit(event string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(Envelope{Event: event, Data: raw}))
}

// expect 讀到指定事件為止, 略過其他事件
func (c *wsClient) expect(event string, out any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var env Envelope
		require.NoError(c.t, c.conn.ReadJSON(&env))
		if env.Event != event {
			continue
		}
		if out != nil {
			require.NoError(c.t, json.Unmarshal(env.Data, out))
		}
		return
	}
}

// expectNothing 確認短時間內沒有收到指定事件
func (c *wsClient) expectNothing(event string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		require.NotEqual(c.t, event, env.Event)
	}
}

func TestGateway_Join_Send_Receive(t *testing.T) {
	req := require.New(t)
	h := setupGateway(t, 10, testGatewayConfig())
	room := h.createRoom(t, "general")

	alice := h.dial(t)
	bob := h.dial(t)
	carol := h.dial(t)

	alice.emit(EventJoinRoom, RoomRequest{Room: "general", User: "alice"})
	var note NotificationPayload
	alice.expect(EventNotification, &note)
	req.Equal("alice joined general", note.Msg)

	bob.emit(EventJoinRoom, RoomRequest{RoomID: room.ID, User: "bob"})
	bob.expect(EventNotification, &note)
	req.Equal("bob joined general", note.Msg)
	alice.expect(EventNotification, &note)
	req.Equal("bob joined general", note.Msg)

	alice.emit(EventSendMessage, SendMessageRequest{Room: "general", RoomID: room.ID, Sender: "alice", Content: "hi", ContentType: "text"})

	for _, c := range []*wsClient{alice, bob} {
		var msg MessagePayload
		c.expect(EventReceiveMessage, &msg)
		req.Equal("hi", msg.Content)
		req.Equal("alice", msg.Sender)
		req.Equal(room.ID, msg.RoomID)
		req.NotZero(msg.ID)
	}

	carol.expectNothing(EventReceiveMessage)
}

func TestGateway_Rejected_Event_Reports_Error(t *testing.T) {
	req := require.New(t)
	h := setupGateway(t, 10, testGatewayConfig())

	alice := h.dial(t)
	alice.emit(EventSendMessage, SendMessageRequest{RoomID: 42, Sender: "alice", Content: "hi"})

	var payload ErrorPayload
	alice.expect(EventError, &payload)
	req.Equal("invalid_room", payload.Code)
	req.Equal(EventSendMessage, payload.Event)

	// The connection stays usable after a rejected event
	require.NoError(t, alice.conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"dance"}`)))
	alice.expect(EventError, &payload)
	req.Equal("invalid_argument", payload.Code)
	req.Equal("dance", payload.Event)
}

func TestGateway_Disconnect_Removes_Memberships(t *testing.T) {
	req := require.New(t)
	h := setupGateway(t, 10, testGatewayConfig())
	room := h.createRoom(t, "general")

	alice := h.dial(t)
	alice.emit(EventJoinRoom, RoomRequest{RoomID: room.ID, User: "alice"})
	alice.expect(EventNotification, nil)
	req.Equal([]string{alice.id}, h.registry.Members(room.ID))

	req.NoError(alice.conn.Close())

	req.Eventually(func() bool {
		return len(h.registry.Members(room.ID)) == 0 && h.gateway.ConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
	req.Empty(h.registry.Rooms(alice.id))
}

func TestGateway_Send_To_Unknown_Connection(t *testing.T) {
	h := setupGateway(t, 10, testGatewayConfig())

	require.NoError(t, h.gateway.Send("ghost", EventNotification, NotificationPayload{Msg: "hello"}))
	require.Zero(t, h.gateway.Multicast([]string{"ghost"}, EventNotification, NotificationPayload{Msg: "hello"}))
}

func TestGateway_Rate_Limited(t *testing.T) {
	req := require.New(t)
	cfg := testGatewayConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 1
	h := setupGateway(t, 10, cfg)
	h.createRoom(t, "general")

	alice := h.dial(t)
	alice.emit(EventJoinRoom, RoomRequest{Room: "general", User: "alice"})
	alice.expect(EventNotification, nil)

	alice.emit(EventSendMessage, SendMessageRequest{Room: "general", Sender: "alice", Content: "spam"})
	var payload ErrorPayload
	alice.expect(EventError, &payload)
	req.Equal("rate_limited", payload.Code)
	req.Zero(h.messageCount(t))
}

func TestGateway_Capacity(t *testing.T) {
	req := require.New(t)
	h := setupGateway(t, 1, testGatewayConfig())

	h.dial(t)
	req.True(h.gateway.AtCapacity())

	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	req.NoError(err)
	defer conn.Close()

	_, _, err = conn.ReadMessage()
	req.True(websocket.IsCloseError(err, websocket.CloseTryAgainLater))
	req.Equal(1, h.gateway.ConnectionCount())
}

func TestGateway_Shutdown_Closes_Clients(t *testing.T) {
	req := require.New(t)
	h := setupGateway(t, 10, testGatewayConfig())

	alice := h.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req.NoError(h.gateway.Shutdown(ctx))

	_ = alice.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := alice.conn.ReadMessage()
	req.Error(err)
	req.Zero(h.gateway.ConnectionCount())

	// New connections are refused once shutdown has begun
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	req.NoError(err)
	defer late.Close()

	_ = late.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = late.ReadMessage()
	req.True(websocket.IsCloseError(err, websocket.CloseTryAgainLater))
	req.Zero(h.gateway.ConnectionCount())
	req.Zero(h.registry.ConnectionCount())
}

func TestGateway_Shutdown_Races_New_Connections(t *testing.T) {
	req := require.New(t)
	h := setupGateway(t, 100, testGatewayConfig())
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				conn, _, err := websocket.DefaultDialer.Dial(url, nil)
				if err != nil {
					continue
				}
				defer conn.Close()
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req.NoError(h.gateway.Shutdown(ctx))

	// Every connection accepted before shutdown has been cleaned up, none after
	req.Zero(h.gateway.ConnectionCount())
	req.Zero(h.registry.ConnectionCount())

	close(stop)
	wg.Wait()
	req.Zero(h.gateway.ConnectionCount())
}

func slowConsumerConfig() GatewayConfig {
	cfg := testGatewayConfig()
	cfg.SendBuffer = 2
	cfg.WriteWait = 2 * time.Second
	cfg.PongWait = 10 * time.Second
	return cfg
}

func TestGateway_Slow_Consumer_Does_Not_Stall_Room(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	cfg := slowConsumerConfig()
	h := setupGateway(t, 10, cfg)
	room := h.createRoom(t, "general")

	// Given a member that stops reading after joining
	slow := h.dial(t)
	slow.emit(EventJoinRoom, RoomRequest{RoomID: room.ID, User: "slow"})
	slow.expect(EventNotification, nil)

	// When large messages keep arriving for the room
	content := strings.Repeat("x", 1<<20)
	evicted := false
	for i := 0; i < 64 && !evicted; i++ {
		start := time.Now()
		_, err := h.engine.HandleSend(ctx, "bob-conn", SendMessageRequest{RoomID: room.ID, Sender: "bob", Content: content})
		req.NoError(err)

		// Then no send waits on the stuck writer
		req.Less(time.Since(start), cfg.WriteWait/2, "send %d", i)
		evicted = !h.registry.IsMember(slow.id, room.ID) || h.gateway.ConnectionCount() == 0
	}

	// And the slow member is dropped from the room
	req.Eventually(func() bool {
		return len(h.registry.Members(room.ID)) == 0 && h.gateway.ConnectionCount() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestGateway_Send_Full_Buffer_Is_Slow_Consumer(t *testing.T) {
	req := require.New(t)
	cfg := slowConsumerConfig()
	h := setupGateway(t, 10, cfg)

	slow := h.dial(t)
	payload := NotificationPayload{Msg: strings.Repeat("x", 1<<20)}

	var slowErr error
	for i := 0; i < 64; i++ {
		start := time.Now()
		err := h.gateway.Send(slow.id, EventNotification, payload)
		req.Less(time.Since(start), cfg.WriteWait/2, "send %d", i)
		if err != nil {
			slowErr = err
			break
		}
	}
	req.True(errors.Is(slowErr, ErrSlowConsumer), "got %v", slowErr)

	// Later deliveries to the closed connection are no-ops
	req.NoError(h.gateway.Send(slow.id, EventNotification, NotificationPayload{Msg: "late"}))
	req.Eventually(func() bool { return h.gateway.ConnectionCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestGateway_BroadcastToRoom(t *testing.T) {
	req := require.New(t)
	h := setupGateway(t, 10, testGatewayConfig())
	room := h.createRoom(t, "general")

	alice := h.dial(t)
	bob := h.dial(t)
	alice.emit(EventJoinRoom, RoomRequest{RoomID: room.ID, User: "alice"})
	alice.expect(EventNotification, nil)

	req.Equal(1, h.gateway.BroadcastToRoom(room.ID, EventNotification, NotificationPayload{Msg: "maintenance soon"}))

	var note NotificationPayload
	alice.expect(EventNotification, &note)
	req.Equal("maintenance soon", note.Msg)
	bob.expectNothing(EventNotification)
}
