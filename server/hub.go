package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"StemMixer/logger"
	"StemMixer/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// MessageType 消息类型
type MessageType string

const (
	MsgTypePing     MessageType = "ping"     // 心跳
	MsgTypePong     MessageType = "pong"     // 心跳响应
	MsgTypeError    MessageType = "error"    // 错误消息
	MsgTypeSnapshot MessageType = "snapshot" // transport 状态推送

	// 播放控制
	MsgTypePlay  MessageType = "play"
	MsgTypePause MessageType = "pause"
	MsgTypeStop  MessageType = "stop"
	MsgTypeSeek  MessageType = "seek"

	// 混音控制
	MsgTypeTrack  MessageType = "track"  // 单轨 mute/solo/volume/pan
	MsgTypeMaster MessageType = "master" // 总音量/总静音
)

// WSMessage WebSocket 消息结构
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// SeekData 跳转数据
type SeekData struct {
	Position float64 `json:"position"`
}

// TrackData 单轨控制数据，未设置的字段不修改
type TrackData struct {
	Key    string   `json:"key"`
	Muted  *bool    `json:"muted,omitempty"`
	Solo   *bool    `json:"solo,omitempty"`
	Volume *float64 `json:"volume,omitempty"`
	Pan    *float64 `json:"pan,omitempty"`
}

// MasterData 总控数据
type MasterData struct {
	Volume *float64 `json:"volume,omitempty"`
	Muted  *bool    `json:"muted,omitempty"`
}

// Client WebSocket 客户端
type Client struct {
	ID   string
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte
}

// Hub 把 transport 快照推送给所有已连接的客户端
type Hub struct {
	clients map[*Client]bool

	unregister chan *Client
	broadcast  chan []byte

	mu   sync.RWMutex
	done chan struct{}
	once sync.Once
}

// NewHub 创建 Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// Run 启动 Hub 主循环，直到 Stop 或 ctx 结束
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.unregister:
			h.mu.Lock()
			h.removeClient(client)
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.broadcastAll(msg)

		case <-ctx.Done():
			h.Stop()
			h.cleanup()
			return
		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop 停止 Hub
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

// removeClient 移除客户端（需要持有锁）
func (h *Hub) removeClient(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.Send)
	logger.Info("transport client disconnected", logger.String("client", client.ID))
}

func (h *Hub) broadcastAll(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		select {
		case client.Send <- msg:
		default:
			// 发送缓冲区满，移除客户端
			h.removeClient(client)
		}
	}
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.Send)
	}
	h.clients = make(map[*Client]bool)
}

// NewClient 创建一个挂在 hub 上的客户端
func (h *Hub) NewClient(conn *websocket.Conn) *Client {
	return &Client{
		ID:   uuid.NewString(),
		Hub:  h,
		Conn: conn,
		Send: make(chan []byte, 64),
	}
}

// Register 注册客户端，返回后即可向其发送消息
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		close(client.Send)
		return
	default:
	}
	h.clients[client] = true
	h.mu.Unlock()
	logger.Info("transport client connected", logger.String("client", client.ID))
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastSnapshot 广播 transport 快照
func (h *Hub) BroadcastSnapshot(snap model.TransportSnapshot) error {
	data, err := encodeMessage(MsgTypeSnapshot, snap)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
	default:
		logger.Warn("broadcast queue full, dropping snapshot", logger.Uint64("generation", snap.Generation))
	}
	return nil
}

// Forward 把 transport 的订阅流转发给所有客户端，直到 ctx 结束
func (h *Hub) Forward(ctx context.Context, updates <-chan model.TransportSnapshot) {
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := h.BroadcastSnapshot(snap); err != nil {
				logger.Warn("failed to encode snapshot", logger.ErrorField(err))
			}
		case <-ctx.Done():
			return
		case <-h.done:
			return
		}
	}
}

func encodeMessage(t MessageType, v interface{}) ([]byte, error) {
	msg := WSMessage{Type: t, Timestamp: time.Now().UnixMilli()}
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s message: %w", t, err)
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}

// ========== Client 方法 ==========

// ReadPump 读取消息循环
func (c *Client) ReadPump(ctx context.Context, handler func(ctx context.Context, client *Client, msg *WSMessage)) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(4096)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error",
					logger.ErrorField(err),
					logger.String("client", c.ID))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("invalid message format", logger.ErrorField(err), logger.String("client", c.ID))
			c.SendError(fmt.Errorf("invalid message: %w", err))
			continue
		}

		if msg.Type == MsgTypePing {
			c.SendMessage(MsgTypePong, nil)
			continue
		}
		handler(ctx, c, &msg)
	}
}

// WritePump 写入消息循环，每条消息一个 frame
func (c *Client) WritePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub 关闭了通道
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage 发送消息给客户端，缓冲区满时丢弃
func (c *Client) SendMessage(t MessageType, v interface{}) {
	data, err := encodeMessage(t, v)
	if err != nil {
		logger.Warn("failed to encode message", logger.ErrorField(err))
		return
	}
	c.trySend(data)
}

// SendError 发送错误消息
func (c *Client) SendError(err error) {
	data, mErr := json.Marshal(WSMessage{Type: MsgTypeError, Error: err.Error(), Timestamp: time.Now().UnixMilli()})
	if mErr != nil {
		return
	}
	c.trySend(data)
}

// trySend 在 Send 已被 hub 关闭时也不会 panic
func (c *Client) trySend(data []byte) {
	c.Hub.mu.RLock()
	defer c.Hub.mu.RUnlock()
	if !c.Hub.clients[c] {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}
