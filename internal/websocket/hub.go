package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/bejranonda/pm2.5-ghostbuster/internal/models"
	"github.com/bejranonda/pm2.5-ghostbuster/internal/notifier"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 广播队列长度，满时丢弃并返回错误
const broadcastBuffer = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message 推送给前端的消息
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Hub 维护在线 web 客户端并广播告警事件
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // Run 退出后关闭
	logger     *zap.Logger

	mu    sync.RWMutex
	count int
}

// NewHub 创建 Hub，需调用 Run 启动事件循环
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run 事件循环，ctx 取消后关闭所有客户端
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.setCount(0)
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.setCount(len(h.clients))
			h.logger.Info("WebSocket client registered", zap.String("remote_addr", client.remoteAddr()))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.setCount(len(h.clients))
				h.logger.Info("WebSocket client unregistered", zap.String("remote_addr", client.remoteAddr()))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// 客户端发送缓冲已满，视为已断开
					h.logger.Warn("WebSocket client send buffer full, removing", zap.String("remote_addr", client.remoteAddr()))
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.setCount(len(h.clients))
		}
	}
}

// ClientCount 在线客户端数量
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// Name 实现 notifier.Channel
func (h *Hub) Name() string { return "websocket" }

// Deliver 实现 notifier.Channel，入队即返回，不等待客户端写出
func (h *Hub) Deliver(_ context.Context, event *models.TransitionEvent) error {
	data, err := json.Marshal(Message{Type: "alert", Payload: event})
	if err != nil {
		return fmt.Errorf("%w: websocket: %v", notifier.ErrNotification, err)
	}

	select {
	case h.broadcast <- data:
		return nil
	default:
		return fmt.Errorf("%w: websocket broadcast queue full", notifier.ErrNotification)
	}
}

// ServeWS 将 HTTP 请求升级为 websocket 连接并注册客户端
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h, conn)
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
