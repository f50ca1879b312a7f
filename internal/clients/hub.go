// Package clients tracks the applications attached to the message channel
// (a WebSocket endpoint) so activation can claim them and broadcast the
// running version.
package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/metrics"
)

// MessageType 标识消息种类。
type MessageType string

const (
	TypeVersionUpdate MessageType = "VERSION_UPDATE"
	TypeGetVersion    MessageType = "GET_VERSION"
)

// Message 是客户端与缓存之间交换的 JSON 消息。
type Message struct {
	Type    MessageType `json:"type"`
	Version string      `json:"version,omitempty"`
}

// Handler 处理客户端发来的消息。
type Handler func(ctx context.Context, clientID string, msg Message)

// ErrUnknownClient 表示目标客户端已断开或从未连接。
var ErrUnknownClient = errors.New("unknown client")

const writeTimeout = 5 * time.Second

type client struct {
	id         string
	conn       *websocket.Conn
	writeMu    sync.Mutex
	controlled bool
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub 管理 WebSocket 连接，提供 Claim/Broadcast/Send。
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*client
	handler  Handler
	upgrader websocket.Upgrader
	logger   *logrus.Logger
	metrics  *metrics.Metrics
}

// NewHub 创建空的客户端集合。
func NewHub(logger *logrus.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 客户端是本机页面，来源由部署方控制。
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		metrics: m,
	}
}

// SetHandler 注册消息处理函数，需在开始服务前调用。
func (h *Hub) SetHandler(handler Handler) {
	h.mu.Lock()
	h.handler = handler
	h.mu.Unlock()
}

// ServeHTTP 升级连接并持续读取客户端消息直到断开。
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("client_upgrade_failed")
		return
	}

	c := &client{id: uuid.NewString(), conn: conn}
	count := h.add(c)
	h.logger.WithFields(logrus.Fields{"client_id": c.id, "clients": count}).Info("client_connected")

	defer func() {
		count := h.remove(c.id)
		conn.Close()
		h.logger.WithFields(logrus.Fields{"client_id": c.id, "clients": count}).Info("client_disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.WithField("client_id", c.id).WithError(err).Debug("client_message_invalid")
			continue
		}
		h.mu.RLock()
		handler := h.handler
		h.mu.RUnlock()
		if handler != nil {
			handler(r.Context(), c.id, msg)
		}
	}
}

// Claim 将所有已连接客户端标记为受当前实例控制，返回数量。
func (h *Hub) Claim() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		c.controlled = true
	}
	return len(h.clients)
}

// Broadcast 向所有客户端发送消息；写失败的连接会被关闭移除。返回成功送达数量。
func (h *Hub) Broadcast(msg Message) int {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if err := c.write(data); err != nil {
			h.logger.WithField("client_id", c.id).WithError(err).Warn("client_write_failed")
			h.remove(c.id)
			c.conn.Close()
			continue
		}
		delivered++
	}
	h.metrics.IncBroadcast()
	return delivered
}

// Send 仅向指定客户端发送消息。
func (h *Hub) Send(clientID string, msg Message) error {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownClient
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.write(data)
}

// Count 返回当前连接数。
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Controlled 返回已被 Claim 的客户端数。
func (h *Hub) Controlled() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, c := range h.clients {
		if c.controlled {
			n++
		}
	}
	return n
}

// IDs 返回排序后的客户端 ID，供诊断接口使用。
func (h *Hub) IDs() []string {
	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Close 断开全部连接。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.conn.Close()
		delete(h.clients, id)
	}
	h.metrics.SetConnectedClients(0)
}

func (h *Hub) add(c *client) int {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetConnectedClients(n)
	return n
}

func (h *Hub) remove(id string) int {
	h.mu.Lock()
	delete(h.clients, id)
	n := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetConnectedClients(n)
	return n
}
