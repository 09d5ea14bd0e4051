package ws

import (
	"sync"

	"marketchat/internal/metrics"

	"github.com/rs/zerolog"
)

// Hub 是全局共享的 房间 -> 连接 广播索引，join 与 broadcast 可以并发进行。
// 连接的 send 通道只在持有写锁时关闭，投递只在持有读锁时进行。
type Hub struct {
	mu      sync.RWMutex
	rooms   map[uint]map[*Client]struct{}
	clients map[*Client]map[uint]struct{}
	closed  bool
	log     zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		rooms:   make(map[uint]map[*Client]struct{}),
		clients: make(map[*Client]map[uint]struct{}),
		log:     log,
	}
}

// Register 登记一个已认证的连接；Hub 已关闭时返回 false。
func (h *Hub) Register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if _, ok := h.clients[c]; !ok {
		h.clients[c] = make(map[uint]struct{})
		metrics.WsConnections.Inc()
	}
	return true
}

// Unregister 把连接从所有房间移除并关闭其 send 通道，可重复调用。
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	joined, ok := h.clients[c]
	if !ok {
		return
	}
	for roomID := range joined {
		h.removeLocked(roomID, c)
	}
	delete(h.clients, c)
	close(c.send)
	metrics.WsConnections.Dec()
}

func (h *Hub) Join(c *Client, roomID uint) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	joined, ok := h.clients[c]
	if !ok {
		return false
	}
	set := h.rooms[roomID]
	if set == nil {
		set = make(map[*Client]struct{})
		h.rooms[roomID] = set
	}
	set[c] = struct{}{}
	joined[roomID] = struct{}{}
	return true
}

func (h *Hub) Leave(c *Client, roomID uint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if joined, ok := h.clients[c]; ok {
		delete(joined, roomID)
		h.removeLocked(roomID, c)
	}
}

func (h *Hub) removeLocked(roomID uint, c *Client) {
	set := h.rooms[roomID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.rooms, roomID)
	}
}

// Broadcast 把 msg 投递给房间内每个连接，返回成功入队的数量。
// 缓冲区已满的慢连接会被踢下线，不会阻塞其他成员。
func (h *Hub) Broadcast(roomID uint, msg []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.rooms[roomID] {
		select {
		case c.send <- msg:
			n++
		default:
			metrics.BroadcastDropsTotal.Inc()
			h.log.Warn().Str("conn_id", c.id.String()).Uint("room_id", roomID).Msg("send buffer full, dropping connection")
			c.kick()
		}
	}
	return n
}

// Deliver 只发给单个连接，用于 ack 与私有 error 事件。
func (h *Hub) Deliver(c *Client, msg []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		metrics.BroadcastDropsTotal.Inc()
		c.kick()
		return false
	}
}

// Online 返回当前加入房间的连接数。
func (h *Hub) Online(roomID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// Close 在停服时调用：关闭所有 send 通道，写协程随即发送 close 帧并断开。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		close(c.send)
		metrics.WsConnections.Dec()
	}
	h.clients = make(map[*Client]map[uint]struct{})
	h.rooms = make(map[uint]map[*Client]struct{})
}
