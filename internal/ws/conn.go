package ws

import (
	"context"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"marketchat/internal/auth"
	"marketchat/internal/metrics"
	"marketchat/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client 是一个已认证的连接会话。rooms 只由读协程访问。
type Client struct {
	id      uuid.UUID
	userID  uint
	conn    *websocket.Conn
	send    chan []byte
	rooms   map[uint]struct{}
	limiter *rate.Limiter
	kicked  atomic.Bool
	log     zerolog.Logger
}

func newClient(conn *websocket.Conn, userID uint, opts Options) *Client {
	id := uuid.New()
	buf := opts.SendBuffer
	if buf <= 0 {
		buf = 256
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if opts.MessagesPerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), opts.MessagesPerSecond)
	}
	return &Client{
		id:      id,
		userID:  userID,
		conn:    conn,
		send:    make(chan []byte, buf),
		rooms:   make(map[uint]struct{}),
		limiter: lim,
		log:     log.With().Str("conn_id", id.String()).Uint("user_id", userID).Logger(),
	}
}

// kick 强制断开连接；读协程随后出错退出并完成注销。
func (c *Client) kick() {
	if c.kicked.CompareAndSwap(false, true) && c.conn != nil {
		_ = c.conn.Close()
	}
}

type Options struct {
	AllowedOrigins    []string
	SendBuffer        int
	MaxMessageBytes   int64
	MessagesPerSecond int
}

func newUpgrader(origins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(origins, origin)
		},
	}
}

// Serve 在升级之前完成凭证校验，失败直接返回 401，不会建立任何会话。
func Serve(h *Hub, b *Broker, v auth.Verifier, opts Options) gin.HandlerFunc {
	upgrader := newUpgrader(opts.AllowedOrigins)
	return func(c *gin.Context) {
		userID, err := v.Verify(auth.TokenFromRequest(c.Request))
		if err != nil {
			metrics.WsHandshakeRejectedTotal.Inc()
			c.JSON(http.StatusUnauthorized, gin.H{"error": service.PublicMessage(err)})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Uint("user_id", userID).Msg("ws upgrade")
			return
		}
		client := newClient(conn, userID, opts)
		if !h.Register(client) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
			_ = conn.Close()
			return
		}
		client.log.Info().Msg("ws connected")

		go client.writePump()
		client.readPump(c.Request.Context(), h, b, opts.MaxMessageBytes)
	}
}

func (c *Client) readPump(ctx context.Context, h *Hub, b *Broker, limit int64) {
	defer func() {
		h.Unregister(c)
		_ = c.conn.Close()
		c.log.Info().Msg("ws disconnected")
	}()
	// 读限制不得低于一条最长合法消息，否则超长帧会直接断开整个会话。
	c.conn.SetReadLimit(max(limit, service.MaxEventBytes))
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && !c.kicked.Load() {
				c.log.Debug().Err(err).Msg("ws read")
			}
			return
		}
		b.Handle(ctx, c, data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
