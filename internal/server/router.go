package server

import (
	"net/http"
	"time"

	"marketchat/internal/auth"
	"marketchat/internal/config"
	"marketchat/internal/db"
	"marketchat/internal/metrics"
	"marketchat/internal/mw"
	"marketchat/internal/ws"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// Deps 是路由需要的全部已装配组件。
type Deps struct {
	DB       *gorm.DB
	Handler  *Handler
	Hub      *ws.Hub
	Broker   *ws.Broker
	Verifier auth.Verifier
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
// 返回的 stop 用于停服时回收限速器的后台协程。
func SetupRouter(cfg config.Config, d Deps) (r *gin.Engine, stop func()) {
	r = gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.ClientURL},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	ipLimit, ipRL := mw.RateLimit(rate.Every(time.Second/20), 40, mw.ByIP)
	userLimit, userRL := mw.RateLimit(rate.Every(time.Second/10), 20, mw.ByUser)
	r.Use(ipLimit)

	health := func(c *gin.Context) {
		if err := db.Ping(d.DB); err != nil {
			log.Warn().Err(err).Msg("health check")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	r.GET("/healthz", health)
	r.GET("/api/health", health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 需要 Bearer Token 的聊天接口。
	chat := r.Group("/api/chat")
	chat.Use(auth.Middleware(d.Verifier), userLimit)
	chat.POST("/rooms", d.Handler.CreateRoom)
	chat.GET("/rooms", d.Handler.ListRooms)
	chat.GET("/rooms/:roomId/messages", d.Handler.ListMessages)

	r.GET("/ws", ws.Serve(d.Hub, d.Broker, d.Verifier, ws.Options{
		AllowedOrigins:    []string{cfg.ClientURL},
		SendBuffer:        cfg.WSSendBuffer,
		MaxMessageBytes:   int64(cfg.WSMaxMessageBytes),
		MessagesPerSecond: cfg.WSMessagesPerSecond,
	}))

	return r, func() {
		ipRL.Stop()
		userRL.Stop()
	}
}
