package server

import (
	"time"

	"marketchat/internal/auth"
	"marketchat/internal/config"
	clog "marketchat/internal/log"
	"marketchat/internal/media"
	"marketchat/internal/service"
	"marketchat/internal/store"
	"marketchat/internal/ws"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// App 持有装配好的路由与需要在停服时释放的组件。
type App struct {
	Router *gin.Engine
	Hub    *ws.Hub

	closers []func()
}

// NewApp 按配置装配存储、服务与 WebSocket 组件。
func NewApp(cfg config.Config, gdb *gorm.DB, thumbs media.Resolver) (*App, error) {
	st := store.New(gdb, thumbs)
	app := &App{}

	var listings service.ListingLookup = st
	if cfg.ListingCacheTTLSeconds > 0 {
		cached, err := store.NewCachedListings(st, time.Duration(cfg.ListingCacheTTLSeconds)*time.Second)
		if err != nil {
			return nil, err
		}
		listings = cached
		app.closers = append(app.closers, cached.Close)
	}

	authz := service.NewAuthorizer(st, listings)
	rooms := service.NewRoomService(st, listings, st)
	messages := service.NewMessageService(st, st, authz)

	app.Hub = ws.NewHub(clog.Component("hub"))
	broker := ws.NewBroker(app.Hub, authz, messages, cfg.SerializeRoomSends, clog.Component("broker"))

	router, stop := SetupRouter(cfg, Deps{
		DB:       gdb,
		Handler:  NewHandler(rooms, messages),
		Hub:      app.Hub,
		Broker:   broker,
		Verifier: auth.NewJWTVerifier(cfg.JWTSecret),
	})
	app.Router = router
	app.closers = append(app.closers, stop)
	return app, nil
}

// Close 断开全部 WebSocket 连接并释放后台资源。
func (a *App) Close() {
	a.Hub.Close()
	for _, fn := range a.closers {
		fn()
	}
}
