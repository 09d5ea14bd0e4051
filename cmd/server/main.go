package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketchat/internal/auth"
	"marketchat/internal/config"
	"marketchat/internal/db"
	clog "marketchat/internal/log"
	"marketchat/internal/media"
	"marketchat/internal/server"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var cfg config.Config

	app := &cli.Command{
		Name:  "marketchat",
		Usage: "Buyer/seller chat service for the marketplace",
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			// 配置与日志在所有子命令之前初始化。
			cfg = config.Load()
			clog.Init(cfg.Env, cfg.LogLevel)
			return ctx, config.Validate(cfg)
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return serve(ctx, cfg)
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run migrations and start the HTTP/WebSocket server",
				Action: func(ctx context.Context, c *cli.Command) error {
					return serve(ctx, cfg)
				},
			},
			{
				Name:  "migrate",
				Usage: "create or update the database schema",
				Action: func(ctx context.Context, c *cli.Command) error {
					_, err := open(cfg)
					return err
				},
			},
			{
				Name:  "seed",
				Usage: "insert demo users and listings and print their access tokens",
				Action: func(ctx context.Context, c *cli.Command) error {
					gdb, err := open(cfg)
					if err != nil {
						return err
					}
					users, err := db.Seed(gdb)
					if err != nil {
						return fmt.Errorf("seed: %w", err)
					}
					ttl := time.Duration(cfg.AccessTokenTTLMinutes) * time.Minute
					for _, u := range users {
						token, err := auth.GenerateAccessToken(u.ID, cfg.JWTSecret, ttl)
						if err != nil {
							return err
						}
						fmt.Printf("%s\t%s\t%s\n", u.Email, u.Nickname, token)
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("marketchat")
	}
}

func open(cfg config.Config) (*gorm.DB, error) {
	gdb, err := db.Connect(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	return gdb, nil
}

func thumbnails(ctx context.Context, cfg config.Config) (media.Resolver, error) {
	if cfg.S3Bucket == "" {
		return media.URLResolver{BaseURL: cfg.ThumbnailBaseURL}, nil
	}
	return media.NewS3Resolver(ctx, media.S3Options{
		Region:          cfg.S3Region,
		Bucket:          cfg.S3Bucket,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		TTL:             time.Duration(cfg.S3PresignTTLMinutes) * time.Minute,
	}, clog.Component("media"))
}

func serve(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := open(cfg)
	if err != nil {
		return err
	}
	thumbs, err := thumbnails(ctx, cfg)
	if err != nil {
		return err
	}
	app, err := server.NewApp(cfg, gdb, thumbs)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		app.Close()
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	// 被劫持的 WebSocket 连接不受 Shutdown 管理，需要单独关闭。
	app.Close()
	return err
}
