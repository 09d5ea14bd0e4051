package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"marketchat/internal/service"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string
	Env                   string
	LogLevel              string
	DatabaseDriver        string
	DatabaseDSN           string
	JWTSecret             string
	AccessTokenTTLMinutes int
	ClientURL             string

	WSSendBuffer        int
	WSMaxMessageBytes   int
	WSMessagesPerSecond int
	SerializeRoomSends  bool

	ListingCacheTTLSeconds int

	ThumbnailBaseURL    string
	S3Bucket            string
	S3Region            string
	S3AccessKeyID       string
	S3SecretAccessKey   string
	S3PresignTTLMinutes int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 解析失败或非正数时回退到默认值。
func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// getenvNonNegInt 与 getenvInt 相同，但允许 0（用于“关闭”语义）。
func getenvNonNegInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, ""))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v, err := strconv.ParseBool(getenv(key, ""))
	if err != nil {
		return def
	}
	return v
}

// Load 先尝试加载 .env 文件（不存在时忽略），再从环境变量读取配置。
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:                   getenv("APP_PORT", "8080"),
		Env:                    getenv("APP_ENV", "dev"),
		LogLevel:               getenv("LOG_LEVEL", "info"),
		DatabaseDriver:         strings.ToLower(getenv("DATABASE_DRIVER", "postgres")),
		DatabaseDSN:            getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=marketchat port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:              getenv("JWT_SECRET", defaultJWTSecret),
		AccessTokenTTLMinutes:  getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		ClientURL:              getenv("CLIENT_URL", "http://localhost:3000"),
		WSSendBuffer:           getenvInt("WS_SEND_BUFFER", 256),
		WSMaxMessageBytes:      getenvInt("WS_MAX_MESSAGE_BYTES", 16384),
		WSMessagesPerSecond:    getenvInt("WS_MESSAGES_PER_SECOND", 5),
		SerializeRoomSends:     getenvBool("CHAT_SERIALIZE_ROOM_SENDS", false),
		ListingCacheTTLSeconds: getenvNonNegInt("LISTING_CACHE_TTL_SECONDS", 60),
		ThumbnailBaseURL:       getenv("THUMBNAIL_BASE_URL", ""),
		S3Bucket:               getenv("S3_BUCKET", ""),
		S3Region:               getenv("S3_REGION", "us-east-1"),
		S3AccessKeyID:          getenv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey:      getenv("S3_SECRET_ACCESS_KEY", ""),
		S3PresignTTLMinutes:    getenvInt("S3_PRESIGN_TTL_MINUTES", 15),
	}
}

func (c Config) IsDev() bool { return c.Env == "dev" }

// Validate 校验启动所需的最小配置，生产环境禁止使用默认 JWT 密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return errors.New("DATABASE_DRIVER must be postgres or sqlite")
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be changed outside dev")
	}
	if cfg.WSMaxMessageBytes < service.MaxEventBytes {
		return fmt.Errorf("WS_MAX_MESSAGE_BYTES must be at least %d", service.MaxEventBytes)
	}
	// 缓存的商品带预签名缩略图，缓存必须先于签名过期。
	if cfg.S3Bucket != "" && cfg.ListingCacheTTLSeconds >= cfg.S3PresignTTLMinutes*60 {
		return errors.New("LISTING_CACHE_TTL_SECONDS must be shorter than S3_PRESIGN_TTL_MINUTES")
	}
	return nil
}
