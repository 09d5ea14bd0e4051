package auth

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketchat/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingToken = service.NewError(service.ErrUnauthenticated, "authentication required")
	ErrInvalidToken = service.NewError(service.ErrUnauthenticated, "invalid or expired token")
)

type Claims struct {
	UserID uint   `json:"id"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

// GenerateAccessToken 只供 seed 命令与测试签发 token；面向用户的登录签发不在本服务内。
func GenerateAccessToken(userID uint, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseAccessToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.UserID != 0 {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

// Verifier 校验凭证并返回绑定的用户 ID；HTTP 与 WebSocket 两条路径各自独立调用。
type Verifier interface {
	Verify(token string) (uint, error)
}

type JWTVerifier struct {
	secret string
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

func (v *JWTVerifier) Verify(token string) (uint, error) {
	if token == "" {
		return 0, ErrMissingToken
	}
	claims, err := ParseAccessToken(token, v.secret)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return claims.UserID, nil
}

func bearerToken(authz string) string {
	if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[len("Bearer "):])
}

// TokenFromRequest 读取握手凭证：浏览器无法为 WebSocket 升级请求设置 header，
// 因此优先使用 token 查询参数，其次是 Authorization: Bearer。
func TokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return bearerToken(r.Header.Get("Authorization"))
}

// Middleware 校验 REST 请求的 Bearer token，并把用户 ID 写入 gin context。
func Middleware(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := v.Verify(bearerToken(c.GetHeader("Authorization")))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": service.PublicMessage(err)})
			return
		}
		c.Set("userID", uid)
		c.Next()
	}
}

func GetUserID(c *gin.Context) uint {
	if v, ok := c.Get("userID"); ok {
		if id, ok2 := v.(uint); ok2 {
			return id
		}
	}
	return 0
}
