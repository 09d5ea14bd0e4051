package server

import (
	"errors"
	"net/http"
	"strconv"

	"marketchat/internal/auth"
	"marketchat/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合聊天相关的 HTTP handler，依赖注入 service 层。
type Handler struct {
	rooms    *service.RoomService
	messages *service.MessageService
}

func NewHandler(rooms *service.RoomService, messages *service.MessageService) *Handler {
	return &Handler{rooms: rooms, messages: messages}
}

// 旧客户端仍然发送 productId，两者任选其一。
type createRoomRequest struct {
	ListingID uint `json:"listingId" binding:"required_without=ProductID"`
	ProductID uint `json:"productId" binding:"required_without=ListingID"`
}

// CreateRoom 找到或创建当前用户与某商品卖家之间的聊天室。
func (h *Handler) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "listingId is required"})
		return
	}
	listingID := req.ListingID
	if listingID == 0 {
		listingID = req.ProductID
	}
	room, err := h.rooms.GetOrCreate(c.Request.Context(), listingID, auth.GetUserID(c))
	if err != nil {
		writeError(c, "create room", err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// ListRooms 返回当前用户参与的全部聊天室。
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListMine(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		writeError(c, "list rooms", err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

func (h *Handler) ListMessages(c *gin.Context) {
	roomID, err := strconv.ParseUint(c.Param("roomId"), 10, 64)
	if err != nil || roomID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	msgs, err := h.messages.History(c.Request.Context(), uint(roomID), auth.GetUserID(c))
	if err != nil {
		writeError(c, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidOperation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// writeError 把错误分类映射为 HTTP 状态码，5xx 只在服务端记录细节。
func writeError(c *gin.Context, op string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("op", op).Uint("user_id", auth.GetUserID(c)).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": service.PublicMessage(err)})
}
