package service

import (
	"context"
	"time"
)

// Listing 是聊天核心唯一关心的商品字段。
type Listing struct {
	ID        uint   `json:"id"`
	SellerID  uint   `json:"sellerId"`
	Title     string `json:"title"`
	Price     int    `json:"price"`
	Thumbnail string `json:"thumbnail"`
}

type UserSummary struct {
	ID       uint   `json:"id"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
}

type Room struct {
	ID        uint
	ProductID uint
	BuyerID   uint
	CreatedAt time.Time
}

type Message struct {
	ID        uint
	RoomID    uint
	SenderID  uint
	Content   string
	CreatedAt time.Time
}

// ListingLookup 找不到商品时返回 ErrListingNotFound。
type ListingLookup interface {
	GetListing(ctx context.Context, id uint) (*Listing, error)
}

// UserLookup 批量解析用户摘要；不存在的 ID 直接缺省。
type UserLookup interface {
	GetUserSummaries(ctx context.Context, ids []uint) (map[uint]UserSummary, error)
}

// RoomStore 是聊天室的持久化网关。
type RoomStore interface {
	// FindOrCreateRoom 必须原子：并发调用同一 (productID, buyerID) 只会产生一行，
	// created 表示本次调用是否真正插入。
	FindOrCreateRoom(ctx context.Context, productID, buyerID uint) (room *Room, created bool, err error)
	// GetRoom 找不到时返回 ErrRoomNotFound。
	GetRoom(ctx context.Context, id uint) (*Room, error)
	// ListRoomsForUser 返回 userID 为买家或商品卖家的全部房间，按创建时间倒序。
	ListRoomsForUser(ctx context.Context, userID uint) ([]Room, error)
	// LastMessages 返回每个房间最新的一条消息。
	LastMessages(ctx context.Context, roomIDs []uint) (map[uint]Message, error)
}

type MessageStore interface {
	CreateMessage(ctx context.Context, roomID, senderID uint, content string) (*Message, error)
	// ListMessages 按创建顺序升序返回。
	ListMessages(ctx context.Context, roomID uint) ([]Message, error)
}
