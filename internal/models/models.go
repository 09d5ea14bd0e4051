package models

import "time"

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;size:255;not null"`
	Nickname     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	Avatar       string `gorm:"size:512"`
	Location     string `gorm:"size:128"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Product 即二手商品 listing，Images 为 JSON 字符串数组（图片 URL 或存储 key）。
type Product struct {
	ID          uint   `gorm:"primaryKey"`
	SellerID    uint   `gorm:"index;not null"`
	Title       string `gorm:"size:255;not null"`
	Description string `gorm:"type:text"`
	Price       int    `gorm:"not null"`
	Category    string `gorm:"size:64"`
	Location    string `gorm:"size:128"`
	Images      string `gorm:"type:text;not null;default:'[]'"`
	Status      string `gorm:"size:16;not null;default:'SELLING'"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ChatRoom 对 (product_id, buyer_id) 唯一；卖家通过 Product.SellerID 隐式成为成员。
type ChatRoom struct {
	ID        uint      `gorm:"primaryKey"`
	ProductID uint      `gorm:"uniqueIndex:idx_chat_room_product_buyer;not null"`
	BuyerID   uint      `gorm:"uniqueIndex:idx_chat_room_product_buyer;index:idx_chat_room_buyer;not null"`
	CreatedAt time.Time `gorm:"index"`
}

type Message struct {
	ID         uint   `gorm:"primaryKey"`
	ChatRoomID uint   `gorm:"index:idx_msg_room_id;not null"`
	SenderID   uint   `gorm:"index;not null"`
	Content    string `gorm:"type:text;not null"`
	CreatedAt  time.Time
}
