// Package store 基于 gorm 实现聊天的持久化网关。
package store

import (
	"context"
	"encoding/json"
	"errors"

	"marketchat/internal/media"
	"marketchat/internal/models"
	"marketchat/internal/service"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db     *gorm.DB
	thumbs media.Resolver
}

func New(db *gorm.DB, thumbs media.Resolver) *Store {
	if thumbs == nil {
		thumbs = media.URLResolver{}
	}
	return &Store{db: db, thumbs: thumbs}
}

func (s *Store) GetListing(ctx context.Context, id uint) (*service.Listing, error) {
	var p models.Product
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, service.ErrListingNotFound
		}
		return nil, err
	}
	return &service.Listing{
		ID:        p.ID,
		SellerID:  p.SellerID,
		Title:     p.Title,
		Price:     p.Price,
		Thumbnail: s.thumbs.Resolve(ctx, firstImage(p.Images)),
	}, nil
}

// firstImage 取 JSON 图片数组的第一项，格式错误时视为没有图片。
func firstImage(raw string) string {
	var images []string
	if err := json.Unmarshal([]byte(raw), &images); err != nil || len(images) == 0 {
		return ""
	}
	return images[0]
}

func (s *Store) GetUserSummaries(ctx context.Context, ids []uint) (map[uint]service.UserSummary, error) {
	out := make(map[uint]service.UserSummary, len(ids))
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := s.db.WithContext(ctx).Select("id", "nickname", "avatar").Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = service.UserSummary{ID: u.ID, Nickname: u.Nickname, Avatar: u.Avatar}
	}
	return out, nil
}

// FindOrCreateRoom 依赖 (product_id, buyer_id) 唯一索引：并发插入时失败的一方
// 走 ON CONFLICT DO NOTHING，随后统一按唯一键读回胜出的那一行。
func (s *Store) FindOrCreateRoom(ctx context.Context, productID, buyerID uint) (*service.Room, bool, error) {
	db := s.db.WithContext(ctx)
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}, {Name: "buyer_id"}},
		DoNothing: true,
	}).Create(&models.ChatRoom{ProductID: productID, BuyerID: buyerID})
	if res.Error != nil {
		return nil, false, res.Error
	}
	var room models.ChatRoom
	if err := db.Where("product_id = ? AND buyer_id = ?", productID, buyerID).First(&room).Error; err != nil {
		return nil, false, err
	}
	return toRoom(room), res.RowsAffected == 1, nil
}

func (s *Store) GetRoom(ctx context.Context, id uint) (*service.Room, error) {
	var room models.ChatRoom
	if err := s.db.WithContext(ctx).First(&room, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, service.ErrRoomNotFound
		}
		return nil, err
	}
	return toRoom(room), nil
}

func (s *Store) ListRoomsForUser(ctx context.Context, userID uint) ([]service.Room, error) {
	var rooms []models.ChatRoom
	err := s.db.WithContext(ctx).
		Select("chat_rooms.*").
		Joins("JOIN products ON products.id = chat_rooms.product_id").
		Where("chat_rooms.buyer_id = ? OR products.seller_id = ?", userID, userID).
		Order("chat_rooms.created_at desc, chat_rooms.id desc").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	return lo.Map(rooms, func(r models.ChatRoom, _ int) service.Room { return *toRoom(r) }), nil
}

func (s *Store) LastMessages(ctx context.Context, roomIDs []uint) (map[uint]service.Message, error) {
	out := make(map[uint]service.Message, len(roomIDs))
	if len(roomIDs) == 0 {
		return out, nil
	}
	db := s.db.WithContext(ctx)
	latest := db.Model(&models.Message{}).Select("MAX(id)").Where("chat_room_id IN ?", roomIDs).Group("chat_room_id")
	var msgs []models.Message
	if err := db.Where("id IN (?)", latest).Find(&msgs).Error; err != nil {
		return nil, err
	}
	for _, m := range msgs {
		out[m.ChatRoomID] = toMessage(m)
	}
	return out, nil
}

func (s *Store) CreateMessage(ctx context.Context, roomID, senderID uint, content string) (*service.Message, error) {
	m := models.Message{ChatRoomID: roomID, SenderID: senderID, Content: content}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, err
	}
	msg := toMessage(m)
	return &msg, nil
}

// ListMessages 以自增 id 作为创建顺序，避免同一时间戳下的顺序抖动。
func (s *Store) ListMessages(ctx context.Context, roomID uint) ([]service.Message, error) {
	var msgs []models.Message
	if err := s.db.WithContext(ctx).Where("chat_room_id = ?", roomID).Order("id asc").Find(&msgs).Error; err != nil {
		return nil, err
	}
	return lo.Map(msgs, func(m models.Message, _ int) service.Message { return toMessage(m) }), nil
}

func toRoom(r models.ChatRoom) *service.Room {
	return &service.Room{ID: r.ID, ProductID: r.ProductID, BuyerID: r.BuyerID, CreatedAt: r.CreatedAt}
}

func toMessage(m models.Message) service.Message {
	return service.Message{ID: m.ID, RoomID: m.ChatRoomID, SenderID: m.SenderID, Content: m.Content, CreatedAt: m.CreatedAt}
}
