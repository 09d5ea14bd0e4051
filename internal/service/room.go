package service

import (
	"context"
	"errors"
	"time"

	"marketchat/internal/metrics"

	"github.com/samber/lo"
)

// RoomService 负责聊天室的查找/创建与“我的聊天”列表。
type RoomService struct {
	rooms    RoomStore
	listings ListingLookup
	users    UserLookup
}

func NewRoomService(rooms RoomStore, listings ListingLookup, users UserLookup) *RoomService {
	return &RoomService{rooms: rooms, listings: listings, users: users}
}

// RoomDTO 是对外输出的房间数据，带上商品与买家摘要，客户端可以直接渲染。
type RoomDTO struct {
	ID          uint        `json:"id"`
	ProductID   uint        `json:"productId"`
	BuyerID     uint        `json:"buyerId"`
	CreatedAt   time.Time   `json:"createdAt"`
	Product     Listing     `json:"product"`
	Buyer       UserSummary `json:"buyer"`
	LastMessage *MessageDTO `json:"lastMessage,omitempty"`
}

// GetOrCreate 返回 (listingID, requesterID) 对应的唯一房间，不存在则创建；重复调用幂等。
func (s *RoomService) GetOrCreate(ctx context.Context, listingID, requesterID uint) (*RoomDTO, error) {
	listing, err := s.listings.GetListing(ctx, listingID)
	if err != nil {
		return nil, storeErr("get listing", err)
	}
	if listing.SellerID == requesterID {
		return nil, ErrSelfChat
	}
	room, created, err := s.rooms.FindOrCreateRoom(ctx, listing.ID, requesterID)
	if err != nil {
		return nil, storeErr("find or create room", err)
	}
	if created {
		metrics.RoomsCreatedTotal.Inc()
	}
	users, err := s.users.GetUserSummaries(ctx, []uint{requesterID})
	if err != nil {
		return nil, storeErr("get buyer", err)
	}
	return &RoomDTO{
		ID:        room.ID,
		ProductID: room.ProductID,
		BuyerID:   room.BuyerID,
		CreatedAt: room.CreatedAt,
		Product:   *listing,
		Buyer:     summaryOf(users, room.BuyerID),
	}, nil
}

// ListMine 返回 userID 作为买家或卖家参与的全部房间，按房间创建时间倒序（不是最后活跃时间），
// 每个房间附带最近一条消息。
func (s *RoomService) ListMine(ctx context.Context, userID uint) ([]RoomDTO, error) {
	rooms, err := s.rooms.ListRoomsForUser(ctx, userID)
	if err != nil {
		return nil, storeErr("list rooms", err)
	}
	if len(rooms) == 0 {
		return []RoomDTO{}, nil
	}

	last, err := s.rooms.LastMessages(ctx, lo.Map(rooms, func(r Room, _ int) uint { return r.ID }))
	if err != nil {
		return nil, storeErr("last messages", err)
	}

	userIDs := lo.Map(rooms, func(r Room, _ int) uint { return r.BuyerID })
	userIDs = append(userIDs, lo.MapToSlice(last, func(_ uint, m Message) uint { return m.SenderID })...)
	users, err := s.users.GetUserSummaries(ctx, lo.Uniq(userIDs))
	if err != nil {
		return nil, storeErr("get users", err)
	}

	listings := make(map[uint]*Listing)
	out := make([]RoomDTO, 0, len(rooms))
	for _, r := range rooms {
		listing, ok := listings[r.ProductID]
		if !ok {
			listing, err = s.listings.GetListing(ctx, r.ProductID)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, storeErr("get listing", err)
			}
			listings[r.ProductID] = listing
		}
		dto := RoomDTO{
			ID:        r.ID,
			ProductID: r.ProductID,
			BuyerID:   r.BuyerID,
			CreatedAt: r.CreatedAt,
			Product:   *listing,
			Buyer:     summaryOf(users, r.BuyerID),
		}
		if m, ok := last[r.ID]; ok {
			lm := toMessageDTO(m, users)
			dto.LastMessage = &lm
		}
		out = append(out, dto)
	}
	return out, nil
}

func summaryOf(users map[uint]UserSummary, id uint) UserSummary {
	if u, ok := users[id]; ok {
		return u
	}
	return UserSummary{ID: id}
}
