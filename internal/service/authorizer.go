package service

import (
	"context"
	"errors"
)

// Access 是一次成员校验通过后的结果。
type Access struct {
	Room    Room
	Listing Listing
}

// Authorizer 判断某个身份能否读写房间：只有买家和商品卖家可以。
// 每次读写都重新校验，不做跨调用缓存（商品查询本身可以走缓存）。
type Authorizer struct {
	rooms    RoomStore
	listings ListingLookup
}

func NewAuthorizer(rooms RoomStore, listings ListingLookup) *Authorizer {
	return &Authorizer{rooms: rooms, listings: listings}
}

func (a *Authorizer) Authorize(ctx context.Context, roomID, userID uint) (*Access, error) {
	room, err := a.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, storeErr("get room", err)
	}
	listing, err := a.listings.GetListing(ctx, room.ProductID)
	if err != nil {
		// 商品已被外部删除时，房间对任何人都不可见。
		if errors.Is(err, ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, storeErr("get listing", err)
	}
	if userID != room.BuyerID && userID != listing.SellerID {
		return nil, ErrNotMember
	}
	return &Access{Room: *room, Listing: *listing}, nil
}
