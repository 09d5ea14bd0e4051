package store

import (
	"context"
	"time"

	"marketchat/internal/service"

	"github.com/dgraph-io/ristretto/v2"
)

// CachedListings 是按商品 ID 的只读缓存。成员校验每次都要查商品卖家，
// 而商品归属在本系统内不会变化，所以可以安全地缓存一段时间。
type CachedListings struct {
	next  service.ListingLookup
	cache *ristretto.Cache[uint64, service.Listing]
	ttl   time.Duration
}

func NewCachedListings(next service.ListingLookup, ttl time.Duration) (*CachedListings, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, service.Listing]{
		NumCounters: 100_000,
		MaxCost:     10_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedListings{next: next, cache: cache, ttl: ttl}, nil
}

// GetListing 只缓存命中的结果；NotFound 与存储错误都直接透传。
func (c *CachedListings) GetListing(ctx context.Context, id uint) (*service.Listing, error) {
	if l, ok := c.cache.Get(uint64(id)); ok {
		return &l, nil
	}
	l, err := c.next.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.SetWithTTL(uint64(id), *l, 1, c.ttl)
	return l, nil
}

func (c *CachedListings) Close() { c.cache.Close() }
