package bidding

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ajaymenon/storefront-core/internal/domain"
)

const snapshotTTL = 5 * time.Second

// SnapshotCache keeps short-lived voucher snapshots in redis so the
// admission precheck and read-heavy auction views stay off the primary.
// All methods tolerate a nil client (cache disabled).
type SnapshotCache struct {
	client *redis.Client
}

func NewSnapshotCache(client *redis.Client) *SnapshotCache {
	return &SnapshotCache{client: client}
}

func snapshotKey(voucherID string) string {
	return "voucher:snapshot:" + voucherID
}

func (c *SnapshotCache) Get(ctx context.Context, voucherID string) (*domain.Voucher, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, snapshotKey(voucherID)).Bytes()
	if err != nil {
		return nil, false
	}
	var v domain.Voucher
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return &v, true
}

func (c *SnapshotCache) Set(ctx context.Context, voucher *domain.Voucher) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(voucher)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, snapshotKey(voucher.ID), raw, snapshotTTL).Err()
}

func (c *SnapshotCache) Invalidate(ctx context.Context, voucherID string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, snapshotKey(voucherID)).Err()
}
