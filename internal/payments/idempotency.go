package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/atelierhq/atelier-backend/pkg/redis"
)

// WebhookDedup short-circuits duplicate gateway notifications before they hit
// the database. It is an optimization only: the processed_at/rolled_back_at
// gates on the payment row remain the source of truth, so a nil dedup (no
// Redis) is safe.
type WebhookDedup struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewWebhookDedup builds a dedup guard. A nil store disables deduplication.
func NewWebhookDedup(store redis.IdempotencyStore, ttl time.Duration) *WebhookDedup {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &WebhookDedup{store: store, ttl: ttl}
}

// Begin claims the (orderKey, status) pair. The first caller gets true; repeat
// deliveries within the TTL get false. Store errors fail open so a Redis
// outage never drops a notification.
func (d *WebhookDedup) Begin(ctx context.Context, orderKey, status string) bool {
	if d == nil || d.store == nil {
		return true
	}
	key := d.store.IdempotencyKey("webhook", fmt.Sprintf("%s:%s", orderKey, status))
	ok, err := d.store.SetNX(ctx, key, "1", d.ttl)
	if err != nil {
		return true
	}
	return ok
}

// Release frees the claim so the gateway's retry can be reprocessed after a
// handler failure.
func (d *WebhookDedup) Release(ctx context.Context, orderKey, status string) {
	if d == nil || d.store == nil {
		return
	}
	key := d.store.IdempotencyKey("webhook", fmt.Sprintf("%s:%s", orderKey, status))
	_ = d.store.Del(ctx, key)
}
