package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"lms-server/internal/config"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("cache entry not found")

// NewClient dials redis using the service configuration.
func NewClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// EventCache backs webhook deduplication, the pending-event buffer, upload
// ticket idempotency, and the ready-notification queue.
type EventCache struct {
	client *redis.Client
}

func NewEventCache(client *redis.Client) *EventCache {
	return &EventCache{client: client}
}

// MarkEventSeen records a webhook event id for the dedupe window. Returns
// true when the event was seen for the first time.
func (c *EventCache) MarkEventSeen(ctx context.Context, eventID string, window time.Duration) (bool, error) {
	return c.client.SetNX(ctx, "webhook_event:"+eventID, 1, window).Result()
}

// BufferPendingEvent stores a webhook payload whose upload id has no video
// row yet; it is retried by the reconciler until the buffer TTL lapses.
func (c *EventCache) BufferPendingEvent(ctx context.Context, uploadID string, payload []byte, ttl time.Duration) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, "pending_event:"+uploadID, payload, ttl)
	pipe.SAdd(ctx, "pending_event_ids", uploadID)
	_, err := pipe.Exec(ctx)
	return err
}

// PendingEventIDs lists buffered upload ids.
func (c *EventCache) PendingEventIDs(ctx context.Context) ([]string, error) {
	return c.client.SMembers(ctx, "pending_event_ids").Result()
}

// PeekPendingEvent reads a buffered payload without consuming it, so a
// failed replay leaves the original TTL running. Expired entries return
// ErrNotFound and are pruned from the index set.
func (c *EventCache) PeekPendingEvent(ctx context.Context, uploadID string) ([]byte, error) {
	payload, err := c.client.Get(ctx, "pending_event:"+uploadID).Bytes()
	if errors.Is(err, redis.Nil) {
		c.client.SRem(ctx, "pending_event_ids", uploadID)
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// DropPendingEvent removes a buffered payload without returning it.
func (c *EventCache) DropPendingEvent(ctx context.Context, uploadID string) error {
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, "pending_event:"+uploadID)
	pipe.SRem(ctx, "pending_event_ids", uploadID)
	_, err := pipe.Exec(ctx)
	return err
}

// PutTicket stores an upload ticket under its fingerprint so re-issuance for
// the same logical attempt returns the same ticket. Returns the stored
// ticket, which is the existing one when the fingerprint is already present.
func (c *EventCache) PutTicket(ctx context.Context, fingerprint string, ticket any, ttl time.Duration) ([]byte, bool, error) {
	payload, err := json.Marshal(ticket)
	if err != nil {
		return nil, false, err
	}
	created, err := c.client.SetNX(ctx, "upload_ticket:"+fingerprint, payload, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if created {
		return payload, true, nil
	}
	existing, err := c.client.Get(ctx, "upload_ticket:"+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		// Raced with expiry; store ours.
		if err := c.client.Set(ctx, "upload_ticket:"+fingerprint, payload, ttl).Err(); err != nil {
			return nil, false, err
		}
		return payload, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// ConsumeTicket marks an upload reference consumed; tickets are one-shot.
// Returns true on first consumption, false when the reference was already
// finalized inside the retention window.
func (c *EventCache) ConsumeTicket(ctx context.Context, uploadRef string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, "upload_ticket_consumed:"+uploadRef, 1, ttl).Result()
}

// EnqueueNotification pushes a ready notification onto the delivery queue.
func (c *EventCache) EnqueueNotification(ctx context.Context, payload []byte) error {
	return c.client.RPush(ctx, "ready_notifications", payload).Err()
}

// Health pings redis.
func (c *EventCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
