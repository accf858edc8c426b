// Package acl answers "may user X act in room Y" with a cache-aside
// membership set in redis and the relational store as the authority.
package acl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"relay/internal/observability/metrics"
)

const keyPrefix = "acl:room:"

// MembershipStore is the durable authority for room membership.
type MembershipStore interface {
	IsMember(ctx context.Context, userID, roomID uuid.UUID) (bool, error)
	MemberIDs(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
}

type Cache struct {
	client *redis.Client
	store  MembershipStore
	ttl    time.Duration
	logger *slog.Logger
}

func NewCache(client *redis.Client, store MembershipStore, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{client: client, store: store, ttl: ttl, logger: logger}
}

func key(roomID uuid.UUID) string { return keyPrefix + roomID.String() }

// CanSubscribe checks the cached membership set first; a hit refreshes
// the set's expiry and answers immediately. A miss, or any cache
// backend error, falls back to the durable store; on an authorized
// answer the full membership set is loaded back into the cache.
func (c *Cache) CanSubscribe(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	k := key(roomID)

	pipe := c.client.Pipeline()
	exists := pipe.Exists(ctx, k)
	isMember := pipe.SIsMember(ctx, k, userID.String())
	pipe.Expire(ctx, k, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		// A broken cache degrades to the store, it never blocks a
		// valid request.
		c.logger.Warn("acl cache read failed, falling back to store", "room_id", roomID, "error", err)
		metrics.ACLChecksTotal.WithLabelValues("error").Inc()
		return c.checkStore(ctx, userID, roomID, false)
	}

	if exists.Val() == 0 {
		metrics.ACLChecksTotal.WithLabelValues("miss").Inc()
		return c.checkStore(ctx, userID, roomID, true)
	}

	metrics.ACLChecksTotal.WithLabelValues("hit").Inc()
	return isMember.Val(), nil
}

// CanPublish reuses the subscribe check: the base model has no
// distinct publish-only role.
func (c *Cache) CanPublish(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	return c.CanSubscribe(ctx, userID, roomID)
}

// OnMembershipChanged evicts the cached set unconditionally so the
// next check re-derives it from the durable store.
func (c *Cache) OnMembershipChanged(ctx context.Context, roomID uuid.UUID) error {
	if err := c.client.Del(ctx, key(roomID)).Err(); err != nil {
		return fmt.Errorf("acl: evict room %s: %w", roomID, err)
	}
	return nil
}

func (c *Cache) checkStore(ctx context.Context, userID, roomID uuid.UUID, repopulate bool) (bool, error) {
	ok, err := c.store.IsMember(ctx, userID, roomID)
	if err != nil {
		return false, fmt.Errorf("acl: membership check: %w", err)
	}
	if ok && repopulate {
		if err := c.repopulate(ctx, roomID); err != nil {
			c.logger.Warn("acl cache repopulate failed", "room_id", roomID, "error", err)
		}
	}
	return ok, nil
}

func (c *Cache) repopulate(ctx context.Context, roomID uuid.UUID) error {
	ids, err := c.store.MemberIDs(ctx, roomID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	members := make([]any, 0, len(ids))
	for _, id := range ids {
		members = append(members, id.String())
	}

	k := key(roomID)
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, k)
	pipe.SAdd(ctx, k, members...)
	pipe.Expire(ctx, k, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}
