package membership

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// MembersPrefix is the Redis key prefix for cached member sets.
const MembersPrefix = "members:"

// Cached serves Members from a short-lived Redis set in front of another
// Oracle. IsMember and UserExists always go to the source: authorization is
// never decided from cache.
type Cached struct {
	source Oracle
	rdb    *redis.Client
	ttl    time.Duration
}

// NewCached wraps source with a Redis member-list cache.
func NewCached(source Oracle, rdb *redis.Client, ttl time.Duration) *Cached {
	return &Cached{source: source, rdb: rdb, ttl: ttl}
}

func (c *Cached) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	return c.source.IsMember(ctx, groupID, userID)
}

func (c *Cached) UserExists(ctx context.Context, userID string) (bool, error) {
	return c.source.UserExists(ctx, userID)
}

// Members returns the cached set when present. Redis failures fall through to
// the source.
func (c *Cached) Members(ctx context.Context, groupID string) ([]string, error) {
	key := MembersPrefix + groupID

	cached, err := c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		log.Printf("[membership] redis SMEMBERS error key=%s: %v (using source)", key, err)
	} else if len(cached) > 0 {
		return cached, nil
	}

	members, err := c.source.Members(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return members, nil
	}

	args := make([]interface{}, len(members))
	for i, id := range members {
		args[i] = id
	}
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SAdd(ctx, key, args...)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[membership] redis cache fill error key=%s: %v", key, err)
	}
	return members, nil
}

// Invalidate drops the cached member set for groupID.
func (c *Cached) Invalidate(ctx context.Context, groupID string) error {
	return c.rdb.Del(ctx, MembersPrefix+groupID).Err()
}
