// Package presence records which identities currently hold a live gateway
// connection. Records live in Redis so the REST surface and other services
// can answer "is this user online" without talking to the gateway.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// PresencePrefix is the Redis key prefix for all presence hashes.
	PresencePrefix = "presence:"

	// DefaultTTL bounds how long a record survives without a refresh.
	DefaultTTL = 90 * time.Second
)

// Record is one identity's presence as stored in Redis.
type Record struct {
	UserID      string `redis:"user_id"`
	ConnID      string `redis:"conn_id"`
	Server      string `redis:"server"`       // which gateway instance
	ConnectedAt int64  `redis:"connected_at"` // unix timestamp
	LastSeen    int64  `redis:"last_seen"`    // unix timestamp
}

// Store manages presence records in Redis.
type Store struct {
	client        *redis.Client
	serverName    string
	ttl           time.Duration
	clearScript   *redis.Script
	refreshScript *redis.Script
}

// NewStore connects to Redis and returns a presence store.
func NewStore(redisAddr string, serverName string, ttl time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return NewStoreWithClient(client, serverName, ttl), nil
}

// NewStoreWithClient builds a Store on an existing Redis client.
func NewStoreWithClient(client *redis.Client, serverName string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		client:        client,
		serverName:    serverName,
		ttl:           ttl,
		clearScript:   redis.NewScript(clearIfOwnerLua),
		refreshScript: redis.NewScript(refreshIfPresentLua),
	}
}

// SetOnline records userID as connected through connID, replacing any
// earlier record for the same identity.
func (s *Store) SetOnline(ctx context.Context, userID, connID string) error {
	key := PresencePrefix + userID
	now := time.Now().Unix()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":      userID,
		"conn_id":      connID,
		"server":       s.serverName,
		"connected_at": now,
		"last_seen":    now,
	})
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Refresh extends the record's TTL and bumps last_seen. A record that has
// already expired or been cleared is left absent.
func (s *Store) Refresh(ctx context.Context, userID string) error {
	key := PresencePrefix + userID
	return s.refreshScript.Run(ctx, s.client, []string{key}, time.Now().Unix(), int(s.ttl.Seconds())).Err()
}

// SetOffline deletes userID's record only if it still names connID, so a
// superseded connection cannot erase its replacement. It reports whether a
// record was deleted.
func (s *Store) SetOffline(ctx context.Context, userID, connID string) (bool, error) {
	n, err := s.clearScript.Run(ctx, s.client, []string{PresencePrefix + userID}, connID).Int()
	if err != nil {
		return false, fmt.Errorf("presence: set offline: %w", err)
	}
	return n == 1, nil
}

// Get returns userID's record, or nil if the identity is offline.
func (s *Store) Get(ctx context.Context, userID string) (*Record, error) {
	var rec Record
	if err := s.client.HGetAll(ctx, PresencePrefix+userID).Scan(&rec); err != nil {
		return nil, err
	}
	if rec.UserID == "" {
		return nil, nil
	}
	return &rec, nil
}

// IsOnline reports whether userID has a live record.
func (s *Store) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.Exists(ctx, PresencePrefix+userID).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}

// clearIfOwnerLua deletes the presence hash only when its conn_id matches.
const clearIfOwnerLua = `
local conn = redis.call('HGET', KEYS[1], 'conn_id')
if conn == ARGV[1] then
    redis.call('DEL', KEYS[1])
    return 1
end
return 0
`

// refreshIfPresentLua bumps last_seen and the TTL of an existing record.
const refreshIfPresentLua = `
if redis.call('EXISTS', KEYS[1]) == 0 then
    return 0
end
redis.call('HSET', KEYS[1], 'last_seen', ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return 1
`
