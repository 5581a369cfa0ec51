// Package ratelimit throttles per-identity chat traffic with Redis
// fixed-window counters. Counters are shared by every connection an identity
// opens.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is one limit: at most Limit hits per Window for each identifier,
// counted under Key+identifier.
type Rule struct {
	Key    string        // Redis key prefix, e.g. "rl:msg:"
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleMessage allows 30 direct or group messages per 10 seconds per identity.
var RuleMessage = Rule{Key: "rl:msg:", Limit: 30, Window: 10 * time.Second}

// hitScript increments the counter and starts the window on the first hit in
// one round trip, so a counter can never be left without a TTL.
var hitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Limiter checks rules against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow counts one hit for identifier and reports whether it is within rule.
// Redis errors fail open: the hit is allowed and the error returned.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := hitScript.Run(ctx, l.client, []string{key}, rule.Window.Milliseconds()).Int()
	if err != nil {
		log.Printf("[ratelimit] hit failed key=%s: %v (failing open)", key, err)
		return true, err
	}
	return count <= rule.Limit, nil
}
