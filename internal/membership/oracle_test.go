package membership

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestStaticMembershipIncludesOwner(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	o := NewStatic()
	o.AddGroup("g1", "owner", "alice", "bob")

	members, err := o.Members(ctx, "g1")
	req.NoError(err)
	req.ElementsMatch([]string{"owner", "alice", "bob"}, members)

	for _, id := range []string{"owner", "alice", "bob"} {
		ok, err := o.IsMember(ctx, "g1", id)
		req.NoError(err)
		req.True(ok, id)
	}

	ok, err := o.IsMember(ctx, "g1", "mallory")
	req.NoError(err)
	req.False(ok)

	ok, err = o.IsMember(ctx, "missing", "owner")
	req.NoError(err)
	req.False(ok)

	exists, _ := o.UserExists(ctx, "alice")
	req.True(exists)
	exists, _ = o.UserExists(ctx, "mallory")
	req.False(exists)
}

func TestStaticOwnerListedOnce(t *testing.T) {
	o := NewStatic()
	o.AddGroup("g1", "owner", "owner", "alice")

	members, err := o.Members(context.Background(), "g1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"owner", "alice"}, members)
}

// countingOracle counts Members calls to observe cache hits.
type countingOracle struct {
	*Static
	calls int
}

func (c *countingOracle) Members(ctx context.Context, groupID string) ([]string, error) {
	c.calls++
	return c.Static.Members(ctx, groupID)
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: Redis not available: %v", err)
	}
	rdb.FlushDB(ctx)
	t.Cleanup(func() {
		rdb.FlushDB(ctx)
		rdb.Close()
	})
	return rdb
}

func TestCachedMembers(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	rdb := newTestRedis(t)

	src := &countingOracle{Static: NewStatic()}
	src.AddGroup("g1", "owner", "alice")
	c := NewCached(src, rdb, time.Minute)

	first, err := c.Members(ctx, "g1")
	req.NoError(err)
	req.ElementsMatch([]string{"owner", "alice"}, first)

	second, err := c.Members(ctx, "g1")
	req.NoError(err)
	req.ElementsMatch(first, second)
	req.Equal(1, src.calls)

	req.NoError(c.Invalidate(ctx, "g1"))
	_, err = c.Members(ctx, "g1")
	req.NoError(err)
	req.Equal(2, src.calls)
}

// Authorization never comes from the cache.
func TestCachedIsMemberBypassesCache(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	rdb := newTestRedis(t)

	src := NewStatic()
	src.AddGroup("g1", "owner", "alice")
	c := NewCached(src, rdb, time.Minute)

	_, err := c.Members(ctx, "g1")
	req.NoError(err)

	src.RemoveMember("g1", "alice")
	ok, err := c.IsMember(ctx, "g1", "alice")
	req.NoError(err)
	req.False(ok)
}
