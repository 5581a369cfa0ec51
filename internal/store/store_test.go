package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newTestStores returns the in-memory store plus a Postgres store when
// TEST_DATABASE_URL points at a disposable database.
func newTestStores(t *testing.T) map[string]Store {
	t.Helper()
	stores := map[string]Store{"memory": NewMemory()}

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		return stores
	}
	if err := Migrate(url); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	db, err := OpenPostgres(context.Background(), url)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE messages`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() {
		db.Exec(`TRUNCATE messages`)
		db.Close()
	})
	stores["postgres"] = NewPostgres(db)
	return stores
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, s := range newTestStores(t) {
		t.Run(name, func(t *testing.T) { fn(t, s) })
	}
}

func direct(from, to, content string) NewMessage {
	return NewMessage{SenderID: from, RecipientID: to, Content: content, Kind: KindDirect}
}

func group(from, groupID, content string) NewMessage {
	return NewMessage{SenderID: from, GroupID: groupID, Content: content, Kind: KindGroup}
}

func TestNewMessageValidate(t *testing.T) {
	tests := []struct {
		name  string
		msg   NewMessage
		valid bool
	}{
		{"direct", direct("a", "b", "hi"), true},
		{"group", group("a", "g", "hi"), true},
		{"no sender", NewMessage{RecipientID: "b", Kind: KindDirect}, false},
		{"direct with group", NewMessage{SenderID: "a", RecipientID: "b", GroupID: "g", Kind: KindDirect}, false},
		{"group without group", NewMessage{SenderID: "a", Kind: KindGroup}, false},
		{"unknown kind", NewMessage{SenderID: "a", RecipientID: "b", Kind: "broadcast"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.valid {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidMessage)
			}
		})
	}
}

func TestPersistAndHistory(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		req := require.New(t)
		ctx := context.Background()

		m1, err := s.Persist(ctx, direct("alice", "bob", "hi"))
		req.NoError(err)
		req.NotEmpty(m1.ID)
		req.False(m1.Read)
		req.WithinDuration(time.Now(), m1.CreatedAt, time.Minute)

		_, err = s.Persist(ctx, direct("bob", "alice", "hey"))
		req.NoError(err)
		_, err = s.Persist(ctx, direct("alice", "carol", "other thread"))
		req.NoError(err)
		_, err = s.Persist(ctx, group("alice", "g1", "team"))
		req.NoError(err)

		thread, err := s.History(ctx, Filter{UserA: "bob", UserB: "alice"})
		req.NoError(err)
		req.Len(thread, 2)
		req.Equal("hi", thread[0].Content)
		req.Equal("hey", thread[1].Content)

		groupHistory, err := s.History(ctx, Filter{GroupID: "g1"})
		req.NoError(err)
		req.Len(groupHistory, 1)
		req.Equal(KindGroup, groupHistory[0].Kind)
		req.Empty(groupHistory[0].RecipientID)
	})
}

func TestHistoryLimitKeepsMostRecent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		req := require.New(t)
		ctx := context.Background()

		for _, c := range []string{"1", "2", "3", "4"} {
			_, err := s.Persist(ctx, group("alice", "g-limit", c))
			req.NoError(err)
		}

		msgs, err := s.History(ctx, Filter{GroupID: "g-limit", Limit: 2})
		req.NoError(err)
		req.Len(msgs, 2)
		req.Equal("3", msgs[0].Content)
		req.Equal("4", msgs[1].Content)
	})
}

func TestUnreadAndThreadRead(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		req := require.New(t)
		ctx := context.Background()

		_, err := s.Persist(ctx, direct("alice", "bob", "one"))
		req.NoError(err)
		_, err = s.Persist(ctx, direct("alice", "bob", "two"))
		req.NoError(err)
		_, err = s.Persist(ctx, direct("carol", "bob", "three"))
		req.NoError(err)

		n, err := s.UnreadCount(ctx, "bob")
		req.NoError(err)
		req.Equal(3, n)

		// The sender viewing the thread does not mark anything read.
		msgs, err := Thread(ctx, s, "alice", "bob", 0)
		req.NoError(err)
		req.Len(msgs, 2)
		req.False(msgs[0].Read)
		n, _ = s.UnreadCount(ctx, "bob")
		req.Equal(3, n)

		// The recipient viewing the thread marks only that thread read.
		msgs, err = Thread(ctx, s, "bob", "alice", 0)
		req.NoError(err)
		req.Len(msgs, 2)
		n, _ = s.UnreadCount(ctx, "bob")
		req.Equal(1, n)

		msgs, err = s.History(ctx, Filter{UserA: "alice", UserB: "bob"})
		req.NoError(err)
		req.True(msgs[0].Read)
		req.True(msgs[1].Read)
	})
}

func TestMarkRead(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		req := require.New(t)
		ctx := context.Background()

		m, err := s.Persist(ctx, direct("alice", "bob", "read me"))
		req.NoError(err)

		// Only the recipient can mark it read.
		req.ErrorIs(s.MarkRead(ctx, m.ID, "alice"), ErrNotFound)
		req.NoError(s.MarkRead(ctx, m.ID, "bob"))
		req.ErrorIs(s.MarkRead(ctx, "00000000-0000-0000-0000-000000000000", "bob"), ErrNotFound)

		n, err := s.UnreadCount(ctx, "bob")
		req.NoError(err)
		req.Zero(n)
	})
}

func TestPartners(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		req := require.New(t)
		ctx := context.Background()

		_, err := s.Persist(ctx, direct("alice", "bob", "1"))
		req.NoError(err)
		_, err = s.Persist(ctx, direct("carol", "alice", "2"))
		req.NoError(err)
		_, err = s.Persist(ctx, direct("alice", "bob", "3"))
		req.NoError(err)
		_, err = s.Persist(ctx, group("alice", "g1", "not a partner"))
		req.NoError(err)

		partners, err := s.Partners(ctx, "alice")
		req.NoError(err)
		req.Equal([]string{"bob", "carol"}, partners)

		none, err := s.Partners(ctx, "nobody")
		req.NoError(err)
		req.Empty(none)
	})
}
