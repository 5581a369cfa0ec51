package gateway

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterReturnsPrevious(t *testing.T) {
	r := NewRegistry()
	a, b := newFakePeer("a"), newFakePeer("b")

	require.Nil(t, r.Register("alice", a))
	require.Nil(t, r.Register("alice", a), "re-registering the same peer is not a replacement")

	prev := r.Register("alice", b)
	require.Equal(t, a, prev)
	require.Equal(t, b, r.Get("alice"))
	require.Equal(t, 1, r.Count())
}

func TestRegistryUnregisterIsCompareAndDelete(t *testing.T) {
	r := NewRegistry()
	a, b := newFakePeer("a"), newFakePeer("b")
	r.Register("alice", a)
	r.Register("alice", b)

	require.False(t, r.Unregister("alice", a))
	require.True(t, r.IsLive("alice"))

	require.True(t, r.Unregister("alice", b))
	require.False(t, r.IsLive("alice"))
	require.False(t, r.Unregister("alice", b))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i%10)
			p := newFakePeer(fmt.Sprintf("conn-%d", i))
			r.Register(user, p)
			_ = r.Get(user)
			r.Unregister(user, p)
		}(i)
	}
	wg.Wait()
	require.LessOrEqual(t, r.Count(), 10)
}

func TestSubscriptionsAddRemove(t *testing.T) {
	s := NewSubscriptions()
	s.Add("g1", "alice")
	s.Add("g1", "alice")
	s.Add("g1", "bob")
	s.Add("g2", "alice")

	require.ElementsMatch(t, []string{"alice", "bob"}, s.Subscribers("g1"))
	require.ElementsMatch(t, []string{"g1", "g2"}, s.Groups("alice"))

	s.Remove("g1", "bob")
	s.Remove("g1", "bob")
	s.Remove("g9", "nobody")
	require.Equal(t, []string{"alice"}, s.Subscribers("g1"))

	removed := s.RemoveUser("alice")
	require.ElementsMatch(t, []string{"g1", "g2"}, removed)
	require.Zero(t, s.Len())
	require.Empty(t, s.Subscribers("g1"))
	require.Empty(t, s.RemoveUser("alice"))
}

func TestFanoutPushSkipsOfflineSelfAndDuplicates(t *testing.T) {
	r := NewRegistry()
	a, b, c := newFakePeer("a"), newFakePeer("b"), newFakePeer("c")
	r.Register("alice", a)
	r.Register("bob", b)
	r.Register("carol", c)
	f := NewFanout(r)

	delivered := f.Push([]string{"alice", "bob", "bob", "dave", "", "carol"}, "alice", []byte(`{"type":"x"}`))

	require.ElementsMatch(t, []string{"bob", "carol"}, delivered)
	require.Len(t, b.received(t), 1)
	require.Len(t, c.received(t), 1)
	require.Empty(t, a.received(t))
}

func TestFanoutSingleRecipient(t *testing.T) {
	r := NewRegistry()
	b := newFakePeer("b")
	r.Register("bob", b)
	f := NewFanout(r)

	require.Equal(t, []string{"bob"}, f.Push([]string{"bob"}, "", []byte(`{"type":"x"}`)))
	require.Empty(t, f.Push([]string{"dave"}, "", []byte(`{"type":"x"}`)))

	b.failSend = true
	require.Empty(t, f.Push([]string{"bob"}, "", []byte(`{"type":"x"}`)))
}

func TestValidateContent(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    error
	}{
		{"ok", "hello", nil},
		{"empty", "", ErrEmptyContent},
		{"whitespace", " \n\t", ErrEmptyContent},
		{"invalid utf8", "bad \xff byte", ErrContentEncoding},
		{"at limit", string(make([]rune, MaxContentChars)), nil},
		{"too long", string(make([]byte, MaxContentChars+1)), ErrContentTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, validateContent(tc.content))
		})
	}
}

func TestSessionStateMachine(t *testing.T) {
	s := newSession(newFakePeer("a"))
	require.Equal(t, StatePending, s.State())

	registered := false
	require.True(t, s.authenticate("alice", func() { registered = true }))
	require.True(t, registered)
	require.Equal(t, StateAuthenticated, s.State())
	require.False(t, s.authenticate("bob", func() { t.Fatal("must not register twice") }))

	user, wasAuth, ok := s.close()
	require.True(t, ok)
	require.True(t, wasAuth)
	require.Equal(t, "alice", user)

	_, _, ok = s.close()
	require.False(t, ok)
	require.Equal(t, "closed", s.State().String())
}
