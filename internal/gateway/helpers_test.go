package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/launchpad/chat-gateway/internal/auth"
	"github.com/launchpad/chat-gateway/internal/membership"
	"github.com/launchpad/chat-gateway/internal/messaging"
	"github.com/launchpad/chat-gateway/internal/ratelimit"
	"github.com/launchpad/chat-gateway/internal/store"
)

const testSecret = "test-secret"

// fakePeer records every frame sent to it.
type fakePeer struct {
	id string

	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	failSend bool
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	if p.failSend {
		return errors.New("broken pipe")
	}
	p.frames = append(p.frames, append([]byte(nil), data...))
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// received decodes and drains the frames sent so far.
func (p *fakePeer) received(t *testing.T) []map[string]interface{} {
	t.Helper()
	p.mu.Lock()
	frames := p.frames
	p.frames = nil
	p.mu.Unlock()

	out := make([]map[string]interface{}, 0, len(frames))
	for _, f := range frames {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

func types(frames []map[string]interface{}) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f["type"].(string))
	}
	return out
}

// expectError drains p and asserts it got exactly one error frame with code.
func expectError(t *testing.T, p *fakePeer, code string) map[string]interface{} {
	t.Helper()
	frames := p.received(t)
	require.Len(t, frames, 1, "frames: %v", types(frames))
	require.Equal(t, "error", frames[0]["type"])
	require.Equal(t, code, frames[0]["code"])
	return frames[0]
}

type fakePresence struct {
	mu      sync.Mutex
	online  map[string]string // user -> conn
	refresh int
	offline int
}

func newFakePresence() *fakePresence {
	return &fakePresence{online: make(map[string]string)}
}

func (f *fakePresence) SetOnline(_ context.Context, userID, connID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[userID] = connID
	return nil
}

func (f *fakePresence) Refresh(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh++
	return nil
}

func (f *fakePresence) SetOffline(_ context.Context, userID, connID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline++
	if f.online[userID] != connID {
		return false, nil
	}
	delete(f.online, userID)
	return true, nil
}

func (f *fakePresence) isOnline(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.online[userID]
	return ok
}

type fakeLimiter struct {
	mu    sync.Mutex
	deny  bool
	err   error // returned with an allow, the way the Redis limiter fails open
	calls int
}

func (f *fakeLimiter) Allow(_ context.Context, _ string, _ ratelimit.Rule) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return true, f.err
	}
	return !f.deny, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []messaging.MessageEvent
}

func (f *fakePublisher) PublishMessage(ev messaging.MessageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) published() []messaging.MessageEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]messaging.MessageEvent(nil), f.events...)
}

// failingStore fails every Persist.
type failingStore struct {
	*store.Memory
}

func (failingStore) Persist(context.Context, store.NewMessage) (*store.Message, error) {
	return nil, errors.New("database unavailable")
}

type harness struct {
	gw       *Gateway
	verifier *auth.Verifier
	store    store.Store
	members  *membership.Static
	presence *fakePresence
	limiter  *fakeLimiter
	events   *fakePublisher
	nextID   int
}

type harnessOption func(*Config, *Options)

func withStore(s store.Store) harnessOption {
	return func(_ *Config, o *Options) { o.Store = s }
}

// withMembers replaces the membership oracle with wrap(static oracle).
func withMembers(wrap func(membership.Oracle) membership.Oracle) harnessOption {
	return func(_ *Config, o *Options) { o.Members = wrap(o.Members) }
}

func withMaxAuthFailures(n int) harnessOption {
	return func(c *Config, _ *Options) { c.MaxAuthFailures = n }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		verifier: auth.NewVerifier(testSecret, ""),
		store:    store.NewMemory(),
		members:  membership.NewStatic(),
		presence: newFakePresence(),
		limiter:  &fakeLimiter{},
		events:   &fakePublisher{},
	}

	cfg := DefaultConfig()
	cfg.ServerName = "test-node"
	o := Options{
		Verifier: h.verifier,
		Store:    h.store,
		Members:  h.members,
		Presence: h.presence,
		Limiter:  h.limiter,
		Events:   h.events,
	}
	for _, opt := range opts {
		opt(&cfg, &o)
	}
	h.store = o.Store
	h.gw = New(cfg, o)
	return h
}

func (h *harness) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := h.verifier.Issue(userID, time.Hour)
	require.NoError(t, err)
	return tok
}

// open accepts a new connection without authenticating it.
func (h *harness) open() *fakePeer {
	h.nextID++
	p := newFakePeer(fmt.Sprintf("conn-%d", h.nextID))
	h.gw.Open(p)
	return p
}

// send delivers a frame built from v on p.
func (h *harness) send(t *testing.T, p *fakePeer, v interface{}) {
	t.Helper()
	var data []byte
	switch f := v.(type) {
	case string:
		data = []byte(f)
	default:
		var err error
		data, err = json.Marshal(v)
		require.NoError(t, err)
	}
	h.gw.HandleFrame(context.Background(), p, data)
}

// connect opens and authenticates a connection for userID and drains the
// handshake frames.
func (h *harness) connect(t *testing.T, userID string) *fakePeer {
	t.Helper()
	h.members.AddUser(userID)
	p := h.open()
	h.send(t, p, map[string]interface{}{"type": "auth", "token": h.token(t, userID)})
	frames := p.received(t)
	require.NotEmpty(t, frames)
	require.Equal(t, "auth_success", frames[0]["type"])
	return p
}

func (h *harness) history(t *testing.T, f store.Filter) []store.Message {
	t.Helper()
	msgs, err := h.store.History(context.Background(), f)
	require.NoError(t, err)
	return msgs
}
