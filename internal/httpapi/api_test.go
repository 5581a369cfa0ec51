package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/launchpad/chat-gateway/internal/auth"
	"github.com/launchpad/chat-gateway/internal/membership"
	"github.com/launchpad/chat-gateway/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticOnline map[string]bool

func (s staticOnline) IsOnline(_ context.Context, userID string) (bool, error) {
	return s[userID], nil
}

type apiHarness struct {
	handler  http.Handler
	verifier *auth.Verifier
	store    *store.Memory
	members  *membership.Static
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	h := &apiHarness{
		verifier: auth.NewVerifier("api-secret", ""),
		store:    store.NewMemory(),
		members:  membership.NewStatic(),
	}
	h.handler = New(h.verifier, h.store, h.members, staticOnline{"bob": true}).Handler()
	return h
}

func (h *apiHarness) do(t *testing.T, method, path, userID string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if userID != "" {
		tok, err := h.verifier.Issue(userID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *apiHarness) persist(t *testing.T, m store.NewMessage) *store.Message {
	t.Helper()
	stored, err := h.store.Persist(context.Background(), m)
	require.NoError(t, err)
	return stored
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestRequiresBearerToken(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDirectThreadMarksViewerUnreadAsRead(t *testing.T) {
	h := newAPIHarness(t)
	h.persist(t, store.NewMessage{SenderID: "alice", RecipientID: "bob", Content: "hi", Kind: store.KindDirect})
	h.persist(t, store.NewMessage{SenderID: "bob", RecipientID: "alice", Content: "hey", Kind: store.KindDirect})

	rec := h.do(t, http.MethodGet, "/api/messages/direct/alice", "bob")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Messages []store.Message `json:"messages"`
	}
	decode(t, rec, &body)
	require.Len(t, body.Messages, 2)
	require.Equal(t, "hi", body.Messages[0].Content)
	require.False(t, body.Messages[0].Read)

	n, err := h.store.UnreadCount(context.Background(), "bob")
	require.NoError(t, err)
	require.Zero(t, n)

	// alice's own unread message from bob is untouched.
	n, err = h.store.UnreadCount(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestGroupHistoryRequiresMembership(t *testing.T) {
	h := newAPIHarness(t)
	h.members.AddGroup("g1", "owner", "alice")
	h.persist(t, store.NewMessage{SenderID: "alice", GroupID: "g1", Content: "one", Kind: store.KindGroup})
	h.persist(t, store.NewMessage{SenderID: "owner", GroupID: "g1", Content: "two", Kind: store.KindGroup})

	rec := h.do(t, http.MethodGet, "/api/messages/group/g1", "mallory")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/messages/group/g1?limit=1", "owner")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Messages []store.Message `json:"messages"`
	}
	decode(t, rec, &body)
	require.Len(t, body.Messages, 1)
	require.Equal(t, "two", body.Messages[0].Content)

	rec = h.do(t, http.MethodGet, "/api/messages/group/g1?limit=abc", "owner")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConversations(t *testing.T) {
	h := newAPIHarness(t)
	h.persist(t, store.NewMessage{SenderID: "alice", RecipientID: "bob", Content: "1", Kind: store.KindDirect})
	h.persist(t, store.NewMessage{SenderID: "carol", RecipientID: "alice", Content: "2", Kind: store.KindDirect})

	rec := h.do(t, http.MethodGet, "/api/conversations", "alice")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Conversations []conversation `json:"conversations"`
	}
	decode(t, rec, &body)
	require.Equal(t, []conversation{{UserID: "carol"}, {UserID: "bob"}}, body.Conversations)
}

func TestMarkRead(t *testing.T) {
	h := newAPIHarness(t)
	msg := h.persist(t, store.NewMessage{SenderID: "alice", RecipientID: "bob", Content: "hi", Kind: store.KindDirect})

	rec := h.do(t, http.MethodPatch, "/api/messages/"+msg.ID+"/read", "alice")
	require.Equal(t, http.StatusNotFound, rec.Code, "only the recipient may mark read")

	rec = h.do(t, http.MethodPatch, "/api/messages/"+msg.ID+"/read", "bob")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodPatch, "/api/messages/does-not-exist/read", "bob")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPresence(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/api/users/bob/presence", "alice")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"userId":"bob","online":true}`, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/api/users/dave/presence", "alice")
	require.JSONEq(t, `{"userId":"dave","online":false}`, rec.Body.String())
}
