// Package httpapi serves the read-only retrieval surface over the message
// store: direct threads, group history, conversation partners, read
// receipts and presence lookups. Every route requires a bearer token.
package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/launchpad/chat-gateway/internal/membership"
	"github.com/launchpad/chat-gateway/internal/store"
)

const ctxUserID = "userID"

// MaxLimit caps the limit query parameter.
const MaxLimit = 500

// TokenVerifier recovers the identity carried by a bearer token.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// OnlineChecker reports whether an identity currently has a live connection.
type OnlineChecker interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// API holds the collaborators behind the retrieval routes.
type API struct {
	verifier TokenVerifier
	store    store.Store
	members  membership.Oracle
	online   OnlineChecker
}

// New creates an API.
func New(verifier TokenVerifier, s store.Store, members membership.Oracle, online OnlineChecker) *API {
	return &API{verifier: verifier, store: s, members: members, online: online}
}

// Handler returns a gin engine serving every route under /api.
func (a *API) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api", a.authenticate)
	api.GET("/messages/direct/:userId", a.directThread)
	api.GET("/messages/group/:groupId", a.groupHistory)
	api.GET("/conversations", a.conversations)
	api.PATCH("/messages/:id/read", a.markRead)
	api.GET("/users/:id/presence", a.presence)
	return r
}

// authenticate accepts "Authorization: Bearer <token>".
func (a *API) authenticate(c *gin.Context) {
	authz := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(authz) < len("bearer ") || !strings.EqualFold(authz[:len("bearer ")], "bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	userID, err := a.verifier.Verify(strings.TrimSpace(authz[len("bearer "):]))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}
	c.Set(ctxUserID, userID)
	c.Next()
}

func (a *API) directThread(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	viewer := c.GetString(ctxUserID)

	msgs, err := store.Thread(c.Request.Context(), a.store, viewer, c.Param("userId"), limit)
	if err != nil {
		internalError(c, "direct thread", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": nonNil(msgs)})
}

func (a *API) groupHistory(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	viewer := c.GetString(ctxUserID)
	groupID := c.Param("groupId")

	member, err := a.members.IsMember(c.Request.Context(), groupID, viewer)
	if err != nil {
		internalError(c, "membership", err)
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member"})
		return
	}

	msgs, err := a.store.History(c.Request.Context(), store.Filter{GroupID: groupID, Limit: limit})
	if err != nil {
		internalError(c, "group history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": nonNil(msgs)})
}

type conversation struct {
	UserID string `json:"userId"`
}

func (a *API) conversations(c *gin.Context) {
	partners, err := a.store.Partners(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		internalError(c, "partners", err)
		return
	}
	out := lo.Map(partners, func(id string, _ int) conversation {
		return conversation{UserID: id}
	})
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

func (a *API) markRead(c *gin.Context) {
	err := a.store.MarkRead(c.Request.Context(), c.Param("id"), c.GetString(ctxUserID))
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case err != nil:
		internalError(c, "mark read", err)
	default:
		c.Status(http.StatusNoContent)
	}
}

func (a *API) presence(c *gin.Context) {
	userID := c.Param("id")
	online, err := a.online.IsOnline(c.Request.Context(), userID)
	if err != nil {
		internalError(c, "presence", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "online": online})
}

// parseLimit reads ?limit=N. It writes a 400 and returns false when the
// value is not a non-negative integer.
func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
		return 0, false
	}
	return min(n, MaxLimit), true
}

func internalError(c *gin.Context, op string, err error) {
	log.Printf("[httpapi] %s %s: %v", op, c.Request.URL.Path, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func nonNil(msgs []store.Message) []store.Message {
	if msgs == nil {
		return []store.Message{}
	}
	return msgs
}
