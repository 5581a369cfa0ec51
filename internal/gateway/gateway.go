package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/launchpad/chat-gateway/internal/membership"
	"github.com/launchpad/chat-gateway/internal/messaging"
	"github.com/launchpad/chat-gateway/internal/metrics"
	"github.com/launchpad/chat-gateway/internal/protocol"
	"github.com/launchpad/chat-gateway/internal/ratelimit"
	"github.com/launchpad/chat-gateway/internal/store"
)

// TokenVerifier recovers the identity carried by an auth token.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Presence records which identities are online and on which connection.
type Presence interface {
	SetOnline(ctx context.Context, userID, connID string) error
	Refresh(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID, connID string) (bool, error)
}

// RateLimiter throttles outbound chat traffic per identity.
type RateLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Config holds gateway tunables.
type Config struct {
	ServerName      string         // stamped on published message events
	MaxAuthFailures int            // close after this many failed auth frames; 0 disables
	MessageRule     ratelimit.Rule // per-identity send limit
	OpTimeout       time.Duration  // bound on store/oracle calls for one frame
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAuthFailures: 5,
		MessageRule:     ratelimit.RuleMessage,
		OpTimeout:       5 * time.Second,
	}
}

// Options carries the gateway's collaborators. Verifier, Store and Members
// are required; the rest are optional.
type Options struct {
	Verifier TokenVerifier
	Store    store.Store
	Members  membership.Oracle
	Presence Presence
	Limiter  RateLimiter
	Events   messaging.Publisher
}

type handlerFunc func(ctx context.Context, s *Session, msg interface{}) error

// Gateway owns the connection registry and subscription table and routes
// inbound frames for every connection.
type Gateway struct {
	cfg      Config
	verifier TokenVerifier
	store    store.Store
	members  membership.Oracle
	presence Presence
	limiter  RateLimiter
	events   messaging.Publisher

	registry *Registry
	subs     *Subscriptions
	fanout   *Fanout
	handlers map[string]handlerFunc

	mu       sync.Mutex
	sessions map[string]*Session // conn_id -> session
}

// New creates a Gateway.
func New(cfg Config, opts Options) *Gateway {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultConfig().OpTimeout
	}
	registry := NewRegistry()
	g := &Gateway{
		cfg:      cfg,
		verifier: opts.Verifier,
		store:    opts.Store,
		members:  opts.Members,
		presence: opts.Presence,
		limiter:  opts.Limiter,
		events:   opts.Events,
		registry: registry,
		subs:     NewSubscriptions(),
		fanout:   NewFanout(registry),
		handlers: make(map[string]handlerFunc),
		sessions: make(map[string]*Session),
	}

	g.register(protocol.TypeAuth, g.handleAuth)
	g.register(protocol.TypeDirectMessage, g.handleDirectMessage)
	g.register(protocol.TypeGroupMessage, g.handleGroupMessage)
	g.register(protocol.TypeTyping, g.handleTyping)
	g.register(protocol.TypeSubscribeGroup, g.handleSubscribe)
	g.register(protocol.TypeUnsubscribeGroup, g.handleUnsubscribe)
	return g
}

func (g *Gateway) register(msgType string, h handlerFunc) {
	g.handlers[msgType] = h
}

// Registry exposes the connection registry.
func (g *Gateway) Registry() *Registry { return g.registry }

// Authenticated returns the number of registered identities.
func (g *Gateway) Authenticated() int { return g.registry.Count() }

// IsOnline reports whether userID has a registered connection on this node.
func (g *Gateway) IsOnline(_ context.Context, userID string) (bool, error) {
	return g.registry.IsLive(userID), nil
}

// Subscriptions exposes the group subscription table.
func (g *Gateway) Subscriptions() *Subscriptions { return g.subs }

// Open starts tracking a newly accepted connection in the pending state.
func (g *Gateway) Open(p Peer) {
	g.mu.Lock()
	g.sessions[p.ID()] = newSession(p)
	g.mu.Unlock()
}

// Session returns the session for p, or nil once it has been closed.
func (g *Gateway) Session(p Peer) *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessions[p.ID()]
}

// HandleFrame processes one inbound text frame from p. Frames from the same
// connection are handled one at a time.
func (g *Gateway) HandleFrame(ctx context.Context, p Peer, data []byte) {
	s := g.Session(p)
	if s == nil {
		return
	}

	s.frameMu.Lock()
	defer s.frameMu.Unlock()

	if s.State() == StateClosed {
		return
	}

	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		metrics.FramesTotal.WithLabelValues("invalid").Inc()
		log.Printf("[gateway] parse error conn=%s: %v", p.ID(), err)
		g.replyError(s, ErrParse)
		return
	}

	handler, known := g.handlers[env.Type]
	if known {
		metrics.FramesTotal.WithLabelValues(env.Type).Inc()
	} else {
		metrics.FramesTotal.WithLabelValues("unknown").Inc()
	}

	if env.Type != protocol.TypeAuth && s.State() != StateAuthenticated {
		g.replyError(s, ErrAuthRequired)
		return
	}
	if !known {
		log.Printf("[gateway] unsupported message type=%q conn=%s", env.Type, p.ID())
		g.replyError(s, ErrUnsupportedType)
		return
	}

	msg, err := env.Decode()
	if err != nil {
		log.Printf("[gateway] invalid %s frame conn=%s: %v", env.Type, p.ID(), err)
		switch {
		case env.Type != protocol.TypeAuth:
			g.replyError(s, ErrInvalidFrame)
		case s.State() == StateAuthenticated:
			g.replyError(s, ErrAlreadyAuthenticated)
		default:
			// A malformed auth frame is a failed attempt like a bad token.
			g.rejectAuth(s, err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.OpTimeout)
	defer cancel()

	if err := handler(ctx, s, msg); err != nil {
		fe := frameErrorFor(err)
		if fe == ErrUnavailable || fe == ErrPersistence {
			log.Printf("[gateway] %s failed conn=%s user=%s: %v", env.Type, p.ID(), s.UserID(), err)
		}
		g.replyError(s, fe)
	}
}

// Pong records a liveness acknowledgement from p.
func (g *Gateway) Pong(p Peer) {
	s := g.Session(p)
	if s == nil || g.presence == nil {
		return
	}
	userID := s.UserID()
	if userID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.OpTimeout)
	defer cancel()
	if err := g.presence.Refresh(ctx, userID); err != nil {
		log.Printf("[gateway] presence refresh user=%s: %v", userID, err)
	}
}

// Close tears down p: its registry entry and subscriptions are purged if the
// entry still belongs to p. Close is idempotent and safe to call
// concurrently with HandleFrame for the same peer.
func (g *Gateway) Close(p Peer) {
	g.mu.Lock()
	s := g.sessions[p.ID()]
	delete(g.sessions, p.ID())
	g.mu.Unlock()

	if s == nil {
		return
	}
	userID, wasAuthenticated, ok := s.close()
	if !ok || !wasAuthenticated {
		return
	}
	metrics.AuthenticatedConnections.Dec()

	if !g.registry.Unregister(userID, p) {
		// Superseded by a newer connection for the same identity.
		log.Printf("[gateway] closed superseded conn=%s user=%s", p.ID(), userID)
		return
	}
	groups := g.subs.RemoveUser(userID)

	if g.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.OpTimeout)
		defer cancel()
		if _, err := g.presence.SetOffline(ctx, userID, p.ID()); err != nil {
			log.Printf("[gateway] presence offline user=%s: %v", userID, err)
		}
	}

	log.Printf("[gateway] closed conn=%s user=%s groups=%d (live=%d)", p.ID(), userID, len(groups), g.registry.Count())
}

// Disconnect tears p down and closes its transport.
func (g *Gateway) Disconnect(p Peer) {
	g.Close(p)
	if err := p.Close(); err != nil {
		log.Printf("[gateway] close conn=%s: %v", p.ID(), err)
	}
}

// reply encodes payload as msgType and sends it on s.
func (g *Gateway) reply(s *Session, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[gateway] failed to build %s conn=%s: %v", msgType, s.peer.ID(), err)
		return
	}
	s.send(data)
}

func (g *Gateway) replyError(s *Session, fe *FrameError) {
	g.reply(s, protocol.TypeError, protocol.ErrorMsg{Code: fe.Code, Message: fe.Message})
}
