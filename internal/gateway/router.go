package gateway

import (
	"context"
	"log"
	"time"

	"github.com/samber/lo"

	"github.com/launchpad/chat-gateway/internal/messaging"
	"github.com/launchpad/chat-gateway/internal/metrics"
	"github.com/launchpad/chat-gateway/internal/protocol"
	"github.com/launchpad/chat-gateway/internal/store"
)

// ---------------------------------------------------------------------------
// auth
// ---------------------------------------------------------------------------

func (g *Gateway) handleAuth(ctx context.Context, s *Session, msg interface{}) error {
	m := msg.(protocol.AuthMsg)
	if s.State() == StateAuthenticated {
		return ErrAlreadyAuthenticated
	}

	userID, err := g.verifier.Verify(m.Token)
	if err != nil {
		g.rejectAuth(s, err)
		return nil
	}

	var prev Peer
	if !s.authenticate(userID, func() { prev = g.registry.Register(userID, s.peer) }) {
		return nil
	}
	metrics.AuthenticatedConnections.Inc()

	if prev != nil {
		log.Printf("[gateway] user=%s re-authenticated, replacing conn=%s with conn=%s", userID, prev.ID(), s.peer.ID())
		if data, err := protocol.NewError(ErrSessionReplaced.Code, ErrSessionReplaced.Message); err == nil {
			_ = prev.Send(data)
		}
		g.Disconnect(prev)
	}

	if g.presence != nil {
		if err := g.presence.SetOnline(ctx, userID, s.peer.ID()); err != nil {
			log.Printf("[gateway] presence online user=%s: %v", userID, err)
		}
	}

	g.reply(s, protocol.TypeAuthSuccess, protocol.AuthSuccessMsg{UserID: userID})

	unread, err := g.store.UnreadCount(ctx, userID)
	if err != nil {
		log.Printf("[gateway] unread count user=%s: %v", userID, err)
	} else if unread > 0 {
		g.reply(s, protocol.TypeUnreadMessages, protocol.UnreadMessagesMsg{Count: unread})
	}

	log.Printf("[gateway] authenticated conn=%s user=%s unread=%d (live=%d)", s.peer.ID(), userID, unread, g.registry.Count())
	return nil
}

// rejectAuth answers a failed auth attempt with auth_error and closes the
// connection once it reaches the failure cap.
func (g *Gateway) rejectAuth(s *Session, cause error) {
	metrics.AuthFailures.Inc()
	failures := s.failAuth()
	log.Printf("[gateway] auth rejected conn=%s failures=%d: %v", s.peer.ID(), failures, cause)
	g.reply(s, protocol.TypeAuthError, protocol.AuthErrorMsg{Message: "invalid or expired token"})

	if g.cfg.MaxAuthFailures > 0 && failures >= g.cfg.MaxAuthFailures {
		log.Printf("[gateway] too many auth failures, closing conn=%s", s.peer.ID())
		g.Disconnect(s.peer)
	}
}

// ---------------------------------------------------------------------------
// direct_message
// ---------------------------------------------------------------------------

func (g *Gateway) handleDirectMessage(ctx context.Context, s *Session, msg interface{}) error {
	m := msg.(protocol.DirectMessageMsg)
	sender := s.UserID()

	if err := validateContent(m.Content); err != nil {
		return err
	}
	if err := g.allow(ctx, sender); err != nil {
		return err
	}

	exists, err := g.members.UserExists(ctx, m.RecipientID)
	if err != nil {
		return wrap(ErrUnavailable, err)
	}
	if !exists {
		return ErrUnknownRecipient
	}

	stored, err := g.persist(ctx, store.NewMessage{
		SenderID:    sender,
		RecipientID: m.RecipientID,
		Content:     m.Content,
		Kind:        store.KindDirect,
	})
	if err != nil {
		return err
	}

	wire := toWire(stored)
	if data, err := protocol.NewServerMessage(protocol.TypeNewDirectMessage, protocol.NewDirectMessageMsg{Message: wire}); err == nil {
		// Not excluding the sender: a note to self is pushed like any other.
		g.fanout.Push([]string{m.RecipientID}, "", data)
	}

	g.reply(s, protocol.TypeMessageSent, protocol.MessageSentMsg{Message: wire})
	g.publish(stored)
	return nil
}

// ---------------------------------------------------------------------------
// group_message
// ---------------------------------------------------------------------------

func (g *Gateway) handleGroupMessage(ctx context.Context, s *Session, msg interface{}) error {
	m := msg.(protocol.GroupMessageMsg)
	sender := s.UserID()

	if err := validateContent(m.Content); err != nil {
		return err
	}
	if err := g.allow(ctx, sender); err != nil {
		return err
	}
	if err := g.requireMember(ctx, m.GroupID, sender); err != nil {
		return err
	}

	stored, err := g.persist(ctx, store.NewMessage{
		SenderID: sender,
		GroupID:  m.GroupID,
		Content:  m.Content,
		Kind:     store.KindGroup,
	})
	if err != nil {
		return err
	}
	g.subscribe(s, m.GroupID, sender)

	members, err := g.members.Members(ctx, m.GroupID)
	if err != nil {
		// The message is stored; live members pick it up from history.
		log.Printf("[gateway] members lookup group=%s: %v", m.GroupID, err)
	}

	recipients := g.liveMembers(ctx, m.GroupID, sender, members)

	wire := toWire(stored)
	if data, err := protocol.NewServerMessage(protocol.TypeNewGroupMessage, protocol.NewGroupMessageMsg{Message: wire}); err == nil {
		for _, userID := range g.fanout.Push(recipients, sender, data) {
			g.subs.Add(m.GroupID, userID)
		}
	}

	g.reply(s, protocol.TypeMessageSent, protocol.MessageSentMsg{Message: wire})
	g.publish(stored)
	return nil
}

// ---------------------------------------------------------------------------
// typing
// ---------------------------------------------------------------------------

func (g *Gateway) handleTyping(ctx context.Context, s *Session, msg interface{}) error {
	m := msg.(protocol.TypingMsg)
	sender := s.UserID()

	if m.RecipientID != "" {
		data, err := protocol.NewServerMessage(protocol.TypeTypingIndicator, protocol.TypingIndicatorMsg{
			UserID:   sender,
			IsTyping: m.IsTyping,
		})
		if err == nil {
			g.fanout.Push([]string{m.RecipientID}, sender, data)
		}
	}

	if m.GroupID != "" {
		data, err := protocol.NewServerMessage(protocol.TypeTypingIndicator, protocol.TypingIndicatorMsg{
			UserID:   sender,
			GroupID:  m.GroupID,
			IsTyping: m.IsTyping,
		})
		if err == nil {
			g.fanout.Push(g.subs.Subscribers(m.GroupID), sender, data)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// subscribe_group / unsubscribe_group
// ---------------------------------------------------------------------------

func (g *Gateway) handleSubscribe(ctx context.Context, s *Session, msg interface{}) error {
	m := msg.(protocol.SubscribeGroupMsg)
	userID := s.UserID()

	if err := g.requireMember(ctx, m.GroupID, userID); err != nil {
		return err
	}
	g.subscribe(s, m.GroupID, userID)
	g.reply(s, protocol.TypeSubscribed, protocol.SubscribedMsg{GroupID: m.GroupID})
	return nil
}

func (g *Gateway) handleUnsubscribe(ctx context.Context, s *Session, msg interface{}) error {
	m := msg.(protocol.UnsubscribeGroupMsg)
	g.subs.Remove(m.GroupID, s.UserID())
	g.reply(s, protocol.TypeUnsubscribed, protocol.UnsubscribedMsg{GroupID: m.GroupID})
	return nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// subscribe adds userID to groupID unless s was torn down meanwhile and no
// other connection holds the identity.
func (g *Gateway) subscribe(s *Session, groupID, userID string) {
	g.subs.Add(groupID, userID)
	if s.State() == StateClosed && !g.registry.IsLive(userID) {
		g.subs.Remove(groupID, userID)
	}
}

// liveMembers narrows a member list to the identities that are live here,
// re-checking each with IsMember: the list may come from a cache that lags
// removals.
func (g *Gateway) liveMembers(ctx context.Context, groupID, sender string, members []string) []string {
	return lo.Filter(lo.Uniq(members), func(userID string, _ int) bool {
		if userID == sender || !g.registry.IsLive(userID) {
			return false
		}
		ok, err := g.members.IsMember(ctx, groupID, userID)
		if err != nil {
			log.Printf("[gateway] member check group=%s user=%s: %v", groupID, userID, err)
			return false
		}
		return ok
	})
}

func (g *Gateway) requireMember(ctx context.Context, groupID, userID string) error {
	ok, err := g.members.IsMember(ctx, groupID, userID)
	if err != nil {
		return wrap(ErrUnavailable, err)
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

// allow applies the send rate limit. Limiter errors fail open.
func (g *Gateway) allow(ctx context.Context, userID string) error {
	if g.limiter == nil || g.cfg.MessageRule.Limit <= 0 {
		return nil
	}
	ok, err := g.limiter.Allow(ctx, userID, g.cfg.MessageRule)
	if err != nil {
		log.Printf("[gateway] rate limit check user=%s: %v (allowed)", userID, err)
	}
	if !ok {
		metrics.RateLimited.Inc()
		return ErrRateLimited
	}
	return nil
}

func (g *Gateway) persist(ctx context.Context, in store.NewMessage) (*store.Message, error) {
	start := time.Now()
	stored, err := g.store.Persist(ctx, in)
	metrics.PersistLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, wrap(ErrPersistence, err)
	}
	metrics.MessagesTotal.WithLabelValues(stored.Kind).Inc()
	return stored, nil
}

// publish announces a stored message on NATS. Failures are logged only.
func (g *Gateway) publish(m *store.Message) {
	if g.events == nil {
		return
	}
	ev := messaging.MessageEvent{
		ID:          m.ID,
		Kind:        m.Kind,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		GroupID:     m.GroupID,
		Content:     m.Content,
		CreatedAt:   m.CreatedAt,
		Server:      g.cfg.ServerName,
	}
	if err := g.events.PublishMessage(ev); err != nil {
		log.Printf("[gateway] publish %s: %v", ev.Subject(), err)
	}
}

func toWire(m *store.Message) protocol.Message {
	return protocol.Message{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		GroupID:     m.GroupID,
		Content:     m.Content,
		Kind:        m.Kind,
		Read:        m.Read,
		CreatedAt:   m.CreatedAt,
	}
}
