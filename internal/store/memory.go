package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store used when no database is configured and by
// tests. It keeps every message for the life of the process.
type Memory struct {
	mu   sync.RWMutex
	msgs []Message
	now  func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

// Persist appends the message.
func (m *Memory) Persist(ctx context.Context, in NewMessage) (*Message, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msg := Message{
		ID:          uuid.New().String(),
		SenderID:    in.SenderID,
		RecipientID: in.RecipientID,
		GroupID:     in.GroupID,
		Content:     in.Content,
		Kind:        in.Kind,
		CreatedAt:   m.now().UTC(),
	}

	m.mu.Lock()
	m.msgs = append(m.msgs, msg)
	m.mu.Unlock()
	return &msg, nil
}

// History returns the projection selected by filter, oldest first.
func (m *Memory) History(ctx context.Context, f Filter) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Message, 0)
	for _, msg := range m.msgs {
		if matches(msg, f) {
			out = append(out, msg)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

func matches(msg Message, f Filter) bool {
	if f.GroupID != "" {
		return msg.Kind == KindGroup && msg.GroupID == f.GroupID
	}
	if msg.Kind != KindDirect {
		return false
	}
	return (msg.SenderID == f.UserA && msg.RecipientID == f.UserB) ||
		(msg.SenderID == f.UserB && msg.RecipientID == f.UserA)
}

// MarkRead flags one direct message as read. Only its recipient may do so.
func (m *Memory) MarkRead(ctx context.Context, messageID, viewerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.msgs {
		msg := &m.msgs[i]
		if msg.ID == messageID && msg.Kind == KindDirect && msg.RecipientID == viewerID {
			msg.Read = true
			return nil
		}
	}
	return ErrNotFound
}

// MarkThreadRead flags every unread message other sent to viewer.
func (m *Memory) MarkThreadRead(ctx context.Context, viewerID, otherID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for i := range m.msgs {
		msg := &m.msgs[i]
		if msg.Kind == KindDirect && msg.RecipientID == viewerID && msg.SenderID == otherID && !msg.Read {
			msg.Read = true
			n++
		}
	}
	return n, nil
}

// UnreadCount counts unread direct messages addressed to userID.
func (m *Memory) UnreadCount(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, msg := range m.msgs {
		if msg.Kind == KindDirect && msg.RecipientID == userID && !msg.Read {
			n++
		}
	}
	return n, nil
}

// Partners lists identities userID has a direct thread with, most recent
// conversation first.
func (m *Memory) Partners(ctx context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	last := make(map[string]int)
	for i, msg := range m.msgs {
		if msg.Kind != KindDirect {
			continue
		}
		switch userID {
		case msg.SenderID:
			last[msg.RecipientID] = i
		case msg.RecipientID:
			last[msg.SenderID] = i
		}
	}

	out := make([]string, 0, len(last))
	for id := range last {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return last[out[i]] > last[out[j]] })
	return out, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
