// Package store persists gateway messages. Messages are append-only facts;
// the only mutable field is the read flag of direct messages.
package store

import (
	"context"
	"errors"
	"time"
)

const (
	KindDirect = "direct"
	KindGroup  = "group"
)

var (
	// ErrNotFound is returned when a message does not exist or is not
	// visible to the caller.
	ErrNotFound = errors.New("store: message not found")

	// ErrInvalidMessage is returned when a NewMessage does not name exactly
	// one target matching its kind.
	ErrInvalidMessage = errors.New("store: invalid message")
)

// Message is a persisted message.
type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId,omitempty"`
	GroupID     string    `json:"groupId,omitempty"`
	Content     string    `json:"content"`
	Kind        string    `json:"kind"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewMessage is the input to Persist.
type NewMessage struct {
	SenderID    string
	RecipientID string
	GroupID     string
	Content     string
	Kind        string
}

// Validate checks that exactly one of RecipientID/GroupID is set and that it
// matches Kind.
func (m NewMessage) Validate() error {
	if m.SenderID == "" {
		return ErrInvalidMessage
	}
	switch m.Kind {
	case KindDirect:
		if m.RecipientID == "" || m.GroupID != "" {
			return ErrInvalidMessage
		}
	case KindGroup:
		if m.GroupID == "" || m.RecipientID != "" {
			return ErrInvalidMessage
		}
	default:
		return ErrInvalidMessage
	}
	return nil
}

// Filter selects a history projection: either a group's history or the
// direct thread between UserA and UserB. Limit > 0 keeps only the most
// recent Limit messages; results are always oldest first.
type Filter struct {
	GroupID string
	UserA   string
	UserB   string
	Limit   int
}

// Store is implemented by Postgres and Memory.
type Store interface {
	Persist(ctx context.Context, msg NewMessage) (*Message, error)
	History(ctx context.Context, filter Filter) ([]Message, error)
	MarkRead(ctx context.Context, messageID, viewerID string) error
	MarkThreadRead(ctx context.Context, viewerID, otherID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	Partners(ctx context.Context, userID string) ([]string, error)
	Close() error
}

// Thread returns the ordered direct thread between viewer and other and then
// marks everything other sent to viewer as read. The returned messages
// reflect their state before marking.
func Thread(ctx context.Context, s Store, viewerID, otherID string, limit int) ([]Message, error) {
	msgs, err := s.History(ctx, Filter{UserA: viewerID, UserB: otherID, Limit: limit})
	if err != nil {
		return nil, err
	}
	if _, err := s.MarkThreadRead(ctx, viewerID, otherID); err != nil {
		return nil, err
	}
	return msgs, nil
}
