package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Postgres is the durable Store backed by the messages table.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres opens a connection pool for databaseURL and verifies it.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: postgres connection failed: %w", err)
	}
	return db, nil
}

// NewPostgres creates a Store using the given database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Persist inserts the message and returns it with its server timestamp.
func (s *Postgres) Persist(ctx context.Context, in NewMessage) (*Message, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	const query = `
		INSERT INTO messages (id, sender_id, recipient_id, group_id, content, kind)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`

	msg := Message{
		ID:          uuid.New().String(),
		SenderID:    in.SenderID,
		RecipientID: in.RecipientID,
		GroupID:     in.GroupID,
		Content:     in.Content,
		Kind:        in.Kind,
	}
	err := s.db.QueryRowContext(ctx, query,
		msg.ID,
		msg.SenderID,
		nullable(msg.RecipientID),
		nullable(msg.GroupID),
		msg.Content,
		msg.Kind,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: insert: %w", err)
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return &msg, nil
}

// History returns the projection selected by f, oldest first.
func (s *Postgres) History(ctx context.Context, f Filter) ([]Message, error) {
	var (
		where string
		args  []interface{}
	)
	if f.GroupID != "" {
		where = `kind = 'group' AND group_id = $1`
		args = []interface{}{f.GroupID}
	} else {
		where = `kind = 'direct' AND ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))`
		args = []interface{}{f.UserA, f.UserB}
	}

	query := `SELECT seq, id, sender_id, COALESCE(recipient_id, ''), COALESCE(group_id, ''), content, kind, read, created_at
		FROM messages WHERE ` + where
	if f.Limit > 0 {
		query = fmt.Sprintf(`SELECT * FROM (%s ORDER BY seq DESC LIMIT %d) recent ORDER BY seq ASC`, query, f.Limit)
	} else {
		query += ` ORDER BY seq ASC`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: history: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var (
			seq int64
			m   Message
		)
		if err := rows.Scan(&seq, &m.ID, &m.SenderID, &m.RecipientID, &m.GroupID, &m.Content, &m.Kind, &m.Read, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: history scan: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: history rows: %w", err)
	}
	return out, nil
}

// MarkRead flags one direct message as read. Only its recipient may do so.
func (s *Postgres) MarkRead(ctx context.Context, messageID, viewerID string) error {
	if _, err := uuid.Parse(messageID); err != nil {
		return ErrNotFound
	}

	const query = `
		UPDATE messages SET read = TRUE
		WHERE id = $1 AND kind = 'direct' AND recipient_id = $2`

	res, err := s.db.ExecContext(ctx, query, messageID, viewerID)
	if err != nil {
		return fmt.Errorf("store: mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: mark read: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkThreadRead flags every unread message otherID sent to viewerID.
func (s *Postgres) MarkThreadRead(ctx context.Context, viewerID, otherID string) (int64, error) {
	const query = `
		UPDATE messages SET read = TRUE
		WHERE kind = 'direct' AND recipient_id = $1 AND sender_id = $2 AND NOT read`

	res, err := s.db.ExecContext(ctx, query, viewerID, otherID)
	if err != nil {
		return 0, fmt.Errorf("store: mark thread read: %w", err)
	}
	return res.RowsAffected()
}

// UnreadCount counts unread direct messages addressed to userID.
func (s *Postgres) UnreadCount(ctx context.Context, userID string) (int, error) {
	const query = `
		SELECT COUNT(*) FROM messages
		WHERE kind = 'direct' AND recipient_id = $1 AND NOT read`

	var count int
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: unread count: %w", err)
	}
	return count, nil
}

// Partners lists identities userID has a direct thread with, most recent
// conversation first.
func (s *Postgres) Partners(ctx context.Context, userID string) ([]string, error) {
	const query = `
		SELECT partner FROM (
			SELECT CASE WHEN sender_id = $1 THEN recipient_id ELSE sender_id END AS partner,
			       MAX(seq) AS last_seq
			FROM messages
			WHERE kind = 'direct' AND (sender_id = $1 OR recipient_id = $1)
			GROUP BY 1
		) threads
		ORDER BY last_seq DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("store: partners: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: partners scan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Close closes the underlying pool.
func (s *Postgres) Close() error {
	return s.db.Close()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
