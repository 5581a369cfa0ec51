package membership

import (
	"context"
	"database/sql"
	"fmt"
)

// Postgres reads membership from the product's startups and
// startup_members tables.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates an Oracle over db.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	const query = `
		SELECT EXISTS (SELECT 1 FROM startups WHERE id = $1 AND owner_id = $2)
		    OR EXISTS (SELECT 1 FROM startup_members WHERE startup_id = $1 AND user_id = $2)`

	var ok bool
	if err := p.db.QueryRowContext(ctx, query, groupID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("membership: is member: %w", err)
	}
	return ok, nil
}

func (p *Postgres) Members(ctx context.Context, groupID string) ([]string, error) {
	const query = `
		SELECT owner_id FROM startups WHERE id = $1
		UNION
		SELECT user_id FROM startup_members WHERE startup_id = $1`

	rows, err := p.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("membership: members: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("membership: members scan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *Postgres) UserExists(ctx context.Context, userID string) (bool, error) {
	var ok bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("membership: user exists: %w", err)
	}
	return ok, nil
}
