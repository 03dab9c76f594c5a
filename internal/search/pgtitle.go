package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PgTitle implements title search directly against Postgres as the fallback
// when Meilisearch is absent or down.
type PgTitle struct {
	db *sql.DB
}

// NewPgTitle creates a Postgres title searcher.
func NewPgTitle(db *sql.DB) *PgTitle {
	return &PgTitle{db: db}
}

// Search runs a case-insensitive substring match over the owner's article
// titles, newest first.
func (p *PgTitle) Search(q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, icon, created_at_ms
		FROM articles
		WHERE user_id = $1 AND title ILIKE '%' || $2 || '%'
		ORDER BY created_at_ms DESC
		LIMIT $3
	`, q.OwnerID, text, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("title search: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Icon, &r.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan title hit: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("title search: %w", err)
	}
	return results, len(results), nil
}
