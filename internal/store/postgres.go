package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"inkwell/api/internal/util"
)

var (
	ErrArticleNotFound = errors.New("article not found")
	ErrNoConnection    = errors.New("no connection for owner")
	ErrStateNotFound   = errors.New("oauth state not found")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- articles ---

func (s *PostgresStore) InsertArticle(ctx context.Context, article Article) (Article, error) {
	if article.ID == "" {
		article.ID = util.NewID("art")
	}
	if article.CreatedAt == 0 {
		article.CreatedAt = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO articles (id, user_id, title, content, icon, created_at_ms, original_html)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, article.ID, article.OwnerID, article.Title, article.Content, article.Icon, article.CreatedAt, article.OriginalHTML)
	if err != nil {
		return Article{}, fmt.Errorf("insert article: %w", err)
	}
	return article, nil
}

// InsertArticles bulk-inserts an import batch in one transaction and returns
// the number of rows written.
func (s *PostgresStore) InsertArticles(ctx context.Context, articles []Article) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import tx: %w", err)
	}
	defer tx.Rollback()

	count := 0
	for _, article := range articles {
		if article.ID == "" {
			article.ID = util.NewID("art")
		}
		if article.CreatedAt == 0 {
			article.CreatedAt = time.Now().UnixMilli()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO articles (id, user_id, title, content, icon, created_at_ms, original_html)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, article.ID, article.OwnerID, article.Title, article.Content, article.Icon, article.CreatedAt, article.OriginalHTML); err != nil {
			return 0, fmt.Errorf("insert imported article: %w", err)
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import tx: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) GetArticle(ctx context.Context, id, ownerID string) (Article, error) {
	var article Article
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, content, icon, created_at_ms, original_html, updated_at
		FROM articles
		WHERE id = $1 AND user_id = $2
	`, id, ownerID).Scan(&article.ID, &article.OwnerID, &article.Title, &article.Content,
		&article.Icon, &article.CreatedAt, &article.OriginalHTML, &article.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Article{}, ErrArticleNotFound
	}
	if err != nil {
		return Article{}, fmt.Errorf("get article: %w", err)
	}
	return article, nil
}

// ListArticles returns one page of the owner's articles, newest first. The
// cursor is the "<created_at_ms>:<id>" of the last row of the previous page;
// empty means the first page. nextCursor is empty on the last page.
func (s *PostgresStore) ListArticles(ctx context.Context, ownerID, cursor string, limit int) ([]Article, string, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := `
		SELECT id, user_id, title, content, icon, created_at_ms, original_html, updated_at
		FROM articles
		WHERE user_id = $1
	`
	args := []any{ownerID}
	if cursor != "" {
		beforeMs, beforeID, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		query += ` AND (created_at_ms, id) < ($2, $3)`
		args = append(args, beforeMs, beforeID)
	}
	query += fmt.Sprintf(` ORDER BY created_at_ms DESC, id DESC LIMIT %d`, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	items := make([]Article, 0, limit)
	for rows.Next() {
		var article Article
		if err := rows.Scan(&article.ID, &article.OwnerID, &article.Title, &article.Content,
			&article.Icon, &article.CreatedAt, &article.OriginalHTML, &article.UpdatedAt); err != nil {
			return nil, "", fmt.Errorf("scan article: %w", err)
		}
		items = append(items, article)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("list articles: %w", err)
	}

	nextCursor := ""
	if len(items) > limit {
		items = items[:limit]
		last := items[len(items)-1]
		nextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	return items, nextCursor, nil
}

func (s *PostgresStore) UpdateArticleTitle(ctx context.Context, id, ownerID, title string) error {
	return s.updateArticleField(ctx, id, ownerID, "title", title)
}

func (s *PostgresStore) UpdateArticleContent(ctx context.Context, id, ownerID, content string) error {
	return s.updateArticleField(ctx, id, ownerID, "content", content)
}

func (s *PostgresStore) UpdateArticleIcon(ctx context.Context, id, ownerID, icon string) error {
	return s.updateArticleField(ctx, id, ownerID, "icon", icon)
}

func (s *PostgresStore) updateArticleField(ctx context.Context, id, ownerID, column, value string) error {
	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE articles SET %s = $1, updated_at = NOW() WHERE id = $2 AND user_id = $3`, column),
		value, id, ownerID)
	if err != nil {
		return fmt.Errorf("update article %s: %w", column, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update article %s: %w", column, err)
	}
	if affected == 0 {
		return ErrArticleNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteArticle(ctx context.Context, id, ownerID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM articles WHERE id = $1 AND user_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete article: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete article: %w", err)
	}
	if affected == 0 {
		return ErrArticleNotFound
	}
	return nil
}

// --- connections ---

// UpsertConnection writes the per-owner connection record. A repeat exchange
// for the same owner overwrites the token and workspace metadata in place and
// leaves the destination selection untouched.
func (s *PostgresStore) UpsertConnection(ctx context.Context, ownerID, accessToken, workspaceName, workspaceIcon, botID string) (string, error) {
	id := util.NewID("conn")
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO notion_connections (id, user_id, access_token, workspace_name, workspace_icon, bot_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			workspace_name = EXCLUDED.workspace_name,
			workspace_icon = EXCLUDED.workspace_icon,
			bot_id = EXCLUDED.bot_id,
			updated_at = NOW()
		RETURNING id
	`, id, ownerID, accessToken, workspaceName, workspaceIcon, botID).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert connection: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetConnection(ctx context.Context, ownerID string) (Connection, error) {
	var conn Connection
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, access_token, workspace_name, workspace_icon, bot_id,
			selected_database_id, selected_database_name, created_at, updated_at
		FROM notion_connections
		WHERE user_id = $1
	`, ownerID).Scan(&conn.ID, &conn.OwnerID, &conn.AccessToken, &conn.WorkspaceName,
		&conn.WorkspaceIcon, &conn.BotID, &conn.SelectedDatabaseID, &conn.SelectedDatabaseName,
		&conn.CreatedAt, &conn.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Connection{}, ErrNoConnection
	}
	if err != nil {
		return Connection{}, fmt.Errorf("get connection: %w", err)
	}
	return conn, nil
}

// SelectDestination patches the two destination fields only. It is an error
// when the owner has no connection.
func (s *PostgresStore) SelectDestination(ctx context.Context, ownerID, databaseID, databaseName string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notion_connections
		SET selected_database_id = $1, selected_database_name = $2, updated_at = NOW()
		WHERE user_id = $3
	`, databaseID, databaseName, ownerID)
	if err != nil {
		return fmt.Errorf("select destination: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("select destination: %w", err)
	}
	if affected == 0 {
		return ErrNoConnection
	}
	return nil
}

// DeleteConnection removes the owner's connection. Deleting an absent
// connection is a no-op, not an error.
func (s *PostgresStore) DeleteConnection(ctx context.Context, ownerID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM notion_connections WHERE user_id = $1`, ownerID); err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

// --- user settings ---

// GetAIPrompt returns the owner's custom reflection prompt, or the empty
// string when none is stored.
func (s *PostgresStore) GetAIPrompt(ctx context.Context, ownerID string) (string, error) {
	var prompt string
	err := s.db.QueryRowContext(ctx,
		`SELECT ai_prompt FROM user_settings WHERE user_id = $1`, ownerID).Scan(&prompt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get ai prompt: %w", err)
	}
	return prompt, nil
}

// SetAIPrompt stores the owner's custom reflection prompt. Empty reverts to
// the default.
func (s *PostgresStore) SetAIPrompt(ctx context.Context, ownerID, prompt string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_settings (user_id, ai_prompt)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET ai_prompt = EXCLUDED.ai_prompt, updated_at = NOW()
	`, ownerID, prompt)
	if err != nil {
		return fmt.Errorf("set ai prompt: %w", err)
	}
	return nil
}

// --- oauth states (fallback backend when Redis is not configured) ---

func (s *PostgresStore) SaveOAuthState(ctx context.Context, token, ownerID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notion_oauth_states (state, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, ownerID, expiresAt)
	if err != nil {
		return fmt.Errorf("save oauth state: %w", err)
	}
	return nil
}

// ConsumeOAuthState deletes the state row and returns the bound owner in one
// statement, so two callers racing on the same token cannot both succeed. An
// expired row is deleted and reported not found.
func (s *PostgresStore) ConsumeOAuthState(ctx context.Context, token string) (string, error) {
	var ownerID string
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM notion_oauth_states WHERE state = $1
		RETURNING user_id, expires_at
	`, token).Scan(&ownerID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrStateNotFound
	}
	if err != nil {
		return "", fmt.Errorf("consume oauth state: %w", err)
	}
	if time.Now().After(expiresAt) {
		return "", ErrStateNotFound
	}
	return ownerID, nil
}

func encodeCursor(createdAt int64, id string) string {
	return strconv.FormatInt(createdAt, 10) + ":" + id
}

func decodeCursor(cursor string) (int64, string, error) {
	sep := strings.IndexByte(cursor, ':')
	if sep <= 0 || sep == len(cursor)-1 {
		return 0, "", fmt.Errorf("invalid cursor")
	}
	ms, err := strconv.ParseInt(cursor[:sep], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid cursor")
	}
	return ms, cursor[sep+1:], nil
}
