package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"inkwell/api/internal/util"
)

// openTestStore connects to the integration database named by
// TEST_DATABASE_URL and applies migrations. Tests are skipped when the
// variable is unset or in short mode.
func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	db, err := Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func TestConsumeOAuthStateSingleUse(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	token := util.NewID("state")
	if err := s.SaveOAuthState(ctx, token, "user-int-1", time.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("save state: %v", err)
	}

	ownerID, err := s.ConsumeOAuthState(ctx, token)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if ownerID != "user-int-1" {
		t.Errorf("owner = %q, want user-int-1", ownerID)
	}

	if _, err := s.ConsumeOAuthState(ctx, token); !errors.Is(err, ErrStateNotFound) {
		t.Errorf("second consume: expected ErrStateNotFound, got %v", err)
	}
}

func TestConsumeOAuthStateExpired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	token := util.NewID("state")
	if err := s.SaveOAuthState(ctx, token, "user-int-2", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("save state: %v", err)
	}

	if _, err := s.ConsumeOAuthState(ctx, token); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("expired token: expected ErrStateNotFound, got %v", err)
	}

	// The expired row was deleted, not left behind: the token can be
	// re-inserted without a key conflict.
	if err := s.SaveOAuthState(ctx, token, "user-int-2", time.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("re-save after expired consume: %v", err)
	}
	if _, err := s.ConsumeOAuthState(ctx, token); err != nil {
		t.Errorf("consume re-saved token: %v", err)
	}
}

func TestUpsertConnectionIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ownerID := util.NewID("user")
	t.Cleanup(func() { _ = s.DeleteConnection(context.Background(), ownerID) })

	firstID, err := s.UpsertConnection(ctx, ownerID, "token-1", "Acme", "", "bot-1")
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.SelectDestination(ctx, ownerID, "db-1", "Journal"); err != nil {
		t.Fatalf("select destination: %v", err)
	}

	secondID, err := s.UpsertConnection(ctx, ownerID, "token-2", "Acme Renamed", "🏠", "bot-1")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if secondID != firstID {
		t.Errorf("repeat upsert created a new row: %q != %q", secondID, firstID)
	}

	var count int
	if err := s.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notion_connections WHERE user_id = $1`, ownerID).Scan(&count); err != nil {
		t.Fatalf("count connections: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one connection row, got %d", count)
	}

	conn, err := s.GetConnection(ctx, ownerID)
	if err != nil {
		t.Fatalf("get connection: %v", err)
	}
	if conn.AccessToken != "token-2" || conn.WorkspaceName != "Acme Renamed" {
		t.Errorf("repeat upsert did not refresh fields: %+v", conn)
	}
	// Destination selection survives a re-auth.
	if conn.SelectedDatabaseID != "db-1" || conn.SelectedDatabaseName != "Journal" {
		t.Errorf("destination lost on repeat upsert: %+v", conn)
	}
}
