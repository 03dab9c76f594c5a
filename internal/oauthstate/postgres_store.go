package oauthstate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"inkwell/api/internal/store"
)

// Store is what the callback flow needs from a state token backend.
type Store interface {
	Issue(ctx context.Context, ownerID string) (string, error)
	Consume(ctx context.Context, token string) (string, error)
}

// PostgresStore keeps state tokens in the main database for deployments
// without Redis. Consumption is a single DELETE ... RETURNING, so the
// one-shot guarantee holds here too.
type PostgresStore struct {
	store *store.PostgresStore
}

// NewPostgresStore wraps the data store's oauth state table.
func NewPostgresStore(dataStore *store.PostgresStore) *PostgresStore {
	return &PostgresStore{store: dataStore}
}

func (s *PostgresStore) Issue(ctx context.Context, ownerID string) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := s.store.SaveOAuthState(ctx, token, ownerID, time.Now().Add(TTL)); err != nil {
		return "", err
	}
	return token, nil
}

func (s *PostgresStore) Consume(ctx context.Context, token string) (string, error) {
	ownerID, err := s.store.ConsumeOAuthState(ctx, token)
	if errors.Is(err, store.ErrStateNotFound) {
		return "", ErrStateNotFound
	}
	if err != nil {
		return "", err
	}
	return ownerID, nil
}
