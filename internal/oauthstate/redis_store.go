// Package oauthstate stores the single-use CSRF state tokens that bind an
// OAuth redirect back to the user who initiated it.
package oauthstate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTL is how long an issued state token stays valid.
const TTL = 10 * time.Minute

// ErrStateNotFound covers unknown, already-consumed, and expired tokens — the
// caller cannot and should not tell them apart.
var ErrStateNotFound = errors.New("oauth state not found")

// RedisStore keeps state tokens in Redis under a TTL, so expired tokens
// vanish without a sweeper.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed state store.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, prefix: "oauthstate:"}, nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "oauthstate:"}
}

// Issue generates an unguessable token bound to the owner, valid for TTL.
func (s *RedisStore) Issue(ctx context.Context, ownerID string) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state token: %w", err)
	}
	token := hex.EncodeToString(buf)

	if err := s.client.Set(ctx, s.prefix+token, ownerID, TTL).Err(); err != nil {
		return "", fmt.Errorf("save state token: %w", err)
	}
	return token, nil
}

// Consume returns the owner bound to the token and deletes it in the same
// Redis operation, so concurrent callers racing on one token resolve to at
// most one success. Expiry is enforced by the key's TTL.
func (s *RedisStore) Consume(ctx context.Context, token string) (string, error) {
	ownerID, err := s.client.GetDel(ctx, s.prefix+token).Result()
	if err == redis.Nil {
		return "", ErrStateNotFound
	}
	if err != nil {
		return "", fmt.Errorf("consume state token: %w", err)
	}
	return ownerID, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
