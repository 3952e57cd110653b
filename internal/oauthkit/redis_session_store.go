package oauthkit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const redisSessionPrefix = "oauth_sessions:"

// RedisSessionStore keeps one hash per session with a sliding TTL.
type RedisSessionStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewRedisSessionStore wraps an existing client. A non-positive ttl keeps keys without expiry.
func NewRedisSessionStore(client *goredis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

// NewRedisSessionStoreFromURL parses a redis:// URL, connects, and verifies the server responds.
func NewRedisSessionStoreFromURL(ctx context.Context, redisURL string, ttl time.Duration) (*RedisSessionStore, error) {
	options, parseErr := goredis.ParseURL(redisURL)
	if parseErr != nil {
		return nil, fmt.Errorf("session_store.open.redis: %w", parseErr)
	}
	client := goredis.NewClient(options)
	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("session_store.open.redis: %w", pingErr)
	}
	return NewRedisSessionStore(client, ttl), nil
}

// Load returns the stored session state and extends its TTL.
func (store *RedisSessionStore) Load(ctx context.Context, sessionID string) (SessionState, error) {
	if strings.TrimSpace(sessionID) == "" {
		return SessionState{}, fmt.Errorf("session_store.load.redis: %w", ErrEmptySessionID)
	}
	values, err := store.client.HGetAll(ctx, redisSessionKey(sessionID)).Result()
	if err != nil {
		return SessionState{}, fmt.Errorf("session_store.load.redis: %w", err)
	}
	if len(values) == 0 {
		return SessionState{}, fmt.Errorf("session_store.load.redis: %w", ErrSessionNotFound)
	}
	expiresUnix, parseErr := strconv.ParseInt(values["expires_at"], 10, 64)
	if parseErr != nil {
		return SessionState{}, fmt.Errorf("session_store.load.redis: expires_at: %w", parseErr)
	}
	if store.ttl > 0 {
		if expireErr := store.client.Expire(ctx, redisSessionKey(sessionID), store.ttl).Err(); expireErr != nil {
			return SessionState{}, fmt.Errorf("session_store.load.redis: %w", expireErr)
		}
	}
	return SessionState{
		SessionID:    sessionID,
		AccessToken:  values["access_token"],
		RefreshToken: values["refresh_token"],
		ExpiresAt:    time.Unix(expiresUnix, 0).UTC(),
	}, nil
}

// Save writes every token field in one transaction.
func (store *RedisSessionStore) Save(ctx context.Context, state SessionState) error {
	if strings.TrimSpace(state.SessionID) == "" {
		return fmt.Errorf("session_store.save.redis: %w", ErrEmptySessionID)
	}
	key := redisSessionKey(state.SessionID)
	pipe := store.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"access_token":  state.AccessToken,
		"refresh_token": state.RefreshToken,
		"expires_at":    state.ExpiresAt.Unix(),
	})
	if store.ttl > 0 {
		pipe.Expire(ctx, key, store.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session_store.save.redis: %w", err)
	}
	return nil
}

// Delete removes the session hash; deleting an unknown session is not an error.
func (store *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := store.client.Del(ctx, redisSessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("session_store.delete.redis: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (store *RedisSessionStore) Close() error {
	return store.client.Close()
}

func redisSessionKey(sessionID string) string {
	return redisSessionPrefix + sessionID
}
