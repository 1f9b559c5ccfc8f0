package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	refreshKeyPrefix = "refresh:"
	pingTimeout      = 5 * time.Second
)

var (
	// ErrTokenNotFound is returned when no refresh token is stored for a member.
	ErrTokenNotFound = errors.New("tokenstore: token not found")

	errMissingAddress = errors.New("tokenstore: redis address required")
	errMissingKey     = errors.New("tokenstore: member key required")
)

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// RedisStore keeps one refresh token per member id. Writes overwrite the
// previous value, so only the most recently issued token is trusted.
type RedisStore struct {
	client *redis.Client
}

// Open connects to Redis and verifies the connection with a ping.
func Open(ctx context.Context, cfg Config) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errMissingAddress
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// SaveRefreshToken stores the token for the member with the given expiration.
func (s *RedisStore) SaveRefreshToken(ctx context.Context, memberKey, token string, ttl time.Duration) error {
	if memberKey == "" {
		return errMissingKey
	}
	if err := s.client.Set(ctx, refreshKeyPrefix+memberKey, token, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

// RefreshToken returns the stored token or ErrTokenNotFound.
func (s *RedisStore) RefreshToken(ctx context.Context, memberKey string) (string, error) {
	if memberKey == "" {
		return "", errMissingKey
	}
	value, err := s.client.Get(ctx, refreshKeyPrefix+memberKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read refresh token: %w", err)
	}
	return value, nil
}

// DeleteRefreshToken removes any stored token for the member.
func (s *RedisStore) DeleteRefreshToken(ctx context.Context, memberKey string) error {
	if memberKey == "" {
		return errMissingKey
	}
	if err := s.client.Del(ctx, refreshKeyPrefix+memberKey).Err(); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}
