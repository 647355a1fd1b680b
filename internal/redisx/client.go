package redisx

import (
	"context"

	"github.com/go-redis/redis/v8"

	"medtrack-compliance/internal/config"
)

// Client alias so callers don't import go-redis directly.
type Client = redis.Client

// NewClient creates a Redis client from config.
func NewClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping verifies the connection.
func Ping(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}

// Close closes the client.
func Close(client *redis.Client) error {
	return client.Close()
}
