// Package state persists conversations, topics, memories, push
// subscriptions, and download records in Redis, with in-memory
// variants for tests and single-shot runs.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Dethon/Agent-sub012/internal/config"
)

// ErrNotFound reports a missing record.
var ErrNotFound = errors.New("state: not found")

const connectTimeout = 5 * time.Second

// NewClient connects to Redis and verifies the connection with a ping
// before handing the client out.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}
