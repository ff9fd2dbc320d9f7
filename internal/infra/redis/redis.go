package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const connectPingTimeout = 3 * time.Second

// NewRedis connects the client backing the per-tenant delivery rate limiter.
// The redis:// URL form is parsed so managed providers' connection strings
// work unchanged, and the connection is verified up front: a delivery loop
// discovering a dead redis on its first Wait would stall an already-accepted
// event.
func NewRedis(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}
