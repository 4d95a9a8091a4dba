package redisutil

import (
	"context"
	"fmt"
	"time"

	"github.com/cordum/coldgate/core/infra/tlsenv"
	"github.com/redis/go-redis/v9"
)

const pingTimeout = 2 * time.Second

// Connect builds a client for url and pings it once. REDIS_TLS_* variables
// override the URL's TLS settings. The client is closed when the ping fails.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	tlsConfig, err := tlsenv.FromEnv("REDIS")
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		opts.TLSConfig = tlsConfig
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}
