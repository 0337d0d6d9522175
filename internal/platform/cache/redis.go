// Package cache dials the Redis instance shared by the GRN counter and the
// job queue.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// Options tunes the client. Zero values keep go-redis defaults.
type Options struct {
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New connects to addr and verifies the server answers PING.
func New(ctx context.Context, addr string, opts ...Options) (*redis.Client, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           o.DB,
		PoolSize:     o.PoolSize,
		DialTimeout:  o.DialTimeout,
		ReadTimeout:  o.ReadTimeout,
		WriteTimeout: o.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping %s: %w", addr, err)
	}
	return client, nil
}
