// Package redis holds the Redis-backed coordination pieces of the executor:
// distributed locks, the submission rate limiter, the order metadata cache
// and the execution event bus.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every key this service writes.
const keyPrefix = "kalshiexec:"

// clientName is reported to the server via CLIENT SETNAME.
const clientName = "kalshiexec"

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client owns the go-redis connection pool shared by the lock manager, rate
// limiter, metadata cache and signal bus.
type Client struct {
	rdb  *redis.Client
	addr string
}

// New connects and pings Redis.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		ClientName: clientName,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb, addr: cfg.Addr}, nil
}

// Ping is the health probe. On failure the pool counters are included so a
// saturated pool can be told apart from an unreachable server.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		st := c.rdb.PoolStats()
		return fmt.Errorf("redis: ping %s (conns=%d idle=%d timeouts=%d): %w",
			c.addr, st.TotalConns, st.IdleConns, st.Timeouts, err)
	}
	return nil
}

// Close closes the pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw driver client.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
