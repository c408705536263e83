package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and checks the connection
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Ping reports whether Redis answers, for readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Packet keys live in Redis only as long as a terminal could plausibly
// redeliver the same packet.
const (
	ingestedTTL = 24 * time.Hour
	lockTTL     = 30 * time.Second
)

func ingestedKey(packetID string) string { return "idempotency:packet:" + packetID }
func lockKey(packetID string) string     { return "lock:packet:" + packetID }

// MarkIngested remembers that a packet was persisted.
func (c *Client) MarkIngested(ctx context.Context, packetID, terminalID string) error {
	return c.rdb.Set(ctx, ingestedKey(packetID), terminalID, ingestedTTL).Err()
}

// Ingested reports whether a packet was already persisted recently.
func (c *Client) Ingested(ctx context.Context, packetID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, ingestedKey(packetID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check packet %s: %w", packetID, err)
	}
	return n > 0, nil
}

// LockPacket takes the per-packet lock so concurrent redeliveries of one
// packet are not ingested in parallel. It returns false when the lock is held.
func (c *Client) LockPacket(ctx context.Context, packetID string) (bool, error) {
	return c.rdb.SetNX(ctx, lockKey(packetID), "1", lockTTL).Result()
}

func (c *Client) UnlockPacket(ctx context.Context, packetID string) error {
	return c.rdb.Del(ctx, lockKey(packetID)).Err()
}
